// Package phrygian trains a stacked-LSTM model to continue
// melodies, given a corpus of (pitch, duration) notes.
//
// Train is the entry point: it loads the corpus, builds the
// pitch and duration vocabularies, encodes fixed-length
// windows, and runs the training loop, writing checkpoints
// and a vocabulary file to a weights directory.
package phrygian

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/Daniel-del-Castillo/Phrygian/encode"
	"github.com/Daniel-del-Castillo/Phrygian/errs"
	"github.com/Daniel-del-Castillo/Phrygian/journal"
	"github.com/Daniel-del-Castillo/Phrygian/melody"
	"github.com/Daniel-del-Castillo/Phrygian/model"
	"github.com/Daniel-del-Castillo/Phrygian/nn/sgd"
	"github.com/Daniel-del-Castillo/Phrygian/train"
	"github.com/Daniel-del-Castillo/Phrygian/vocab"
	"github.com/sirupsen/logrus"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec32"
)

// VocabularyName is the name of the vocabulary file written
// to the weights directory.
const VocabularyName = "vocabulary.json"

// DefaultWeightsDir is the weights directory used when
// TrainConfig.WeightsDir is empty.
const DefaultWeightsDir = "weights"

// TrainConfig configures Train.
// Zero fields select the defaults of the packages they are
// passed to.
type TrainConfig struct {
	MelodiesPath string
	WeightsDir   string

	WindowLength int
	Epochs       int
	BatchSize    int
	LearningRate float64

	// Optimizer may be "rmsprop" (the default),
	// "centered-rmsprop", "adam", "momentum" or "nesterov".
	Optimizer string

	ValidationFraction float64
	Mode               train.Mode
	MemoryLimit        int64

	// Seed seeds initialization, shuffling and dropout.
	// If it is 0, the current time is used.
	Seed int64

	// Model configures the network.
	// Its PitchCount, DurationCount and Seed are set by
	// Train.
	Model model.Config

	// JournalPath, if non-empty, is a SQLite database in
	// which the run is recorded.
	JournalPath string

	// Creator defaults to anyvec32.
	Creator anyvec.Creator

	Logger logrus.FieldLogger

	OnEpoch func(s *train.EpochStatus)
	OnBatch func(done, total int)
}

// A CheckpointHandle tells a caller where the results of
// Train are.
type CheckpointHandle struct {
	Dir string

	// Best is the path of the best durable checkpoint, or ""
	// if none was saved.
	Best string

	Vocabulary string

	// Inference is the frozen inference export, or "".
	Inference string

	Durable []*train.CheckpointRecord
	Failed  []*train.CheckpointRecord

	Epochs int

	// BestEpoch and BestLoss belong to Best.
	BestEpoch   int
	BestLoss    float64
	Interrupted bool

	// RunID identifies the run in the journal, if any.
	RunID string
}

// Train runs the whole pipeline.
//
// Errors are *errs.Error values naming the failing stage.
// A cancelled ctx stops training cleanly: the returned
// handle has Interrupted set and the error is nil.
func Train(ctx context.Context, cfg TrainConfig) (*CheckpointHandle, error) {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	dir := cfg.WeightsDir
	if dir == "" {
		dir = DefaultWeightsDir
	}

	log.WithField("path", cfg.MelodiesPath).Info("loading melodies")
	corpus, err := melody.LoadCorpus(cfg.MelodiesPath)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"melodies": len(corpus),
		"notes":    corpus.NumNotes(),
	}).Debug("melodies loaded")

	pitches, durations, err := vocab.Build(corpus)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"pitches":   pitches.Len(),
		"durations": durations.Len(),
	}).Info("vocabulary built")

	data, err := encode.Encode(corpus, pitches, durations, cfg.WindowLength)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"windows": data.Len(),
		"window":  data.WindowLength,
	}).Info("windows encoded")

	creator := cfg.Creator
	if creator == nil {
		creator = anyvec32.CurrentCreator()
	}
	modelCfg := cfg.Model
	modelCfg.PitchCount = pitches.Len()
	modelCfg.DurationCount = durations.Len()
	modelCfg.Seed = cfg.Seed
	m, err := model.New(creator, modelCfg)
	if err != nil {
		return nil, err
	}
	optimizer, err := makeOptimizer(cfg.Optimizer)
	if err != nil {
		return nil, err
	}

	handle := &CheckpointHandle{
		Dir:        dir,
		Vocabulary: filepath.Join(dir, VocabularyName),
	}
	if data.Len() > 0 {
		if err := writeVocabulary(handle.Vocabulary, pitches, durations); err != nil {
			return nil, err
		}
	}

	orch := &train.Orchestrator{
		Model:              m,
		Data:               data,
		Pitches:            pitches,
		Durations:          durations,
		Creator:            creator,
		Dir:                dir,
		Epochs:             cfg.Epochs,
		BatchSize:          cfg.BatchSize,
		LearningRate:       cfg.LearningRate,
		Optimizer:          optimizer,
		ValidationFraction: cfg.ValidationFraction,
		Mode:               cfg.Mode,
		MemoryLimit:        cfg.MemoryLimit,
		Seed:               cfg.Seed,
		Logger:             log,
		OnEpoch:            cfg.OnEpoch,
		OnBatch:            cfg.OnBatch,
	}

	var run *journal.Run
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return nil, errs.New(errs.IO, errs.Training, err)
		}
		defer j.Close()
		run, err = j.StartRun(ctx, journal.RunInfo{
			MelodiesPath: cfg.MelodiesPath,
			WeightsDir:   dir,
			Windows:      data.Len(),
			Pitches:      pitches.Len(),
			Durations:    durations.Len(),
		})
		if err != nil {
			return nil, errs.New(errs.IO, errs.Training, err)
		}
		orch.Recorder = run
		handle.RunID = run.ID
	}

	res, err := orch.Run(ctx)
	if run != nil {
		status := "done"
		if err != nil {
			status = "failed"
		} else if res.Interrupted {
			status = "interrupted"
		}
		if jErr := run.Finish(ctx, status); jErr != nil {
			log.WithError(jErr).Warn("could not finish journal run")
		}
	}
	if err != nil {
		return nil, err
	}

	handle.Best = res.BestCheckpoint()
	handle.Inference = res.InferencePath
	handle.Durable = res.Durable
	handle.Failed = res.Failed
	handle.Epochs = res.Epochs
	handle.BestEpoch = res.BestEpoch
	handle.BestLoss = res.BestLoss
	handle.Interrupted = res.Interrupted
	return handle, nil
}

func writeVocabulary(path string, pitches, durations *vocab.Vocabulary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.New(errs.IO, errs.Vocabulary, err)
	}
	var buf bytes.Buffer
	if err := vocab.WriteJSON(&buf, pitches, durations); err != nil {
		return errs.New(errs.IO, errs.Vocabulary, err)
	}
	if err := train.WriteFileAtomic(path, buf.Bytes()); err != nil {
		return errs.New(errs.IO, errs.Vocabulary, err)
	}
	return nil
}

func makeOptimizer(name string) (sgd.Transformer, error) {
	switch name {
	case "", "rmsprop":
		return &sgd.RMSProp{}, nil
	case "adam":
		return &sgd.Adam{}, nil
	case "centered-rmsprop":
		return &sgd.RMSProp{Centered: true}, nil
	case "momentum":
		return &sgd.Momentum{}, nil
	case "nesterov":
		return &sgd.Momentum{Nesterov: true}, nil
	default:
		return nil, errs.Newf(errs.Validation, errs.Training, "unknown optimizer: %s", name)
	}
}
