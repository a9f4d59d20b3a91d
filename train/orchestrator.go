// Package train fits a model to an encoded dataset,
// keeping the best weights on disk as training goes.
package train

import (
	"context"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/Daniel-del-Castillo/Phrygian/encode"
	"github.com/Daniel-del-Castillo/Phrygian/errs"
	"github.com/Daniel-del-Castillo/Phrygian/model"
	"github.com/Daniel-del-Castillo/Phrygian/nn/sgd"
	"github.com/Daniel-del-Castillo/Phrygian/vocab"
	"github.com/sirupsen/logrus"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// Defaults for the zero fields of an Orchestrator.
const (
	DefaultEpochs       = 200
	DefaultBatchSize    = 64
	DefaultLearningRate = 0.001
	DefaultFreezeLimit  = 1024
)

// InferenceName is the file name of the model exported
// for generation after training.
const InferenceName = "model.inference"

// EpochStatus describes a finished epoch.
type EpochStatus struct {
	// Epoch counts from 1.
	Epoch int

	// Loss is the mean training loss over the epoch.
	Loss float64

	// ValidationLoss is only set if HasValidation is true.
	ValidationLoss float64
	HasValidation  bool

	// Improved is true if the monitored loss beat every
	// earlier epoch.
	Improved bool

	Elapsed time.Duration
}

// Monitored returns the loss used to pick checkpoints.
func (e *EpochStatus) Monitored() float64 {
	if e.HasValidation {
		return e.ValidationLoss
	}
	return e.Loss
}

// A CheckpointRecord reports an attempt to persist a
// checkpoint.
type CheckpointRecord struct {
	Epoch int
	Loss  float64
	Path  string

	// Err is nil if the checkpoint is durably saved.
	Err error
}

// A Recorder keeps an external record of training, such
// as a run journal.
type Recorder interface {
	RecordEpoch(ctx context.Context, s *EpochStatus) error
	RecordCheckpoint(ctx context.Context, r *CheckpointRecord) error
}

// Result summarizes a training run.
type Result struct {
	// Epochs is the number of completed epochs.
	Epochs int

	// BestEpoch and BestLoss describe the most recent
	// durable checkpoint.
	// BestEpoch is 0 if there is none.
	BestEpoch int
	BestLoss  float64

	Durable []*CheckpointRecord
	Failed  []*CheckpointRecord

	// InferencePath is empty if no export was written.
	InferencePath string
	ExportErr     error

	// Interrupted is true if the context was cancelled
	// before every epoch finished.
	Interrupted bool
}

// BestCheckpoint returns the path of the most recent
// durable checkpoint, or "" if there is none.
func (r *Result) BestCheckpoint() string {
	if len(r.Durable) == 0 {
		return ""
	}
	return r.Durable[len(r.Durable)-1].Path
}

// An Orchestrator runs the epoch loop for a model and
// persists a checkpoint whenever the monitored loss
// improves.
type Orchestrator struct {
	Model     *model.Model
	Data      *encode.Dataset
	Pitches   *vocab.Vocabulary
	Durations *vocab.Vocabulary
	Creator   anyvec.Creator

	// Dir is where checkpoints go.
	// It is created if needed.
	Dir string

	Epochs       int
	BatchSize    int
	LearningRate float64

	// Optimizer defaults to RMSProp.
	Optimizer sgd.Transformer

	// ValidationFraction is the share of windows held out
	// to compute the monitored loss.
	// If it is 0, the training loss is monitored.
	ValidationFraction float64

	Mode Mode

	// MemoryLimit bounds the estimated size, in bytes, of
	// the activations of one training step.
	// If it is 0, the runtime memory limit is used.
	MemoryLimit int64

	// Seed drives shuffling and dropout.
	// If it is 0, the current time is used.
	Seed int64

	// FreezeLimit caps the windows used to measure batch
	// statistics for the inference export.
	// A negative value disables the export.
	FreezeLimit int

	Logger   logrus.FieldLogger
	Recorder Recorder

	// OnEpoch, if non-nil, is called after every epoch.
	OnEpoch func(s *EpochStatus)

	// OnBatch, if non-nil, is called after every step with
	// the number of windows processed so far in the epoch
	// and the epoch's total.
	OnBatch func(done, total int)
}

// Run trains the model.
//
// Input problems are reported before any step is taken.
// Run checks ctx between steps; when it is cancelled, Run
// stops and returns the Result so far with Interrupted
// set, leaving the last durable checkpoint in place.
// Checkpoint write failures do not stop training and are
// listed in the Result.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	log := o.logger()
	if err := o.validate(); err != nil {
		return nil, err
	}
	if err := o.checkMemory(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(o.Dir, 0o755); err != nil {
		return nil, errs.New(errs.IO, errs.Training, err)
	}

	trainSamples, valSamples := o.split()
	if trainSamples.Len() == 0 {
		return nil, errs.Newf(errs.Validation, errs.Training,
			"validation fraction %g leaves no training windows", o.ValidationFraction)
	}
	log.WithFields(logrus.Fields{
		"train":      trainSamples.Len(),
		"validation": valSamples.Len(),
		"parameters": parameterCount(o.Model),
	}).Info("starting training")

	r := rand.New(rand.NewSource(o.seed()))
	o.Model.SetRand(r)
	trainer := &Trainer{Model: o.Model, Creator: o.Creator}

	var lossSum float64
	var done int
	s := &sgd.SGD{
		Fetcher:     trainer,
		Gradienter:  trainer,
		Transformer: o.optimizer(),
		Samples:     trainSamples,
		Rater:       sgd.ConstRater(o.learningRate()),
		Rand:        r,
		BatchSize:   o.batchSize(),
		StatusFunc: func(b sgd.SampleList) {
			lossSum += trainer.LastCost * float64(b.Len())
			done += b.Len()
			if o.OnBatch != nil {
				o.OnBatch(done, trainSamples.Len())
			}
		},
	}

	res := &Result{}
	bestLoss := math.Inf(1)
	for epoch := 1; epoch <= o.epochs(); epoch++ {
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}
		start := time.Now()
		lossSum, done = 0, 0

		o.Model.SetTraining(true)
		err := s.RunEpoch(ctx)
		o.Model.SetTraining(false)
		if err != nil {
			if ctx.Err() != nil {
				res.Interrupted = true
				break
			}
			return res, errs.New(errs.Unknown, errs.Training, err)
		}

		status := &EpochStatus{Epoch: epoch, Loss: lossSum / float64(done)}
		if valSamples.Len() > 0 {
			status.HasValidation = true
			status.ValidationLoss, err = trainer.MeanCost(ctx, valSamples, o.batchSize())
			if err != nil {
				if ctx.Err() != nil {
					res.Interrupted = true
					break
				}
				return res, errs.New(errs.Unknown, errs.Training, err)
			}
		}
		if math.IsNaN(status.Monitored()) || math.IsInf(status.Monitored(), 0) {
			return res, errs.Newf(errs.Resource, errs.Training,
				"epoch %d: loss diverged to %f", epoch, status.Monitored())
		}
		status.Improved = status.Monitored() < bestLoss
		status.Elapsed = time.Since(start)
		res.Epochs = epoch

		fields := logrus.Fields{
			"epoch":    epoch,
			"loss":     status.Loss,
			"improved": status.Improved,
			"elapsed":  status.Elapsed.Round(time.Millisecond),
		}
		if status.HasValidation {
			fields["val_loss"] = status.ValidationLoss
		}
		log.WithFields(fields).Info("epoch done")
		o.record(ctx, log, status)

		if status.Improved {
			bestLoss = status.Monitored()
			o.saveCheckpoint(ctx, log, res, epoch, status.Monitored())
		}
		if o.OnEpoch != nil {
			o.OnEpoch(status)
		}
	}

	if res.Interrupted {
		log.WithField("epochs", res.Epochs).Warn("training interrupted")
		return res, nil
	}
	o.export(ctx, log, res, trainSamples)
	return res, nil
}

func (o *Orchestrator) validate() error {
	if err := o.Data.Validate(); err != nil {
		return err
	}
	if o.Data.Len() == 0 {
		return errs.Newf(errs.Validation, errs.Training,
			"no training windows: every melody has at most %d notes", o.Data.WindowLength)
	}
	if o.Model.OutputSize() != o.Data.OutputSize() {
		return errs.Newf(errs.Validation, errs.Training,
			"model output size %d does not match target size %d",
			o.Model.OutputSize(), o.Data.OutputSize())
	}
	if o.Pitches.Len() != o.Data.PitchCount || o.Durations.Len() != o.Data.DurationCount {
		return errs.Newf(errs.Validation, errs.Training,
			"vocabulary sizes %d and %d do not match the dataset",
			o.Pitches.Len(), o.Durations.Len())
	}
	return nil
}

func (o *Orchestrator) checkMemory() error {
	limit := o.MemoryLimit
	if limit <= 0 {
		limit = debug.SetMemoryLimit(-1)
	}
	size := int64(o.Model.ActivationSize(o.batchSize(), o.Data.WindowLength)) *
		elementSize(o.Creator)
	if size > limit {
		return errs.Newf(errs.Resource, errs.Training,
			"a batch of %d windows of %d notes needs about %d MiB of activations, "+
				"above the %d MiB limit", o.batchSize(), o.Data.WindowLength,
			size>>20, limit>>20)
	}
	return nil
}

func (o *Orchestrator) split() (trainSamples, valSamples *SampleList) {
	all := NewSampleList(o.Data)
	val, tr := sgd.HashSplit(all, o.ValidationFraction)
	return tr.(*SampleList), val.(*SampleList)
}

func (o *Orchestrator) saveCheckpoint(ctx context.Context, log logrus.FieldLogger,
	res *Result, epoch int, loss float64) {
	ckpt := &Checkpoint{
		Epoch:        epoch,
		Loss:         loss,
		WindowLength: o.Data.WindowLength,
		Pitches:      o.Pitches,
		Durations:    o.Durations,
		Model:        o.Model,
	}
	record := &CheckpointRecord{
		Epoch: epoch,
		Loss:  loss,
		Path:  filepath.Join(o.Dir, o.Mode.checkpointName(epoch, loss)),
	}
	record.Err = ckpt.Save(record.Path)
	entry := log.WithFields(logrus.Fields{"epoch": epoch, "path": record.Path})
	if record.Err != nil {
		record.Err = errs.New(errs.IO, errs.Training, record.Err)
		res.Failed = append(res.Failed, record)
		entry.WithError(record.Err).Error("checkpoint not saved")
	} else {
		res.Durable = append(res.Durable, record)
		res.BestEpoch, res.BestLoss = epoch, loss
		entry.Info("checkpoint saved")
	}
	if o.Recorder != nil {
		if err := o.Recorder.RecordCheckpoint(ctx, record); err != nil {
			log.WithError(err).Warn("could not record checkpoint")
		}
	}
}

func (o *Orchestrator) record(ctx context.Context, log logrus.FieldLogger, s *EpochStatus) {
	if o.Recorder != nil {
		if err := o.Recorder.RecordEpoch(ctx, s); err != nil {
			log.WithError(err).Warn("could not record epoch")
		}
	}
}

// export writes the best checkpoint again with its
// BatchNorm layers frozen.
func (o *Orchestrator) export(ctx context.Context, log logrus.FieldLogger, res *Result,
	samples *SampleList) {
	best := res.BestCheckpoint()
	if best == "" || o.FreezeLimit < 0 {
		return
	}
	path := filepath.Join(o.Dir, InferenceName)
	res.ExportErr = o.writeExport(ctx, best, path, samples)
	if res.ExportErr != nil {
		log.WithError(res.ExportErr).Error("inference export not saved")
		return
	}
	res.InferencePath = path
	log.WithField("path", path).Info("inference export saved")
}

func (o *Orchestrator) writeExport(ctx context.Context, best, path string,
	samples *SampleList) error {
	ckpt, err := LoadCheckpoint(best)
	if err != nil {
		return err
	}
	limit := o.FreezeLimit
	if limit == 0 {
		limit = DefaultFreezeLimit
	}
	if samples.Len() > limit {
		samples = samples.Slice(0, limit).(*SampleList)
	}
	src := &featureSource{
		Ctx:       ctx,
		Trainer:   &Trainer{Model: ckpt.Model, Creator: o.Creator},
		Samples:   samples,
		BatchSize: o.batchSize(),
	}
	if err := ckpt.Model.Freeze(src); err != nil {
		return essentials.AddCtx("freeze model", err)
	}
	return errs.New(errs.IO, errs.Training, ckpt.Save(path))
}

func (o *Orchestrator) logger() logrus.FieldLogger {
	if o.Logger == nil {
		return logrus.StandardLogger()
	}
	return o.Logger
}

func (o *Orchestrator) optimizer() sgd.Transformer {
	if o.Optimizer == nil {
		return &sgd.RMSProp{}
	}
	return o.Optimizer
}

func (o *Orchestrator) epochs() int {
	if o.Epochs == 0 {
		return DefaultEpochs
	}
	return o.Epochs
}

func (o *Orchestrator) batchSize() int {
	if o.BatchSize == 0 {
		return DefaultBatchSize
	}
	return o.BatchSize
}

func (o *Orchestrator) learningRate() float64 {
	if o.LearningRate == 0 {
		return DefaultLearningRate
	}
	return o.LearningRate
}

func (o *Orchestrator) seed() int64 {
	if o.Seed == 0 {
		return time.Now().UnixNano()
	}
	return o.Seed
}

func parameterCount(m *model.Model) int {
	var n int
	for _, p := range m.Parameters() {
		n += p.Vector.Len()
	}
	return n
}

func elementSize(c anyvec.Creator) int64 {
	if _, ok := c.MakeNumeric(0).(float32); ok {
		return 4
	}
	return 8
}

// featureSource feeds the final LSTM outputs of a model to
// nn.Freeze.
type featureSource struct {
	Ctx       context.Context
	Trainer   *Trainer
	Samples   *SampleList
	BatchSize int
}

func (f *featureSource) NumBatches() int {
	return (f.Samples.Len() + f.BatchSize - 1) / f.BatchSize
}

func (f *featureSource) Batch(i int) (anyvec.Vector, int, error) {
	if err := f.Ctx.Err(); err != nil {
		return nil, 0, err
	}
	start := i * f.BatchSize
	end := start + f.BatchSize
	if end > f.Samples.Len() {
		end = f.Samples.Len()
	}
	b, err := f.Trainer.Fetch(f.Samples.Slice(start, end))
	if err != nil {
		return nil, 0, err
	}
	batch := b.(*Batch)
	return f.Trainer.Model.Features(batch.Steps, batch.N).Output(), batch.N, nil
}
