// Package model defines the melody network: stacked LSTM
// blocks feeding a batch-normalized dense classifier over
// the joined pitch and duration vocabularies.
package model

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/Daniel-del-Castillo/Phrygian/encode"
	"github.com/Daniel-del-Castillo/Phrygian/errs"
	"github.com/Daniel-del-Castillo/Phrygian/nn"
	"github.com/Daniel-del-Castillo/Phrygian/nn/rnn"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

// Defaults for the zero fields of a Config.
const (
	DefaultHiddenSize       = 512
	DefaultDenseSize        = 256
	DefaultLayers           = 3
	DefaultRecurrentDropout = 0.3
	DefaultDropout          = 0.3
)

func init() {
	var m Model
	serializer.RegisterTypedDeserializer(m.SerializerType(), DeserializeModel)
}

// Config describes the shape of a Model.
// Zero fields select the defaults.
type Config struct {
	// InputSize is the number of features per timestep.
	// It defaults to encode.FeaturesPerNote.
	InputSize int

	HiddenSize int
	DenseSize  int
	Layers     int

	// RecurrentDropout is applied to every LSTM except the
	// last one.
	// Negative values disable it.
	RecurrentDropout float64

	// Dropout is applied after each BatchNorm of the head.
	// Negative values disable it.
	Dropout float64

	PitchCount    int
	DurationCount int

	// SplitHeads normalizes the pitch and duration parts of
	// the output separately instead of with one softmax.
	SplitHeads bool

	// Seed seeds initialization and dropout.
	// If it is 0, the current time is used.
	Seed int64
}

// WithDefaults returns a copy of c with its zero fields
// filled in.
func (c Config) WithDefaults() Config {
	if c.InputSize == 0 {
		c.InputSize = encode.FeaturesPerNote
	}
	if c.HiddenSize == 0 {
		c.HiddenSize = DefaultHiddenSize
	}
	if c.DenseSize == 0 {
		c.DenseSize = DefaultDenseSize
	}
	if c.Layers == 0 {
		c.Layers = DefaultLayers
	}
	if c.RecurrentDropout == 0 {
		c.RecurrentDropout = DefaultRecurrentDropout
	} else if c.RecurrentDropout < 0 {
		c.RecurrentDropout = 0
	}
	if c.Dropout == 0 {
		c.Dropout = DefaultDropout
	} else if c.Dropout < 0 {
		c.Dropout = 0
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	return c
}

// A Model maps batches of note windows to log-probabilities
// over the pitch and duration vocabularies.
type Model struct {
	Blocks rnn.Stack
	Head   nn.Net

	PitchCount    int
	DurationCount int
}

// New creates a randomly initialized Model.
// The returned model is in evaluation mode.
func New(c anyvec.Creator, cfg Config) (*Model, error) {
	cfg = cfg.WithDefaults()
	if cfg.PitchCount <= 0 || cfg.DurationCount <= 0 {
		return nil, errs.Newf(errs.Validation, errs.Training,
			"vocabulary sizes must be positive (pitches: %d, durations: %d)",
			cfg.PitchCount, cfg.DurationCount)
	}
	if cfg.Layers < 1 || cfg.HiddenSize < 1 || cfg.DenseSize < 1 || cfg.InputSize < 1 {
		return nil, errs.New(errs.Validation, errs.Training,
			errors.New("layer sizes must be positive"))
	}
	if cfg.Dropout >= 1 || cfg.RecurrentDropout >= 1 {
		return nil, errs.New(errs.Validation, errs.Training,
			errors.New("dropout rates must be below 1"))
	}

	r := rand.New(rand.NewSource(cfg.Seed))
	res := &Model{PitchCount: cfg.PitchCount, DurationCount: cfg.DurationCount}

	inSize := cfg.InputSize
	for i := 0; i < cfg.Layers; i++ {
		lstm := rnn.NewLSTM(c, r, inSize, cfg.HiddenSize)
		if i < cfg.Layers-1 {
			lstm.RecurrentKeep = 1 - cfg.RecurrentDropout
		}
		res.Blocks = append(res.Blocks, lstm)
		inSize = cfg.HiddenSize
	}

	var output nn.Layer = nn.LogSoftmax
	if cfg.SplitHeads {
		output = &nn.SplitLogSoftmax{Split: cfg.PitchCount}
	}
	res.Head = nn.Net{
		nn.NewBatchNorm(c, cfg.HiddenSize),
		nn.NewDropout(cfg.Dropout),
		nn.NewDense(c, r, cfg.HiddenSize, cfg.DenseSize),
		nn.ReLU,
		nn.NewBatchNorm(c, cfg.DenseSize),
		nn.NewDropout(cfg.Dropout),
		nn.NewDense(c, r, cfg.DenseSize, cfg.PitchCount+cfg.DurationCount),
		output,
	}
	res.SetRand(r)
	return res, nil
}

// DeserializeModel deserializes a Model.
// The model comes back in evaluation mode.
func DeserializeModel(d []byte) (*Model, error) {
	var blocks rnn.Stack
	var head nn.Net
	var pitches, durations serializer.Int
	if err := serializer.DeserializeAny(d, &blocks, &head, &pitches, &durations); err != nil {
		return nil, essentials.AddCtx("deserialize Model", err)
	}
	return &Model{
		Blocks:        blocks,
		Head:          head,
		PitchCount:    int(pitches),
		DurationCount: int(durations),
	}, nil
}

// OutputSize returns the width of each output vector,
// which is the number of pitches plus durations.
func (m *Model) OutputSize() int {
	return m.PitchCount + m.DurationCount
}

// Features runs the recurrent blocks over a batch of n
// windows and returns the last hidden state of each.
//
// steps[t] packs the features of all n windows at
// timestep t.
func (m *Model) Features(steps []anyvec.Vector, n int) anydiff.Res {
	return rnn.Final(m.Blocks, steps, n)
}

// Apply computes the log-probabilities for a batch of n
// windows.
func (m *Model) Apply(steps []anyvec.Vector, n int) anydiff.Res {
	return m.Head.Apply(m.Features(steps, n), n)
}

// Predict computes the probabilities for a batch of n
// windows.
// It does not change the mode of the model.
func (m *Model) Predict(steps []anyvec.Vector, n int) anyvec.Vector {
	return anydiff.Exp(m.Apply(steps, n)).Output()
}

// Parameters returns every learnable variable, recurrent
// blocks first.
func (m *Model) Parameters() []*anydiff.Var {
	return append(m.Blocks.Parameters(), m.Head.Parameters()...)
}

// SetTraining toggles every dropout layer, including the
// recurrent ones, and switches BatchNorm between batch
// statistics and its moving averages.
func (m *Model) SetTraining(training bool) {
	m.Blocks.SetTraining(training)
	m.Head.SetTraining(training)
}

// SetRand sets the random source for dropout masks.
func (m *Model) SetRand(r *rand.Rand) {
	m.Blocks.SetRand(r)
	m.Head.SetRand(r)
}

// Freeze replaces the BatchNorm layers of the head with
// fixed Affine layers, using statistics of the head inputs
// provided by src.
//
// The model must be in evaluation mode.
func (m *Model) Freeze(src nn.BatchSource) error {
	return nn.Freeze(m.Head, src)
}

// ActivationSize estimates how many values a training
// step over a batch of n windows with the given number of
// timesteps keeps alive for back-propagation.
func (m *Model) ActivationSize(n, timesteps int) int {
	var perStep int
	for _, b := range m.Blocks {
		if l, ok := b.(*rnn.LSTM); ok {
			// Four gates, their pre-activations, the cell,
			// its tanh, and the output.
			perStep += 11 * l.StateSize()
		}
	}
	var head int
	for _, layer := range m.Head {
		switch layer := layer.(type) {
		case *nn.Dense:
			head += 2 * layer.OutCount
		case *nn.BatchNorm:
			head += 3 * layer.InputCount
		}
	}
	return n * (perStep*timesteps + head)
}

// SerializerType returns the unique ID used to serialize
// a Model with the serializer package.
func (m *Model) SerializerType() string {
	return "github.com/Daniel-del-Castillo/Phrygian/model.Model"
}

// Serialize serializes the Model.
func (m *Model) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		m.Blocks,
		m.Head,
		serializer.Int(m.PitchCount),
		serializer.Int(m.DurationCount),
	)
}

// PackSteps converts a batch of windows, each a list of
// per-timestep feature vectors, into one packed vector
// per timestep.
// All windows must have the same number of timesteps.
func PackSteps(c anyvec.Creator, windows [][][]float64) ([]anyvec.Vector, error) {
	if len(windows) == 0 {
		return nil, errors.New("pack steps: empty batch")
	}
	numSteps := len(windows[0])
	res := make([]anyvec.Vector, numSteps)
	for t := 0; t < numSteps; t++ {
		var data []float64
		for i, w := range windows {
			if len(w) != numSteps {
				return nil, fmt.Errorf("pack steps: window %d has %d timesteps, expected %d",
					i, len(w), numSteps)
			}
			data = append(data, w[t]...)
		}
		res[t] = c.MakeVectorData(c.MakeNumericList(data))
	}
	return res, nil
}
