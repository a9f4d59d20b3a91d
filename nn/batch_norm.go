package nn

import (
	"errors"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

// Defaults for the zero fields of a BatchNorm.
const (
	DefaultBNStabilizer = 1e-3
	DefaultBNMomentum   = 0.99
)

func init() {
	var b BatchNorm
	serializer.RegisterTypedDeserializer(b.SerializerType(), DeserializeBatchNorm)
}

// BatchNorm normalizes every component to zero mean and
// unit variance, then applies a learned scale and bias.
//
// While training, it normalizes with the statistics of the
// current batch and folds them into exponential moving
// averages.
// Otherwise it normalizes with the moving averages, so a
// single window gives the same output it would inside any
// batch.
type BatchNorm struct {
	InputCount int

	Scalers *anydiff.Var
	Biases  *anydiff.Var

	RunningMean     anyvec.Vector
	RunningVariance anyvec.Vector

	// Stabilizer is added to variances before dividing.
	// If it is 0, DefaultBNStabilizer is used.
	Stabilizer float64

	// Momentum is the decay of the moving averages.
	// If it is 0, DefaultBNMomentum is used.
	Momentum float64

	Training bool
}

// DeserializeBatchNorm deserializes a BatchNorm.
// The layer comes back in evaluation mode.
func DeserializeBatchNorm(d []byte) (*BatchNorm, error) {
	var s, b, mean, variance *anyvecsave.S
	var stab, momentum serializer.Float64
	err := serializer.DeserializeAny(d, &s, &b, &mean, &variance, &stab, &momentum)
	if err != nil {
		return nil, essentials.AddCtx("deserialize BatchNorm", err)
	}
	n := s.Vector.Len()
	if b.Vector.Len() != n || mean.Vector.Len() != n || variance.Vector.Len() != n {
		return nil, errors.New("deserialize BatchNorm: mismatched vector sizes")
	}
	return &BatchNorm{
		InputCount:      n,
		Scalers:         anydiff.NewVar(s.Vector),
		Biases:          anydiff.NewVar(b.Vector),
		RunningMean:     mean.Vector,
		RunningVariance: variance.Vector,
		Stabilizer:      float64(stab),
		Momentum:        float64(momentum),
	}, nil
}

// NewBatchNorm creates an identity-initialized BatchNorm
// whose moving averages start at mean 0 and variance 1.
func NewBatchNorm(c anyvec.Creator, inCount int) *BatchNorm {
	ones := c.MakeVector(inCount)
	ones.AddScalar(c.MakeNumeric(1))
	return &BatchNorm{
		InputCount:      inCount,
		Scalers:         anydiff.NewVar(ones),
		Biases:          anydiff.NewVar(c.MakeVector(inCount)),
		RunningMean:     c.MakeVector(inCount),
		RunningVariance: ones.Copy(),
	}
}

// Apply normalizes a batch.
func (b *BatchNorm) Apply(in anydiff.Res, batch int) anydiff.Res {
	if in.Output().Len() != batch*b.InputCount {
		panic("invalid input size")
	}
	if !b.Training {
		return b.applyRunning(in)
	}
	return anydiff.Pool(in, func(in anydiff.Res) anydiff.Res {
		c := in.Output().Creator()

		negMean := negMeanRows(in, b.InputCount)
		secondMoment := meanSquareRows(in, b.InputCount)
		variance := anydiff.Sub(secondMoment, anydiff.Square(negMean))
		b.track(negMean.Output(), variance.Output())

		variance = anydiff.AddScalar(variance, c.MakeNumeric(b.stabilizer()))
		normalizer := anydiff.Pow(variance, c.MakeNumeric(-0.5))
		return b.scaleShift(in, normalizer, negMean)
	})
}

// applyRunning normalizes with the moving averages, which
// are constants of the graph.
func (b *BatchNorm) applyRunning(in anydiff.Res) anydiff.Res {
	invStd := inverseStddev(b.RunningVariance, b.stabilizer())
	negMean := b.RunningMean.Copy()
	negMean.Scale(negMean.Creator().MakeNumeric(-1))
	return b.scaleShift(in, anydiff.NewConst(invStd), anydiff.NewConst(negMean))
}

// scaleShift computes (x + negMean) * normalizer * scaler
// + bias for every row of in.
func (b *BatchNorm) scaleShift(in, normalizer, negMean anydiff.Res) anydiff.Res {
	totalScaler := anydiff.Mul(b.Scalers, normalizer)
	return anydiff.Pool(totalScaler, func(totalScaler anydiff.Res) anydiff.Res {
		return anydiff.ScaleAddRepeated(
			in,
			totalScaler,
			anydiff.Add(b.Biases, anydiff.Mul(negMean, totalScaler)),
		)
	})
}

// track folds batch statistics into the moving averages.
func (b *BatchNorm) track(negMean, variance anyvec.Vector) {
	c := negMean.Creator()
	m := b.momentum()

	b.RunningMean.Scale(c.MakeNumeric(m))
	scaledMean := negMean.Copy()
	scaledMean.Scale(c.MakeNumeric(m - 1))
	b.RunningMean.Add(scaledMean)

	b.RunningVariance.Scale(c.MakeNumeric(m))
	scaledVar := variance.Copy()
	scaledVar.Scale(c.MakeNumeric(1 - m))
	b.RunningVariance.Add(scaledVar)
}

// Parameters returns the scalers and the biases.
// The moving averages are not trained by gradients.
func (b *BatchNorm) Parameters() []*anydiff.Var {
	return []*anydiff.Var{b.Scalers, b.Biases}
}

// SetTraining switches between batch statistics and the
// moving averages.
func (b *BatchNorm) SetTraining(training bool) {
	b.Training = training
}

// SerializerType returns the unique ID used to serialize a
// BatchNorm with the serializer package.
func (b *BatchNorm) SerializerType() string {
	return "github.com/Daniel-del-Castillo/Phrygian/nn.BatchNorm"
}

// Serialize serializes the layer, including its moving
// averages.
func (b *BatchNorm) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		&anyvecsave.S{Vector: b.Scalers.Vector},
		&anyvecsave.S{Vector: b.Biases.Vector},
		&anyvecsave.S{Vector: b.RunningMean},
		&anyvecsave.S{Vector: b.RunningVariance},
		serializer.Float64(b.Stabilizer),
		serializer.Float64(b.Momentum),
	)
}

func (b *BatchNorm) stabilizer() float64 {
	if b.Stabilizer == 0 {
		return DefaultBNStabilizer
	}
	return b.Stabilizer
}

func (b *BatchNorm) momentum() float64 {
	if b.Momentum == 0 {
		return DefaultBNMomentum
	}
	return b.Momentum
}

// inverseStddev computes 1/sqrt(variance+stabilizer).
func inverseStddev(variance anyvec.Vector, stabilizer float64) anyvec.Vector {
	c := variance.Creator()
	res := variance.Copy()
	res.AddScalar(c.MakeNumeric(stabilizer))
	anyvec.Pow(res, c.MakeNumeric(-0.5))
	return res
}
