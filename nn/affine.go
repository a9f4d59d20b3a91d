package nn

import (
	"errors"
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var a Affine
	serializer.RegisterTypedDeserializer(a.SerializerType(), DeserializeAffine)
}

// Affine scales and shifts each of InputCount features by
// its own factor and offset.
//
// Freeze produces Affine layers in place of BatchNorm
// layers, with the normalization folded into the weights.
type Affine struct {
	InputCount int

	Scalers *anydiff.Var
	Biases  *anydiff.Var
}

// FoldNormalization creates the Affine layer equivalent to
// a BatchNorm with the given scalers and biases applied to
// inputs with a fixed mean and variance:
//
//	scaler*(x-mean)/sqrt(variance+stabilizer) + bias
//
// None of the arguments are modified.
func FoldNormalization(scalers, biases, mean, variance anyvec.Vector,
	stabilizer float64) *Affine {
	scale := inverseStddev(variance, stabilizer)
	scale.Mul(scalers)
	shift := mean.Copy()
	shift.Mul(scale)
	bias := biases.Copy()
	bias.Sub(shift)
	return &Affine{
		InputCount: scale.Len(),
		Scalers:    anydiff.NewVar(scale),
		Biases:     anydiff.NewVar(bias),
	}
}

// DeserializeAffine deserializes an Affine layer.
func DeserializeAffine(d []byte) (*Affine, error) {
	var s, b *anyvecsave.S
	if err := serializer.DeserializeAny(d, &s, &b); err != nil {
		return nil, essentials.AddCtx("deserialize Affine", err)
	}
	if s.Vector.Len() != b.Vector.Len() {
		return nil, errors.New("deserialize Affine: scaler and bias counts differ")
	}
	return &Affine{
		InputCount: s.Vector.Len(),
		Scalers:    anydiff.NewVar(s.Vector),
		Biases:     anydiff.NewVar(b.Vector),
	}, nil
}

// Apply applies the layer to a batch of n vectors.
func (a *Affine) Apply(in anydiff.Res, n int) anydiff.Res {
	if in.Output().Len() != n*a.InputCount {
		panic(fmt.Sprintf("input length should be %d, but got %d",
			n*a.InputCount, in.Output().Len()))
	}
	return anydiff.ScaleAddRepeated(in, a.Scalers, a.Biases)
}

// Parameters returns the scalers and the biases.
func (a *Affine) Parameters() []*anydiff.Var {
	return []*anydiff.Var{a.Scalers, a.Biases}
}

// SerializerType returns the unique ID used to serialize
// an Affine with the serializer package.
func (a *Affine) SerializerType() string {
	return "github.com/Daniel-del-Castillo/Phrygian/nn.Affine"
}

// Serialize serializes the layer.
func (a *Affine) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		&anyvecsave.S{Vector: a.Scalers.Vector},
		&anyvecsave.S{Vector: a.Biases.Vector},
	)
}
