// Package nn provides the feed-forward layers, costs, and
// layer containers used by the melody model.
//
// Every layer is batched: its input packs a number of
// equally long vectors one after another, and the batch
// size says how many.
package nn

import (
	"fmt"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var n Net
	serializer.RegisterTypedDeserializer(n.SerializerType(), DeserializeNet)
}

// A Parameterizer is anything with learnable variables.
//
// Parameters must come back in the same order every time.
type Parameterizer interface {
	Parameters() []*anydiff.Var
}

// A Layer is a batched, differentiable computation.
type Layer interface {
	Apply(in anydiff.Res, batchSize int) anydiff.Res
}

// A Mode is implemented by layers that behave differently
// while training, such as dropout.
type Mode interface {
	SetTraining(training bool)
}

// A Randomizer is implemented by layers which draw random
// numbers while applied, so that callers can make their
// behavior reproducible.
type Randomizer interface {
	SetRand(r *rand.Rand)
}

// A Net evaluates a list of layers, one after another.
type Net []Layer

// DeserializeNet deserializes a Net.
func DeserializeNet(d []byte) (Net, error) {
	slice, err := serializer.DeserializeSlice(d)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Net", err)
	}
	res := make(Net, len(slice))
	for i, x := range slice {
		layer, ok := x.(Layer)
		if !ok {
			return nil, fmt.Errorf("deserialize Net: not a Layer: %T", x)
		}
		res[i] = layer
	}
	return res, nil
}

// Apply applies every layer in order.
// An empty Net returns its input.
func (n Net) Apply(in anydiff.Res, batchSize int) anydiff.Res {
	for _, l := range n {
		in = l.Apply(in, batchSize)
	}
	return in
}

// Parameters gathers the parameters of every layer which
// is a Parameterizer, first layer first.
func (n Net) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	for _, x := range n {
		if p, ok := x.(Parameterizer); ok {
			res = append(res, p.Parameters()...)
		}
	}
	return res
}

// SetTraining switches every layer which implements Mode.
func (n Net) SetTraining(training bool) {
	for _, x := range n {
		if m, ok := x.(Mode); ok {
			m.SetTraining(training)
		}
	}
}

// SetRand gives every Randomizer layer the same source.
func (n Net) SetRand(r *rand.Rand) {
	for _, x := range n {
		if m, ok := x.(Randomizer); ok {
			m.SetRand(r)
		}
	}
}

// SerializerType returns the unique ID used to serialize a
// Net with the serializer package.
func (n Net) SerializerType() string {
	return "github.com/Daniel-del-Castillo/Phrygian/nn.Net"
}

// Serialize serializes every layer.
// It fails if a layer is not a serializer.Serializer.
func (n Net) Serialize() ([]byte, error) {
	var slice []serializer.Serializer
	for _, x := range n {
		s, ok := x.(serializer.Serializer)
		if !ok {
			return nil, fmt.Errorf("not a Serializer: %T", x)
		}
		slice = append(slice, s)
	}
	return serializer.SerializeSlice(slice)
}
