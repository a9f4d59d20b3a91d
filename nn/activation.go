package nn

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var a Activation
	serializer.RegisterTypedDeserializer(a.SerializerType(), DeserializeActivation)
	var s SplitLogSoftmax
	serializer.RegisterTypedDeserializer(s.SerializerType(), DeserializeSplitLogSoftmax)
}

// An Activation is a standard activation function.
type Activation int

// These are the supported activation functions.
const (
	Tanh Activation = iota
	Sigmoid
	ReLU
	LogSoftmax
	Softmax
)

// DeserializeActivation deserializes an Activation.
func DeserializeActivation(d []byte) (Activation, error) {
	if len(d) != 1 {
		return 0, fmt.Errorf("deserialize Activation: data length (%d) should be 1", len(d))
	}
	a := Activation(d[0])
	if a > Softmax {
		return 0, fmt.Errorf("deserialize Activation: unknown activation ID: %d", a)
	}
	return a, nil
}

// Apply applies the activation function.
// The softmax variants normalize each vector in the batch
// separately.
func (a Activation) Apply(in anydiff.Res, n int) anydiff.Res {
	switch a {
	case Tanh:
		return anydiff.Tanh(in)
	case Sigmoid:
		return anydiff.Sigmoid(in)
	case ReLU:
		return anydiff.ClipPos(in)
	case LogSoftmax:
		return anydiff.LogSoftmax(in, chunkSize(in, n))
	case Softmax:
		return anydiff.Exp(anydiff.LogSoftmax(in, chunkSize(in, n)))
	default:
		panic(fmt.Sprintf("unknown activation: %d", a))
	}
}

// SerializerType returns the unique ID used to serialize
// an Activation.
func (a Activation) SerializerType() string {
	return "github.com/Daniel-del-Castillo/Phrygian/nn.Activation"
}

// Serialize serializes the activation.
func (a Activation) Serialize() ([]byte, error) {
	return []byte{byte(a)}, nil
}

// SplitLogSoftmax applies two independent log-softmax
// functions to each vector: one to the components before
// Split and one to the rest.
//
// The output keeps the input's shape, but each half of
// every output vector is its own log-distribution.
type SplitLogSoftmax struct {
	Split int
}

// DeserializeSplitLogSoftmax deserializes a
// SplitLogSoftmax.
func DeserializeSplitLogSoftmax(d []byte) (*SplitLogSoftmax, error) {
	var split serializer.Int
	if err := serializer.DeserializeAny(d, &split); err != nil {
		return nil, essentials.AddCtx("deserialize SplitLogSoftmax", err)
	}
	return &SplitLogSoftmax{Split: int(split)}, nil
}

// Apply applies both log-softmax heads.
func (s *SplitLogSoftmax) Apply(in anydiff.Res, n int) anydiff.Res {
	size := chunkSize(in, n)
	if s.Split <= 0 || s.Split >= size {
		panic(fmt.Sprintf("split %d out of range for vector size %d", s.Split, size))
	}
	return anydiff.Pool(in, func(in anydiff.Res) anydiff.Res {
		var parts []anydiff.Res
		for i := 0; i < n; i++ {
			start := i * size
			first := anydiff.Slice(in, start, start+s.Split)
			second := anydiff.Slice(in, start+s.Split, start+size)
			parts = append(parts,
				anydiff.LogSoftmax(first, s.Split),
				anydiff.LogSoftmax(second, size-s.Split))
		}
		return anydiff.Concat(parts...)
	})
}

// SerializerType returns the unique ID used to serialize a
// SplitLogSoftmax with the serializer package.
func (s *SplitLogSoftmax) SerializerType() string {
	return "github.com/Daniel-del-Castillo/Phrygian/nn.SplitLogSoftmax"
}

// Serialize serializes the layer.
func (s *SplitLogSoftmax) Serialize() ([]byte, error) {
	return serializer.SerializeAny(serializer.Int(s.Split))
}

func chunkSize(in anydiff.Res, n int) int {
	inLen := in.Output().Len()
	if n <= 0 || inLen%n != 0 {
		panic("batch size must divide input length")
	}
	return inLen / n
}
