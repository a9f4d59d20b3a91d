package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var d Dense
	serializer.RegisterTypedDeserializer(d.SerializerType(), DeserializeDense)
}

// Dense is a fully-connected layer computing W*x + b.
//
// Weights is stored row-major with OutCount rows and
// InCount columns.
type Dense struct {
	InCount  int
	OutCount int
	Weights  *anydiff.Var
	Biases   *anydiff.Var
}

// DeserializeDense deserializes a Dense.
func DeserializeDense(d []byte) (*Dense, error) {
	var weights, biases *anyvecsave.S
	if err := serializer.DeserializeAny(d, &weights, &biases); err != nil {
		return nil, essentials.AddCtx("deserialize Dense", err)
	}
	outCount := biases.Vector.Len()
	if outCount == 0 || weights.Vector.Len()%outCount != 0 {
		return nil, errors.New("deserialize Dense: invalid matrix dimensions")
	}
	return &Dense{
		InCount:  weights.Vector.Len() / outCount,
		OutCount: outCount,
		Weights:  anydiff.NewVar(weights.Vector),
		Biases:   anydiff.NewVar(biases.Vector),
	}, nil
}

// NewDense creates a randomized Dense layer.
//
// Weights are drawn from a normal distribution scaled by
// 1/sqrt(in), so unit-variance inputs give roughly
// unit-variance outputs.
// If r is nil, the global source is used.
func NewDense(c anyvec.Creator, r *rand.Rand, in, out int) *Dense {
	res := &Dense{
		InCount:  in,
		OutCount: out,
		Weights:  anydiff.NewVar(c.MakeVector(in * out)),
		Biases:   anydiff.NewVar(c.MakeVector(out)),
	}
	anyvec.Rand(res.Weights.Vector, anyvec.Normal, r)
	res.Weights.Vector.Scale(c.MakeNumeric(1 / math.Sqrt(float64(in))))
	return res
}

// Apply applies the layer to a batch.
func (d *Dense) Apply(in anydiff.Res, batch int) anydiff.Res {
	if batch*d.InCount != in.Output().Len() {
		panic(fmt.Sprintf("input length should be %d, but got %d",
			batch*d.InCount, in.Output().Len()))
	}
	weightMat := &anydiff.Matrix{Data: d.Weights, Rows: d.OutCount, Cols: d.InCount}
	inMat := &anydiff.Matrix{Data: in, Rows: batch, Cols: d.InCount}
	weighted := anydiff.MatMul(false, true, inMat, weightMat)
	return anydiff.AddRepeated(weighted.Data, d.Biases)
}

// Parameters returns the weights and the biases.
func (d *Dense) Parameters() []*anydiff.Var {
	return []*anydiff.Var{d.Weights, d.Biases}
}

// SerializerType returns the unique ID used to serialize a
// Dense with the serializer package.
func (d *Dense) SerializerType() string {
	return "github.com/Daniel-del-Castillo/Phrygian/nn.Dense"
}

// Serialize serializes the layer.
func (d *Dense) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		&anyvecsave.S{Vector: d.Weights.Vector},
		&anyvecsave.S{Vector: d.Biases.Vector},
	)
}
