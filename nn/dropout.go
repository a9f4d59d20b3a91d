package nn

import (
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var d Dropout
	serializer.RegisterTypedDeserializer(d.SerializerType(), DeserializeDropout)
}

// A Dropout layer zeroes each input with probability
// 1-KeepProb while training.
//
// Surviving inputs are divided by KeepProb, so the layer
// is the identity when training is disabled.
type Dropout struct {
	Training bool
	KeepProb float64

	rand *rand.Rand
}

// NewDropout creates a Dropout layer which drops inputs at
// the given rate.
func NewDropout(rate float64) *Dropout {
	return &Dropout{KeepProb: 1 - rate}
}

// DeserializeDropout deserializes a Dropout.
// The layer comes back in evaluation mode.
func DeserializeDropout(d []byte) (*Dropout, error) {
	var keepProb serializer.Float64
	if err := serializer.DeserializeAny(d, &keepProb); err != nil {
		return nil, essentials.AddCtx("deserialize Dropout", err)
	}
	return &Dropout{KeepProb: float64(keepProb)}, nil
}

// Apply applies the layer.
func (d *Dropout) Apply(in anydiff.Res, n int) anydiff.Res {
	if !d.Training || d.KeepProb >= 1 {
		return in
	}
	mask := DropoutMask(in.Output().Creator(), d.rand, in.Output().Len(), d.KeepProb)
	return anydiff.Mul(in, anydiff.NewConst(mask))
}

// SetTraining enables or disables dropout.
func (d *Dropout) SetTraining(training bool) {
	d.Training = training
}

// SetRand sets the source for dropout masks.
// A nil source selects the global one.
func (d *Dropout) SetRand(r *rand.Rand) {
	d.rand = r
}

// SerializerType returns the unique ID used to serialize a
// Dropout with the serializer package.
func (d *Dropout) SerializerType() string {
	return "github.com/Daniel-del-Castillo/Phrygian/nn.Dropout"
}

// Serialize serializes the layer.
func (d *Dropout) Serialize() ([]byte, error) {
	return serializer.SerializeAny(serializer.Float64(d.KeepProb))
}

// DropoutMask creates a vector whose entries are 1/keep
// with probability keep and 0 otherwise.
func DropoutMask(c anyvec.Creator, r *rand.Rand, size int, keep float64) anyvec.Vector {
	mask := c.MakeVector(size)
	anyvec.Rand(mask, anyvec.Uniform, r)
	anyvec.LessThan(mask, c.MakeNumeric(keep))
	mask.Scale(c.MakeNumeric(1 / keep))
	return mask
}
