package sgd

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

const (
	rmspropDefaultDecayRate = 0.9
	rmspropDefaultDamping   = 1e-7
)

// RMSProp divides every gradient component by the root of
// a running average of its square.
//
// With Centered set, the running average of the gradient
// itself is subtracted first, so the divisor estimates the
// standard deviation rather than the magnitude; see
// https://arxiv.org/abs/1308.0850, section 4.
type RMSProp struct {
	// DecayRate is the decay of the running averages.
	// If it is 0, a default of 0.9 is used.
	DecayRate float64

	// Damping is added to the divisor before the root.
	// If it is 0, a default of 1e-7 is used.
	Damping float64

	Centered bool

	meanSquare anydiff.Grad
	mean       anydiff.Grad
}

// Transform transforms the gradient using RMSProp.
//
// This is not thread-safe.
func (r *RMSProp) Transform(g anydiff.Grad) anydiff.Grad {
	decay := valueOrDefault(r.DecayRate, rmspropDefaultDecayRate)
	r.meanSquare = updateMoment(r.meanSquare, g, decay, 2)
	if r.Centered {
		r.mean = updateMoment(r.mean, g, decay, 1)
	}
	damping := valueOrDefault(r.Damping, rmspropDefaultDamping)
	for v, vec := range g {
		c := vec.Creator()
		div := r.meanSquare[v].Copy()
		if r.Centered {
			sqMean := r.mean[v].Copy()
			sqMean.Mul(r.mean[v])
			div.Sub(sqMean)
		}
		div.AddScalar(c.MakeNumeric(damping))
		anyvec.Pow(div, c.MakeNumeric(-0.5))
		vec.Mul(div)
	}
	return g
}
