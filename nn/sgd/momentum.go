package sgd

import "github.com/unixpickle/anydiff"

const momentumDefault = 0.9

// Momentum accumulates a velocity v from the gradients:
//
//	v := momentum*v + grad
//
// and steps along v, or along grad + momentum*v when
// Nesterov is set, which looks ahead to where the velocity
// is about to carry the parameters.
type Momentum struct {
	// Momentum is the decay of the velocity.
	// If it is 0, a default of 0.9 is used.
	Momentum float64

	Nesterov bool

	velocity anydiff.Grad
}

// Transform replaces the gradient with the step direction.
//
// This is not thread-safe.
func (m *Momentum) Transform(g anydiff.Grad) anydiff.Grad {
	mu := valueOrDefault(m.Momentum, momentumDefault)
	if m.velocity == nil {
		m.velocity = anydiff.Grad{}
		for v, vec := range g {
			m.velocity[v] = vec.Creator().MakeVector(vec.Len())
		}
	}
	scaleGrad(m.velocity, mu)
	for v, vec := range g {
		vel := m.velocity[v]
		vel.Add(vec)
		if m.Nesterov {
			ahead := vel.Copy()
			ahead.Scale(ahead.Creator().MakeNumeric(mu))
			vec.Add(ahead)
		} else {
			vec.Set(vel)
		}
	}
	return g
}
