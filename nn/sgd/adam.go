package sgd

import (
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

const (
	adamDefaultDecayRate1 = 0.9
	adamDefaultDecayRate2 = 0.999
	adamDefaultDamping    = 1e-8
)

// Adam implements the adaptive moments technique
// described in https://arxiv.org/pdf/1412.6980.pdf.
type Adam struct {
	// These are decay rates for the first and second
	// moments of the gradient.
	// If these are 0, the defaults from the paper are used.
	DecayRate1, DecayRate2 float64

	// Damping is used to prevent divisions by zero.
	// If it is 0, a default is used.
	Damping float64

	firstMoment  anydiff.Grad
	secondMoment anydiff.Grad
	iteration    float64
}

// Transform transforms the gradient using Adam.
//
// This is not thread-safe.
func (a *Adam) Transform(realGrad anydiff.Grad) anydiff.Grad {
	decay1 := valueOrDefault(a.DecayRate1, adamDefaultDecayRate1)
	decay2 := valueOrDefault(a.DecayRate2, adamDefaultDecayRate2)
	a.firstMoment = updateMoment(a.firstMoment, realGrad, decay1, 1)
	a.secondMoment = updateMoment(a.secondMoment, realGrad, decay2, 2)

	a.iteration++
	scale := math.Sqrt(1-math.Pow(decay2, a.iteration)) /
		(1 - math.Pow(decay1, a.iteration))
	damping := valueOrDefault(a.Damping, adamDefaultDamping)
	for v, vec := range realGrad {
		vec.Set(a.firstMoment[v])
		vec.Scale(vec.Creator().MakeNumeric(scale))

		divisor := a.secondMoment[v].Copy()
		anyvec.Pow(divisor, divisor.Creator().MakeNumeric(0.5))
		divisor.AddScalar(divisor.Creator().MakeNumeric(damping))
		vec.Div(divisor)
	}
	return realGrad
}

// updateMoment folds grad^power into an exponential
// running average, allocating it on the first call.
func updateMoment(moment, grad anydiff.Grad, decay, power float64) anydiff.Grad {
	if moment == nil {
		moment = anydiff.Grad{}
		for v, vec := range grad {
			moment[v] = vec.Creator().MakeVector(vec.Len())
		}
	}
	scaleGrad(moment, decay)
	for v, vec := range grad {
		x := vec.Copy()
		if power != 1 {
			anyvec.Pow(x, x.Creator().MakeNumeric(power))
		}
		x.Scale(x.Creator().MakeNumeric(1 - decay))
		moment[v].Add(x)
	}
	return moment
}
