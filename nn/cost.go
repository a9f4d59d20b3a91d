package nn

import "github.com/unixpickle/anydiff"

// A Cost measures the error of a batch of network outputs.
// It produces one cost per vector in the batch.
type Cost interface {
	Cost(desired, actual anydiff.Res, n int) anydiff.Res
}

// CrossEntropy is the categorical cross-entropy between a
// target vector and log-probabilities, -sum(t*log(p)).
//
// The network must end in LogSoftmax or SplitLogSoftmax.
// Targets need not sum to one: a two-hot target against a
// single LogSoftmax gives the sum of the pitch and
// duration log-likelihoods under one shared distribution.
type CrossEntropy struct{}

// Cost computes the cross-entropy of every vector.
func (CrossEntropy) Cost(desired, actual anydiff.Res, n int) anydiff.Res {
	comb := anydiff.Mul(desired, actual)
	dots := anydiff.SumCols(&anydiff.Matrix{
		Data: comb,
		Rows: n,
		Cols: comb.Output().Len() / n,
	})
	return anydiff.Scale(dots, dots.Output().Creator().MakeNumeric(-1))
}
