package nn

import (
	"errors"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// A BatchSource provides network inputs in batches.
type BatchSource interface {
	NumBatches() int

	// Batch returns the packed inputs of batch i and the
	// number of vectors in it.
	Batch(i int) (anyvec.Vector, int, error)
}

// Freeze replaces every BatchNorm in a Net with an Affine
// layer that applies the normalization measured over all
// of the inputs from src, rather than the moving averages
// kept during training.
//
// The Net should be in evaluation mode.
// On error, some layers may already have been replaced.
func Freeze(net Net, src BatchSource) error {
	for i, x := range net {
		bn, ok := x.(*BatchNorm)
		if !ok {
			continue
		}
		mean, variance, err := moments(bn, evaluateBatches(net[:i], src))
		if err != nil {
			return err
		}
		net[i] = FoldNormalization(bn.Scalers.Vector, bn.Biases.Vector, mean, variance,
			bn.stabilizer())
	}
	return nil
}

type batchOutput struct {
	Err error
	Vec anyvec.Vector
}

func evaluateBatches(subNet Net, src BatchSource) <-chan *batchOutput {
	resChan := make(chan *batchOutput, 1)
	go func() {
		defer close(resChan)
		for i := 0; i < src.NumBatches(); i++ {
			in, n, err := src.Batch(i)
			if err != nil {
				resChan <- &batchOutput{Err: err}
				return
			}
			out := subNet.Apply(anydiff.NewConst(in), n).Output().Copy()
			resChan <- &batchOutput{Vec: out}
		}
	}()
	return resChan
}

func moments(b *BatchNorm, c <-chan *batchOutput) (mean, variance anyvec.Vector, err error) {
	var sum, sqSum anyvec.Vector
	var count int
	for item := range c {
		if item.Err != nil {
			// Drain so the producer can exit.
			for range c {
			}
			return nil, nil, item.Err
		}
		count += item.Vec.Len() / b.InputCount
		thisSum := anyvec.SumRows(item.Vec, b.InputCount)
		item.Vec.Mul(item.Vec.Copy())
		thisSqSum := anyvec.SumRows(item.Vec, b.InputCount)
		if sum == nil {
			sum, sqSum = thisSum, thisSqSum
		} else {
			sum.Add(thisSum)
			sqSum.Add(thisSqSum)
		}
	}
	if sum == nil {
		return nil, nil, errors.New("no samples to average")
	}
	normalizer := sum.Creator().MakeNumeric(1 / float64(count))
	sum.Scale(normalizer)
	sqSum.Scale(normalizer)

	meanSq := sum.Copy()
	meanSq.Mul(sum)
	sqSum.Sub(meanSq)

	return sum, sqSum, nil
}
