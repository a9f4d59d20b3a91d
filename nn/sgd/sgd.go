// Package sgd implements mini-batch stochastic gradient
// descent with pluggable gradient transformers.
package sgd

import (
	"context"
	"errors"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// SGD performs stochastic gradient descent, one epoch at a
// time.
type SGD struct {
	// Fetcher turns mini-batch sample lists into Batches.
	Fetcher Fetcher

	// Gradienter computes untransformed gradients for
	// each mini-batch.
	Gradienter Gradienter

	// Transformer, if non-nil, is used to transform each
	// gradient before the step.
	Transformer Transformer

	// Samples is the list of training samples.
	// It is re-shuffled at the start of every epoch.
	Samples SampleList

	// Rater determines the learning rate for each step.
	Rater Rater

	// Rand is used for shuffling.
	// If it is nil, the global source is used.
	Rand *rand.Rand

	// StatusFunc, if non-nil, is called after every
	// step with the mini-batch that was used.
	StatusFunc func(batch SampleList)

	// BatchSize is the mini-batch size.
	// If it is 0, the entire sample list is used at every
	// step.
	// The last mini-batch of an epoch may be smaller.
	BatchSize int

	// NumProcessed counts the samples passed to
	// Gradienter so far.
	// It is used to compute the epoch for Rater.
	NumProcessed int
}

type fetchResult struct {
	Samples SampleList
	Batch   Batch
	Err     error
}

// RunEpoch shuffles the samples and makes one pass over
// them.
//
// The context is checked between steps.
// If it is cancelled, RunEpoch returns ctx.Err() without
// taking further steps.
func (s *SGD) RunEpoch(ctx context.Context) error {
	if s.Samples.Len() == 0 {
		return errors.New("run epoch: empty sample list")
	}
	Shuffle(s.Samples, s.Rand)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	batches := s.fetchBatches(ctx)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var res *fetchResult
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok = <-batches:
		}
		if !ok {
			return nil
		}
		if res.Err != nil {
			return essentials.AddCtx("run epoch", res.Err)
		}

		grad := s.Gradienter.Gradient(res.Batch)
		if s.Transformer != nil {
			grad = s.Transformer.Transform(grad)
		}
		epoch := float64(s.NumProcessed) / float64(s.Samples.Len())
		scaleGrad(grad, -s.Rater.Rate(epoch))
		grad.AddToVars()
		s.NumProcessed += res.Samples.Len()

		if s.StatusFunc != nil {
			s.StatusFunc(res.Samples)
		}
	}
}

func (s *SGD) fetchBatches(ctx context.Context) <-chan *fetchResult {
	res := make(chan *fetchResult, 1)
	go func() {
		defer close(res)
		for idx := 0; idx < s.Samples.Len(); {
			size := s.batchSize(s.Samples.Len() - idx)
			samples := s.Samples.Slice(idx, idx+size)
			idx += size
			batch, err := s.Fetcher.Fetch(samples)
			select {
			case res <- &fetchResult{Samples: samples, Batch: batch, Err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return res
}

func (s *SGD) batchSize(remaining int) int {
	if s.BatchSize == 0 || s.BatchSize > remaining {
		return remaining
	}
	return s.BatchSize
}

// CosterGrad computes the gradient of a Coster's cost
// with respect to params.
// It also returns the cost itself.
func CosterGrad(c Coster, b Batch, params []*anydiff.Var) (anydiff.Grad, float64) {
	grad := anydiff.NewGrad(params...)
	cost := c.TotalCost(b)
	out := cost.Output()
	total := numericFloat(anyvec.Sum(out))
	one := out.Creator().MakeVector(1)
	one.AddScalar(out.Creator().MakeNumeric(1))
	cost.Propagate(one, grad)
	return grad, total
}
