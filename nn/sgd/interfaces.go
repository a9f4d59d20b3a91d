package sgd

import "github.com/unixpickle/anydiff"

// A Transformer transforms gradients, for example to
// implement pre-conditioning.
//
// After its first call, a Transformer expects to see
// gradients containing the same variables.
//
// A Transformer may modify its input and return it.
// It must not keep a reference to its input; any state
// must live in separately allocated gradients.
type Transformer interface {
	Transform(g anydiff.Grad) anydiff.Grad
}

// A Batch is a fetched, ready-to-use mini-batch.
//
// Batches are obtained using a Fetcher and then passed to
// a Gradienter.
type Batch interface{}

// A Fetcher fetches Batches for SampleLists.
//
// SGD calls Fetch on a separate goroutine, so the next
// Batch is usually ready as soon as the previous one has
// been used.
type Fetcher interface {
	Fetch(s SampleList) (Batch, error)
}

// A Gradienter computes a gradient for a Batch.
//
// The same gradient instance may be re-used by successive
// calls to Gradient.
type Gradienter interface {
	Gradient(b Batch) anydiff.Grad
}

// A Rater determines the learning rate given the epoch
// number.
// Fractional epochs are possible.
type Rater interface {
	Rate(epoch float64) float64
}

// A SampleList represents a list of training samples.
type SampleList interface {
	// Len returns the number of samples.
	Len() int

	// Swap swaps two samples.
	Swap(i, j int)

	// Slice generates a shallow copy of a subset of the
	// list.
	Slice(i, j int) SampleList
}

// A Coster computes a differentiable cost for a Batch.
// The cost has exactly one component.
type Coster interface {
	TotalCost(b Batch) anydiff.Res
}
