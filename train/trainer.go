package train

import (
	"context"
	"errors"

	"github.com/Daniel-del-Castillo/Phrygian/model"
	"github.com/Daniel-del-Castillo/Phrygian/nn"
	"github.com/Daniel-del-Castillo/Phrygian/nn/sgd"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// A Batch stores the packed inputs and targets of a
// mini-batch.
type Batch struct {
	Steps   []anyvec.Vector
	Targets *anydiff.Const
	N       int
}

// A Trainer creates batches, computes gradients, and adds
// up costs for a Model.
type Trainer struct {
	Model   *model.Model
	Creator anyvec.Creator

	// Cost defaults to nn.CrossEntropy.
	Cost nn.Cost

	// After every gradient computation, LastCost is set to
	// the mean cost of the batch.
	LastCost float64
}

// Fetch produces a *Batch for the subset of samples.
// The s argument must be a *SampleList.
func (t *Trainer) Fetch(s sgd.SampleList) (sgd.Batch, error) {
	l := s.(*SampleList)
	if l.Len() == 0 {
		return nil, errors.New("fetch batch: empty batch")
	}
	windows := make([][][]float64, l.Len())
	var targets []float64
	for i, idx := range l.Indices {
		windows[i] = l.Data.Timesteps(idx)
		targets = append(targets, l.Data.Targets[idx]...)
	}
	steps, err := model.PackSteps(t.Creator, windows)
	if err != nil {
		return nil, essentials.AddCtx("fetch batch", err)
	}
	return &Batch{
		Steps:   steps,
		Targets: anydiff.NewConst(t.Creator.MakeVectorData(t.Creator.MakeNumericList(targets))),
		N:       l.Len(),
	}, nil
}

// TotalCost computes the mean cost of a *Batch.
func (t *Trainer) TotalCost(batch sgd.Batch) anydiff.Res {
	b := batch.(*Batch)
	out := t.Model.Apply(b.Steps, b.N)
	cost := t.cost().Cost(b.Targets, out, b.N)
	total := anydiff.Sum(cost)
	divisor := 1 / float64(b.N)
	return anydiff.Scale(total, total.Output().Creator().MakeNumeric(divisor))
}

// Gradient computes the gradient of the batch's mean cost
// and sets LastCost.
func (t *Trainer) Gradient(b sgd.Batch) anydiff.Grad {
	grad, cost := sgd.CosterGrad(t, b, t.Model.Parameters())
	t.LastCost = cost
	return grad
}

// MeanCost computes the mean cost over samples, in
// batches of at most batchSize.
// The model should be in evaluation mode.
func (t *Trainer) MeanCost(ctx context.Context, samples *SampleList, batchSize int) (float64, error) {
	if samples.Len() == 0 {
		return 0, errors.New("mean cost: no samples")
	}
	if batchSize <= 0 {
		batchSize = samples.Len()
	}
	var total float64
	for i := 0; i < samples.Len(); {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		// The last batch absorbs the remainder so that batch
		// statistics are never taken over a handful of windows.
		end := i + batchSize
		if samples.Len()-end < batchSize {
			end = samples.Len()
		}
		b, err := t.Fetch(samples.Slice(i, end))
		if err != nil {
			return 0, err
		}
		cost := t.TotalCost(b).Output()
		total += numericFloat(anyvec.Sum(cost)) * float64(end-i)
		i = end
	}
	return total / float64(samples.Len()), nil
}

func (t *Trainer) cost() nn.Cost {
	if t.Cost == nil {
		return nn.CrossEntropy{}
	}
	return t.Cost
}

func numericFloat(n anyvec.Numeric) float64 {
	switch n := n.(type) {
	case float32:
		return float64(n)
	default:
		return n.(float64)
	}
}
