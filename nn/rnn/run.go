package rnn

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

type finalRes struct {
	Block Block
	Steps []Res
	V     anydiff.VarSet
}

// Final applies a Block to a batch of n equally long
// sequences and returns its output at the last timestep.
//
// steps[t] packs the inputs of all n sequences at
// timestep t.
// The inputs are treated as constants.
func Final(b Block, steps []anyvec.Vector, n int) anydiff.Res {
	if len(steps) == 0 {
		panic("cannot run a Block over empty sequences")
	}
	res := &finalRes{Block: b, V: anydiff.VarSet{}}
	state := b.Start(n)
	for _, in := range steps {
		step := b.Step(state, in)
		res.Steps = append(res.Steps, step)
		res.V = anydiff.MergeVarSets(res.V, step.Vars())
		state = step.State()
	}
	return res
}

func (f *finalRes) Output() anyvec.Vector {
	return f.Steps[len(f.Steps)-1].Output()
}

func (f *finalRes) Vars() anydiff.VarSet {
	return f.V
}

func (f *finalRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	var upState StateGrad
	for i := len(f.Steps) - 1; i >= 0; i-- {
		step := f.Steps[i]
		up := u
		if i != len(f.Steps)-1 {
			out := step.Output()
			up = out.Creator().MakeVector(out.Len())
		}
		_, upState = step.Propagate(up, upState, g)
	}
	f.Block.PropagateStart(upState, g)
}
