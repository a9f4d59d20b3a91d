// Package rnn implements recurrent blocks and runs them
// over batches of equally long sequences.
package rnn

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// A State stores the internal states of a Block for every
// sequence in a batch.
type State interface {
	BatchSize() int
}

// A StateGrad is an upstream gradient for a State.
type StateGrad interface {
	BatchSize() int
}

// A Block is a differentiable unit in an RNN.
// It maps an input/state batch to an output/state batch.
type Block interface {
	// Start produces the start state for n sequences.
	Start(n int) State

	// PropagateStart back-propagates through the start
	// state.
	PropagateStart(s StateGrad, g anydiff.Grad)

	// Step applies the block for a single timestep.
	Step(s State, in anyvec.Vector) Res
}

// A Res is the output of one Block timestep.
type Res interface {
	State() State
	Output() anyvec.Vector

	// Vars returns the variables upon which the output
	// depends.
	Vars() anydiff.VarSet

	// Propagate back-propagates one timestep.
	//
	// It takes an upstream vector u for the output and an
	// upstream StateGrad s for the output state, which may
	// be nil to indicate zero.
	// It returns the downstream input vector and the
	// StateGrad for the previous timestep.
	//
	// Propagate may modify u and s.
	Propagate(u anyvec.Vector, s StateGrad, g anydiff.Grad) (anyvec.Vector, StateGrad)
}
