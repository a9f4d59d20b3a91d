package rnn

import (
	"fmt"
	"math/rand"

	"github.com/Daniel-del-Castillo/Phrygian/nn"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var s Stack
	serializer.RegisterTypedDeserializer(s.SerializerType(), DeserializeStack)
}

// A Stack is a meta-Block for composing Blocks.
// In a Stack, the first Block's output is fed as input to
// the next Block, etc.
//
// An empty Stack is invalid.
type Stack []Block

// DeserializeStack deserializes a Stack.
func DeserializeStack(d []byte) (Stack, error) {
	slice, err := serializer.DeserializeSlice(d)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Stack", err)
	}
	res := make(Stack, len(slice))
	for i, x := range slice {
		block, ok := x.(Block)
		if !ok {
			return nil, fmt.Errorf("deserialize Stack: not a Block: %T", x)
		}
		res[i] = block
	}
	return res, nil
}

// Start produces a start state.
func (s Stack) Start(n int) State {
	s.assertNonEmpty()
	res := make(stackState, len(s))
	for i, x := range s {
		res[i] = x.Start(n)
	}
	return res
}

// PropagateStart back-propagates through the start state.
func (s Stack) PropagateStart(sg StateGrad, g anydiff.Grad) {
	for i, x := range s {
		x.PropagateStart(sg.(stackState)[i], g)
	}
}

// Step applies the block for a single timestep.
func (s Stack) Step(st State, in anyvec.Vector) Res {
	res := &stackRes{V: anydiff.VarSet{}}
	inVec := in
	for i, x := range s {
		blockRes := x.Step(st.(stackState)[i], inVec)
		inVec = blockRes.Output()
		res.Reses = append(res.Reses, blockRes)
		res.OutState = append(res.OutState, blockRes.State())
		res.V = anydiff.MergeVarSets(res.V, blockRes.Vars())
	}
	return res
}

// Parameters gathers the parameters of every Block that
// has any.
func (s Stack) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	for _, x := range s {
		if p, ok := x.(nn.Parameterizer); ok {
			res = append(res, p.Parameters()...)
		}
	}
	return res
}

// SetTraining switches every Block that supports it.
func (s Stack) SetTraining(training bool) {
	for _, x := range s {
		if m, ok := x.(nn.Mode); ok {
			m.SetTraining(training)
		}
	}
}

// SetRand sets the random source of every Block that
// uses one.
func (s Stack) SetRand(r *rand.Rand) {
	for _, x := range s {
		if rr, ok := x.(nn.Randomizer); ok {
			rr.SetRand(r)
		}
	}
}

// SerializerType returns the unique ID used to serialize
// a Stack with the serializer package.
func (s Stack) SerializerType() string {
	return "github.com/Daniel-del-Castillo/Phrygian/nn/rnn.Stack"
}

// Serialize serializes the Stack.
// It fails if any Block is not a serializer.Serializer.
func (s Stack) Serialize() ([]byte, error) {
	var res []serializer.Serializer
	for _, x := range s {
		if ser, ok := x.(serializer.Serializer); ok {
			res = append(res, ser)
		} else {
			return nil, fmt.Errorf("serialize Stack: not a Serializer: %T", x)
		}
	}
	return serializer.SerializeSlice(res)
}

func (s Stack) assertNonEmpty() {
	if len(s) == 0 {
		panic("empty Stack is invalid")
	}
}

type stackRes struct {
	Reses    []Res
	OutState stackState
	V        anydiff.VarSet
}

func (s *stackRes) State() State {
	return s.OutState
}

func (s *stackRes) Output() anyvec.Vector {
	return s.Reses[len(s.Reses)-1].Output()
}

func (s *stackRes) Vars() anydiff.VarSet {
	return s.V
}

func (s *stackRes) Propagate(u anyvec.Vector, sg StateGrad, g anydiff.Grad) (anyvec.Vector,
	StateGrad) {
	downVec := u
	downStates := make(stackState, len(s.Reses))
	for i := len(s.Reses) - 1; i >= 0; i-- {
		var stateUpstream StateGrad
		if sg != nil {
			stateUpstream = sg.(stackState)[i]
		}
		down, downState := s.Reses[i].Propagate(downVec, stateUpstream, g)
		downVec = down
		downStates[i] = downState
	}
	return downVec, downStates
}

// stackState is used both as a State and a StateGrad.
type stackState []StateGrad

func (s stackState) BatchSize() int {
	return s[0].BatchSize()
}
