package rnn

import (
	"errors"
	"math"
	"math/rand"

	"github.com/Daniel-del-Castillo/Phrygian/nn"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

const lstmForgetBias = 1

func init() {
	var l LSTMGate
	serializer.RegisterTypedDeserializer(l.SerializerType(), DeserializeLSTMGate)
	var lstm LSTM
	serializer.RegisterTypedDeserializer(lstm.SerializerType(), DeserializeLSTM)
}

// LSTM is a long short-term memory block.
//
// Each timestep computes
//
//	c' = forget*c + in*inValue
//	h' = output*tanh(c')
//
// where every gate is a function of the input and the
// previous output h.
// The start state is all zeros.
//
// While training, the previous output is multiplied by a
// dropout mask that stays fixed for the whole sequence.
type LSTM struct {
	InValue *LSTMGate
	In      *LSTMGate
	Forget  *LSTMGate
	Output  *LSTMGate

	// RecurrentKeep is the probability of keeping each
	// component of the recurrent connection while training.
	// A value of 1 disables recurrent dropout.
	RecurrentKeep float64

	Training bool
	rand     *rand.Rand
}

// DeserializeLSTM deserializes an LSTM.
// The block comes back in evaluation mode.
func DeserializeLSTM(d []byte) (*LSTM, error) {
	var inVal, in, forget, out *LSTMGate
	var keep serializer.Float64
	if err := serializer.DeserializeAny(d, &inVal, &in, &forget, &out, &keep); err != nil {
		return nil, essentials.AddCtx("deserialize LSTM", err)
	}
	return &LSTM{
		InValue:       inVal,
		In:            in,
		Forget:        forget,
		Output:        out,
		RecurrentKeep: float64(keep),
	}, nil
}

// NewLSTM creates a randomized LSTM with the given input
// and state sizes.
//
// The forget gates start out biased to remember.
// If r is nil, the global source is used.
func NewLSTM(c anyvec.Creator, r *rand.Rand, in, state int) *LSTM {
	res := &LSTM{
		InValue:       NewLSTMGate(c, r, in, state, nn.Tanh),
		In:            NewLSTMGate(c, r, in, state, nn.Sigmoid),
		Forget:        NewLSTMGate(c, r, in, state, nn.Sigmoid),
		Output:        NewLSTMGate(c, r, in, state, nn.Sigmoid),
		RecurrentKeep: 1,
	}
	res.Forget.Biases.Vector.AddScalar(c.MakeNumeric(lstmForgetBias))
	return res
}

// StateSize returns the size of the output and cell
// vectors.
func (l *LSTM) StateSize() int {
	return l.Output.Biases.Vector.Len()
}

// SetTraining enables or disables recurrent dropout.
func (l *LSTM) SetTraining(training bool) {
	l.Training = training
}

// SetRand sets the source for recurrent dropout masks.
func (l *LSTM) SetRand(r *rand.Rand) {
	l.rand = r
}

// Start produces a zero start state.
func (l *LSTM) Start(n int) State {
	c := l.Output.Biases.Vector.Creator()
	size := l.StateSize() * n
	res := &lstmState{
		N:    n,
		Out:  c.MakeVector(size),
		Cell: c.MakeVector(size),
	}
	if l.Training && l.RecurrentKeep > 0 && l.RecurrentKeep < 1 {
		res.Mask = nn.DropoutMask(c, l.rand, size, l.RecurrentKeep)
	}
	return res
}

// PropagateStart does nothing, since the start state is
// not learned.
func (l *LSTM) PropagateStart(s StateGrad, g anydiff.Grad) {
}

// Step performs one timestep.
func (l *LSTM) Step(s State, in anyvec.Vector) Res {
	st := s.(*lstmState)
	res := &lstmRes{
		InPool:   anydiff.NewVar(in),
		OutPool:  anydiff.NewVar(st.Out),
		CellPool: anydiff.NewVar(st.Cell),
		N:        st.N,
	}

	var recurrent anydiff.Res = res.OutPool
	if st.Mask != nil {
		recurrent = anydiff.Mul(recurrent, anydiff.NewConst(st.Mask))
	}

	inValue := l.InValue.apply(res.InPool, recurrent)
	inGate := l.In.apply(res.InPool, recurrent)
	forget := l.Forget.apply(res.InPool, recurrent)
	outGate := l.Output.apply(res.InPool, recurrent)

	newCell := anydiff.Add(
		anydiff.Mul(forget, res.CellPool),
		anydiff.Mul(inGate, inValue),
	)
	newOut := anydiff.Mul(outGate, anydiff.Tanh(newCell))
	res.Joined = anydiff.Concat(newOut, newCell)

	outVec := newOut.Output()
	res.OutState = &lstmState{
		N:    st.N,
		Out:  outVec,
		Cell: newCell.Output(),
		Mask: st.Mask,
	}

	res.V = anydiff.MergeVarSets(res.Joined.Vars())
	res.V.Del(res.InPool)
	res.V.Del(res.OutPool)
	res.V.Del(res.CellPool)

	return res
}

// Parameters returns the parameters of every gate.
func (l *LSTM) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	for _, g := range []*LSTMGate{l.InValue, l.In, l.Forget, l.Output} {
		res = append(res, g.Parameters()...)
	}
	return res
}

// SerializerType returns the unique ID used to serialize
// an LSTM with the serializer package.
func (l *LSTM) SerializerType() string {
	return "github.com/Daniel-del-Castillo/Phrygian/nn/rnn.LSTM"
}

// Serialize serializes the LSTM.
func (l *LSTM) Serialize() ([]byte, error) {
	return serializer.SerializeAny(l.InValue, l.In, l.Forget, l.Output,
		serializer.Float64(l.RecurrentKeep))
}

// An LSTMGate computes a value based on the input and the
// previous output.
type LSTMGate struct {
	InputWeights *anydiff.Var
	StateWeights *anydiff.Var
	Biases       *anydiff.Var
	Activation   nn.Activation
}

// DeserializeLSTMGate deserializes an LSTMGate.
func DeserializeLSTMGate(d []byte) (*LSTMGate, error) {
	var iw, sw, b *anyvecsave.S
	var a nn.Activation
	if err := serializer.DeserializeAny(d, &iw, &sw, &b, &a); err != nil {
		return nil, essentials.AddCtx("deserialize LSTMGate", err)
	}
	size := b.Vector.Len()
	if size == 0 || sw.Vector.Len() != size*size || iw.Vector.Len()%size != 0 {
		return nil, errors.New("deserialize LSTMGate: invalid matrix dimensions")
	}
	return &LSTMGate{
		InputWeights: anydiff.NewVar(iw.Vector),
		StateWeights: anydiff.NewVar(sw.Vector),
		Biases:       anydiff.NewVar(b.Vector),
		Activation:   a,
	}, nil
}

// NewLSTMGate creates a randomized LSTM gate.
func NewLSTMGate(c anyvec.Creator, r *rand.Rand, in, state int, a nn.Activation) *LSTMGate {
	res := &LSTMGate{
		InputWeights: anydiff.NewVar(c.MakeVector(in * state)),
		StateWeights: anydiff.NewVar(c.MakeVector(state * state)),
		Biases:       anydiff.NewVar(c.MakeVector(state)),
		Activation:   a,
	}
	anyvec.Rand(res.InputWeights.Vector, anyvec.Normal, r)
	anyvec.Rand(res.StateWeights.Vector, anyvec.Normal, r)
	res.InputWeights.Vector.Scale(c.MakeNumeric(1 / math.Sqrt(float64(in))))
	res.StateWeights.Vector.Scale(c.MakeNumeric(1 / math.Sqrt(float64(state))))
	return res
}

// Parameters returns the parameters of the gate.
func (l *LSTMGate) Parameters() []*anydiff.Var {
	return []*anydiff.Var{l.InputWeights, l.StateWeights, l.Biases}
}

// SerializerType returns the unique ID used to serialize
// an LSTM gate with the serializer package.
func (l *LSTMGate) SerializerType() string {
	return "github.com/Daniel-del-Castillo/Phrygian/nn/rnn.LSTMGate"
}

// Serialize serializes the gate.
func (l *LSTMGate) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		&anyvecsave.S{Vector: l.InputWeights.Vector},
		&anyvecsave.S{Vector: l.StateWeights.Vector},
		&anyvecsave.S{Vector: l.Biases.Vector},
		l.Activation,
	)
}

func (l *LSTMGate) apply(in, state anydiff.Res) anydiff.Res {
	size := l.Biases.Vector.Len()
	inCount := l.InputWeights.Vector.Len() / size
	n := state.Output().Len() / size
	sum := anydiff.Add(
		applyWeights(inCount, size, l.InputWeights, in),
		applyWeights(size, size, l.StateWeights, state),
	)
	return l.Activation.Apply(anydiff.AddRepeated(sum, l.Biases), n)
}

type lstmState struct {
	N    int
	Out  anyvec.Vector
	Cell anyvec.Vector

	// Mask is nil when recurrent dropout is off.
	Mask anyvec.Vector
}

func (l *lstmState) BatchSize() int {
	return l.N
}

type lstmRes struct {
	InPool   *anydiff.Var
	OutPool  *anydiff.Var
	CellPool *anydiff.Var
	Joined   anydiff.Res
	OutState *lstmState
	N        int
	V        anydiff.VarSet
}

func (l *lstmRes) State() State {
	return l.OutState
}

func (l *lstmRes) Output() anyvec.Vector {
	return l.OutState.Out
}

func (l *lstmRes) Vars() anydiff.VarSet {
	return l.V
}

func (l *lstmRes) Propagate(u anyvec.Vector, s StateGrad, g anydiff.Grad) (anyvec.Vector,
	StateGrad) {
	c := u.Creator()
	var upCell anyvec.Vector
	if s != nil {
		st := s.(*lstmState)
		u.Add(st.Out)
		upCell = st.Cell
	} else {
		upCell = c.MakeVector(u.Len())
	}

	down := c.MakeVector(l.InPool.Vector.Len())
	downOut := c.MakeVector(l.OutPool.Vector.Len())
	downCell := c.MakeVector(l.CellPool.Vector.Len())
	g[l.InPool] = down
	g[l.OutPool] = downOut
	g[l.CellPool] = downCell
	l.Joined.Propagate(c.Concat(u, upCell), g)
	delete(g, l.InPool)
	delete(g, l.OutPool)
	delete(g, l.CellPool)

	return down, &lstmState{N: l.N, Out: downOut, Cell: downCell}
}

func applyWeights(in, out int, weights anydiff.Res, batch anydiff.Res) anydiff.Res {
	weightMat := &anydiff.Matrix{Data: weights, Rows: out, Cols: in}
	inMat := &anydiff.Matrix{Data: batch, Rows: batch.Output().Len() / in, Cols: in}
	return anydiff.MatMul(false, true, inMat, weightMat).Data
}
