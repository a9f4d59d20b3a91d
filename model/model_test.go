package model

import (
	"math"
	"reflect"
	"testing"

	"github.com/Daniel-del-Castillo/Phrygian/errs"
	"github.com/Daniel-del-Castillo/Phrygian/nn"
	"github.com/Daniel-del-Castillo/Phrygian/nn/rnn"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/unixpickle/serializer"
)

func testConfig() Config {
	return Config{
		HiddenSize:    4,
		DenseSize:     3,
		PitchCount:    3,
		DurationCount: 2,
		Seed:          1,
	}
}

func testWindows() [][][]float64 {
	return [][][]float64{
		{{0, 0.5}, {1.0 / 3, 0}, {2.0 / 3, 0.5}},
		{{2.0 / 3, 0}, {0, 0}, {1.0 / 3, 0.5}},
		{{1.0 / 3, 0.5}, {1.0 / 3, 0.5}, {0, 0}},
	}
}

func testSteps(t *testing.T) []anyvec.Vector {
	steps, err := PackSteps(anyvec64.CurrentCreator(), testWindows())
	if err != nil {
		t.Fatal(err)
	}
	return steps
}

func TestArchitecture(t *testing.T) {
	m, err := New(anyvec64.CurrentCreator(), testConfig())
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Blocks) != 3 {
		t.Fatalf("expected 3 LSTM blocks but got %d", len(m.Blocks))
	}
	for i, b := range m.Blocks {
		keep := b.(*rnn.LSTM).RecurrentKeep
		expected := 0.7
		if i == 2 {
			expected = 1
		}
		if math.Abs(keep-expected) > 1e-9 {
			t.Errorf("block %d: expected keep %f but got %f", i, expected, keep)
		}
	}
	if m.OutputSize() != 5 {
		t.Errorf("expected output size 5 but got %d", m.OutputSize())
	}
	if _, ok := m.Head[len(m.Head)-1].(nn.Activation); !ok {
		t.Errorf("expected a softmax output but got %T", m.Head[len(m.Head)-1])
	}
}

func TestPredictDistribution(t *testing.T) {
	m, err := New(anyvec64.CurrentCreator(), testConfig())
	if err != nil {
		t.Fatal(err)
	}
	out := m.Predict(testSteps(t), 3).Data().([]float64)
	if len(out) != 15 {
		t.Fatalf("expected 15 outputs but got %d", len(out))
	}
	for row := 0; row < 3; row++ {
		var sum float64
		for _, x := range out[row*5 : (row+1)*5] {
			sum += x
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Errorf("row %d sums to %f", row, sum)
		}
	}
}

func TestPredictSplitHeads(t *testing.T) {
	cfg := testConfig()
	cfg.SplitHeads = true
	m, err := New(anyvec64.CurrentCreator(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	out := m.Predict(testSteps(t), 3).Data().([]float64)
	for row := 0; row < 3; row++ {
		v := out[row*5 : (row+1)*5]
		pitchSum := v[0] + v[1] + v[2]
		durSum := v[3] + v[4]
		if math.Abs(pitchSum-1) > 1e-9 || math.Abs(durSum-1) > 1e-9 {
			t.Errorf("row %d: head sums %f and %f", row, pitchSum, durSum)
		}
	}
}

func TestSeeded(t *testing.T) {
	m1, _ := New(anyvec64.CurrentCreator(), testConfig())
	m2, _ := New(anyvec64.CurrentCreator(), testConfig())
	p1, p2 := m1.Parameters(), m2.Parameters()
	if len(p1) != len(p2) {
		t.Fatal("parameter count mismatch")
	}
	for i := range p1 {
		if !reflect.DeepEqual(p1[i].Vector.Data(), p2[i].Vector.Data()) {
			t.Fatalf("parameter %d differs", i)
		}
	}
}

func TestInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.DurationCount = 0
	_, err := New(anyvec64.CurrentCreator(), cfg)
	if !errs.Is(err, errs.Validation) {
		t.Errorf("expected ValidationError but got %v", err)
	}
}

func TestGradient(t *testing.T) {
	cfg := testConfig()
	cfg.Layers = 2
	m, err := New(anyvec64.CurrentCreator(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	steps := testSteps(t)
	checker := &anydifftest.ResChecker{
		F: func() anydiff.Res {
			return m.Apply(steps, 3)
		},
		V: m.Parameters(),
	}
	checker.FullCheck(t)
}

func TestSerialize(t *testing.T) {
	m, err := New(anyvec64.CurrentCreator(), testConfig())
	if err != nil {
		t.Fatal(err)
	}
	data, err := serializer.SerializeAny(m)
	if err != nil {
		t.Fatal(err)
	}
	var m1 *Model
	if err := serializer.DeserializeAny(data, &m1); err != nil {
		t.Fatal(err)
	}
	if m1.PitchCount != 3 || m1.DurationCount != 2 {
		t.Errorf("unexpected vocabulary sizes %d and %d", m1.PitchCount, m1.DurationCount)
	}
	steps := testSteps(t)
	expected := m.Predict(steps, 3)
	diff := m1.Predict(steps, 3).Copy()
	diff.Sub(expected)
	if max := anyvec.AbsMax(diff).(float64); max > 1e-9 {
		t.Errorf("outputs differ by %f", max)
	}
}

func TestTrainingMode(t *testing.T) {
	m, _ := New(anyvec64.CurrentCreator(), testConfig())
	m.SetTraining(true)
	if !m.Blocks[0].(*rnn.LSTM).Training || !m.Head[1].(*nn.Dropout).Training ||
		!m.Head[0].(*nn.BatchNorm).Training {
		t.Error("training mode not propagated")
	}
	m.SetTraining(false)
	if m.Blocks[0].(*rnn.LSTM).Training || m.Head[1].(*nn.Dropout).Training ||
		m.Head[0].(*nn.BatchNorm).Training {
		t.Error("evaluation mode not propagated")
	}
}

func TestPackSteps(t *testing.T) {
	steps := testSteps(t)
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps but got %d", len(steps))
	}
	expected := []float64{0, 0.5, 2.0 / 3, 0, 1.0 / 3, 0.5}
	if !reflect.DeepEqual(steps[0].Data(), expected) {
		t.Errorf("expected %v but got %v", expected, steps[0].Data())
	}
	_, err := PackSteps(anyvec64.CurrentCreator(), [][][]float64{{{1, 2}}, {}})
	if err == nil {
		t.Error("expected error for ragged windows")
	}
}

func TestActivationSize(t *testing.T) {
	m, _ := New(anyvec64.CurrentCreator(), testConfig())
	if m.ActivationSize(2, 10) <= m.ActivationSize(1, 10) {
		t.Error("estimate should grow with the batch")
	}
	if m.ActivationSize(1, 20) <= m.ActivationSize(1, 10) {
		t.Error("estimate should grow with the window")
	}
}
