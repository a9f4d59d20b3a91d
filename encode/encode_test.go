package encode

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/Daniel-del-Castillo/Phrygian/errs"
	"github.com/Daniel-del-Castillo/Phrygian/melody"
	"github.com/Daniel-del-Castillo/Phrygian/vocab"
)

func TestEncodeExample(t *testing.T) {
	c := melody.Corpus{{
		{Pitch: "C4", Duration: "q"},
		{Pitch: "D4", Duration: "q"},
		{Pitch: "E4", Duration: "h"},
	}}
	pitches, durations, err := vocab.Build(c)
	if err != nil {
		t.Fatal(err)
	}
	ds, err := Encode(c, pitches, durations, 2)
	if err != nil {
		t.Fatal(err)
	}
	if ds.Len() != 1 {
		t.Fatalf("expected 1 window but got %d", ds.Len())
	}

	// Pitches: C4=0, D4=1, E4=2. Durations: h=0, q=1.
	if expected := []int{0, 1, 1, 1}; !reflect.DeepEqual(ds.Inputs[0], expected) {
		t.Errorf("expected input %v but got %v", expected, ds.Inputs[0])
	}
	if expected := []float64{0, 0, 1, 1, 0}; !reflect.DeepEqual(ds.Targets[0], expected) {
		t.Errorf("expected target %v but got %v", expected, ds.Targets[0])
	}
	if err := ds.Validate(); err != nil {
		t.Error(err)
	}
}

func TestWindowCount(t *testing.T) {
	c := randomCorpus([]int{0, 3, 4, 5, 12, 7})
	pitches, durations, err := vocab.Build(c)
	if err != nil {
		t.Fatal(err)
	}
	for _, w := range []int{1, 3, 4, 6, 20} {
		ds, err := Encode(c, pitches, durations, w)
		if err != nil {
			t.Fatal(err)
		}
		var expected int
		for _, m := range c {
			if len(m) > w {
				expected += len(m) - w
			}
		}
		if ds.Len() != expected || WindowCount(c, w) != expected {
			t.Errorf("window %d: expected %d windows but got %d (count %d)", w, expected,
				ds.Len(), WindowCount(c, w))
		}
		if len(ds.Targets) != ds.Len() {
			t.Errorf("window %d: %d targets for %d windows", w, len(ds.Targets), ds.Len())
		}
	}
}

func TestTargetsTwoHot(t *testing.T) {
	c := randomCorpus([]int{9, 15})
	pitches, durations, _ := vocab.Build(c)
	ds, err := Encode(c, pitches, durations, 4)
	if err != nil {
		t.Fatal(err)
	}
	windowIdx := 0
	for _, m := range c {
		for i := 0; i+4 < len(m); i++ {
			next := m[i+4]
			p, _ := pitches.Index(next.Pitch)
			d, _ := durations.Index(next.Duration)
			target := ds.Targets[windowIdx]
			var active int
			for j, x := range target {
				if x != 0 {
					active++
					if j != p && j != pitches.Len()+d {
						t.Errorf("window %d: unexpected active position %d", windowIdx, j)
					}
				}
			}
			if active != 2 {
				t.Errorf("window %d: expected 2 active positions but got %d", windowIdx, active)
			}
			windowIdx++
		}
	}
}

func TestWindowsStayInMelody(t *testing.T) {
	c := melody.Corpus{
		{{Pitch: "A", Duration: "1"}, {Pitch: "A", Duration: "1"}, {Pitch: "B", Duration: "1"}},
		{{Pitch: "C", Duration: "2"}, {Pitch: "C", Duration: "2"}, {Pitch: "D", Duration: "2"}},
	}
	pitches, durations, _ := vocab.Build(c)
	ds, err := Encode(c, pitches, durations, 2)
	if err != nil {
		t.Fatal(err)
	}
	// Pitches A=0..D=3, durations 1=0, 2=1.
	expected := [][]int{{0, 0, 0, 0}, {2, 1, 2, 1}}
	if !reflect.DeepEqual(ds.Inputs, expected) {
		t.Errorf("expected %v but got %v", expected, ds.Inputs)
	}
}

func TestEncodeShortMelodies(t *testing.T) {
	c := randomCorpus([]int{1, 2, 3})
	pitches, durations, _ := vocab.Build(c)
	ds, err := Encode(c, pitches, durations, 3)
	if err != nil {
		t.Fatal(err)
	}
	if ds.Len() != 0 {
		t.Errorf("expected no windows but got %d", ds.Len())
	}
}

func TestEncodeUnknownToken(t *testing.T) {
	c := melody.Corpus{{{Pitch: "C4", Duration: "q"}, {Pitch: "D4", Duration: "q"}}}
	pitches := vocab.NewVocabulary([]string{"C4"})
	durations := vocab.NewVocabulary([]string{"q"})
	_, err := Encode(c, pitches, durations, 1)
	if errs.KindOf(err) != errs.Validation || errs.StageOf(err) != errs.Encoding {
		t.Errorf("expected encoding ValidationError but got %v", err)
	}
}

func TestDefaultWindowLength(t *testing.T) {
	c := randomCorpus([]int{DefaultWindowLength + 3})
	pitches, durations, _ := vocab.Build(c)
	ds, err := Encode(c, pitches, durations, 0)
	if err != nil {
		t.Fatal(err)
	}
	if ds.WindowLength != DefaultWindowLength || ds.Len() != 3 {
		t.Errorf("unexpected shape: window=%d count=%d", ds.WindowLength, ds.Len())
	}
}

func TestTimesteps(t *testing.T) {
	ds := &Dataset{
		WindowLength:  2,
		PitchCount:    4,
		DurationCount: 2,
		Inputs:        [][]int{{3, 1, 2, 0}},
		Targets:       [][]float64{TwoHot(0, 1, 4, 2)},
	}
	expected := [][]float64{{0.75, 0.5}, {0.5, 0}}
	if actual := ds.Timesteps(0); !reflect.DeepEqual(actual, expected) {
		t.Errorf("expected %v but got %v", expected, actual)
	}
}

func TestValidate(t *testing.T) {
	good := func() *Dataset {
		return &Dataset{
			WindowLength:  1,
			PitchCount:    2,
			DurationCount: 2,
			Inputs:        [][]int{{1, 0}},
			Targets:       [][]float64{TwoHot(0, 1, 2, 2)},
		}
	}
	if err := good().Validate(); err != nil {
		t.Fatal(err)
	}
	breakers := []func(d *Dataset){
		func(d *Dataset) { d.Inputs[0] = []int{1} },
		func(d *Dataset) { d.Inputs[0] = []int{2, 0} },
		func(d *Dataset) { d.Inputs[0] = []int{0, 5} },
		func(d *Dataset) { d.Targets[0] = []float64{1, 0, 0} },
		func(d *Dataset) { d.Targets[0] = []float64{1, 1, 0, 0} },
		func(d *Dataset) { d.Targets = nil },
		func(d *Dataset) { d.WindowLength = 0 },
	}
	for i, b := range breakers {
		d := good()
		b(d)
		if errs.KindOf(d.Validate()) != errs.Validation {
			t.Errorf("breaker %d: expected ValidationError", i)
		}
	}
}

func TestHash(t *testing.T) {
	ds := &Dataset{
		WindowLength:  1,
		PitchCount:    2,
		DurationCount: 2,
		Inputs:        [][]int{{1, 0}, {1, 0}, {0, 1}},
		Targets: [][]float64{
			TwoHot(0, 1, 2, 2),
			TwoHot(0, 1, 2, 2),
			TwoHot(0, 1, 2, 2),
		},
	}
	if !bytes.Equal(ds.Hash(0), ds.Hash(1)) {
		t.Error("equal samples should hash equally")
	}
	if bytes.Equal(ds.Hash(0), ds.Hash(2)) {
		t.Error("different samples should hash differently")
	}
}

func randomCorpus(lengths []int) melody.Corpus {
	pitches := []string{"C4", "D4", "E4", "F#4", "G4", "R"}
	durations := []string{"0.25", "0.5", "1.0"}
	var res melody.Corpus
	for i, l := range lengths {
		m := make(melody.Melody, l)
		for j := range m {
			m[j] = melody.Note{
				Pitch:    pitches[(i*7+j*5)%len(pitches)],
				Duration: durations[(i+j*2)%len(durations)],
			}
		}
		res = append(res, m)
	}
	return res
}
