package vocab

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/Daniel-del-Castillo/Phrygian/errs"
	"github.com/Daniel-del-Castillo/Phrygian/melody"
	"github.com/unixpickle/serializer"
)

func testCorpus() melody.Corpus {
	return melody.Corpus{
		{{Pitch: "C4", Duration: "q"}, {Pitch: "D4", Duration: "q"}, {Pitch: "E4", Duration: "h"}},
		{{Pitch: "G3", Duration: "0.25"}, {Pitch: "C4", Duration: "h"}},
	}
}

func TestBuild(t *testing.T) {
	pitches, durations, err := Build(testCorpus())
	if err != nil {
		t.Fatal(err)
	}
	if actual := pitches.Tokens(); !reflect.DeepEqual(actual, []string{"C4", "D4", "E4", "G3"}) {
		t.Errorf("unexpected pitches: %v", actual)
	}
	if actual := durations.Tokens(); !reflect.DeepEqual(actual, []string{"0.25", "h", "q"}) {
		t.Errorf("unexpected durations: %v", actual)
	}
}

func TestBijection(t *testing.T) {
	pitches, durations, err := Build(testCorpus())
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range []*Vocabulary{pitches, durations} {
		seen := map[int]bool{}
		for _, token := range v.Tokens() {
			idx, ok := v.Index(token)
			if !ok {
				t.Fatalf("missing token %q", token)
			}
			if seen[idx] {
				t.Errorf("duplicate index %d", idx)
			}
			seen[idx] = true
			if back, _ := v.Token(idx); back != token {
				t.Errorf("index %d maps to %q, expected %q", idx, back, token)
			}
		}
		for i := 0; i < v.Len(); i++ {
			if !seen[i] {
				t.Errorf("index %d unused", i)
			}
		}
		if _, ok := v.Token(v.Len()); ok {
			t.Error("out of range index should fail")
		}
	}
}

func TestBuildDeterministic(t *testing.T) {
	c := testCorpus()
	reversed := melody.Corpus{c[1], c[0]}
	p1, d1, _ := Build(c)
	p2, d2, _ := Build(reversed)
	if !reflect.DeepEqual(p1, p2) || !reflect.DeepEqual(d1, d2) {
		t.Error("vocabularies depend on corpus order")
	}
}

func TestBuildInvalid(t *testing.T) {
	corpora := []melody.Corpus{
		nil,
		{},
		{{}, {}},
		{{{Pitch: "C4", Duration: ""}}},
		{{{Pitch: "", Duration: "q"}}},
	}
	for i, c := range corpora {
		_, _, err := Build(c)
		if errs.KindOf(err) != errs.Validation || errs.StageOf(err) != errs.Vocabulary {
			t.Errorf("corpus %d: expected vocabulary ValidationError but got %v", i, err)
		}
	}
}

func TestVocabularySerialize(t *testing.T) {
	v := NewVocabulary([]string{"q", "h", "0.5", "q"})
	data, err := serializer.SerializeAny(v)
	if err != nil {
		t.Fatal(err)
	}
	var v1 *Vocabulary
	if err := serializer.DeserializeAny(data, &v1); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(v, v1) {
		t.Errorf("expected %v but got %v", v.Tokens(), v1.Tokens())
	}
}

func TestVocabularyJSON(t *testing.T) {
	pitches, durations, _ := Build(testCorpus())
	var buf bytes.Buffer
	if err := WriteJSON(&buf, pitches, durations); err != nil {
		t.Fatal(err)
	}
	p1, d1, err := ReadJSON(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(pitches, p1) || !reflect.DeepEqual(durations, d1) {
		t.Error("vocabularies changed after JSON round trip")
	}
}
