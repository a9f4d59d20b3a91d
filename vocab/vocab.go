// Package vocab builds the deterministic token vocabularies
// used to encode melodies.
package vocab

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/Daniel-del-Castillo/Phrygian/errs"
	"github.com/Daniel-del-Castillo/Phrygian/melody"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
	"github.com/xtgo/set"
)

func init() {
	var v Vocabulary
	serializer.RegisterTypedDeserializer(v.SerializerType(), DeserializeVocabulary)
}

// A Vocabulary is a bijection between tokens and the dense
// index range [0, Len()).
//
// Indices follow the lexicographic order of the tokens, so
// the same token set always produces the same indices.
type Vocabulary struct {
	tokens  []string
	indices map[string]int
}

// NewVocabulary creates a vocabulary from a list of
// tokens.
// The list is sorted and de-duplicated first; the input
// slice is not modified.
func NewVocabulary(tokens []string) *Vocabulary {
	sorted := append([]string{}, tokens...)
	sort.Strings(sorted)
	sorted = sorted[:set.Uniq(sort.StringSlice(sorted))]
	res := &Vocabulary{
		tokens:  sorted,
		indices: make(map[string]int, len(sorted)),
	}
	for i, t := range sorted {
		res.indices[t] = i
	}
	return res
}

// DeserializeVocabulary deserializes a Vocabulary.
func DeserializeVocabulary(d []byte) (*Vocabulary, error) {
	var encoded string
	if err := serializer.DeserializeAny(d, &encoded); err != nil {
		return nil, essentials.AddCtx("deserialize Vocabulary", err)
	}
	var tokens []string
	if err := json.Unmarshal([]byte(encoded), &tokens); err != nil {
		return nil, essentials.AddCtx("deserialize Vocabulary", err)
	}
	return NewVocabulary(tokens), nil
}

// Len returns the number of tokens.
func (v *Vocabulary) Len() int {
	return len(v.tokens)
}

// Index looks up the index of a token.
func (v *Vocabulary) Index(token string) (int, bool) {
	idx, ok := v.indices[token]
	return idx, ok
}

// Token looks up the token at an index.
func (v *Vocabulary) Token(idx int) (string, bool) {
	if idx < 0 || idx >= len(v.tokens) {
		return "", false
	}
	return v.tokens[idx], true
}

// Tokens returns a copy of the tokens in index order.
func (v *Vocabulary) Tokens() []string {
	return append([]string{}, v.tokens...)
}

// SerializerType returns the unique ID used to serialize a
// Vocabulary with the serializer package.
func (v *Vocabulary) SerializerType() string {
	return "github.com/Daniel-del-Castillo/Phrygian/vocab.Vocabulary"
}

// Serialize serializes the vocabulary.
func (v *Vocabulary) Serialize() ([]byte, error) {
	data, err := json.Marshal(v.tokens)
	if err != nil {
		return nil, err
	}
	return serializer.SerializeAny(string(data))
}

// Build scans a corpus and produces the pitch and duration
// vocabularies.
//
// It fails with a validation error if the corpus is empty,
// if any note has an empty token, or if either vocabulary
// would be empty.
func Build(c melody.Corpus) (pitches, durations *Vocabulary, err error) {
	if len(c) == 0 {
		return nil, nil, errs.Newf(errs.Validation, errs.Vocabulary, "empty corpus")
	}
	var pitchTokens, durationTokens []string
	for i, m := range c {
		for j, n := range m {
			if n.Pitch == "" || n.Duration == "" {
				return nil, nil, errs.Newf(errs.Validation, errs.Vocabulary,
					"melody %d, note %d: malformed note %v", i, j, n)
			}
			pitchTokens = append(pitchTokens, n.Pitch)
			durationTokens = append(durationTokens, n.Duration)
		}
	}
	if len(pitchTokens) == 0 {
		return nil, nil, errs.Newf(errs.Validation, errs.Vocabulary,
			"corpus of %d melodies contains no notes", len(c))
	}
	return NewVocabulary(pitchTokens), NewVocabulary(durationTokens), nil
}

// A File is the on-disk form of the vocabularies, written
// next to checkpoints so generated indices can be decoded.
type File struct {
	Pitches   []string `json:"pitches"`
	Durations []string `json:"durations"`
}

// WriteJSON encodes both vocabularies.
func WriteJSON(w io.Writer, pitches, durations *Vocabulary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(&File{Pitches: pitches.tokens, Durations: durations.tokens})
}

// ReadJSON decodes vocabularies written by WriteJSON.
func ReadJSON(r io.Reader) (pitches, durations *Vocabulary, err error) {
	var f File
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, nil, essentials.AddCtx("read vocabulary", err)
	}
	if len(f.Pitches) == 0 || len(f.Durations) == 0 {
		return nil, nil, fmt.Errorf("read vocabulary: empty vocabulary")
	}
	return NewVocabulary(f.Pitches), NewVocabulary(f.Durations), nil
}

// LoadJSON reads a vocabulary file from disk.
func LoadJSON(path string) (pitches, durations *Vocabulary, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errs.New(errs.IO, errs.Vocabulary, err)
	}
	defer f.Close()
	return ReadJSON(f)
}
