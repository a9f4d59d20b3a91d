// Package melody holds the corpus data model: notes,
// melodies, and the processed-melodies file format.
package melody

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/Daniel-del-Castillo/Phrygian/errs"
	"github.com/unixpickle/essentials"
)

// A Note is a (pitch, duration) token pair.
//
// Both tokens are opaque.
// Durations which appear as numbers in the input file are
// kept as their literal text, so 0.25 and "0.25" are the
// same token.
type Note struct {
	Pitch    string
	Duration string
}

// A Melody is a temporally ordered sequence of notes.
type Melody []Note

// A Corpus is the ordered list of training melodies.
type Corpus []Melody

// NumNotes counts the notes across every melody.
func (c Corpus) NumNotes() int {
	var n int
	for _, m := range c {
		n += len(m)
	}
	return n
}

// LoadCorpus reads a processed-melodies file.
//
// A missing or unreadable file produces an IO error.
// A malformed document produces a Parse error.
func LoadCorpus(path string) (corpus Corpus, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.New(errs.IO, errs.Loading, essentials.AddCtx("load corpus", err))
	}
	defer f.Close()
	return ReadCorpus(f)
}

// ReadCorpus parses a processed-melodies document.
//
// The document is a JSON array of melodies, where each
// melody is an array of [pitch, duration] pairs.
func ReadCorpus(r io.Reader) (Corpus, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.New(errs.IO, errs.Loading, essentials.AddCtx("read corpus", err))
	}
	var rawMelodies []json.RawMessage
	if err := json.Unmarshal(data, &rawMelodies); err != nil {
		return nil, parseErr("corpus is not an array: %v", err)
	}
	res := make(Corpus, len(rawMelodies))
	for i, rawMelody := range rawMelodies {
		var rawNotes []json.RawMessage
		if err := json.Unmarshal(rawMelody, &rawNotes); err != nil {
			return nil, parseErr("melody %d is not an array: %v", i, err)
		}
		m := make(Melody, len(rawNotes))
		for j, rawNote := range rawNotes {
			note, err := parseNote(rawNote)
			if err != nil {
				return nil, parseErr("melody %d, note %d: %v", i, j, err)
			}
			m[j] = note
		}
		res[i] = m
	}
	return res, nil
}

// WriteCorpus encodes the corpus in the processed-melodies
// format.
func WriteCorpus(w io.Writer, c Corpus) error {
	doc := make([][][2]string, len(c))
	for i, m := range c {
		doc[i] = make([][2]string, len(m))
		for j, n := range m {
			doc[i][j] = [2]string{n.Pitch, n.Duration}
		}
	}
	return json.NewEncoder(w).Encode(doc)
}

func parseNote(raw json.RawMessage) (Note, error) {
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil {
		return Note{}, fmt.Errorf("not an array: %v", err)
	}
	if len(pair) != 2 {
		return Note{}, fmt.Errorf("expected 2 elements but got %d", len(pair))
	}
	pitch, err := parseToken(pair[0])
	if err != nil {
		return Note{}, essentials.AddCtx("pitch", err)
	}
	duration, err := parseToken(pair[1])
	if err != nil {
		return Note{}, essentials.AddCtx("duration", err)
	}
	return Note{Pitch: pitch, Duration: duration}, nil
}

func parseToken(raw json.RawMessage) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	switch v := v.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	default:
		return "", fmt.Errorf("token must be a string or number, got %T", v)
	}
}

func parseErr(format string, args ...interface{}) error {
	return errs.Newf(errs.Parse, errs.Loading, format, args...)
}
