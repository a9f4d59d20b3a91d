// Package encode turns melodies into fixed-length training
// windows and two-hot target vectors.
package encode

import (
	"crypto/md5"
	"encoding/binary"

	"github.com/Daniel-del-Castillo/Phrygian/errs"
	"github.com/Daniel-del-Castillo/Phrygian/melody"
	"github.com/Daniel-del-Castillo/Phrygian/vocab"
)

// DefaultWindowLength is the number of notes of context
// used when no window length is given.
const DefaultWindowLength = 50

// FeaturesPerNote is the number of input components each
// note contributes to a timestep.
const FeaturesPerNote = 2

// A Dataset stores every encoded window of a corpus and
// the target for each window.
//
// Inputs[i] has length 2*WindowLength and lists the pitch
// index and then the duration index of each note.
// Targets[i] has length PitchCount+DurationCount.
//
// A Dataset is not modified after it is created.
type Dataset struct {
	WindowLength  int
	PitchCount    int
	DurationCount int

	Inputs  [][]int
	Targets [][]float64
}

// Encode produces the windows and targets of a corpus.
//
// A window length of 0 or less selects
// DefaultWindowLength.
// Melodies with no more notes than the window length
// contribute no windows, and windows never cross melody
// boundaries.
func Encode(c melody.Corpus, pitches, durations *vocab.Vocabulary,
	windowLength int) (*Dataset, error) {
	if windowLength <= 0 {
		windowLength = DefaultWindowLength
	}
	if pitches.Len() == 0 || durations.Len() == 0 {
		return nil, errs.Newf(errs.Validation, errs.Encoding, "empty vocabulary")
	}
	res := &Dataset{
		WindowLength:  windowLength,
		PitchCount:    pitches.Len(),
		DurationCount: durations.Len(),
	}
	for mIdx, m := range c {
		if len(m) <= windowLength {
			continue
		}
		indices := make([]int, 0, len(m)*FeaturesPerNote)
		for nIdx, n := range m {
			p, ok := pitches.Index(n.Pitch)
			if !ok {
				return nil, errs.Newf(errs.Validation, errs.Encoding,
					"melody %d, note %d: pitch %q not in vocabulary", mIdx, nIdx, n.Pitch)
			}
			d, ok := durations.Index(n.Duration)
			if !ok {
				return nil, errs.Newf(errs.Validation, errs.Encoding,
					"melody %d, note %d: duration %q not in vocabulary", mIdx, nIdx, n.Duration)
			}
			indices = append(indices, p, d)
		}
		for i := 0; i < len(m)-windowLength; i++ {
			start := i * FeaturesPerNote
			end := (i + windowLength) * FeaturesPerNote
			window := append([]int{}, indices[start:end]...)
			res.Inputs = append(res.Inputs, window)
			res.Targets = append(res.Targets, TwoHot(indices[end], indices[end+1],
				res.PitchCount, res.DurationCount))
		}
	}
	return res, nil
}

// TwoHot encodes a note as a target vector with one active
// pitch position and one active duration position, the
// latter offset by pitchCount.
func TwoHot(pitch, duration, pitchCount, durationCount int) []float64 {
	res := make([]float64, pitchCount+durationCount)
	res[pitch] = 1
	res[pitchCount+duration] = 1
	return res
}

// WindowCount computes the number of windows Encode will
// produce for a corpus.
func WindowCount(c melody.Corpus, windowLength int) int {
	if windowLength <= 0 {
		windowLength = DefaultWindowLength
	}
	var n int
	for _, m := range c {
		if len(m) > windowLength {
			n += len(m) - windowLength
		}
	}
	return n
}

// Len returns the number of windows.
func (d *Dataset) Len() int {
	return len(d.Inputs)
}

// OutputSize returns the width of every target vector.
func (d *Dataset) OutputSize() int {
	return d.PitchCount + d.DurationCount
}

// Timesteps converts a window into one feature vector per
// note.
// Each index is divided by its vocabulary size so that
// features lie in [0, 1).
func (d *Dataset) Timesteps(i int) [][]float64 {
	window := d.Inputs[i]
	res := make([][]float64, d.WindowLength)
	for t := range res {
		res[t] = []float64{
			float64(window[t*FeaturesPerNote]) / float64(d.PitchCount),
			float64(window[t*FeaturesPerNote+1]) / float64(d.DurationCount),
		}
	}
	return res
}

// Hash produces a content hash for a window and its
// target, which can be used to split a dataset into
// training and validation samples deterministically.
func (d *Dataset) Hash(i int) []byte {
	h := md5.New()
	buf := make([]byte, 8)
	for _, x := range d.Inputs[i] {
		binary.BigEndian.PutUint64(buf, uint64(x))
		h.Write(buf)
	}
	for j, x := range d.Targets[i] {
		if x != 0 {
			binary.BigEndian.PutUint64(buf, uint64(j))
			h.Write(buf)
		}
	}
	return h.Sum(nil)
}

// Validate checks that every window and target is
// consistent with the dataset's shape.
func (d *Dataset) Validate() error {
	if d.WindowLength <= 0 || d.PitchCount <= 0 || d.DurationCount <= 0 {
		return errs.Newf(errs.Validation, errs.Encoding, "invalid dataset shape")
	}
	if len(d.Inputs) != len(d.Targets) {
		return errs.Newf(errs.Validation, errs.Encoding,
			"%d windows but %d targets", len(d.Inputs), len(d.Targets))
	}
	for i, window := range d.Inputs {
		if len(window) != d.WindowLength*FeaturesPerNote {
			return errs.Newf(errs.Validation, errs.Encoding,
				"window %d: expected length %d but got %d", i,
				d.WindowLength*FeaturesPerNote, len(window))
		}
		for j, idx := range window {
			limit := d.PitchCount
			if j%FeaturesPerNote == 1 {
				limit = d.DurationCount
			}
			if idx < 0 || idx >= limit {
				return errs.Newf(errs.Validation, errs.Encoding,
					"window %d: index %d out of vocabulary range", i, idx)
			}
		}
		if err := d.validateTarget(i); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dataset) validateTarget(i int) error {
	target := d.Targets[i]
	if len(target) != d.OutputSize() {
		return errs.Newf(errs.Validation, errs.Encoding,
			"target %d: expected length %d but got %d", i, d.OutputSize(), len(target))
	}
	var pitchHot, durationHot int
	for j, x := range target {
		if x == 0 {
			continue
		} else if x != 1 {
			return errs.Newf(errs.Validation, errs.Encoding, "target %d: invalid value %f", i, x)
		}
		if j < d.PitchCount {
			pitchHot++
		} else {
			durationHot++
		}
	}
	if pitchHot != 1 || durationHot != 1 {
		return errs.Newf(errs.Validation, errs.Encoding, "target %d is not two-hot", i)
	}
	return nil
}
