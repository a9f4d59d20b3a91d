package train

import (
	"github.com/Daniel-del-Castillo/Phrygian/encode"
	"github.com/Daniel-del-Castillo/Phrygian/nn/sgd"
)

// SampleList is a reorderable view of some of the windows
// in a Dataset.
// Reordering the view never changes the Dataset.
type SampleList struct {
	Data    *encode.Dataset
	Indices []int
}

// NewSampleList creates a view of every window in d.
func NewSampleList(d *encode.Dataset) *SampleList {
	res := &SampleList{Data: d, Indices: make([]int, d.Len())}
	for i := range res.Indices {
		res.Indices[i] = i
	}
	return res
}

// Len returns the number of samples.
func (s *SampleList) Len() int {
	return len(s.Indices)
}

// Swap swaps two samples.
func (s *SampleList) Swap(i, j int) {
	s.Indices[i], s.Indices[j] = s.Indices[j], s.Indices[i]
}

// Slice copies a range of the view.
func (s *SampleList) Slice(i, j int) sgd.SampleList {
	return &SampleList{
		Data:    s.Data,
		Indices: append([]int{}, s.Indices[i:j]...),
	}
}

// Hash hashes the contents of sample i.
func (s *SampleList) Hash(i int) []byte {
	return s.Data.Hash(s.Indices[i])
}
