package graph

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/hi-T0day/alumina/tensor"
)

// Storage holds the buffers of one execute call. It maps data slots to
// buffers, allocated lazily (zero-filled) against the shapes resolved for
// this call, and tracks which slots are required by the current request so
// passes can skip dead gradient computation.
//
// A Storage is exclusively owned by its execute call; it is never shared
// across concurrent executions and is discarded once results are extracted.
type Storage struct {
	g        *GraphDef
	shapes   []tensor.Shape // resolved per node; nil where underdetermined
	buffers  map[DataID]*tensor.Tensor
	required map[DataID]bool
	loss     float32
}

func newStorage(g *GraphDef, shapes []tensor.Shape, required map[DataID]bool) *Storage {
	return &Storage{
		g:        g,
		shapes:   shapes,
		buffers:  map[DataID]*tensor.Tensor{},
		required: required,
	}
}

// insert places a caller-provided buffer. Cloned so a pass that also writes
// the slot cannot mutate the caller's data between calls.
func (s *Storage) insert(id DataID, t *tensor.Tensor) {
	s.buffers[id] = t.Clone()
}

// Get returns the buffer for a slot that must already exist: either provided
// by the caller or written by an earlier pass in the schedule.
func (s *Storage) Get(id DataID) (*tensor.Tensor, error) {
	t, ok := s.buffers[id]
	if !ok {
		return nil, errors.Errorf("%s of node %q has not been computed or provided", id, s.g.dataName(id))
	}
	return t, nil
}

// GetMut returns the buffer for a slot a pass writes, allocating it
// zero-filled on first access. Gradient slots are therefore accumulated into
// from a zero base by every contributing pass.
func (s *Storage) GetMut(id DataID) (*tensor.Tensor, error) {
	if t, ok := s.buffers[id]; ok {
		return t, nil
	}
	shape := s.shapes[id.Node()]
	if shape == nil {
		return nil, errors.Errorf("shape of node %q was not resolved; cannot allocate %s",
			s.g.dataName(id), id)
	}
	t, err := tensor.New(shape)
	if err != nil {
		return nil, errors.Wrapf(err, "allocating %s of node %q", id, s.g.dataName(id))
	}
	s.buffers[id] = t
	return t, nil
}

// IsRequired reports whether any consumer in the current request still needs
// this slot. Passes consult it to skip outputs nothing downstream reads.
func (s *Storage) IsRequired(id DataID) bool {
	return s.required[id]
}

// AddLoss accumulates a scalar loss term. Each loss pass contributes its own
// term; the sum is exposed on the execution result.
func (s *Storage) AddLoss(l float32) {
	s.loss += l
}

// Loss returns the accumulated scalar loss.
func (s *Storage) Loss() float32 {
	return s.loss
}

// String summarizes the allocation state.
func (s *Storage) String() string {
	var bytes uint64
	for _, t := range s.buffers {
		bytes += uint64(t.ByteSize())
	}
	return fmt.Sprintf("Storage{%d buffers, %s}", len(s.buffers), humanize.Bytes(bytes))
}
