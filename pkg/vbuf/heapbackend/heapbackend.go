// Package heapbackend provides the trivial "generic" vbuf.Backend: plain
// heap allocation for the payload, nothing more, with no backend-specific
// state.
package heapbackend

import "github.com/ssungk/vbuf/pkg/vbuf"

// Backend is a vbuf.Backend whose Acquire allocates a zeroed byte slice of
// the requested capacity and whose Release drops it for the GC to collect.
// It also implements vbuf.Reallocator, growing in place by allocating a new
// slice and copying the old content over.
type Backend struct{}

// New returns the trivial heap-allocating backend. It has no state, so a
// single value may be shared across any number of buffers and pools.
func New() Backend {
	return Backend{}
}

// Acquire implements vbuf.Backend.
func (Backend) Acquire(buf *vbuf.Buffer) error {
	buf.SetPayload(make([]byte, buf.Capacity()))
	return nil
}

// Release implements vbuf.Backend. There is nothing to do: the payload is
// ordinary Go-managed memory and the GC reclaims it once unreferenced.
func (Backend) Release(buf *vbuf.Buffer) error {
	buf.SetPayload(nil)
	return nil
}

// Realloc implements vbuf.Reallocator by allocating a new, larger slice and
// copying the existing payload into its prefix.
func (Backend) Realloc(buf *vbuf.Buffer, newCapacity int) error {
	grown := make([]byte, newCapacity)
	copy(grown, buf.RawPayload())
	buf.SetPayload(grown)
	return nil
}
