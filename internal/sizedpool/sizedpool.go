// Package sizedpool groups fixed-size vbuf.Pool instances into tiers, so a
// caller that doesn't know its exact frame size up front can still avoid a
// fresh heap allocation for every buffer: it asks for "at least N bytes" and
// gets the smallest tier that fits.
//
// Each tier is fixed population, like any vbuf.Pool; a request past the
// largest tier falls back to a standalone, non-pooled buffer.
package sizedpool

import (
	"log/slog"
	"time"

	"github.com/ssungk/vbuf/pkg/vbuf"
	"github.com/ssungk/vbuf/pkg/vbuf/heapbackend"
)

// Tier sizes. The largest (8 MB) comfortably covers a 4K video keyframe.
const (
	Size32   = 1 << 5  // 32 bytes
	Size512  = 1 << 9  // 512 bytes
	Size4K   = 1 << 12 // 4 KB
	Size16K  = 1 << 14 // 16 KB
	Size64K  = 1 << 16 // 64 KB
	Size256K = 1 << 18 // 256 KB
	Size1M   = 1 << 20 // 1 MB
	Size4M   = 1 << 22 // 4 MB
	Size8M   = 1 << 23 // 8 MB
)

var tierSizes = []int{Size32, Size512, Size4K, Size16K, Size64K, Size256K, Size1M, Size4M, Size8M}

// Registry is a set of tiered vbuf.Pool instances plus an overflow path for
// requests larger than the biggest tier.
type Registry struct {
	backend          vbuf.Backend
	userdataCapacity int
	tiers            []*vbuf.Pool // parallel to tierSizes
}

// New builds a Registry with perTierCount buffers pre-allocated in each
// tier. A production deployment would size perTierCount per expected
// concurrent stream count; the zero value of userdataCapacity is fine unless
// callers plan to attach fixed-size side channel metadata to every buffer.
func New(perTierCount, userdataCapacity int) (*Registry, error) {
	be := heapbackend.New()
	r := &Registry{backend: be, userdataCapacity: userdataCapacity, tiers: make([]*vbuf.Pool, len(tierSizes))}
	for i, size := range tierSizes {
		p, err := vbuf.NewPool(perTierCount, size, userdataCapacity, be)
		if err != nil {
			r.destroyBuilt(i)
			return nil, err
		}
		r.tiers[i] = p
	}
	return r, nil
}

func (r *Registry) destroyBuilt(upTo int) {
	for i := 0; i < upTo; i++ {
		r.tiers[i].Destroy()
	}
}

// Get returns a buffer with capacity at least size, from the smallest tier
// that fits, waiting up to timeout for that tier to free one up. A size
// larger than the biggest tier always succeeds immediately with a
// standalone, non-pooled buffer, since a tier's fixed population has no
// room to grow and overflow can't be served from any tier.
func (r *Registry) Get(size int, timeout time.Duration) (*vbuf.Buffer, error) {
	for i, tierSize := range tierSizes {
		if size <= tierSize {
			return r.tiers[i].Get(timeout)
		}
	}
	return vbuf.New(size, r.userdataCapacity, r.backend)
}

// Destroy tears down every tier, logging a warning for any tier that still
// has buffers checked out.
func (r *Registry) Destroy() {
	for i, p := range r.tiers {
		if outstanding := p.Destroy(); outstanding > 0 {
			slog.Warn("sizedpool tier destroyed with buffers still checked out",
				"tierSize", tierSizes[i], "outstanding", outstanding)
		}
	}
}
