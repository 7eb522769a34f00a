package vbuf

import (
	"container/list"
	"sync"
	"time"
)

// Pool is a fixed population of pre-constructed buffers: it hands them out
// via Get and receives them back automatically when a buffer's refcount
// drops to zero, FIFO from the point of return.
type Pool struct {
	capacity int
	backend  Backend

	mu   sync.Mutex
	free *list.List // of *Buffer, front = oldest-returned
	w    *waiter
	evt  *Event
}

// NewPool pre-constructs count buffers of the given payload and user-data
// capacity, bound to backend, with their pool back-reference set to the
// new Pool, then unreferences each so it lands in the free list.
//
// Any failure while constructing the population tears down every buffer
// already built.
func NewPool(count, capacity, userdataCapacity int, backend Backend) (*Pool, error) {
	if count <= 0 || backend == nil {
		return nil, ErrInvalidArgument
	}
	p := &Pool{
		capacity: count,
		backend:  backend,
		free:     list.New(),
		w:        newWaiter(),
		evt:      NewEvent(),
	}

	built := make([]*Buffer, 0, count)
	for i := 0; i < count; i++ {
		b, err := newBuffer(capacity, userdataCapacity, backend, p)
		if err != nil {
			for _, bb := range built {
				bb.destroy()
			}
			return nil, err
		}
		built = append(built, b)
		if err := b.Unref(); err != nil {
			for _, bb := range built {
				bb.destroy()
			}
			return nil, err
		}
	}
	return p, nil
}

// GetCount returns a snapshot of the number of buffers currently free.
func (p *Pool) GetCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free.Len()
}

// GetEvt returns the pool's readiness event, signaled whenever a buffer is
// returned to the pool.
func (p *Pool) GetEvt() *Event {
	return p.evt
}

// Get removes and returns a free buffer with a fresh reference (refcount
// 1). NoWait never blocks and returns ErrTryAgain if nothing is free;
// Forever blocks until a buffer is returned or Abort is called; a positive
// duration blocks up to that long, returning ErrTimedOut on deadline and
// ErrTryAgain on Abort. A wake without Abort that finds the free list still
// empty (another caller took the buffer first) does not return ErrTryAgain:
// Get goes back to waiting.
func (p *Pool) Get(timeout time.Duration) (*Buffer, error) {
	p.mu.Lock()
	err := p.w.wait(&p.mu, timeout, func() bool { return p.free.Len() > 0 })
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}

	elem := p.free.Front()
	p.free.Remove(elem)
	buf := elem.Value.(*Buffer)
	buf.refCount.Store(1)
	p.mu.Unlock()

	if n, ok := p.backend.(PoolGetNotifier); ok {
		if err := n.OnPoolGet(buf, timeout); err != nil {
			buf.Unref()
			return nil, err
		}
	}

	return buf, nil
}

// Abort wakes every current waiter in Get; each returns ErrTryAgain after
// re-checking the free list. Abort does not persist: it only affects
// waiters blocked at the moment it's called.
func (p *Pool) Abort() {
	p.w.abort()
}

// reclaim is invoked by Buffer.Unref when a pool-owned buffer's refcount
// reaches zero. It runs the optional PoolPutNotifier hook outside the
// pool's mutex, discards the buffer's metadata, appends it to the free
// list, signals the readiness event, and wakes every waiter blocked in Get
// (each re-checks the free list; those that find it empty wait again).
func (p *Pool) reclaim(buf *Buffer) error {
	var hookErr error
	if n, ok := p.backend.(PoolPutNotifier); ok {
		hookErr = n.OnPoolPut(buf)
	}

	buf.mu.Lock()
	buf.meta.destroyAll()
	buf.mu.Unlock()

	p.mu.Lock()
	p.free.PushBack(buf)
	p.mu.Unlock()

	p.evt.Signal()
	p.w.broadcast()

	return hookErr
}

// Destroy destroys every buffer still in the free list and returns the
// number that were still checked out by a caller (0 if the pool was fully
// at rest). This package has no logging dependency of its own, so the
// caller is expected to log a warning when that count is non-zero.
func (p *Pool) Destroy() (outstanding int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	outstanding = p.capacity - p.free.Len()

	for e := p.free.Front(); e != nil; e = e.Next() {
		e.Value.(*Buffer).destroy()
	}
	p.free.Init()

	return outstanding
}
