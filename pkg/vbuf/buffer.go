// Package vbuf implements reference counted memory buffers carrying a
// primary payload, auxiliary user data, and arbitrary typed metadata, plus
// two coordination primitives: a fixed-size Pool that recycles buffers and
// a bounded Queue that transfers them between producer and consumer
// goroutines.
//
// A Buffer is created either standalone, via New, or as part of a Pool's
// fixed population, via NewPool. Each Ref adds a reference; each Unref
// removes one. When the refcount reaches zero, the buffer either returns to
// its originating Pool (if any) or is destroyed: its metadata is discarded,
// its user data freed, and its Backend.Release hook invoked.
//
//	b, err := vbuf.New(4096, 0, heapbackend.New())
//	data, _ := b.Data()
//	copy(data, payload)
//	b.SetSize(len(payload))
//	b.Unref()
//
// Sharing a buffer across goroutines means calling Ref before handing it
// off and Unref when done with it; the last Unref decides whether the
// buffer is recycled or destroyed.
package vbuf

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// Buffer is the central entity of this package: a refcounted container of a
// payload, user data, and metadata, optionally backed by a Pool.
type Buffer struct {
	backend Backend
	pool    *Pool // non-owning back-reference; immutable after construction

	refCount atomic.Int32

	mu           sync.Mutex
	writeLocked  bool
	payload      []byte // len == capacity; the whole backend-owned allocation
	size         int    // 0 <= size <= capacity
	userdata     []byte
	userdataSize int
	meta         *metadataStore
}

// New creates a standalone buffer with the given payload capacity and
// optional user-data capacity, bound to backend. The initial refcount is 1.
//
// It fails with ErrInvalidArgument if backend is nil, ErrOutOfMemory if
// backend.Acquire fails.
func New(capacity, userdataCapacity int, backend Backend) (*Buffer, error) {
	return newBuffer(capacity, userdataCapacity, backend, nil)
}

// newBuffer is the shared constructor for standalone buffers (pool == nil)
// and pool-owned buffers (pool != nil, called only from NewPool).
func newBuffer(capacity, userdataCapacity int, backend Backend, pool *Pool) (*Buffer, error) {
	if backend == nil || capacity < 0 || userdataCapacity < 0 {
		return nil, ErrInvalidArgument
	}
	b := &Buffer{
		backend: backend,
		pool:    pool,
		meta:    newMetadataStore(),
		payload: make([]byte, capacity), // placeholder; Acquire below replaces it
	}
	b.refCount.Store(1)
	if userdataCapacity > 0 {
		b.userdata = make([]byte, userdataCapacity)
	}
	// Acquire owns the real allocation: it calls SetPayload with whatever
	// storage the backend provides (heap memory, a DMA mapping, ...). The
	// placeholder above only exists so Capacity() is correct if a backend's
	// Acquire consults it before calling SetPayload.
	if err := backend.Acquire(b); err != nil {
		return nil, joinErr(ErrOutOfMemory, err)
	}
	return b, nil
}

// Ref increments the reference count by one.
func (b *Buffer) Ref() {
	b.refCount.Add(1)
}

// RefCount returns the current reference count.
func (b *Buffer) RefCount() int32 {
	return b.refCount.Load()
}

// Unref decrements the reference count by one. If this was the last
// reference, it runs the drop sequence: the optional
// Backend.OnLastUnref hook fires, the write lock and size are reset, and
// the buffer is either returned to its pool's free list or fully destroyed
// (metadata discarded, user data dropped, Backend.Release invoked).
//
// Unref fails with ErrNoEntry if the refcount was already zero.
func (b *Buffer) Unref() error {
	for {
		cur := b.refCount.Load()
		if cur <= 0 {
			return ErrNoEntry
		}
		if !b.refCount.CompareAndSwap(cur, cur-1) {
			continue
		}
		if cur != 1 {
			return nil
		}
		return b.drop()
	}
}

// drop runs once this goroutine has observed the decrement that took the
// refcount to zero.
func (b *Buffer) drop() error {
	if n, ok := b.backend.(LastUnrefNotifier); ok {
		if err := n.OnLastUnref(b); err != nil {
			// Left exactly as it was: neither pooled nor destroyed.
			b.refCount.Store(1)
			return err
		}
	}

	b.mu.Lock()
	b.writeLocked = false
	b.size = 0
	b.mu.Unlock()

	if b.pool != nil {
		return b.pool.reclaim(b)
	}
	return b.destroy()
}

// destroy discards metadata, frees user data, and invokes Backend.Release.
// Called on a refcount-zero buffer that is not going back to a free list:
// a standalone buffer's last Unref, or a pool's buffers in NewPool's
// failure path and in Pool.Destroy.
func (b *Buffer) destroy() error {
	b.mu.Lock()
	b.meta.destroyAll()
	b.userdata = nil
	b.userdataSize = 0
	b.mu.Unlock()
	return b.backend.Release(b)
}

// WriteLock marks the buffer as committed to not being mutated while
// shared. It fails ErrBusy unless the refcount is exactly 1: a buffer in
// motion must not be locked, since the owner taking the lock is a promise
// no concurrent reader will see it broken mid-write.
func (b *Buffer) WriteLock() error {
	if b.RefCount() != 1 {
		return ErrBusy
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeLocked = true
	return nil
}

// WriteUnlock clears the write lock. It fails ErrBusy unless the refcount
// is exactly 1.
func (b *Buffer) WriteUnlock() error {
	if b.RefCount() != 1 {
		return ErrBusy
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeLocked = false
	return nil
}

// IsWriteLocked reports whether the write lock is currently held.
func (b *Buffer) IsWriteLocked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writeLocked
}

// Data returns the buffer's whole payload allocation as a writable slice.
// It fails ErrPermissionDenied if the buffer is write-locked.
//
// The returned slice aliases the buffer's storage and remains valid until
// the next SetCapacity; callers must not retain it past a Realloc.
func (b *Buffer) Data() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writeLocked {
		return nil, ErrPermissionDenied
	}
	return b.payload, nil
}

// CData returns the buffer's whole payload allocation as a read-only view.
// Unlike Data, this is always allowed, even while write-locked.
func (b *Buffer) CData() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.payload
}

// Capacity returns the payload's allocated size.
func (b *Buffer) Capacity() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.payload)
}

// Size returns the payload's used-prefix length.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// SetSize sets the used-prefix length. It fails ErrInvalidArgument if
// n exceeds the capacity, ErrPermissionDenied if write-locked.
func (b *Buffer) SetSize(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > len(b.payload) {
		return ErrInvalidArgument
	}
	if b.writeLocked {
		return ErrPermissionDenied
	}
	b.size = n
	return nil
}

// SetCapacity grows the payload to at least n bytes via the backend's
// Reallocator hook. Shrinking is a deliberate no-op rather than an error.
// It fails ErrNotSupported if the backend has no Reallocator, ErrOutOfMemory
// if the hook fails (the old capacity is restored).
func (b *Buffer) SetCapacity(n int) error {
	b.mu.Lock()
	if n <= len(b.payload) {
		b.mu.Unlock()
		return nil
	}
	realloc, ok := b.backend.(Reallocator)
	if !ok {
		b.mu.Unlock()
		return ErrNotSupported
	}
	oldPayload := b.payload
	b.mu.Unlock()

	if err := realloc.Realloc(b, n); err != nil {
		b.mu.Lock()
		b.payload = oldPayload
		b.mu.Unlock()
		return joinErr(ErrOutOfMemory, err)
	}
	return nil
}

// UserData returns the buffer's whole user-data allocation as a writable
// slice.
func (b *Buffer) UserData() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.userdata
}

// UserDataCapacity returns the user-data allocation's size.
func (b *Buffer) UserDataCapacity() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.userdata)
}

// UserDataSize returns the user-data used-prefix length.
func (b *Buffer) UserDataSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.userdataSize
}

// SetUserDataSize sets the user-data used-prefix length. It fails
// ErrInvalidArgument if n exceeds the user-data capacity.
func (b *Buffer) SetUserDataSize(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > len(b.userdata) {
		return ErrInvalidArgument
	}
	b.userdataSize = n
	return nil
}

// SetUserDataCapacity grows the user-data allocation to at least n bytes.
// Unlike SetCapacity, this never consults the backend: user data is plain
// Go-managed memory, grown by direct reallocation. Shrinking is a no-op.
func (b *Buffer) SetUserDataCapacity(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= len(b.userdata) {
		return nil
	}
	grown := make([]byte, n)
	copy(grown, b.userdata)
	b.userdata = grown
	return nil
}

// AddMeta creates a metadata record of n bytes under key at the given
// level, failing ErrExists if key is already present. The returned slice
// is owned by the record and writable in place until RemoveMeta, buffer
// recycling, or destruction.
func (b *Buffer) AddMeta(key MetaKey, level uint, n int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.meta.add(key, level, n)
}

// GetMeta looks up the record for key, failing ErrNoEntry if absent.
func (b *Buffer) GetMeta(key MetaKey) (level uint, data []byte, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.meta.get(key)
}

// RemoveMeta deletes the record for key, failing ErrNoEntry if absent.
func (b *Buffer) RemoveMeta(key MetaKey) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.meta.remove(key)
}

// CopyMetaTo copies every record of b with maxLevel == 0 || level <
// maxLevel into dst. It fails ErrInvalidArgument if dst == b, and
// propagates ErrExists the first time a copied key already exists in dst.
func (b *Buffer) CopyMetaTo(dst *Buffer, maxLevel uint) error {
	if dst == b {
		return ErrInvalidArgument
	}
	// Lock order is by ascending pointer address, not call order, so a
	// concurrent copy in the opposite direction between the same two
	// buffers can't lock-order-invert against this one.
	first, second := b, dst
	if uintptr(unsafe.Pointer(dst)) < uintptr(unsafe.Pointer(b)) {
		first, second = dst, b
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()
	return b.meta.copyInto(dst.meta, maxLevel)
}

// CopyTo grows dst's payload if needed, copies b's used bytes, sets dst's
// size, then copies user data and metadata (unfiltered). It fails
// ErrInvalidArgument if dst == b, ErrPermissionDenied if dst is write-locked.
func (b *Buffer) CopyTo(dst *Buffer) error {
	if dst == b {
		return ErrInvalidArgument
	}
	if dst.IsWriteLocked() {
		return ErrPermissionDenied
	}

	n := b.Size()
	if dst.Capacity() < n {
		if err := dst.SetCapacity(n); err != nil {
			return err
		}
	}
	if n > 0 {
		srcData := b.CData()
		dstData, err := dst.Data()
		if err != nil {
			return err
		}
		copy(dstData, srcData[:n])
		if err := dst.SetSize(n); err != nil {
			return err
		}
	} else if err := dst.SetSize(0); err != nil {
		return err
	}

	if err := b.copyUserDataTo(dst); err != nil {
		return err
	}
	return b.CopyMetaTo(dst, 0)
}

// copyUserDataTo grows dst's user-data allocation if needed and copies b's
// used user-data bytes over.
func (b *Buffer) copyUserDataTo(dst *Buffer) error {
	n := b.UserDataSize()
	if dst.UserDataCapacity() < n {
		if err := dst.SetUserDataCapacity(n); err != nil {
			return err
		}
	}
	if n > 0 {
		copy(dst.UserData(), b.UserData()[:n])
	}
	return dst.SetUserDataSize(n)
}

// RawPayload returns the buffer's backing allocation without taking the
// write-lock/permission checks Data and CData apply. It exists only for
// Backend implementations (Release, Realloc) that need to read the
// previous allocation while replacing it; application code should use Data
// or CData instead.
func (b *Buffer) RawPayload() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.payload
}

// SetPayload replaces the buffer's backing allocation. It exists only for
// Backend implementations (Acquire, Release, Realloc) and must not be
// called from application code: it does not validate p against the
// capacity the buffer was asked for; its only bookkeeping is clamping the
// used size to len(p) (Acquire/Realloc are expected to size the new
// allocation to at least the capacity they were asked for).
func (b *Buffer) SetPayload(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payload = p
	if b.size > len(p) {
		b.size = len(p)
	}
}

// Pool returns the pool this buffer was allocated from, or nil for a
// standalone buffer.
func (b *Buffer) Pool() *Pool {
	return b.pool
}

// joinErr wraps a sentinel with additional context from a backend-reported
// error without losing errors.Is-compatibility with the sentinel.
func joinErr(sentinel, cause error) error {
	if cause == nil || cause == sentinel {
		return sentinel
	}
	return &wrappedErr{sentinel: sentinel, cause: cause}
}

type wrappedErr struct {
	sentinel error
	cause    error
}

func (e *wrappedErr) Error() string { return e.sentinel.Error() + ": " + e.cause.Error() }
func (e *wrappedErr) Unwrap() []error { return []error{e.sentinel, e.cause} }
