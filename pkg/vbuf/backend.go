package vbuf

import "time"

// Special timeout values accepted by Pool.Get, Queue.Pop and Queue.Peek.
//
// Any positive time.Duration is a bounded wait: the call blocks until a
// buffer becomes available or the deadline elapses (ErrTimedOut).
const (
	// NoWait makes the call non-blocking: if nothing is available right
	// now, it returns ErrTryAgain immediately.
	NoWait time.Duration = 0

	// Forever makes the call block with no deadline, until a buffer
	// becomes available or Abort is called (ErrTryAgain).
	Forever time.Duration = -1
)

// Backend is the capability set a Buffer is bound to at construction. It is
// the library's only extension point: the core never acquires or releases
// memory itself, it only calls through this interface.
//
// Acquire and Release are the only mandatory hooks. The remaining hooks
// (reallocation, last-unref notification, pool/queue notifications) are
// optional and are discovered by asserting the concrete Backend value
// against the Reallocator / LastUnrefNotifier / PoolGetNotifier / ...
// interfaces below, the same way the standard library discovers optional
// io.ReaderFrom/io.WriterTo support on an io.Reader.
type Backend interface {
	// Acquire populates buf's payload up to buf.Capacity(). Called once,
	// during New or NewPool, after the buffer's skeleton (refcount, pool back-ref)
	// has already been initialized.
	Acquire(buf *Buffer) error

	// Release frees whatever Acquire (or the last Realloc) allocated.
	// Called once, during buffer destruction, after the rest of the buffer
	// has been torn down, so a failure never stops destruction. The error
	// is returned by Unref; Pool.Destroy discards it. This package does not
	// log it.
	Release(buf *Buffer) error
}

// Reallocator is an optional Backend capability: a backend that can grow a
// buffer's payload in place (or by reallocation) implements it. Without it,
// Buffer.SetCapacity fails with ErrNotSupported whenever it would need to
// grow.
type Reallocator interface {
	// Realloc grows buf's payload to at least newCapacity bytes. On
	// failure, the caller restores buf's previous capacity.
	Realloc(buf *Buffer, newCapacity int) error
}

// LastUnrefNotifier is an optional Backend capability notified when a
// buffer's refcount has just reached zero, before the buffer is reset and
// either returned to its pool or destroyed. If it returns an error, the
// buffer is left exactly as it was: neither pooled nor destroyed, and the
// error propagates to the caller of Unref.
type LastUnrefNotifier interface {
	OnLastUnref(buf *Buffer) error
}

// PoolGetNotifier is an optional Backend capability invoked after a buffer
// has been removed from its pool's free list and given a fresh reference,
// with the pool's mutex released. If it returns an error, the reference
// obtained by Get is released on the caller's behalf and the error
// propagates.
type PoolGetNotifier interface {
	OnPoolGet(buf *Buffer, timeout time.Duration) error
}

// PoolPutNotifier is an optional Backend capability invoked just before a
// buffer re-enters its pool's free list. A failure is surfaced to the
// caller of Unref, but the buffer is returned to the pool regardless.
type PoolPutNotifier interface {
	OnPoolPut(buf *Buffer) error
}

// QueuePushNotifier is an optional Backend capability invoked before a
// buffer is appended to a queue, with the queue's mutex released. If it
// returns an error, the buffer is not appended and the error propagates.
type QueuePushNotifier interface {
	OnQueuePush(buf *Buffer) error
}

// QueuePeekNotifier is an optional Backend capability invoked after Peek
// has located an entry, with the queue's mutex released.
type QueuePeekNotifier interface {
	OnQueuePeek(buf *Buffer, timeout time.Duration) error
}

// QueuePopNotifier is an optional Backend capability invoked after Pop has
// detached an entry, with the queue's mutex released. If it returns an
// error, the reference inherited by Pop is released on the caller's behalf
// and the error propagates.
type QueuePopNotifier interface {
	OnQueuePop(buf *Buffer, timeout time.Duration) error
}
