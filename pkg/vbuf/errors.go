package vbuf

import "errors"

// Error kinds returned by this package. Operations either succeed or return
// one of these sentinels (optionally wrapped together with a backend hook's
// own error, see joinErr); callers should compare with errors.Is.
var (
	// ErrInvalidArgument covers nil pointers, missing mandatory hooks, a
	// src == dst aliasing violation, a size exceeding a capacity, etc.
	ErrInvalidArgument = errors.New("vbuf: invalid argument")

	// ErrOutOfMemory covers allocation or backend acquire failure.
	ErrOutOfMemory = errors.New("vbuf: out of memory")

	// ErrPermissionDenied covers a write attempted on a write-locked buffer.
	ErrPermissionDenied = errors.New("vbuf: permission denied")

	// ErrBusy covers (un)write-locking a buffer whose refcount isn't 1.
	ErrBusy = errors.New("vbuf: busy")

	// ErrNotSupported covers growth requested on a buffer whose backend has
	// no Reallocator hook.
	ErrNotSupported = errors.New("vbuf: not supported")

	// ErrExists covers a metadata key collision.
	ErrExists = errors.New("vbuf: already exists")

	// ErrNoEntry covers a metadata lookup miss, or Unref on a zero refcount.
	ErrNoEntry = errors.New("vbuf: no such entry")

	// ErrTryAgain covers a non-blocking wait with nothing available, a full
	// queue with drop-when-full disabled, or a waiter woken by Abort.
	ErrTryAgain = errors.New("vbuf: try again")

	// ErrTimedOut covers a blocking wait whose deadline elapsed.
	ErrTimedOut = errors.New("vbuf: timed out")
)
