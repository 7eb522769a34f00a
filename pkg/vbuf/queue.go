package vbuf

import (
	"container/list"
	"sync"
	"time"
)

// Queue is a bounded FIFO that transfers additional references to buffers
// between producer and consumer goroutines. Each entry in the queue holds
// one reference on its target buffer: Push adds a reference, Pop transfers
// it to the caller, and a drop (either from drop-when-full or Flush)
// releases it.
type Queue struct {
	maxCount     int // 0 means unbounded
	dropWhenFull bool
	backend      Backend

	mu    sync.Mutex
	items *list.List // of *Buffer
	w     *waiter
	evt   *Event
}

// NewQueue creates a queue. maxCount == 0 makes it unbounded, in which case
// dropWhenFull is ignored. backend may be nil if none of the optional
// QueuePush/Peek/PopNotifier hooks are needed.
func NewQueue(maxCount int, dropWhenFull bool, backend Backend) *Queue {
	return &Queue{
		maxCount:     maxCount,
		dropWhenFull: dropWhenFull,
		backend:      backend,
		items:        list.New(),
		w:            newWaiter(),
		evt:          NewEvent(),
	}
}

// GetCount returns a snapshot of the number of entries currently queued.
func (q *Queue) GetCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// GetEvt returns the queue's readiness event, signaled whenever an entry is
// pushed.
func (q *Queue) GetEvt() *Event {
	return q.evt
}

// Push adds a reference to buf and appends it to the tail.
//
// If the queue is bounded and full: with dropWhenFull, the oldest entry is
// popped (non-blocking) and unreferenced to make room, which may itself
// return that buffer to its pool if nothing else holds it; without
// dropWhenFull, Push returns ErrTryAgain and buf is untouched.
func (q *Queue) Push(buf *Buffer) error {
	q.mu.Lock()
	full := q.maxCount > 0 && q.items.Len() >= q.maxCount
	if full && !q.dropWhenFull {
		q.mu.Unlock()
		return ErrTryAgain
	}
	q.mu.Unlock()

	if full {
		dropped, err := q.pop(NoWait)
		if err != nil && err != ErrTryAgain {
			return err
		}
		if dropped != nil {
			dropped.Unref()
		}
	}

	if n, ok := q.backend.(QueuePushNotifier); ok {
		if err := n.OnQueuePush(buf); err != nil {
			return err
		}
	}

	buf.Ref()

	q.mu.Lock()
	q.items.PushBack(buf)
	q.mu.Unlock()

	q.evt.Signal()
	q.w.broadcast()

	return nil
}

// Pop removes and returns the head entry, transferring its reference to the
// caller (the caller now owes one Unref). The timeout regime matches
// Pool.Get: NoWait/Forever/positive-duration, ErrTryAgain on Abort.
//
// If the backend's optional QueuePopNotifier hook fails, the inherited
// reference is released on the caller's behalf and the error propagates.
func (q *Queue) Pop(timeout time.Duration) (*Buffer, error) {
	return q.pop(timeout)
}

func (q *Queue) pop(timeout time.Duration) (*Buffer, error) {
	q.mu.Lock()
	err := q.w.wait(&q.mu, timeout, func() bool { return q.items.Len() > 0 })
	if err != nil {
		q.mu.Unlock()
		return nil, err
	}

	elem := q.items.Front()
	q.items.Remove(elem)
	buf := elem.Value.(*Buffer)
	q.mu.Unlock()

	if n, ok := q.backend.(QueuePopNotifier); ok {
		if err := n.OnQueuePop(buf, timeout); err != nil {
			buf.Unref()
			return nil, err
		}
	}

	return buf, nil
}

// Peek returns the index-th entry (0 = oldest) without removing it and
// without changing its refcount. The caller must not Unref the returned
// buffer. It waits until GetCount() > index using the same timeout regime
// as Pop.
func (q *Queue) Peek(index int, timeout time.Duration) (*Buffer, error) {
	q.mu.Lock()
	err := q.w.wait(&q.mu, timeout, func() bool { return q.items.Len() > index })
	if err != nil {
		q.mu.Unlock()
		return nil, err
	}

	elem := q.items.Front()
	for i := 0; i < index; i++ {
		elem = elem.Next()
	}
	buf := elem.Value.(*Buffer)
	q.mu.Unlock()

	if n, ok := q.backend.(QueuePeekNotifier); ok {
		if err := n.OnQueuePeek(buf, timeout); err != nil {
			return nil, err
		}
	}

	return buf, nil
}

// Abort wakes every current waiter in Pop/Peek; each returns ErrTryAgain
// after re-checking. One-shot, like Pool.Abort.
func (q *Queue) Abort() {
	q.w.abort()
}

// Flush removes every entry and unreferences each buffer.
func (q *Queue) Flush() {
	q.mu.Lock()
	var dropped []*Buffer
	for e := q.items.Front(); e != nil; e = e.Next() {
		dropped = append(dropped, e.Value.(*Buffer))
	}
	q.items.Init()
	q.mu.Unlock()

	for _, b := range dropped {
		b.Unref()
	}
}

// Destroy flushes the queue and returns the number of entries it still
// held (0 if it was already empty). This package has no logging dependency
// of its own, so the caller is expected to log a warning when that count
// is non-zero.
func (q *Queue) Destroy() (flushed int) {
	flushed = q.GetCount()
	q.Flush()
	return flushed
}
