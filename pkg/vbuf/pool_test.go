package vbuf_test

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	. "github.com/ssungk/vbuf/pkg/vbuf"
	"github.com/ssungk/vbuf/pkg/vbuf/heapbackend"
)

func TestNewPoolRejectsInvalidArgument(t *testing.T) {
	if _, err := NewPool(0, 16, 0, heapbackend.New()); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("NewPool(count=0) = %v, want ErrInvalidArgument", err)
	}
	if _, err := NewPool(2, 16, 0, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("NewPool(nil backend) = %v, want ErrInvalidArgument", err)
	}
}

// TestPoolDrainAndWake checks that a pool of count=2 drains after two Gets,
// a third NoWait Get fails, and a concurrent Unref wakes a blocked Get.
func TestPoolDrainAndWake(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p, err := NewPool(2, 16, 0, heapbackend.New())
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	b1, err := p.Get(NoWait)
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	b2, err := p.Get(NoWait)
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if got := p.GetCount(); got != 0 {
		t.Fatalf("GetCount after draining = %d, want 0", got)
	}

	if _, err := p.Get(NoWait); !errors.Is(err, ErrTryAgain) {
		t.Fatalf("third Get (NoWait) = %v, want ErrTryAgain", err)
	}

	result := make(chan *Buffer, 1)
	go func() {
		b, err := p.Get(Forever)
		if err != nil {
			t.Errorf("blocked Get: %v", err)
			return
		}
		result <- b
	}()

	time.Sleep(20 * time.Millisecond) // give the goroutine time to block
	if err := b1.Unref(); err != nil {
		t.Fatalf("Unref: %v", err)
	}

	select {
	case b := <-result:
		if got := b.RefCount(); got != 1 {
			t.Errorf("recycled buffer refcount = %d, want 1", got)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked Get was never woken by Unref")
	}

	b2.Unref()
}

func TestPoolGetTimesOut(t *testing.T) {
	p, err := NewPool(1, 16, 0, heapbackend.New())
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	if _, err := p.Get(NoWait); err != nil {
		t.Fatalf("Get: %v", err)
	}

	start := time.Now()
	_, err = p.Get(30 * time.Millisecond)
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("Get with nothing free = %v, want ErrTimedOut", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("Get returned after %v, want >= 30ms", elapsed)
	}
}

// TestPoolAbortWakesWaiters checks Abort against a waiter blocked in Get.
func TestPoolAbortWakesWaiters(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p, err := NewPool(1, 16, 0, heapbackend.New())
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	if _, err := p.Get(NoWait); err != nil {
		t.Fatalf("Get: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := p.Get(Forever)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	p.Abort()

	select {
	case err := <-done:
		if !errors.Is(err, ErrTryAgain) {
			t.Errorf("aborted Get = %v, want ErrTryAgain", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Abort did not wake the blocked Get")
	}
}

func TestPoolAbortIsOneShot(t *testing.T) {
	p, err := NewPool(1, 16, 0, heapbackend.New())
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	b, err := p.Get(NoWait)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	p.Abort() // no waiters yet; must not persist

	if err := b.Unref(); err != nil {
		t.Fatalf("Unref: %v", err)
	}
	if _, err := p.Get(NoWait); err != nil {
		t.Fatalf("Get after Abort-before-any-waiter = %v, want success (one-shot abort doesn't persist)", err)
	}
}

func TestPoolConservation(t *testing.T) {
	p, err := NewPool(3, 16, 0, heapbackend.New())
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	before := p.GetCount()

	b, err := p.Get(NoWait)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := b.Unref(); err != nil {
		t.Fatalf("Unref: %v", err)
	}

	if after := p.GetCount(); after != before {
		t.Errorf("GetCount after get+unref = %d, want %d (pool conservation)", after, before)
	}
}

func TestPoolDestroyReportsOutstanding(t *testing.T) {
	p, err := NewPool(3, 16, 0, heapbackend.New())
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	if _, err := p.Get(NoWait); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := p.Get(NoWait); err != nil {
		t.Fatalf("Get: %v", err)
	}

	if outstanding := p.Destroy(); outstanding != 2 {
		t.Errorf("Destroy() outstanding = %d, want 2", outstanding)
	}
}

type poolHookBackend struct {
	heapbackend.Backend
	onGet func(*Buffer, time.Duration) error
	onPut func(*Buffer) error
}

func (b poolHookBackend) OnPoolGet(buf *Buffer, timeout time.Duration) error {
	if b.onGet != nil {
		return b.onGet(buf, timeout)
	}
	return nil
}

func (b poolHookBackend) OnPoolPut(buf *Buffer) error {
	if b.onPut != nil {
		return b.onPut(buf)
	}
	return nil
}

func TestPoolGetNotifierErrorReleasesAcquiredReference(t *testing.T) {
	be := poolHookBackend{
		Backend: heapbackend.New(),
		onGet:   func(*Buffer, time.Duration) error { return errors.New("boom") },
	}
	p, err := NewPool(1, 16, 0, be)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	if _, err := p.Get(NoWait); err == nil {
		t.Fatal("Get with a failing OnPoolGet hook returned nil error, want the hook's error")
	}

	if got := p.GetCount(); got != 1 {
		t.Errorf("GetCount after failed OnPoolGet = %d, want 1 (buffer released back to the free list)", got)
	}
}

func TestPoolPutNotifierErrorStillReturnsBufferToFreeList(t *testing.T) {
	failPut := false
	be := poolHookBackend{
		Backend: heapbackend.New(),
		onPut: func(*Buffer) error {
			if failPut {
				return errors.New("boom")
			}
			return nil
		},
	}
	p, err := NewPool(1, 16, 0, be)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	// NewPool's own Unref of each new buffer runs OnPoolPut too, and a hook
	// failure there fails construction; only the Unref below should fail.
	failPut = true

	b, err := p.Get(NoWait)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if err := b.Unref(); err == nil {
		t.Fatal("Unref with a failing OnPoolPut hook returned nil error, want the hook's error")
	}

	if got := p.GetCount(); got != 1 {
		t.Errorf("GetCount after failed hook = %d, want 1 (buffer still recycled despite hook error)", got)
	}
}
