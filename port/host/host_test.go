package host

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/armint/micro-os-plus-iii/kernel"
)

func newTestKernel(t *testing.T) (*kernel.Kernel, *Port) {
	t.Helper()
	p := New(nil)
	k := kernel.New(p)
	p.Bind(k)
	if err := k.Initialize(); err.Failed() {
		t.Fatalf("Initialize: %v", err)
	}
	return k, p
}

func runUntil(t *testing.T, p *Port, done <-chan struct{}, timeout time.Duration) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-done:
		case <-time.After(timeout):
		}
		p.Stop()
	}()

	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx, time.Millisecond) }()

	select {
	case <-errc:
	case <-time.After(timeout + time.Second):
		t.Fatal("Run never returned after Stop")
	}
}

// TestActivateRunsThread exercises Activate, the kernel operation that
// makes a freshly constructed thread schedulable for the first time. A
// thread left un-activated must never be dispatched.
func TestActivateRunsThread(t *testing.T) {
	k, p := newTestKernel(t)
	done := make(chan struct{})
	var ran atomic.Bool

	th, err := k.NewThread(kernel.ThreadAttr{Name: "t", Priority: 10}, func(arg any) {
		ran.Store(true)
		close(done)
		k.Exit(nil)
	}, nil)
	if err.Failed() {
		t.Fatalf("NewThread: %v", err)
	}
	if th.State() != kernel.StateInitialized {
		t.Fatalf("state = %v, want Initialized", th.State())
	}

	if err := k.Activate(th); err.Failed() {
		t.Fatalf("Activate: %v", err)
	}

	runUntil(t, p, done, 2*time.Second)

	if !ran.Load() {
		t.Fatal("activated thread never ran")
	}
}

// TestPriorityPreemption exercises §8 scenario 1: a low-priority thread
// holding a mutex is boosted to the blocked high-priority waiter's level
// and runs to completion of its critical section before the waiting
// medium-priority thread gets a turn.
func TestPriorityPreemption(t *testing.T) {
	k, p := newTestKernel(t)

	var m kernel.Mutex
	k.InitMutex(&m, kernel.MutexAttr{Type: kernel.MutexNormal, Protocol: kernel.ProtocolInherit})

	var order []string
	record := make(chan string, 16)
	done := make(chan struct{})
	var mDone, hDone atomic.Bool

	finish := func() {
		if mDone.Load() && hDone.Load() {
			close(done)
		}
	}

	low, _ := k.NewThread(kernel.ThreadAttr{Name: "L", Priority: 10}, func(arg any) {
		k.Lock(&m)
		record <- "L-acquired"
		if k.Current().EffectivePriority() != 30 {
			record <- "L-not-boosted"
		}
		k.SleepFor(3)
		record <- "L-release"
		k.Unlock(&m)
		k.Exit(nil)
	}, nil)

	medium, _ := k.NewThread(kernel.ThreadAttr{Name: "M", Priority: 20}, func(arg any) {
		k.SleepFor(1)
		record <- "M-ran"
		mDone.Store(true)
		finish()
		k.Exit(nil)
	}, nil)

	high, _ := k.NewThread(kernel.ThreadAttr{Name: "H", Priority: 30}, func(arg any) {
		k.SleepFor(1)
		k.Lock(&m)
		record <- "H-acquired"
		k.Unlock(&m)
		hDone.Store(true)
		finish()
		k.Exit(nil)
	}, nil)

	k.Activate(low)
	k.Activate(medium)
	k.Activate(high)

	runUntil(t, p, done, 3*time.Second)
	close(record)
	for s := range record {
		order = append(order, s)
	}

	idx := func(s string) int {
		for i, v := range order {
			if v == s {
				return i
			}
		}
		t.Fatalf("event %q never recorded, got %v", s, order)
		return -1
	}

	if idx("L-release") > idx("H-acquired") {
		t.Fatalf("H acquired before L released: %v", order)
	}
	if idx("H-acquired") > idx("M-ran") {
		t.Fatalf("M ran before H acquired: %v", order)
	}
	for _, s := range order {
		if s == "L-not-boosted" {
			t.Fatalf("L never inherited H's priority: %v", order)
		}
	}
}

// TestCancelWakesBlockedThread exercises Cancel against a thread parked in
// Receive, confirming the fix that makes wakeLocked's caller explicitly
// request a switch rather than relying on readyLocked to do it under lock.
func TestCancelWakesBlockedThread(t *testing.T) {
	k, p := newTestKernel(t)
	var q kernel.MessageQueue
	k.InitMessageQueue(&q, 1)

	done := make(chan struct{})
	var canceled atomic.Bool

	th, _ := k.NewThread(kernel.ThreadAttr{Name: "waiter", Priority: 10}, func(arg any) {
		_, err := k.Receive(&q)
		if err == kernel.ErrCanceled {
			canceled.Store(true)
		}
		close(done)
		k.Exit(nil)
	}, nil)
	target := th
	k.Activate(th)

	canceler, _ := k.NewThread(kernel.ThreadAttr{Name: "canceler", Priority: 20}, func(arg any) {
		k.SleepFor(2)
		k.Cancel(target)
		k.Exit(nil)
	}, nil)
	k.Activate(canceler)

	runUntil(t, p, done, 2*time.Second)

	if !canceled.Load() {
		t.Fatal("blocked receiver was never canceled")
	}
}
