package kernel_test

import (
	"testing"
	"time"

	"github.com/armint/micro-os-plus-iii/kernel"
)

func TestEventFlagsWaitAnyVsWaitAll(t *testing.T) {
	k, _ := newTestKernel(t)
	var f kernel.EventFlags
	k.InitEventFlags(&f, 0)
	k.Set(&f, 0x1)

	if _, err := k.TryWaitFlags(&f, 0x3, kernel.WaitAll, false); err != kernel.ErrResourceUnavailable {
		t.Fatalf("WaitAll with only one bit set = %v, want ErrResourceUnavailable", err)
	}
	observed, err := k.TryWaitFlags(&f, 0x3, kernel.WaitAny, false)
	if err.Failed() || observed != 0x1 {
		t.Fatalf("WaitAny: observed=%#x err=%v", observed, err)
	}
}

func TestEventFlagsConsume(t *testing.T) {
	k, _ := newTestKernel(t)
	var f kernel.EventFlags
	k.InitEventFlags(&f, 0)
	k.Set(&f, 0x3)

	if _, err := k.TryWaitFlags(&f, 0x1, kernel.WaitAny, true); err.Failed() {
		t.Fatalf("TryWaitFlags consume: %v", err)
	}
	if got := k.Get(&f); got != 0x2 {
		t.Fatalf("Get after consume = %#x, want 0x2", got)
	}
}

func TestEventFlagsSetWakesBlockedWaiter(t *testing.T) {
	k, p := newTestKernel(t)
	var f kernel.EventFlags
	k.InitEventFlags(&f, 0)

	done := make(chan struct{})
	var observed uint32

	waiter, _ := k.NewThread(kernel.ThreadAttr{Name: "waiter", Priority: 10}, func(arg any) {
		v, err := k.WaitFlags(&f, 0x4, kernel.WaitAny, false)
		if err.Failed() {
			t.Errorf("WaitFlags: %v", err)
		}
		observed = v
		close(done)
		k.Exit(nil)
	}, nil)
	k.Activate(waiter)

	setter, _ := k.NewThread(kernel.ThreadAttr{Name: "setter", Priority: 20}, func(arg any) {
		k.SleepFor(2)
		k.Set(&f, 0x4)
		k.Exit(nil)
	}, nil)
	k.Activate(setter)

	runUntil(t, p, done, 2*time.Second)
	if observed != 0x4 {
		t.Fatalf("observed = %#x, want 0x4", observed)
	}
}

func TestEventFlagsResetEvictsWaiters(t *testing.T) {
	k, p := newTestKernel(t)
	var f kernel.EventFlags
	k.InitEventFlags(&f, 0)

	done := make(chan struct{})
	var gotErr kernel.Error

	waiter, _ := k.NewThread(kernel.ThreadAttr{Name: "waiter", Priority: 10}, func(arg any) {
		_, err := k.WaitFlags(&f, 0x1, kernel.WaitAny, false)
		gotErr = err
		close(done)
		k.Exit(nil)
	}, nil)
	k.Activate(waiter)

	evictor, _ := k.NewThread(kernel.ThreadAttr{Name: "evictor", Priority: 20}, func(arg any) {
		k.SleepFor(2)
		k.ResetEventFlags(&f, 0)
		k.Exit(nil)
	}, nil)
	k.Activate(evictor)

	runUntil(t, p, done, 2*time.Second)
	if gotErr != kernel.ErrNotPermitted {
		t.Fatalf("waiter result = %v, want ErrNotPermitted", gotErr)
	}
}
