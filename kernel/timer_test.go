package kernel_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/armint/micro-os-plus-iii/kernel"
)

func TestTimerOnceFiresOnce(t *testing.T) {
	k, p := newTestKernel(t)
	var fires atomic.Int32
	done := make(chan struct{})

	var tm kernel.Timer
	k.InitTimer(&tm, "once", kernel.TimerOnce, 0, func(arg any) {
		fires.Add(1)
		close(done)
	}, nil)
	if err := k.StartTimer(&tm, 3); err.Failed() {
		t.Fatalf("StartTimer: %v", err)
	}

	runUntil(t, p, done, 2*time.Second)
	time.Sleep(20 * time.Millisecond) // let the timer-service thread settle
	if got := fires.Load(); got != 1 {
		t.Fatalf("fires = %d, want 1", got)
	}
}

func TestTimerPeriodicFiresRepeatedly(t *testing.T) {
	k, p := newTestKernel(t)
	var fires atomic.Int32
	done := make(chan struct{})

	var tm kernel.Timer
	k.InitTimer(&tm, "periodic", kernel.TimerPeriodic, 2, func(arg any) {
		if fires.Add(1) == 3 {
			close(done)
		}
	}, nil)
	if err := k.StartTimer(&tm, 2); err.Failed() {
		t.Fatalf("StartTimer: %v", err)
	}

	runUntil(t, p, done, 2*time.Second)
	if got := fires.Load(); got < 3 {
		t.Fatalf("fires = %d, want at least 3", got)
	}
}

func TestTimerStopPreventsFiring(t *testing.T) {
	k, p := newTestKernel(t)
	var fired atomic.Bool

	var tm kernel.Timer
	k.InitTimer(&tm, "stopped", kernel.TimerOnce, 0, func(arg any) {
		fired.Store(true)
	}, nil)
	k.StartTimer(&tm, 50)
	k.StopTimer(&tm)

	done := make(chan struct{})
	go func() {
		time.Sleep(200 * time.Millisecond)
		close(done)
	}()
	runUntil(t, p, done, 2*time.Second)

	if fired.Load() {
		t.Fatal("stopped timer fired")
	}
}
