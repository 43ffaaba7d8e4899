package kernel_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/armint/micro-os-plus-iii/kernel"
)

func TestPoolAllocExhaustion(t *testing.T) {
	k, _ := newTestKernel(t)
	var p kernel.Pool
	storage := make([]byte, 32)
	if err := k.InitPool(&p, kernel.PoolAttr{BlockSize: 16, BlockCount: 2, Storage: storage}); err.Failed() {
		t.Fatalf("InitPool: %v", err)
	}

	b1, err := k.TryAlloc(&p)
	if err.Failed() || len(b1) != 16 {
		t.Fatalf("first TryAlloc: block=%v err=%v", b1, err)
	}
	b2, err := k.TryAlloc(&p)
	if err.Failed() || len(b2) != 16 {
		t.Fatalf("second TryAlloc: block=%v err=%v", b2, err)
	}
	if _, err := k.TryAlloc(&p); err != kernel.ErrResourceUnavailable {
		t.Fatalf("third TryAlloc = %v, want ErrResourceUnavailable", err)
	}

	if err := k.Free(&p, b1); err.Failed() {
		t.Fatalf("Free: %v", err)
	}
	if b3, err := k.TryAlloc(&p); err.Failed() || len(b3) != 16 {
		t.Fatalf("TryAlloc after Free: block=%v err=%v", b3, err)
	}
}

func TestPoolFreeRejectsForeignBlock(t *testing.T) {
	k, _ := newTestKernel(t)
	var p kernel.Pool
	storage := make([]byte, 32)
	k.InitPool(&p, kernel.PoolAttr{BlockSize: 16, BlockCount: 2, Storage: storage})

	foreign := make([]byte, 16)
	if err := k.Free(&p, foreign); err != kernel.ErrInvalidArgument {
		t.Fatalf("Free(foreign block) = %v, want ErrInvalidArgument", err)
	}
}

func TestPoolFreeRejectsMisalignedBlock(t *testing.T) {
	k, _ := newTestKernel(t)
	var p kernel.Pool
	storage := make([]byte, 32)
	k.InitPool(&p, kernel.PoolAttr{BlockSize: 16, BlockCount: 2, Storage: storage})

	b1, err := k.TryAlloc(&p)
	if err.Failed() {
		t.Fatalf("TryAlloc: %v", err)
	}
	misaligned := b1[1:9] // offset into a real block, not a block start
	if err := k.Free(&p, misaligned); err != kernel.ErrInvalidArgument {
		t.Fatalf("Free(misaligned slice) = %v, want ErrInvalidArgument", err)
	}
}

func TestPoolFreeAcceptsGenuineBlock(t *testing.T) {
	k, _ := newTestKernel(t)
	var p kernel.Pool
	storage := make([]byte, 32)
	k.InitPool(&p, kernel.PoolAttr{BlockSize: 16, BlockCount: 2, Storage: storage})

	b1, err := k.TryAlloc(&p)
	if err.Failed() {
		t.Fatalf("TryAlloc: %v", err)
	}
	if err := k.Free(&p, b1); err.Failed() {
		t.Fatalf("Free(genuine block) = %v, want OK", err)
	}
}

func TestPoolFreeHandsBlockDirectlyToWaiter(t *testing.T) {
	k, pt := newTestKernel(t)
	var pool kernel.Pool
	storage := make([]byte, 16)
	k.InitPool(&pool, kernel.PoolAttr{BlockSize: 16, BlockCount: 1, Storage: storage})

	held, err := k.TryAlloc(&pool)
	if err.Failed() {
		t.Fatalf("TryAlloc: %v", err)
	}

	done := make(chan struct{})
	var allocated atomic.Bool

	waiter, _ := k.NewThread(kernel.ThreadAttr{Name: "alloc-waiter", Priority: 10}, func(arg any) {
		block, err := k.Alloc(&pool)
		if err.Failed() || len(block) != 16 {
			t.Errorf("Alloc: block=%v err=%v", block, err)
		}
		allocated.Store(true)
		close(done)
		k.Exit(nil)
	}, nil)
	k.Activate(waiter)

	freer, _ := k.NewThread(kernel.ThreadAttr{Name: "freer", Priority: 20}, func(arg any) {
		k.SleepFor(2)
		k.Free(&pool, held)
		k.Exit(nil)
	}, nil)
	k.Activate(freer)

	runUntil(t, pt, done, 2*time.Second)
	if !allocated.Load() {
		t.Fatal("blocked allocator never received the freed block")
	}
}
