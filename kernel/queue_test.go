package kernel_test

import (
	"testing"
	"time"

	"github.com/armint/micro-os-plus-iii/kernel"
)

func TestQueuePriorityOrdering(t *testing.T) {
	k, _ := newTestKernel(t)
	var q kernel.MessageQueue
	k.InitMessageQueue(&q, 4)

	k.TrySend(&q, "low", 1)
	k.TrySend(&q, "high", 10)
	k.TrySend(&q, "mid", 5)

	for _, want := range []string{"high", "mid", "low"} {
		msg, err := k.TryReceive(&q)
		if err.Failed() {
			t.Fatalf("TryReceive: %v", err)
		}
		if msg != want {
			t.Fatalf("TryReceive = %v, want %v", msg, want)
		}
	}
}

func TestQueueFullTrySend(t *testing.T) {
	k, _ := newTestKernel(t)
	var q kernel.MessageQueue
	k.InitMessageQueue(&q, 1)

	if err := k.TrySend(&q, "a", 0); err.Failed() {
		t.Fatalf("TrySend into empty queue: %v", err)
	}
	if err := k.TrySend(&q, "b", 0); err != kernel.ErrResourceUnavailable {
		t.Fatalf("TrySend into full queue = %v, want ErrResourceUnavailable", err)
	}
}

func TestQueueSendDirectToBlockedReceiver(t *testing.T) {
	k, p := newTestKernel(t)
	var q kernel.MessageQueue
	k.InitMessageQueue(&q, 1)

	done := make(chan struct{})
	var received any

	receiver, _ := k.NewThread(kernel.ThreadAttr{Name: "recv", Priority: 10}, func(arg any) {
		msg, err := k.Receive(&q)
		if err.Failed() {
			t.Errorf("Receive: %v", err)
		}
		received = msg
		close(done)
		k.Exit(nil)
	}, nil)
	k.Activate(receiver)

	sender, _ := k.NewThread(kernel.ThreadAttr{Name: "send", Priority: 20}, func(arg any) {
		k.SleepFor(2)
		k.Send(&q, "hello", 0)
		k.Exit(nil)
	}, nil)
	k.Activate(sender)

	runUntil(t, p, done, 2*time.Second)
	if received != "hello" {
		t.Fatalf("received = %v, want hello", received)
	}
}

func TestQueuePeekDoesNotRemove(t *testing.T) {
	k, _ := newTestKernel(t)
	var q kernel.MessageQueue
	k.InitMessageQueue(&q, 2)
	k.TrySend(&q, "x", 0)

	msg, err := k.Peek(&q)
	if err.Failed() || msg != "x" {
		t.Fatalf("Peek: msg=%v err=%v", msg, err)
	}
	msg, err = k.TryReceive(&q)
	if err.Failed() || msg != "x" {
		t.Fatalf("TryReceive after Peek: msg=%v err=%v", msg, err)
	}
}
