package kernel_test

import (
	"context"
	"testing"
	"time"

	"github.com/armint/micro-os-plus-iii/kernel"
	"github.com/armint/micro-os-plus-iii/port/host"
)

// newTestKernel wires a fresh Kernel to a host Port, the same two-phase
// construction every real caller goes through (host.New, kernel.New,
// Port.Bind), and calls Initialize.
func newTestKernel(t *testing.T) (*kernel.Kernel, *host.Port) {
	t.Helper()
	p := host.New(nil)
	k := kernel.New(p)
	p.Bind(k)
	if err := k.Initialize(); err.Failed() {
		t.Fatalf("Initialize: %v", err)
	}
	return k, p
}

// runUntil drives p.Run until done fires or timeout elapses, then stops the
// port and waits for Run to return.
func runUntil(t *testing.T, p *host.Port, done <-chan struct{}, timeout time.Duration) {
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
