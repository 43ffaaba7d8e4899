// Package host implements kernel.Port on top of goroutines, for running
// and testing the scheduler without real hardware. Grounded on the teacher
// pack's hal host.go (build-tag-selected host/tinygo split, §10) and its
// hostTime real-time-to-tick conversion (host_time.go); the goroutine
// baton and errgroup supervision are this package's own addition, since
// nothing in the original plays the role of a preemptible thread.
//
//go:build !tinygo

package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/armint/micro-os-plus-iii/kernel"
)

// slot is the per-thread bookkeeping backing one kernel.StackPointer
// handle: a goroutine parked on resume until the scheduler hands it the
// baton, and a done channel closed when that goroutine actually exits.
type slot struct {
	resume chan struct{}
	done   chan struct{}
}

// Port is a kernel.Port that runs every thread as its own goroutine,
// synchronized so that only one is ever unblocked at a time — the baton
// SwitchContext hands off (§10: "preemption is cooperative at documented
// suspension points", since nothing in pure Go can interrupt a goroutine
// mid-instruction the way a hardware timer interrupts a CPU core).
type Port struct {
	irqMu sync.Mutex // models DisableInterrupts/RestoreInterrupts exclusion

	mu       sync.Mutex
	slots    map[kernel.StackPointer]*slot
	nextSP   kernel.StackPointer
	logger   func(string)
	switchCh chan struct{} // signaled on every RequestContextSwitch, for tests/observability

	kernel *kernel.Kernel

	cancel context.CancelFunc

	boot slot

	startTime time.Time
}

// New constructs a host Port. log, if non-nil, receives one line for every
// thread entry function that returns instead of calling kernel.Exit.
// Bind must be called with the owning Kernel before any thread is created.
func New(log func(string)) *Port {
	p := &Port{
		slots:    make(map[kernel.StackPointer]*slot),
		logger:   log,
		switchCh: make(chan struct{}, 1),
	}
	p.boot.resume = make(chan struct{})
	return p
}

// Bind records the Kernel this Port serves. kernel.New takes a Port before
// the Kernel exists, so construction is necessarily two-phase: New(...)
// the port, kernel.New(port) the kernel, then Bind(kernel) to close the
// loop before calling Initialize/NewThread.
func (p *Port) Bind(k *kernel.Kernel) { p.kernel = k }

// Run starts the kernel's boot dispatch and the tick-driving goroutine, and
// blocks until ctx is canceled. The tick driver is supervised by an
// errgroup.Group (the one pack dependency this port exercises:
// golang.org/x/sync/errgroup) since it is the one goroutine here that is
// actually expected to return; Start, like every thread goroutine launched
// from InitialStack, runs for the life of the process by design and is
// deliberately left out of the group — folding it in would make g.Wait()
// block forever on a goroutine that never returns, defeating Stop.
func (p *Port) Run(ctx context.Context, tickPeriod time.Duration) error {
	if p.kernel == nil {
		panic("host.Port.Run called before Bind")
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	p.startTime = time.Now()

	go p.kernel.Start()

	g.Go(func() error {
		ticker := time.NewTicker(tickPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				p.kernel.Tick(1)
			}
		}
	})

	return g.Wait()
}

// Stop cancels the tick driver started by Run.
func (p *Port) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

// TickNow reports elapsed wall-clock time converted to ticks at 1ms/tick,
// independent of the Tick(1)-per-timer-period driver above; package kernel
// does not call it (§4.1).
func (p *Port) TickNow() kernel.Tick {
	if p.startTime.IsZero() {
		return 0
	}
	return kernel.Tick(time.Since(p.startTime) / time.Millisecond)
}

// RequestContextSwitch has no host equivalent: see requestSwitch's doc
// comment in package kernel for why the cooperative host port cannot pend
// an async switch the way a bare-metal port pends PendSV. It only notifies
// an optional observer channel, useful in tests that want to assert a
// switch was requested without being able to act on it synchronously.
func (p *Port) RequestContextSwitch() {
	select {
	case p.switchCh <- struct{}{}:
	default:
	}
}

// DisableInterrupts and RestoreInterrupts model PRIMASK-style exclusion
// between thread execution and the tick driver's simulated ISR context.
// Every kernel call into LockInterrupts/UnlockInterrupts is already
// non-reentrant within a single call chain (every internal helper with a
// "Locked" suffix assumes the lock is already held rather than taking it
// again), so a plain mutex — no saved/restored processor flags needed —
// is sufficient here, unlike on real hardware where nested disable/enable
// must compose via a saved PRIMASK value.
func (p *Port) DisableInterrupts() kernel.IRQState {
	p.irqMu.Lock()
	return 0
}

func (p *Port) RestoreInterrupts(_ kernel.IRQState) {
	p.irqMu.Unlock()
}

// InitialStack registers a new thread and launches its goroutine, parked
// on its resume channel until the scheduler first switches into it. The
// returned StackPointer is an opaque handle into Port's slot table, not a
// real address — host threads have no stack to lay out (stackBase/
// stackSize are accepted only to satisfy the Port contract; the entry
// function runs on its goroutine's own Go-runtime-managed stack).
func (p *Port) InitialStack(entry func(arg any), arg any, stackBase []byte, stackSize uint32) kernel.StackPointer {
	p.mu.Lock()
	p.nextSP++
	sp := p.nextSP
	sl := &slot{resume: make(chan struct{}), done: make(chan struct{})}
	p.slots[sp] = sl
	p.mu.Unlock()

	go func() {
		defer close(sl.done)
		<-sl.resume

		func() {
			defer func() {
				if kernel.RecoverThreadPanic(fmt.Sprintf("thread sp=%d", sp)) {
					// The panic handler has run; terminate the thread the
					// same way a normal return from entry would, so the
					// baton still passes to whichever thread runs next
					// instead of leaving the kernel permanently stuck
					// waiting on this goroutine's resume channel.
					p.kernel.Exit(nil)
				}
			}()
			entry(arg)
		}()

		if p.logger != nil {
			p.logger(fmt.Sprintf("thread %d entry returned instead of calling Exit", sp))
		}
		p.kernel.Exit(nil)
	}()
	return sp
}

// SwitchContext hands the baton to nextSP and parks the calling goroutine:
// on its own resume channel until the scheduler signals it again if prevSP
// names a real thread, or on the port's boot channel, which nothing ever
// signals, for the synthetic boot context Start() passes on its first call.
func (p *Port) SwitchContext(prevSP *kernel.StackPointer, nextSP kernel.StackPointer) {
	p.mu.Lock()
	next, ok := p.slots[nextSP]
	p.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("host port: SwitchContext into unknown StackPointer %d", nextSP))
	}

	var prevWait chan struct{}
	if prevSP != nil && *prevSP != 0 {
		p.mu.Lock()
		prevSlot, ok := p.slots[*prevSP]
		p.mu.Unlock()
		if ok {
			prevWait = prevSlot.resume
		}
	} else {
		prevWait = p.boot.resume
	}

	next.resume <- struct{}{}
	if prevWait != nil {
		<-prevWait
	}
	// prevWait == nil only if *prevSP named a StackPointer this Port never
	// registered — a programming error, not something a running kernel
	// should encounter.
}
