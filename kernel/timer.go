package kernel

import "container/heap"

// timerEntryKind distinguishes a thread timeout from a user Timer in the
// shared deadline structure.
type timerEntryKind uint8

const (
	timerEntrySleep timerEntryKind = iota
	timerEntryUser
)

// timerEntry is one node in the kernel's deadline-ordered structure (C6).
// A min-heap ordered by deadline, with insertion sequence as a tiebreaker
// so equal deadlines fire in insertion order (§5 "Ordering").
//
// Grounded on the teacher pack's eventloop timerHeap (container/heap-based
// timer wheel) — stdlib container/heap is used here because no third-party
// library in the retrieval pack offers a priority queue fit for this; see
// DESIGN.md.
type timerEntry struct {
	deadline Tick
	seq      uint64
	kind     timerEntryKind
	thread   *Thread
	timer    *Timer
	index    int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline != h[j].deadline {
		return h[i].deadline < h[j].deadline
	}
	return h[i].seq < h[j].seq
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	e.index = -1
	return e
}

// scheduleTimeoutLocked arms a timeout for thread t at deadline. Forever
// means no timeout is armed. Caller holds the interrupt lock.
func (k *Kernel) scheduleTimeoutLocked(t *Thread, deadline Tick) {
	if deadline == Forever {
		return
	}
	k.timerSeq++
	e := &timerEntry{deadline: deadline, seq: k.timerSeq, kind: timerEntrySleep, thread: t}
	heap.Push(&k.timers, e)
	t.timerLink = e
	t.deadline = deadline
	t.hasDeadline = true
}

// cancelTimerEntryLocked removes a still-pending entry from the heap.
// Safe to call with an entry already fired/removed (index < 0): a no-op.
func (k *Kernel) cancelTimerEntryLocked(e *timerEntry) {
	if e.index < 0 {
		return
	}
	heap.Remove(&k.timers, e.index)
}

// TimerKind selects one-shot or periodic firing (§3).
type TimerKind uint8

const (
	TimerOnce TimerKind = iota
	TimerPeriodic
)

// TimerState is the timer lifecycle state (§3).
type TimerState uint8

const (
	TimerStopped TimerState = iota
	TimerArmed
	TimerFiring
)

// Timer is a one-shot or periodic callback driven by the tick clock (§3,
// §4.5). The callback runs from the kernel's privileged timer-service
// thread, never from ISR context and never with a kernel lock held (§5:
// "no lock is held across a user callback").
type Timer struct {
	name     string
	kind     TimerKind
	period   Tick
	nextFire Tick
	callback func(arg any)
	arg      any
	state    TimerState
	entry    *timerEntry
}

// InitTimer initializes t in the stopped state. callback must not block.
func (k *Kernel) InitTimer(t *Timer, name string, kind TimerKind, period Tick, callback func(arg any), arg any) Error {
	if callback == nil {
		return ErrInvalidArgument
	}
	if kind == TimerPeriodic && period == 0 {
		return ErrInvalidArgument
	}
	t.name = name
	t.kind = kind
	t.period = period
	t.callback = callback
	t.arg = arg
	t.state = TimerStopped
	return OK
}

// StartTimer arms t to first fire after delay ticks (then, if periodic,
// every Period() ticks thereafter). Restarts an already-armed timer.
func (k *Kernel) StartTimer(t *Timer, delay Tick) Error {
	if delay == 0 {
		return ErrInvalidArgument
	}
	tok := k.LockInterrupts()
	defer k.UnlockInterrupts(tok)

	if t.entry != nil {
		k.cancelTimerEntryLocked(t.entry)
		t.entry = nil
	}
	t.nextFire = k.clock.Deadline(delay)
	t.state = TimerArmed
	k.timerSeq++
	e := &timerEntry{deadline: t.nextFire, seq: k.timerSeq, kind: timerEntryUser, timer: t}
	heap.Push(&k.timers, e)
	t.entry = e
	return OK
}

// StopTimer disarms t. Idempotent.
func (k *Kernel) StopTimer(t *Timer) Error {
	tok := k.LockInterrupts()
	defer k.UnlockInterrupts(tok)

	if t.entry != nil {
		k.cancelTimerEntryLocked(t.entry)
		t.entry = nil
	}
	t.state = TimerStopped
	return OK
}

// DestroyTimer releases t's bookkeeping. t must be idle: stopped, with no
// pending heap entry and no callback currently running on the timer-service
// thread. Destroying an armed or firing timer is a programming error and
// panics rather than returning an error code (§7 fatal conditions).
func (k *Kernel) DestroyTimer(t *Timer) Error {
	tok := k.LockInterrupts()
	defer k.UnlockInterrupts(tok)
	if t.state != TimerStopped {
		panic("kernel: destroying a timer that is still armed or firing")
	}
	return OK
}

// Remaining returns the ticks until t next fires, or Forever if stopped.
func (t *Timer) Remaining(k *Kernel) Tick {
	if t.state == TimerStopped {
		return Forever
	}
	now := k.Now()
	if t.nextFire <= now {
		return 0
	}
	return t.nextFire - now
}

// Period returns the configured period (zero for one-shot timers).
func (t *Timer) Period() Tick { return t.period }

// Tick advances the clock by n ticks and drains expired deadlines. It is
// ISR-safe and is the only entry point a real port's tick interrupt calls
// (§4.5, §5).
func (k *Kernel) Tick(n Tick) {
	k.enterISR()
	tok := k.LockInterrupts()

	now := k.clock.Advance(n)
	anyTimerDue := false
	for k.timers.Len() > 0 {
		top := k.timers[0]
		if top.deadline > now {
			break
		}
		heap.Pop(&k.timers)
		top.index = -1

		switch top.kind {
		case timerEntrySleep:
			t := top.thread
			t.timerLink = nil
			t.hasDeadline = false
			if t.state == StateBlocked {
				k.wakeLocked(t, ErrTimeout)
			}
		case timerEntryUser:
			tm := top.timer
			tm.entry = nil
			tm.state = TimerFiring
			if tm.kind == TimerPeriodic {
				k.duePeriodic = append(k.duePeriodic, tm)
			} else {
				k.dueOnce = append(k.dueOnce, tm)
			}
			anyTimerDue = true
		}
	}

	if anyTimerDue && !k.timerSvcDue {
		k.timerSvcDue = true
		if k.timerSvc.state == StateBlocked {
			k.wakeLocked(k.timerSvc, OK)
		}
	}

	k.UnlockInterrupts(tok)

	if anyTimerDue {
		k.requestSwitch()
	}
	k.leaveISR()
}

// SleepFor blocks the calling thread for delay ticks. A zero-tick sleep
// returns immediately without blocking, but still reschedules if a
// higher-priority thread is ready (§4.5).
func (k *Kernel) SleepFor(delay Tick) Error {
	if err := k.checkNotISR(); err.Failed() {
		return err
	}
	if delay == 0 {
		k.reschedule()
		return OK
	}
	return k.SleepUntil(k.clock.Deadline(delay))
}

// SleepUntil blocks the calling thread until the clock reaches deadline.
func (k *Kernel) SleepUntil(deadline Tick) Error {
	if err := k.checkNotISR(); err.Failed() {
		return err
	}
	tok := k.LockInterrupts()
	if deadline <= k.clock.Now() {
		k.UnlockInterrupts(tok)
		k.Yield()
		return OK
	}
	var sleepQ WaitQueue
	sleepQ.InitWaitQueue(WaitKindSleep, nil)
	result := k.blockLocked(tok, &sleepQ, deadline, true)
	if result == ErrTimeout {
		return OK // a sleep's own deadline firing is success, not failure.
	}
	return result
}

// timerServiceLoop is the entry point of the privileged thread that
// invokes Timer callbacks outside any kernel lock (§4.5, §5). It is woken
// by Tick whenever a Timer entry becomes due.
func (k *Kernel) timerServiceLoop(arg any) {
	for {
		tok := k.LockInterrupts()
		if !k.timerSvcDue {
			k.blockLocked(tok, &k.timerSvcQueue, Forever, false)
			continue
		}
		k.timerSvcDue = false
		once := k.dueOnce
		periodic := k.duePeriodic
		k.dueOnce = nil
		k.duePeriodic = nil
		k.UnlockInterrupts(tok)

		for _, tm := range once {
			tm.callback(tm.arg)
			tok = k.LockInterrupts()
			tm.state = TimerStopped
			k.UnlockInterrupts(tok)
		}
		for _, tm := range periodic {
			tm.callback(tm.arg)
			k.rearmPeriodicAfterFiring(tm)
		}
	}
}

// rearmPeriodicAfterFiring implements the "single catch-up then realign"
// policy (§4.5, §8 scenario 5, §13): exactly one callback invocation per
// gap, however many periods were missed, with the next firing realigned to
// the original phase (start + k*period) rather than drifting.
func (k *Kernel) rearmPeriodicAfterFiring(tm *Timer) {
	tok := k.LockInterrupts()
	defer k.UnlockInterrupts(tok)

	now := k.clock.Now()
	missed := Tick(0)
	if now > tm.nextFire && tm.period > 0 {
		missed = (now - tm.nextFire) / tm.period
	}
	tm.nextFire = tm.nextFire + tm.period*(missed+1)
	tm.state = TimerArmed
	k.timerSeq++
	e := &timerEntry{deadline: tm.nextFire, seq: k.timerSeq, kind: timerEntryUser, timer: tm}
	heap.Push(&k.timers, e)
	tm.entry = e
}
