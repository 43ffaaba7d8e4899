package kernel

// Kernel is the process-wide scheduler singleton (§9: "the kernel has one
// process-wide singleton ... created by Initialize, made live by Start, and
// lives until reset"). Every synchronization object in this package takes
// a *Kernel so a process may still, in principle, host more than one
// independent instance (e.g. in tests), even though production firmware
// creates exactly one.
type Kernel struct {
	port Port

	clock Clock

	ready readySet

	nextThreadID ThreadID
	threads      []*Thread

	running *Thread
	idle    *Thread

	schedLockDepth uint32
	switchPending  bool
	isrDepth       uint32

	timers   timerHeap
	timerSeq uint64
	dueOnce  []*Timer
	duePeriodic []*Timer
	timerSvc      *Thread
	timerSvcQueue WaitQueue
	timerSvcDue   bool

	started bool
}

// New constructs a Kernel bound to the given port. Call Initialize before
// creating threads, and Start exactly once after the initial threads exist.
func New(port Port) *Kernel {
	k := &Kernel{port: port}
	k.clock.InitClock(DefaultTickPeriodUS)
	k.timerSvcQueue.InitWaitQueue(WaitKindSleep, nil)
	return k
}

// Now returns the current tick count.
func (k *Kernel) Now() Tick { return k.clock.Now() }

// Clock exposes the tick/µs conversion helpers (C1).
func (k *Kernel) Clock() *Clock { return &k.clock }

// Initialize prepares internal structures, including the timer service
// thread. Must not be called from ISR context, and must be called exactly
// once before any other Kernel method (§4.4).
func (k *Kernel) Initialize() Error {
	if k.started {
		return ErrNotPermitted
	}
	if err := k.checkNotISR(); err.Failed() {
		return err
	}
	k.timerSvc = k.newThreadLocked(ThreadAttr{
		Name:     "timer-svc",
		Priority: MaxPriority,
	}, k.timerServiceLoop, nil)
	k.idle = k.newThreadLocked(ThreadAttr{
		Name:     "idle",
		Priority: MinPriority,
	}, k.idleLoop, nil)
	return OK
}

// idleLoop is the fallback thread Start/reschedule switch to when no other
// thread is ready. It never blocks and is never inserted into the ready
// set, so the scheduler always has a valid "next" to switch into.
func (k *Kernel) idleLoop(arg any) {
	for {
		k.reschedule()
	}
}

// NewThread constructs a thread in StateInitialized and registers it with
// the kernel; it becomes schedulable once Activate makes it ready. entry runs on the thread's own stack, set up by
// Port.InitialStack; it must not return except via Exit.
func (k *Kernel) NewThread(attr ThreadAttr, entry func(arg any), arg any) (*Thread, Error) {
	if err := k.checkNotISR(); err.Failed() {
		return nil, err
	}
	if attr.Priority < MinPriority || attr.Priority > MaxPriority {
		return nil, ErrInvalidArgument
	}
	if entry == nil {
		return nil, ErrInvalidArgument
	}
	tok := k.LockInterrupts()
	t := k.newThreadLocked(attr, entry, arg)
	k.UnlockInterrupts(tok)
	return t, OK
}

func (k *Kernel) newThreadLocked(attr ThreadAttr, entry func(arg any), arg any) *Thread {
	k.nextThreadID++
	t := &Thread{
		id:            k.nextThreadID,
		name:          attr.Name,
		stablePrio:    attr.Priority,
		effectivePrio: attr.Priority,
		stackBase:     attr.StackBase,
		stackSize:     attr.StackSize,
		entry:         entry,
		arg:           arg,
		state:         StateInitialized,
		timeSlice:     attr.TimeSlice,
	}
	t.joinWaiters.InitWaitQueue(WaitKindJoin, t)
	t.sp = k.port.InitialStack(entry, arg, attr.StackBase, attr.StackSize)
	k.threads = append(k.threads, t)
	return t
}

// Activate transitions a freshly constructed thread out of StateInitialized
// and into the ready set, making it schedulable for the first time. A
// thread is never implicitly activated by NewThread (§9's attribute record
// carries no "start suspended" flag, but original_source's
// osThreadStartSuspended exists precisely because creation and first
// scheduling are distinct steps) so callers that want a thread to run must
// call this exactly once.
func (k *Kernel) Activate(t *Thread) Error {
	if err := k.checkNotISR(); err.Failed() {
		return err
	}
	tok := k.LockInterrupts()
	if t.state != StateInitialized {
		k.UnlockInterrupts(tok)
		return ErrNotPermitted
	}
	k.readyLocked(t)
	k.UnlockInterrupts(tok)
	k.requestSwitch()
	return OK
}

// readyLocked transitions t to StateReady and inserts it into the ready
// set. Caller holds the interrupt lock and is responsible for requesting a
// switch afterward if one is warranted (readyLocked itself never calls
// requestSwitch: on the host port a context switch can only safely happen
// once the interrupt lock is fully released, and several callers chain
// more than one readyLocked call under a single held lock before
// unlocking, so doing it here would switch away mid-operation).
func (k *Kernel) readyLocked(t *Thread) {
	t.state = StateReady
	t.sliceLeft = t.timeSlice
	k.ready.push(t)
}

// Start selects the highest-priority ready thread and transfers control to
// it; it does not return to its caller (§4.4).
func (k *Kernel) Start() {
	if k.started {
		return
	}
	k.started = true

	tok := k.LockInterrupts()
	k.readyLocked(k.timerSvc)
	next := k.ready.popHighest()
	if next == nil {
		next = k.idle
	}
	next.state = StateRunning
	k.running = next
	k.UnlockInterrupts(tok)

	var bootSP StackPointer
	k.port.SwitchContext(&bootSP, next.sp)
	// Never reached: SwitchContext only returns to the boot context if the
	// port chooses to switch back into it, which no thread ever does.
}

// reschedule picks a new running thread if a higher-priority one is ready
// and performs the actual context switch, which on the host port parks the
// calling goroutine until it is chosen to run again. Safe to call whether
// or not a switch turns out to be warranted.
func (k *Kernel) reschedule() {
	tok := k.LockInterrupts()
	if !k.started {
		// Before Start, there is no running thread to switch away from or
		// back to; readying a thread this early (e.g. Activate) only needs
		// to leave it in the ready set for Start's own dispatch to find.
		k.UnlockInterrupts(tok)
		return
	}
	if k.inCriticalSection() {
		k.switchPending = true
		k.UnlockInterrupts(tok)
		return
	}

	prev := k.running
	prevStillRunnable := prev != nil && prev.state == StateRunning && prev != k.idle

	// Idle never re-enters the ready set and never wins a priority
	// comparison: any ready thread, even at MinPriority, preempts it.
	if prevStillRunnable {
		if next := k.ready.peekHighest(); next == nil || next.effectivePrio <= prev.effectivePrio {
			k.UnlockInterrupts(tok)
			return
		}
	}

	next := k.ready.popHighest()
	if next == nil {
		next = k.idle
	}
	if next == prev {
		// Either idle was already running with nothing else ready, or a
		// Yield-ing thread was popped straight back out of the ready set:
		// switching to itself would be a pure no-op on hardware but a
		// self-deadlock on the host port (it would try to hand its own
		// baton to itself before taking it back), so skip the switch and
		// just mark it running again.
		next.state = StateRunning
		k.UnlockInterrupts(tok)
		return
	}

	if prevStillRunnable {
		prev.state = StateReady
		k.ready.push(prev)
	}
	next.state = StateRunning
	k.running = next
	prevSP := &prev.sp
	nextSP := next.sp
	k.UnlockInterrupts(tok)

	k.port.SwitchContext(prevSP, nextSP)
}

// Yield moves the running thread to the tail of its priority band and
// invokes reschedule (§4.4). A suspension point: safe to call cooperative
// preemption checks from.
func (k *Kernel) Yield() Error {
	if err := k.checkNotISR(); err.Failed() {
		return err
	}
	tok := k.LockInterrupts()
	cur := k.running
	cur.state = StateReady
	k.ready.push(cur)
	k.UnlockInterrupts(tok)
	k.reschedule()
	return OK
}

// Current returns the currently running thread.
func (k *Kernel) Current() *Thread { return k.running }

// Exit terminates the calling thread with the given exit value. It does
// not return. A terminated thread holds no locks (§3 invariant): any
// mutex still owned is released with owner-death bookkeeping first.
func (k *Kernel) Exit(value any) {
	tok := k.LockInterrupts()
	t := k.running
	t.exitValue = value
	t.state = StateTerminated
	owned := append([]*Mutex(nil), t.ownedMutexes...)
	k.UnlockInterrupts(tok)

	for _, m := range owned {
		k.releaseDeadOwner(m, t)
	}

	tok = k.LockInterrupts()
	k.wakeAllLocked(&t.joinWaiters, OK)
	k.UnlockInterrupts(tok)

	k.reschedule()
}

// Join blocks until t terminates and returns its exit value. At most one
// joiner is supported per thread (§3). The joiner blocks through the
// scheduler like every other wait primitive — parked on t's joinWaiters
// queue and handed the baton back by reschedule — rather than on a raw
// channel receive, which would starve the host port of a running goroutine
// able to ever reach t's Exit.
func (k *Kernel) Join(t *Thread) (any, Error) {
	if err := k.checkNotISR(); err.Failed() {
		return nil, err
	}
	tok := k.LockInterrupts()
	if t.state == StateTerminated {
		k.UnlockInterrupts(tok)
		return t.exitValue, OK
	}
	if t.joiner != nil {
		k.UnlockInterrupts(tok)
		return nil, ErrNotPermitted
	}
	t.joiner = k.running
	if err := k.blockLocked(tok, &t.joinWaiters, Forever, false); err.Failed() {
		return nil, err
	}
	return t.exitValue, OK
}

// Cancel releases a blocked thread with ErrCanceled (§5 "Cancellation").
// For a thread that is not blocked, Cancel only sets its canceled flag;
// no suspension point reads that flag, so a later wait or sleep by that
// thread is not released with ErrCanceled.
func (k *Kernel) Cancel(t *Thread) Error {
	tok := k.LockInterrupts()
	if t.state != StateBlocked {
		t.canceled = true
		k.UnlockInterrupts(tok)
		return OK
	}
	k.wakeLocked(t, ErrCanceled)
	k.UnlockInterrupts(tok)
	k.requestSwitch()
	return OK
}

// DestroyThread releases a terminated thread's kernel-side bookkeeping. t
// must already be Terminated with no outstanding joiner; destroying a
// thread that is still running, ready, blocked, or suspended, or that still
// has a pending Join, is a programming error and panics rather than
// returning an error code (§7 fatal conditions). Idempotent: destroying an
// already-removed thread again is a no-op.
func (k *Kernel) DestroyThread(t *Thread) Error {
	tok := k.LockInterrupts()
	defer k.UnlockInterrupts(tok)

	if t.state != StateTerminated {
		panic("kernel: destroying a thread that has not terminated")
	}
	if t.joiner != nil || !t.joinWaiters.Idle() {
		panic("kernel: destroying a thread with a pending joiner")
	}
	for i, existing := range k.threads {
		if existing == t {
			k.threads = append(k.threads[:i], k.threads[i+1:]...)
			break
		}
	}
	return OK
}
