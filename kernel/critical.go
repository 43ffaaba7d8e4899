package kernel

// LockInterrupts disables maskable interrupts and returns a token that
// restores the previous state on UnlockInterrupts (§4.1). Required before
// mutating any structure an ISR may touch (the ready set, a wait queue, the
// timer heap, or object metadata — §5).
//
// Safe to call from ISR context; nested calls compose correctly because the
// token carries the full previous state rather than a simple boolean.
func (k *Kernel) LockInterrupts() IRQState {
	return k.port.DisableInterrupts()
}

// UnlockInterrupts restores interrupts to the state captured by tok.
func (k *Kernel) UnlockInterrupts(tok IRQState) {
	k.port.RestoreInterrupts(tok)
}

// LockScheduler suppresses context switches while leaving interrupts
// enabled, for operations that must tolerate interrupts but still need
// exclusive access to scheduler structures for longer than an interrupt
// lock should be held — e.g. walking a wait queue by priority (§4.1).
//
// Calls nest. A context switch requested while the scheduler lock is held
// is deferred until the matching outermost UnlockScheduler.
//
// Grounded on the Xinu-style ReschedCntl(DeferStart/DeferStop) pattern
// (Defer{NDefers, Attempt}): NDefers here is schedLockDepth, Attempt is
// switchPending.
func (k *Kernel) LockScheduler() {
	tok := k.LockInterrupts()
	k.schedLockDepth++
	k.UnlockInterrupts(tok)
}

// UnlockScheduler releases one level of scheduler lock. When the outermost
// level is released and a context switch was requested while locked, the
// deferred reschedule runs now.
func (k *Kernel) UnlockScheduler() {
	tok := k.LockInterrupts()
	if k.schedLockDepth == 0 {
		k.UnlockInterrupts(tok)
		return
	}
	k.schedLockDepth--
	runDeferred := k.schedLockDepth == 0 && k.switchPending
	if runDeferred {
		k.switchPending = false
	}
	k.UnlockInterrupts(tok)

	if runDeferred {
		k.reschedule()
	}
}

// inCriticalSection reports whether the scheduler lock is currently held.
// The scheduler never preempts while true (§4.4): requestSwitch defers
// instead of acting immediately.
func (k *Kernel) inCriticalSection() bool {
	return k.schedLockDepth > 0
}

// requestSwitch is the single place preemption decisions are made. From
// ordinary thread context it performs the switch immediately. From ISR
// context it can't: the goroutine running the ISR is not the goroutine of
// the thread being preempted, so actually calling SwitchContext here would
// hand the baton to the wrong caller. Real hardware has no such problem
// (the ISR returns into the interrupted thread's own stack, and PendSV
// performs the switch there); a bare-metal port uses RequestContextSwitch
// to pend exactly that. The host port has no equivalent, so the switch is
// simply left for the preempted thread's own next suspension point — the
// cooperative-preemption limitation this package accepts for a host
// simulation (§10). Inside a critical section the switch is deferred until
// the lock count drops to zero either way (§4.4, §5).
func (k *Kernel) requestSwitch() {
	if k.isrDepth > 0 {
		k.port.RequestContextSwitch()
		return
	}
	if k.inCriticalSection() {
		k.switchPending = true
		return
	}
	k.reschedule()
}

// checkNotISR returns ErrISRForbidden when called while the kernel
// considers itself inside ISR context (§4.1, §7); primitives not marked
// ISR-safe call this first. ISR context is tracked by the kernel itself
// (isrDepth, bumped around Tick and the FromISR entry points) rather than
// queried from the port, so host and bare-metal ports share identical
// policy without the port needing to read a hardware IPSR-equivalent.
func (k *Kernel) checkNotISR() Error {
	if k.isrDepth > 0 {
		return ErrISRForbidden
	}
	return OK
}

func (k *Kernel) enterISR()  { k.isrDepth++ }
func (k *Kernel) leaveISR() {
	if k.isrDepth > 0 {
		k.isrDepth--
	}
}
