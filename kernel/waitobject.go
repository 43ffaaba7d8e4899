package kernel

// This file holds the generic half of the wait-object protocol shared by
// every blocking primitive in the kernel (§3 "WaitObject", §9 "tagged
// variant plus a shared WaitQueue"): how a thread blocks, how it is woken,
// and how a timeout or cancellation releases it. Mutex/Semaphore/EventFlags
// /CondVar/Pool/MessageQueue each call into these helpers instead of
// re-implementing block/wake/timeout bookkeeping.

// blockLocked parks the running thread on wq until woken, timed out, or
// canceled. Caller holds the interrupt lock (tok) and has already done any
// primitive-specific bookkeeping (e.g. decrementing a semaphore count
// would NOT be done — that only happens when acquisition actually
// succeeds). On return, the interrupt lock is no longer held.
func (k *Kernel) blockLocked(tok IRQState, wq *WaitQueue, deadline Tick, hasDeadline bool) Error {
	t := k.running
	wq.Enqueue(t)
	t.state = StateBlocked
	if hasDeadline {
		k.scheduleTimeoutLocked(t, deadline)
	}
	k.UnlockInterrupts(tok)

	k.reschedule()

	return t.waitResult
}

// wakeLocked releases t from whatever it is blocked on (wait queue and/or
// pending timeout) with the given result and makes it ready. Caller holds
// the interrupt lock.
func (k *Kernel) wakeLocked(t *Thread, result Error) {
	if t.currentWait != nil {
		t.currentWait.Remove(t)
	}
	if t.timerLink != nil {
		k.cancelTimerEntryLocked(t.timerLink)
		t.timerLink = nil
	}
	t.waitResult = result
	k.readyLocked(t)
}

// wakeHighestLocked wakes the highest-priority waiter on wq, if any, and
// reports whether a waiter was woken.
func (k *Kernel) wakeHighestLocked(wq *WaitQueue, result Error) bool {
	t := wq.head
	if t == nil {
		return false
	}
	// t.currentWait == wq; wakeLocked's Remove call is redundant with the
	// dequeue we could do here, so unlink directly and ready it.
	wq.Remove(t)
	if t.timerLink != nil {
		k.cancelTimerEntryLocked(t.timerLink)
		t.timerLink = nil
	}
	t.waitResult = result
	k.readyLocked(t)
	return true
}

// wakeAllLocked wakes every waiter on wq with the given result.
func (k *Kernel) wakeAllLocked(wq *WaitQueue, result Error) {
	for {
		if !k.wakeHighestLocked(wq, result) {
			return
		}
	}
}
