package kernel

// CondVar is a condition variable used together with a caller-chosen Mutex
// (C9/§4.9). Wait atomically releases the mutex and blocks, then reacquires
// it before returning, mirroring the teacher pack's "unlock, park, relock"
// discipline for channel-backed waits.
type CondVar struct {
	waiters WaitQueue
}

// InitCondVar initializes c.
func (k *Kernel) InitCondVar(c *CondVar) Error {
	c.waiters.InitWaitQueue(WaitKindCondVar, c)
	return OK
}

// CondWait releases m, blocks until NotifyOne/NotifyAll wakes this thread,
// then reacquires m before returning. The release and the block happen as
// one atomic step under the interrupt lock, so a Notify racing with the
// start of CondWait can never be lost (§4.9 "no missed wakeup between
// unlock and block").
func (k *Kernel) CondWait(c *CondVar, m *Mutex) Error {
	return k.condWaitInternal(c, m, Forever, false)
}

// CondTimedWait is CondWait bounded by timeout ticks. On timeout m is still
// reacquired before returning, matching CondWait's postcondition that the
// caller always leaves holding m.
func (k *Kernel) CondTimedWait(c *CondVar, m *Mutex, timeout Tick) Error {
	tok := k.LockInterrupts()
	deadline := k.clock.Deadline(timeout)
	k.UnlockInterrupts(tok)
	return k.condWaitInternal(c, m, deadline, true)
}

func (k *Kernel) condWaitInternal(c *CondVar, m *Mutex, deadline Tick, hasDeadline bool) Error {
	if err := k.checkNotISR(); err.Failed() {
		return err
	}
	t := k.running

	tok := k.LockInterrupts()
	if unlockErr := k.unlockLocked(m, t); unlockErr.Failed() {
		k.UnlockInterrupts(tok)
		return unlockErr
	}
	result := k.blockLocked(tok, &c.waiters, deadline, hasDeadline)

	if relockErr := k.Lock(m); relockErr.Failed() {
		if !result.Failed() {
			return relockErr
		}
	}
	return result
}

// NotifyOne wakes the highest-priority waiter, if any (§4.9).
func (k *Kernel) NotifyOne(c *CondVar) Error {
	tok := k.LockInterrupts()
	k.wakeHighestLocked(&c.waiters, OK)
	k.UnlockInterrupts(tok)
	k.requestSwitch()
	return OK
}

// NotifyAll wakes every waiter (§4.9).
func (k *Kernel) NotifyAll(c *CondVar) Error {
	tok := k.LockInterrupts()
	k.wakeAllLocked(&c.waiters, OK)
	k.UnlockInterrupts(tok)
	k.requestSwitch()
	return OK
}

// DestroyCondVar releases c's bookkeeping. c must be idle: no blocked
// waiters. Destroying a contended condition variable is a programming
// error and panics rather than returning an error code (§7 fatal
// conditions).
func (k *Kernel) DestroyCondVar(c *CondVar) Error {
	tok := k.LockInterrupts()
	defer k.UnlockInterrupts(tok)
	if !c.waiters.Idle() {
		panic("kernel: destroying a condition variable with blocked waiters")
	}
	return OK
}
