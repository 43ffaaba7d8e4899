package kernel

// Semaphore is a counting semaphore bounded by max (C8). Unlike a mutex it
// has no owner and applies no priority protocol: Post hands its unit
// directly to the highest-priority waiter rather than incrementing count
// and letting that waiter race to claim it, so wakeups are FIFO-fair within
// a priority band with no lost-wakeup window (§4.7).
type Semaphore struct {
	waiters WaitQueue
	count   uint32
	max     uint32
}

// InitSemaphore initializes s with the given initial count, bounded by max.
func (k *Kernel) InitSemaphore(s *Semaphore, initialCount, max uint32) Error {
	if max == 0 || initialCount > max {
		return ErrInvalidArgument
	}
	s.waiters.InitWaitQueue(WaitKindSemaphore, s)
	s.count = initialCount
	s.max = max
	return OK
}

// Post releases one unit of s, waking the highest-priority waiter if any is
// blocked, or else incrementing the count up to max (§4.7).
func (k *Kernel) Post(s *Semaphore) Error {
	if err := k.checkNotISR(); err.Failed() {
		return err
	}
	return k.postLocked(s)
}

// PostFromISR is the ISR-safe variant of Post, for use from Tick-driven or
// port-level interrupt handlers (§5's allowed-from-ISR list).
func (k *Kernel) PostFromISR(s *Semaphore) Error {
	k.enterISR()
	err := k.postLocked(s)
	k.leaveISR()
	return err
}

func (k *Kernel) postLocked(s *Semaphore) Error {
	tok := k.LockInterrupts()
	if k.wakeHighestLocked(&s.waiters, OK) {
		k.UnlockInterrupts(tok)
		k.requestSwitch()
		return OK
	}
	if s.count >= s.max {
		k.UnlockInterrupts(tok)
		return ErrResourceUnavailable
	}
	s.count++
	k.UnlockInterrupts(tok)
	return OK
}

// Wait blocks until a unit of s is available.
func (k *Kernel) Wait(s *Semaphore) Error {
	return k.waitInternal(s, Forever, false, false)
}

// TryWait acquires a unit of s if immediately available; never blocks.
func (k *Kernel) TryWait(s *Semaphore) Error {
	return k.waitInternal(s, 0, false, true)
}

// TimedWait blocks until a unit of s is available or timeout ticks elapse.
func (k *Kernel) TimedWait(s *Semaphore, timeout Tick) Error {
	tok := k.LockInterrupts()
	deadline := k.clock.Deadline(timeout)
	k.UnlockInterrupts(tok)
	return k.waitInternal(s, deadline, true, false)
}

func (k *Kernel) waitInternal(s *Semaphore, deadline Tick, hasDeadline, try bool) Error {
	if err := k.checkNotISR(); err.Failed() {
		return err
	}
	tok := k.LockInterrupts()
	if s.count > 0 {
		s.count--
		k.UnlockInterrupts(tok)
		return OK
	}
	if try {
		k.UnlockInterrupts(tok)
		return ErrResourceUnavailable
	}
	return k.blockLocked(tok, &s.waiters, deadline, hasDeadline)
}

// Reset clears s's count to zero and fails every blocked waiter with
// ErrResourceUnavailable (§4.8) rather than leaving them parked on a
// semaphore that no longer has the count they were waiting for.
func (k *Kernel) Reset(s *Semaphore) Error {
	tok := k.LockInterrupts()
	k.wakeAllLocked(&s.waiters, ErrResourceUnavailable)
	s.count = 0
	k.UnlockInterrupts(tok)
	k.requestSwitch()
	return OK
}

// DestroySemaphore releases s's bookkeeping. s must be idle: no blocked
// waiters. Destroying a contended semaphore is a programming error and
// panics rather than returning an error code (§7 fatal conditions).
func (k *Kernel) DestroySemaphore(s *Semaphore) Error {
	tok := k.LockInterrupts()
	defer k.UnlockInterrupts(tok)
	if !s.waiters.Idle() {
		panic("kernel: destroying a semaphore with blocked waiters")
	}
	return OK
}

// GetCount returns the number of units currently available (§12).
func (k *Kernel) GetCount(s *Semaphore) uint32 {
	tok := k.LockInterrupts()
	defer k.UnlockInterrupts(tok)
	return s.count
}
