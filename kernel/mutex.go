package kernel

// MutexType selects recursive-lock behavior (§4.6).
type MutexType uint8

const (
	MutexNormal MutexType = iota
	MutexRecursive
	MutexErrorCheck
)

// MutexProtocol selects the priority protocol applied on contention (§4.6).
type MutexProtocol uint8

const (
	ProtocolNone MutexProtocol = iota
	ProtocolInherit
	ProtocolProtect
)

// MutexRobustness selects whether owner death is recoverable (§4.6).
type MutexRobustness uint8

const (
	MutexStalled MutexRobustness = iota
	MutexRobust
)

// MutexAttr configures a Mutex at construction (§9).
type MutexAttr struct {
	Type        MutexType
	Protocol    MutexProtocol
	Robustness  MutexRobustness
	PrioCeiling int8 // only meaningful when Protocol == ProtocolProtect
}

// Mutex implements §4.6: recursive/errorcheck/normal locking with the
// NONE/INHERIT/PROTECT priority protocols and, for MutexRobust mutexes,
// owner-death recovery.
type Mutex struct {
	waiters WaitQueue

	owner          *Thread
	recursiveDepth uint32

	mtype      MutexType
	protocol   MutexProtocol
	robustness MutexRobustness

	prioCeiling int8

	consistent       bool
	pendingOwnerDead bool
}

// InitMutex initializes m. Must be called before any other Mutex method.
func (k *Kernel) InitMutex(m *Mutex, attr MutexAttr) Error {
	if attr.Protocol == ProtocolProtect && (attr.PrioCeiling < MinPriority || attr.PrioCeiling > MaxPriority) {
		return ErrInvalidArgument
	}
	m.waiters.InitWaitQueue(WaitKindMutex, m)
	m.mtype = attr.Type
	m.protocol = attr.Protocol
	m.robustness = attr.Robustness
	m.prioCeiling = attr.PrioCeiling
	m.consistent = true
	return OK
}

// Lock blocks until m is acquired (§4.6).
func (k *Kernel) Lock(m *Mutex) Error {
	return k.lockInternal(m, Forever, false, false)
}

// TryLock acquires m if immediately possible; never blocks.
func (k *Kernel) TryLock(m *Mutex) Error {
	return k.lockInternal(m, 0, false, true)
}

// TimedLock acquires m, blocking at most timeout ticks.
func (k *Kernel) TimedLock(m *Mutex, timeout Tick) Error {
	tok := k.LockInterrupts()
	deadline := k.clock.Deadline(timeout)
	k.UnlockInterrupts(tok)
	return k.lockInternal(m, deadline, true, false)
}

func (k *Kernel) lockInternal(m *Mutex, deadline Tick, hasDeadline bool, try bool) Error {
	if err := k.checkNotISR(); err.Failed() {
		return err
	}
	tok := k.LockInterrupts()
	t := k.running

	if m.owner == t {
		switch m.mtype {
		case MutexRecursive:
			m.recursiveDepth++
			k.UnlockInterrupts(tok)
			return OK
		case MutexErrorCheck:
			k.UnlockInterrupts(tok)
			return ErrDeadlock
		default: // MutexNormal: recursive self-lock is undefined; detect and fail fast.
			k.UnlockInterrupts(tok)
			return ErrDeadlock
		}
	}

	if m.owner != nil && !m.consistent {
		k.UnlockInterrupts(tok)
		return ErrNotRecoverable
	}

	if m.owner == nil {
		ownerDead := m.pendingOwnerDead
		m.pendingOwnerDead = false
		k.acquireLocked(m, t)
		if ownerDead {
			m.consistent = false
		}
		k.UnlockInterrupts(tok)
		if ownerDead {
			return ErrOwnerDead
		}
		return OK
	}

	if try {
		k.UnlockInterrupts(tok)
		return ErrResourceUnavailable
	}

	if m.protocol == ProtocolInherit {
		k.boostPriorityLocked(m.owner, t.effectivePrio)
	}

	return k.blockLocked(tok, &m.waiters, deadline, hasDeadline)
}

// acquireLocked transfers ownership of m to t and applies protocol
// bookkeeping. Caller holds the interrupt lock.
func (k *Kernel) acquireLocked(m *Mutex, t *Thread) {
	m.owner = t
	m.recursiveDepth = 1
	t.ownedMutexes = append(t.ownedMutexes, m)

	if m.protocol == ProtocolProtect && m.prioCeiling > t.effectivePrio {
		oldBand := priorityBand(t.effectivePrio)
		t.effectivePrio = m.prioCeiling
		if t.state == StateReady {
			k.ready.reprioritize(t, oldBand)
		}
	}
}

// Unlock releases m. Only the owner may unlock; for recursive mutexes the
// depth must reach zero before the waiter handoff below happens (§4.6
// "Unlock rules").
func (k *Kernel) Unlock(m *Mutex) Error {
	if err := k.checkNotISR(); err.Failed() {
		return err
	}
	tok := k.LockInterrupts()
	err := k.unlockLocked(m, k.running)
	k.UnlockInterrupts(tok)
	if err == OK {
		k.reschedule()
	}
	return err
}

// unlockLocked performs the release-and-handoff for Unlock. It is also used
// by CondWait, which must release the associated mutex and enqueue
// itself on the condition variable as one atomic step under the interrupt
// lock, with no window in which a concurrent Notify could be missed.
// Caller holds the interrupt lock and must not have already started
// releasing m.
func (k *Kernel) unlockLocked(m *Mutex, t *Thread) Error {
	if m.owner != t {
		return ErrNotPermitted
	}
	if m.mtype == MutexRecursive && m.recursiveDepth > 1 {
		m.recursiveDepth--
		return OK
	}

	removeOwnedMutex(t, m)
	m.owner = nil
	m.recursiveDepth = 0
	k.recomputeEffectivePriorityLocked(t)

	if next := m.waiters.DequeueHighest(); next != nil {
		if next.timerLink != nil {
			k.cancelTimerEntryLocked(next.timerLink)
			next.timerLink = nil
		}
		k.acquireLocked(m, next)
		next.waitResult = OK
		k.readyLocked(next)
	}
	return OK
}

// DestroyMutex releases m back to the caller. m must be idle: unowned and
// with no blocked waiters. Destroying a held or contended mutex is a
// programming error and panics rather than returning an error code (§7
// fatal conditions); destroying an already-idle mutex again is a no-op.
func (k *Kernel) DestroyMutex(m *Mutex) Error {
	tok := k.LockInterrupts()
	defer k.UnlockInterrupts(tok)
	if m.owner != nil || !m.waiters.Idle() {
		panic("kernel: destroying a mutex that is still owned or has waiters")
	}
	return OK
}

// MarkConsistent recovers a robust mutex after the calling thread acquired
// it with ErrOwnerDead, returning it to normal operation (§4.6, §8
// scenario 6).
func (k *Kernel) MarkConsistent(m *Mutex) Error {
	tok := k.LockInterrupts()
	defer k.UnlockInterrupts(tok)

	if m.owner != k.running {
		return ErrNotPermitted
	}
	m.consistent = true
	return OK
}

// GetPrioCeiling returns the PROTECT ceiling configured for m (§12).
func (m *Mutex) GetPrioCeiling() int8 { return m.prioCeiling }

// SetPrioCeiling changes the PROTECT ceiling. The caller must not hold m.
func (k *Kernel) SetPrioCeiling(m *Mutex, ceiling int8) Error {
	if ceiling < MinPriority || ceiling > MaxPriority {
		return ErrInvalidArgument
	}
	tok := k.LockInterrupts()
	defer k.UnlockInterrupts(tok)
	if m.owner != nil {
		return ErrNotPermitted
	}
	m.prioCeiling = ceiling
	return OK
}

// releaseDeadOwner is called from Exit for every mutex a terminating
// thread still holds (§3 "a terminated thread holds no locks", §4.6
// robustness). Non-robust mutexes simply release; robust mutexes flag the
// next acquirer with ErrOwnerDead and go inconsistent.
func (k *Kernel) releaseDeadOwner(m *Mutex, t *Thread) {
	tok := k.LockInterrupts()

	if m.owner != t {
		k.UnlockInterrupts(tok)
		return
	}
	removeOwnedMutex(t, m)
	m.owner = nil
	m.recursiveDepth = 0
	k.recomputeEffectivePriorityLocked(t)

	if m.robustness == MutexRobust {
		m.pendingOwnerDead = true
		// Inconsistent mutexes with no owner still refuse lock() to anyone
		// but the thread that performs the recovering acquisition; that
		// acquisition clears pendingOwnerDead, so waiters are left queued
		// until then rather than woken with a stale result now.
		k.UnlockInterrupts(tok)
		return
	}

	if next := m.waiters.DequeueHighest(); next != nil {
		if next.timerLink != nil {
			k.cancelTimerEntryLocked(next.timerLink)
			next.timerLink = nil
		}
		k.acquireLocked(m, next)
		next.waitResult = OK
		k.readyLocked(next)
	}
	k.UnlockInterrupts(tok)
	k.reschedule()
}

func removeOwnedMutex(t *Thread, m *Mutex) {
	for i, om := range t.ownedMutexes {
		if om == m {
			t.ownedMutexes = append(t.ownedMutexes[:i], t.ownedMutexes[i+1:]...)
			return
		}
	}
}

// boostPriorityLocked raises t's effective priority to at least newPrio and
// propagates the boost transitively across the chain of mutexes t itself
// may be blocked on (§4.6 "Boost propagates transitively across mutex
// chains"). The walk is bounded by the number of distinct threads visited
// (§9 cycle detection) even though no legitimate ownership graph can cycle.
func (k *Kernel) boostPriorityLocked(t *Thread, newPrio int8) {
	visited := make(map[*Thread]bool)
	for t != nil && !visited[t] {
		visited[t] = true
		if newPrio <= t.effectivePrio {
			return
		}
		oldBand := priorityBand(t.effectivePrio)
		t.effectivePrio = newPrio

		switch t.state {
		case StateReady:
			k.ready.reprioritize(t, oldBand)
		case StateBlocked:
			if t.currentWait != nil {
				t.currentWait.Reorder(t)
			}
		}

		next := (*Thread)(nil)
		if t.currentWait != nil && t.currentWait.kind == WaitKindMutex {
			if owner, ok := t.currentWait.owner.(*Mutex); ok && owner.owner != nil {
				next = owner.owner
			}
		}
		t = next
	}
}

// recomputeEffectivePriorityLocked restores t's effective priority to the
// maximum of its stable priority and the boosts still owed by the mutexes
// it continues to hold, after one of those mutexes has just been released
// or reassigned (§4.6 "On release, recompute...").
func (k *Kernel) recomputeEffectivePriorityLocked(t *Thread) {
	best := t.stablePrio
	for _, m := range t.ownedMutexes {
		switch m.protocol {
		case ProtocolInherit:
			if w := m.waiters.PeekHighest(); w != nil && w.effectivePrio > best {
				best = w.effectivePrio
			}
		case ProtocolProtect:
			if m.prioCeiling > best {
				best = m.prioCeiling
			}
		}
	}
	if best == t.effectivePrio {
		return
	}
	oldBand := priorityBand(t.effectivePrio)
	t.effectivePrio = best
	switch t.state {
	case StateReady:
		k.ready.reprioritize(t, oldBand)
	case StateBlocked:
		if t.currentWait != nil {
			t.currentWait.Reorder(t)
		}
	}
}
