package kernel

// queueItem is one buffered entry: priority determines delivery order,
// highest first, FIFO among equal priorities (§4.11).
type queueItem struct {
	msg  any
	prio int8
}

// MessageQueue is a fixed-capacity priority FIFO (C11). When a receiver is
// already blocked on an empty queue, Send hands its message straight to
// that receiver instead of buffering it. Receive always takes the
// highest-priority buffered message first; when a sender is blocked on the
// full queue, its message is then inserted into the slot just freed, and a
// message is taken straight from a blocked sender only when the buffer is
// empty.
type MessageQueue struct {
	sendWaiters WaitQueue
	recvWaiters WaitQueue
	items       []queueItem
	capacity    uint32
}

// InitMessageQueue initializes q with the given fixed capacity.
func (k *Kernel) InitMessageQueue(q *MessageQueue, capacity uint32) Error {
	if capacity == 0 {
		return ErrInvalidArgument
	}
	q.sendWaiters.InitWaitQueue(WaitKindQueueSend, q)
	q.recvWaiters.InitWaitQueue(WaitKindQueueRecv, q)
	q.capacity = capacity
	q.items = nil
	return OK
}

func insertItem(items []queueItem, it queueItem) []queueItem {
	i := 0
	for i < len(items) && items[i].prio >= it.prio {
		i++
	}
	items = append(items, queueItem{})
	copy(items[i+1:], items[i:])
	items[i] = it
	return items
}

// Send blocks until msg is accepted, either delivered directly to a
// waiting receiver or buffered if there is room.
func (k *Kernel) Send(q *MessageQueue, msg any, prio int8) Error {
	return k.sendInternal(q, msg, prio, Forever, false, false)
}

// TrySend accepts msg only if it can be delivered or buffered immediately.
func (k *Kernel) TrySend(q *MessageQueue, msg any, prio int8) Error {
	return k.sendInternal(q, msg, prio, 0, false, true)
}

// TimedSend blocks for at most timeout ticks.
func (k *Kernel) TimedSend(q *MessageQueue, msg any, prio int8, timeout Tick) Error {
	tok := k.LockInterrupts()
	deadline := k.clock.Deadline(timeout)
	k.UnlockInterrupts(tok)
	return k.sendInternal(q, msg, prio, deadline, true, false)
}

func (k *Kernel) sendInternal(q *MessageQueue, msg any, prio int8, deadline Tick, hasDeadline, try bool) Error {
	if err := k.checkNotISR(); err.Failed() {
		return err
	}
	tok := k.LockInterrupts()

	if next := q.recvWaiters.DequeueHighest(); next != nil {
		if next.timerLink != nil {
			k.cancelTimerEntryLocked(next.timerLink)
			next.timerLink = nil
		}
		next.pendingMsg = msg
		next.waitResult = OK
		k.readyLocked(next)
		k.UnlockInterrupts(tok)
		k.requestSwitch()
		return OK
	}

	if uint32(len(q.items)) < q.capacity {
		q.items = insertItem(q.items, queueItem{msg: msg, prio: prio})
		k.UnlockInterrupts(tok)
		return OK
	}

	if try {
		k.UnlockInterrupts(tok)
		return ErrResourceUnavailable
	}

	t := k.running
	t.pendingMsg = msg
	t.pendingPrio = prio
	return k.blockLocked(tok, &q.sendWaiters, deadline, hasDeadline)
}

// Receive blocks until a message is available.
func (k *Kernel) Receive(q *MessageQueue) (any, Error) {
	return k.receiveInternal(q, Forever, false, false)
}

// TryReceive returns a message only if one is immediately available.
func (k *Kernel) TryReceive(q *MessageQueue) (any, Error) {
	return k.receiveInternal(q, 0, false, true)
}

// TimedReceive blocks for at most timeout ticks.
func (k *Kernel) TimedReceive(q *MessageQueue, timeout Tick) (any, Error) {
	tok := k.LockInterrupts()
	deadline := k.clock.Deadline(timeout)
	k.UnlockInterrupts(tok)
	return k.receiveInternal(q, deadline, true, false)
}

func (k *Kernel) receiveInternal(q *MessageQueue, deadline Tick, hasDeadline, try bool) (any, Error) {
	if err := k.checkNotISR(); err.Failed() {
		return nil, err
	}
	tok := k.LockInterrupts()

	if len(q.items) > 0 {
		it := q.items[0]
		q.items = q.items[1:]
		admitted := k.admitOneSenderLocked(q)
		k.UnlockInterrupts(tok)
		if admitted {
			k.requestSwitch()
		}
		return it.msg, OK
	}

	if sender := q.sendWaiters.DequeueHighest(); sender != nil {
		if sender.timerLink != nil {
			k.cancelTimerEntryLocked(sender.timerLink)
			sender.timerLink = nil
		}
		msg := sender.pendingMsg
		sender.pendingMsg = nil
		sender.waitResult = OK
		k.readyLocked(sender)
		k.UnlockInterrupts(tok)
		k.requestSwitch()
		return msg, OK
	}

	if try {
		k.UnlockInterrupts(tok)
		return nil, ErrResourceUnavailable
	}

	t := k.running
	result := k.blockLocked(tok, &q.recvWaiters, deadline, hasDeadline)
	if result != OK {
		return nil, result
	}
	msg := t.pendingMsg
	t.pendingMsg = nil
	return msg, OK
}

// admitOneSenderLocked moves one blocked sender's message into the buffer
// slot Receive just freed, if any sender is waiting, and reports whether it
// did. Caller holds the interrupt lock.
func (k *Kernel) admitOneSenderLocked(q *MessageQueue) bool {
	sender := q.sendWaiters.DequeueHighest()
	if sender == nil {
		return false
	}
	if sender.timerLink != nil {
		k.cancelTimerEntryLocked(sender.timerLink)
		sender.timerLink = nil
	}
	q.items = insertItem(q.items, queueItem{msg: sender.pendingMsg, prio: sender.pendingPrio})
	sender.pendingMsg = nil
	sender.waitResult = OK
	k.readyLocked(sender)
	return true
}

// DestroyMessageQueue releases q's bookkeeping. q must be idle: no blocked
// senders or receivers. Destroying a contended queue is a programming
// error and panics rather than returning an error code (§7 fatal
// conditions).
func (k *Kernel) DestroyMessageQueue(q *MessageQueue) Error {
	tok := k.LockInterrupts()
	defer k.UnlockInterrupts(tok)
	if !q.sendWaiters.Idle() || !q.recvWaiters.Idle() {
		panic("kernel: destroying a message queue with blocked senders or receivers")
	}
	return OK
}

// Peek returns the highest-priority buffered message without removing it
// (§12). It does not see messages held by blocked senders, since those are
// not yet buffered.
func (k *Kernel) Peek(q *MessageQueue) (any, Error) {
	tok := k.LockInterrupts()
	defer k.UnlockInterrupts(tok)
	if len(q.items) == 0 {
		return nil, ErrResourceUnavailable
	}
	return q.items[0].msg, OK
}
