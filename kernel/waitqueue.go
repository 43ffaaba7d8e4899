package kernel

// WaitObjectKind tags which concrete synchronization object owns a
// WaitQueue. The scheduler dispatches "how to finish a wake" on this tag
// instead of through virtual dispatch (§9: "deep inheritance hierarchies of
// wait objects are replaced by a tagged variant plus a shared WaitQueue").
type WaitObjectKind uint8

const (
	WaitKindNone WaitObjectKind = iota
	WaitKindSleep
	WaitKindMutex
	WaitKindSemaphore
	WaitKindEventFlags
	WaitKindCondVar
	WaitKindPool
	WaitKindQueueSend
	WaitKindQueueRecv
	WaitKindJoin
)

// WaitQueue is a priority-ordered sequence of blocked threads bound to one
// wait object (C4): descending by effective priority, FIFO within a band.
// Reusable by every synchronization primitive in the kernel — mutex,
// semaphore, event flags, condition variable, pool, and message queue all
// embed one.
type WaitQueue struct {
	kind   WaitObjectKind
	owner  any // the concrete *Mutex / *Semaphore / ... ; nil for WaitKindSleep
	head   *Thread
	tail   *Thread
	length uint32
}

// InitWaitQueue binds a WaitQueue to its owning object and kind. Called
// once, from the owning object's constructor.
func (wq *WaitQueue) InitWaitQueue(kind WaitObjectKind, owner any) {
	wq.kind = kind
	wq.owner = owner
}

// Len reports the number of threads currently queued.
func (wq *WaitQueue) Len() uint32 { return wq.length }

// PeekHighest returns the highest-priority waiter without removing it.
func (wq *WaitQueue) PeekHighest() *Thread { return wq.head }

// Idle reports whether the wait queue has no waiters, the precondition for
// destroying the owning object (§3: "destroying a non-idle object is a
// programming error").
func (wq *WaitQueue) Idle() bool { return wq.head == nil }

// Enqueue inserts t in descending-effective-priority order, FIFO within a
// band (§4.3). O(n) in queue length, bounded in practice per spec.
func (wq *WaitQueue) Enqueue(t *Thread) {
	var prev *Thread
	cur := wq.head
	for cur != nil && cur.effectivePrio >= t.effectivePrio {
		prev = cur
		cur = cur.linkNext
	}
	t.linkPrev = prev
	t.linkNext = cur
	if prev != nil {
		prev.linkNext = t
	} else {
		wq.head = t
	}
	if cur != nil {
		cur.linkPrev = t
	} else {
		wq.tail = t
	}
	wq.length++
	t.currentWait = wq
}

// DequeueHighest removes and returns the highest-priority waiter, or nil.
func (wq *WaitQueue) DequeueHighest() *Thread {
	t := wq.head
	if t == nil {
		return nil
	}
	wq.unlink(t)
	return t
}

// Remove removes an arbitrary waiter (used by timeout expiry and explicit
// cancel — §5 "Cancellation").
func (wq *WaitQueue) Remove(t *Thread) {
	if t.currentWait != wq {
		return
	}
	wq.unlink(t)
}

func (wq *WaitQueue) unlink(t *Thread) {
	if t.linkPrev != nil {
		t.linkPrev.linkNext = t.linkNext
	} else {
		wq.head = t.linkNext
	}
	if t.linkNext != nil {
		t.linkNext.linkPrev = t.linkPrev
	} else {
		wq.tail = t.linkPrev
	}
	t.linkPrev, t.linkNext = nil, nil
	t.currentWait = nil
	wq.length--
}

// Reorder re-splices t after an effective-priority change so the queue
// stays sorted (§4.3: "supports priority-reinsertion on priority change").
func (wq *WaitQueue) Reorder(t *Thread) {
	if t.currentWait != wq {
		return
	}
	wq.unlink(t)
	wq.Enqueue(t)
}

// Each calls fn for every waiter, highest priority first. fn must not
// mutate the queue.
func (wq *WaitQueue) Each(fn func(*Thread)) {
	for cur := wq.head; cur != nil; cur = cur.linkNext {
		fn(cur)
	}
}
