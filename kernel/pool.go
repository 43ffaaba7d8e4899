package kernel

// PoolAttr configures a Pool at construction. Storage must be at least
// BlockSize*BlockCount bytes and is sliced in place; the kernel never
// allocates it (§4.10, same externally-owned-memory discipline as
// ThreadAttr's stack).
type PoolAttr struct {
	BlockSize  uint32
	BlockCount uint32
	Storage    []byte
}

// Pool is a fixed-block memory pool (C10). Every block is the same size,
// so allocation is O(1) and never fragments. Free hands a freed block
// directly to the highest-priority blocked allocator when one exists,
// rather than returning it to the free list for that allocator to then
// race to claim.
type Pool struct {
	waiters   WaitQueue
	blockSize uint32
	free      [][]byte

	// index records the start address of every block InitPool carved out of
	// Storage, so Free (§4.10/§4.9) can reject a foreign or misaligned
	// pointer instead of silently corrupting the free list. Keyed on the
	// block's first-byte address rather than using unsafe.Pointer
	// arithmetic over the region, since a plain pointer comparison already
	// proves both "inside the region" and "block-aligned" — only an exact
	// block start is ever a key.
	index map[*byte]bool
}

// InitPool partitions Storage into BlockCount blocks of BlockSize bytes,
// all initially free.
func (k *Kernel) InitPool(p *Pool, attr PoolAttr) Error {
	if attr.BlockSize == 0 || attr.BlockCount == 0 {
		return ErrInvalidArgument
	}
	need := uint64(attr.BlockSize) * uint64(attr.BlockCount)
	if uint64(len(attr.Storage)) < need {
		return ErrInvalidArgument
	}
	p.waiters.InitWaitQueue(WaitKindPool, p)
	p.blockSize = attr.BlockSize
	p.free = make([][]byte, 0, attr.BlockCount)
	p.index = make(map[*byte]bool, attr.BlockCount)
	for i := uint32(0); i < attr.BlockCount; i++ {
		off := uint64(i) * uint64(attr.BlockSize)
		block := attr.Storage[off : off+uint64(attr.BlockSize)]
		p.free = append(p.free, block)
		p.index[&block[0]] = true
	}
	return OK
}

// Alloc blocks until a block is available.
func (k *Kernel) Alloc(p *Pool) ([]byte, Error) {
	return k.allocInternal(p, Forever, false, false)
}

// TryAlloc returns a block if one is immediately free; never blocks.
func (k *Kernel) TryAlloc(p *Pool) ([]byte, Error) {
	return k.allocInternal(p, 0, false, true)
}

// TimedAlloc blocks for at most timeout ticks.
func (k *Kernel) TimedAlloc(p *Pool, timeout Tick) ([]byte, Error) {
	tok := k.LockInterrupts()
	deadline := k.clock.Deadline(timeout)
	k.UnlockInterrupts(tok)
	return k.allocInternal(p, deadline, true, false)
}

func (k *Kernel) allocInternal(p *Pool, deadline Tick, hasDeadline, try bool) ([]byte, Error) {
	if err := k.checkNotISR(); err.Failed() {
		return nil, err
	}
	tok := k.LockInterrupts()
	if n := len(p.free); n > 0 {
		block := p.free[n-1]
		p.free = p.free[:n-1]
		k.UnlockInterrupts(tok)
		return block, OK
	}
	if try {
		k.UnlockInterrupts(tok)
		return nil, ErrResourceUnavailable
	}
	t := k.running
	result := k.blockLocked(tok, &p.waiters, deadline, hasDeadline)
	if result != OK {
		return nil, result
	}
	block := t.pendingBlock
	t.pendingBlock = nil
	return block, OK
}

// Free returns block to p. block must be exactly one of the slices InitPool
// carved out of the pool's storage — the right length and starting at a
// block boundary (§4.9); anything else is rejected rather than corrupting
// the free list. If a thread is blocked in Alloc/TimedAlloc, the block is
// handed to the highest-priority one directly instead of going through the
// free list (§4.10).
func (k *Kernel) Free(p *Pool, block []byte) Error {
	if err := k.checkNotISR(); err.Failed() {
		return err
	}
	if uint32(len(block)) != p.blockSize || !p.index[&block[0]] {
		return ErrInvalidArgument
	}
	tok := k.LockInterrupts()
	if next := p.waiters.DequeueHighest(); next != nil {
		if next.timerLink != nil {
			k.cancelTimerEntryLocked(next.timerLink)
			next.timerLink = nil
		}
		next.pendingBlock = block
		next.waitResult = OK
		k.readyLocked(next)
		k.UnlockInterrupts(tok)
		k.requestSwitch()
		return OK
	}
	p.free = append(p.free, block)
	k.UnlockInterrupts(tok)
	return OK
}

// DestroyPool releases p's bookkeeping. p must be idle: no thread blocked
// in Alloc/TimedAlloc. Destroying a contended pool is a programming error
// and panics rather than returning an error code (§7 fatal conditions).
func (k *Kernel) DestroyPool(p *Pool) Error {
	tok := k.LockInterrupts()
	defer k.UnlockInterrupts(tok)
	if !p.waiters.Idle() {
		panic("kernel: destroying a pool with blocked allocators")
	}
	return OK
}
