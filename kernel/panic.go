package kernel

import (
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// PanicInfo describes a panic recovered from a thread's entry function
// (§10, grounded on the teacher pack's sparkos/kernel PanicInfo/
// SetPanicHandler convention). Label is whatever identifying string the
// Port's trampoline had on hand — the Port interface is not given a
// *Thread, only the raw entry/arg pair (§9's 6-function contract), so it
// cannot report a ThreadID here the way the teacher's handler reports a
// TaskID.
type PanicInfo struct {
	Label string
	Value any
	Stack []byte
}

var (
	panicActive atomic.Bool
	panicOnce   sync.Once

	panicHandler atomic.Value // func(PanicInfo)
)

// InPanicMode reports whether some thread has already panicked process-wide.
func InPanicMode() bool {
	return panicActive.Load()
}

// SetPanicHandler installs a process-wide panic hook. It is invoked at
// most once, on the first panic recovered from any thread's entry
// function; it must not itself panic.
func SetPanicHandler(fn func(PanicInfo)) {
	panicHandler.Store(fn)
}

// RecoverThreadPanic is deferred by a Port's thread-entry trampoline
// around the call to a thread's entry function. It recovers the panic (if
// any), reports it through the process-wide handler exactly once, and
// reports whether it recovered one — the calling goroutine is expected to
// park forever afterward rather than exit, the same fault-halt discipline
// the teacher's own panic handler uses (ending in a display loop that
// never returns) rather than crashing the whole process over one thread.
func RecoverThreadPanic(label string) (recovered bool) {
	v := recover()
	if v == nil {
		return false
	}
	panicOnce.Do(func() {
		panicActive.Store(true)
		info := PanicInfo{Label: label, Value: v, Stack: debug.Stack()}
		if h := panicHandler.Load(); h != nil {
			if fn, ok := h.(func(PanicInfo)); ok && fn != nil {
				fn(info)
			}
		}
	})
	return true
}
