package kernel

// IRQState is the opaque previous-interrupt-state token returned by
// Port.DisableInterrupts and consumed by Port.RestoreInterrupts (§4.1, §6).
// Its representation is port-specific; the kernel never inspects it.
type IRQState uint32

// StackPointer is an opaque handle to a thread's saved stack pointer.
// Its representation is port-specific (a real pointer on hardware, a
// goroutine handle on the host port).
type StackPointer uintptr

// Port is the narrow contract the scheduler needs from the outside world
// (§6): a tick source, a way to request a context switch, interrupt
// masking, and thread stack setup/switch primitives. Exactly one Port
// implementation is wired into a Kernel at Initialize time.
//
// Grounded on hal.HAL (QubicOS-Spark/hal/hal.go): one interface at the
// boundary between the core and the platform, with host/tinygo
// implementations selected by build tag. Port plays the same role one layer
// down, at the scheduler/ISR boundary instead of the application/device
// boundary.
type Port interface {
	// TickNow returns the port's free-running tick counter. The kernel does
	// not call it (Clock starts at zero); tick advancement is driven by the
	// port calling Kernel.Tick from its interrupt handler (or, on a
	// goroutine-backed host port, from a driver goroutine).
	TickNow() Tick

	// RequestContextSwitch asks the port to arrange for SwitchContext to run
	// at the next opportunity (on hardware: pends a PendSV-equivalent
	// exception at the lowest priority). It must be safe to call from ISR
	// context and from within a critical section.
	RequestContextSwitch()

	// DisableInterrupts masks maskable interrupts and returns a token that
	// restores the previous mask state. Calls compose correctly when
	// nested: saving-then-restoring a token composes LIFO without the
	// kernel tracking depth itself, exactly as save/restore of a Cortex-M
	// PRIMASK bit would.
	DisableInterrupts() IRQState

	// RestoreInterrupts restores the interrupt mask state captured by tok.
	RestoreInterrupts(tok IRQState)

	// InitialStack prepares a new thread's stack so that, once switched to,
	// it begins executing entry(arg) on stackBase[:stackSize]. It returns
	// the initial stack pointer to store in the thread's TCB.
	InitialStack(entry func(arg any), arg any, stackBase []byte, stackSize uint32) StackPointer

	// SwitchContext saves the running thread's stack pointer into *prevSP
	// and switches execution to nextSP. On a real target this is the
	// assembly context-switch routine; it never returns to its caller until
	// this thread is switched back in, at which point it returns normally.
	SwitchContext(prevSP *StackPointer, nextSP StackPointer)
}
