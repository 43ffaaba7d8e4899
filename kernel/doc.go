// Package kernel implements the core of a small preemptive, priority-based
// real-time scheduler for single-core targets: the ready set and wait-queue
// primitives, the scheduler state machine, the tick-driven timer subsystem,
// and the synchronization/IPC objects built on top of them (mutex with
// priority inheritance/ceiling, counting semaphore, event flags, condition
// variable, fixed-block memory pool, and priority message queue).
//
// Synchronization objects are embedded in caller-provided storage; threads
// are allocated by NewThread. The control path also allocates from the Go
// heap: timer entries for timed waits and timers, the priority-inheritance
// walk's visited set, and growth of message-queue buffers and of each
// thread's owned-mutex list. The scheduler talks to the outside world exclusively through the
// Port interface (see port.go) — the tick source, the context-switch
// trigger, and the interrupt mask/unmask primitives are supplied by a port
// implementation such as port/host, never imported directly.
package kernel
