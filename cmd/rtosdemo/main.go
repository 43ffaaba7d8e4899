// Command rtosdemo runs the kernel on the host port and drives a small
// priority-inheritance scenario to completion, printing the low-priority
// thread's observed effective priority as the handoff unfolds.
//
//go:build !tinygo

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/armint/micro-os-plus-iii/kernel"
	"github.com/armint/micro-os-plus-iii/port/host"
)

func main() {
	var tickHz int
	flag.IntVar(&tickHz, "hz", 1000, "Tick rate driving the kernel clock.")
	flag.Parse()

	p := host.New(func(line string) { fmt.Fprintln(os.Stderr, line) })
	k := kernel.New(p)
	p.Bind(k)

	kernel.SetPanicHandler(func(info kernel.PanicInfo) {
		fmt.Fprintf(os.Stderr, "fatal: %s panicked: %v\n%s\n", info.Label, info.Value, info.Stack)
	})

	if err := k.Initialize(); err.Failed() {
		fmt.Fprintln(os.Stderr, "initialize:", err)
		os.Exit(1)
	}

	var m kernel.Mutex
	k.InitMutex(&m, kernel.MutexAttr{Type: kernel.MutexNormal, Protocol: kernel.ProtocolInherit})

	done := make(chan struct{})
	var mDone, hDone atomic.Bool

	low, _ := k.NewThread(kernel.ThreadAttr{Name: "L", Priority: 10}, func(arg any) {
		fmt.Println("L: locking m")
		k.Lock(&m)
		fmt.Printf("L: acquired m, effective priority now %d\n", k.Current().EffectivePriority())
		k.SleepFor(5)
		fmt.Printf("L: releasing m (effective priority was %d)\n", k.Current().EffectivePriority())
		k.Unlock(&m)
		fmt.Println("L: done")
		k.Exit(nil)
	}, nil)

	medium, _ := k.NewThread(kernel.ThreadAttr{Name: "M", Priority: 20}, func(arg any) {
		for i := 0; i < 3; i++ {
			k.SleepFor(1)
		}
		fmt.Println("M: ran")
		mDone.Store(true)
		if mDone.Load() && hDone.Load() {
			close(done)
		}
		k.Exit(nil)
	}, nil)

	high, _ := k.NewThread(kernel.ThreadAttr{Name: "H", Priority: 30}, func(arg any) {
		k.SleepFor(1)
		fmt.Println("H: locking m (forces inheritance on L)")
		k.Lock(&m)
		fmt.Println("H: acquired m")
		k.Unlock(&m)
		hDone.Store(true)
		if mDone.Load() && hDone.Load() {
			close(done)
		}
		k.Exit(nil)
	}, nil)

	k.Activate(low)
	k.Activate(medium)
	k.Activate(high)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go func() {
		<-done
		p.Stop()
	}()

	period := time.Duration(1_000_000/tickHz) * time.Microsecond
	if err := p.Run(ctx, period); err != nil && err != context.Canceled {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
