// Command kernel-demo wires up a Scheduler and runs a small pipeline over
// it, in the shape of eventloop's examples/01_basic_usage/main.go:
// construct, install a logger, submit some work, run to completion.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	kernel "github.com/leowzukw/async-kernel"
)

func main() {
	kernel.SetDefaultLogger(kernel.NewTextLogger(os.Stdout, kernel.LevelInfo))

	sched, err := kernel.NewScheduler(kernel.WithMetrics(true))
	if err != nil {
		fmt.Fprintln(os.Stderr, "new scheduler:", err)
		os.Exit(1)
	}

	// result carries the final sum out to main's own goroutine; it is the
	// only value that crosses goroutines here, so nothing Scheduler-owned
	// (Pipe, Ivar) is ever touched from outside the Scheduler's goroutine.
	result := make(chan int, 1)

	_ = sched.EnqueueExternalJob(func() {
		pipe := kernel.NewPipe[int](sched, 4)
		for i := 0; i < 8; i++ {
			_ = pipe.WriteWithoutPushback(i)
		}
		pipe.Close()

		sum := kernel.NewIvar[int](sched)
		var consume func(acc int)
		consume = func(acc int) {
			pipe.Read().Upon(func(pr kernel.Pair[int, bool]) {
				if !pr.Second {
					_ = sum.Fill(acc)
					return
				}
				consume(acc + pr.First)
			})
		}
		consume(0)

		sum.Read().Upon(func(v int) { result <- v })
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- sched.Run(ctx) }()

	select {
	case v := <-result:
		fmt.Println("sum:", v)
	case <-ctx.Done():
		fmt.Println("timed out waiting for sum")
	}

	cancel()
	<-runDone
	fmt.Printf("metrics: %+v\n", sched.Metrics())
}
