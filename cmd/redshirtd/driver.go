package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/redshirt-os/kernel/system"
)

// runSingleThreaded is spec.md §5's simplest scheduling model: one worker
// repeatedly calls run(), looping until the context is cancelled.
func runSingleThreaded(ctx context.Context, s *system.System, stdOut io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		handleOutcome(s, s.Run(ctx), stdOut)
	}
}

// runMultithreaded is spec.md §5's "multiple workers each call run()"
// variant: n worker goroutines each drive their own RunCPU loop, labeled
// by worker index for the CPUSeconds metric, coordinated by an errgroup so
// the first worker error (or ctx cancellation) stops them all. The
// Process Collection, Interface Registry, and Message Table are already
// internally locked (internal/scheduler.Core.mu and the subsystems it
// owns), so concurrent RunCPU calls are safe.
func runMultithreaded(ctx context.Context, s *system.System, n int, stdOut io.Writer) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		cpu := strconv.Itoa(i)
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				default:
				}
				handleOutcome(s, s.RunCPU(gctx, cpu), stdOut)
			}
		})
	}
	return g.Wait()
}

// handleOutcome answers the kernel-initiated requests a driver must
// service on its own (metrics, native-interface messages the embedder
// chose to own); ProgramFinished is just logged, and Idle/nil need no
// action before the next Run.
func handleOutcome(s *system.System, out system.SystemRunOutcome, stdOut io.Writer) {
	switch o := out.(type) {
	case nil, system.Idle:
		return
	case system.ProgramFinished:
		if o.Outcome.Err != nil {
			fmt.Fprintf(stdOut, "redshirtd: pid=%d finished: %v\n", o.Pid, o.Outcome.Err)
			return
		}
		fmt.Fprintf(stdOut, "redshirtd: pid=%d finished\n", o.Pid)
	case system.KernelDebugMetricsRequest:
		text, err := s.Metrics().RenderText()
		if err != nil {
			text = ""
		}
		o.Respond(text)
	case system.NativeInterfaceMessage:
		// No embedder-owned native interfaces are registered by default;
		// an embedding program that calls WithEmbedderInterface handles
		// this case itself instead of driving redshirtd's default main.
		if o.HasMessage {
			s.RejectImmediateInterfaceMessage(o.MessageID)
		}
	}
}
