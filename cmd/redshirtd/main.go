// Command redshirtd boots a redshirt kernel and loads one or more Wasm
// modules into it, driving the scheduler either single-threaded (the
// default) or with a fixed pool of worker goroutines (spec.md §5
// "multithreaded variant").
//
// Grounded on the teacher's cmd/wazero (flag.FlagSet subcommands, os.Exit
// wrapping a testable doMain) generalized from "compile/run one module" to
// "boot a kernel and load N modules".
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"

	"github.com/redshirt-os/kernel/internal/vm"
	"github.com/redshirt-os/kernel/system"
)

func main() {
	os.Exit(doMain(os.Args[1:], os.Stdout, os.Stderr))
}

// doMain is separated out for the purpose of unit testing.
func doMain(args []string, stdOut, stdErr io.Writer) int {
	flags := flag.NewFlagSet("redshirtd", flag.ContinueOnError)
	flags.SetOutput(stdErr)

	var seed uint64
	flags.Uint64Var(&seed, "seed", 1, "boot seed for the PID/MessageId/RegistrationId generators")

	var workers int
	flags.IntVar(&workers, "workers", 1, "number of scheduler worker goroutines (1 = single-threaded driver)")

	var metricsAddr string
	flags.StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus /metrics on this address")

	if err := flags.Parse(args); err != nil {
		return 2
	}
	modulePaths := flags.Args()
	if len(modulePaths) == 0 {
		fmt.Fprintln(stdErr, "usage: redshirtd [flags] module.wasm [module.wasm ...]")
		flags.PrintDefaults()
		return 2
	}

	s := system.NewSystemBuilder(seed).Build()

	for _, path := range modulePaths {
		module, err := loadModule(path)
		if err != nil {
			fmt.Fprintf(stdErr, "redshirtd: %s: %v\n", path, err)
			return 1
		}
		pid, err := s.Execute(module, path, nil)
		if err != nil {
			fmt.Fprintf(stdErr, "redshirtd: %s: execute: %v\n", path, err)
			return 1
		}
		fmt.Fprintf(stdOut, "redshirtd: started pid=%d path=%s\n", pid, path)
	}

	if metricsAddr != "" {
		go serveMetrics(s, metricsAddr, stdErr)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if workers <= 1 {
		runSingleThreaded(ctx, s, stdOut)
		return 0
	}
	if err := runMultithreaded(ctx, s, workers, stdOut); err != nil {
		fmt.Fprintf(stdErr, "redshirtd: %v\n", err)
		return 1
	}
	return 0
}

func serveMetrics(s *system.System, addr string, stdErr io.Writer) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.Metrics().Handler())
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(stdErr, "redshirtd: metrics server: %v\n", err)
	}
}

// loadModule is a placeholder decoder hook: this kernel's VM Interpreter
// (internal/vm) takes an already-decoded *vm.Module rather than raw wasm
// bytes, since the binary-format decoder is out of scope (spec.md's
// decoder/platform boundary, SPEC_FULL.md §E). An embedder wires its own
// decoder here.
func loadModule(path string) (*vm.Module, error) {
	return nil, fmt.Errorf("redshirtd: no wasm binary decoder wired; supply a *vm.Module via an embedding program instead of %s", path)
}
