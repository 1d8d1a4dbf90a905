// Command holdinvoice is a Core Lightning plugin offering hold invoices:
// invoices whose HTLCs are accepted but held pending an explicit operator
// settle or cancel, rather than settled automatically on arrival.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	flags "github.com/jessevdk/go-flags"

	"github.com/elementsproject/holdinvoice/config"
	"github.com/elementsproject/holdinvoice/plugin"
	"github.com/elementsproject/holdinvoice/rpcserver"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run wires logging, builds the Plugin, starts the operator gRPC
// pass-through once init completes, and blocks until the host closes
// stdin or a termination signal arrives.
func run(argv []string) error {
	pf, err := config.ParseProcessFlags(argv)
	if err != nil {
		return err
	}

	if pf.LogFile != "" {
		if err := plugin.InitLogRotator(pf.LogFile, 10, 3); err != nil {
			return fmt.Errorf("init log rotator: %w", err)
		}
	}
	plugin.SetLogLevels(pf.LogLevel)

	p := plugin.New()

	var rpcListener atomic.Pointer[rpcserver.Listener]
	p.OnInitDone = func(p *plugin.Plugin, initErr error) {
		if initErr != nil {
			return
		}
		cfg := p.Config()
		lis, err := rpcserver.Start(cfg.GRPCHoldPort, rpcserver.NewServer(p.Surface()), "")
		if err != nil {
			fmt.Fprintf(os.Stderr, "holdinvoice: starting operator gRPC surface: %v\n", err)
			return
		}
		rpcListener.Store(lis)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- p.Run()
	}()

	var runErr error
	select {
	case runErr = <-runErrCh:
	case <-sigCh:
	}

	p.Shutdown()
	rpcListener.Load().Stop()

	return runErr
}
