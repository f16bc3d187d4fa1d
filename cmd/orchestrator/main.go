// Command orchestrator runs the multi-agent control plane: it loads the
// agent roster and configuration, assembles every component, and serves
// the HTTP/WebSocket transport until interrupted. Grounded in the
// teacher's cmd/cliaimonitor/main.go ordered init -> run -> graceful-
// shutdown sequence.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/presidium/orchestrator/internal/config"
	"github.com/presidium/orchestrator/internal/instance"
	"github.com/presidium/orchestrator/internal/orchestrator"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	guard := instance.NewGuard(cfg.PIDPath)
	if err := guard.Acquire(cfg.HTTPPort); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer guard.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o, err := orchestrator.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to assemble orchestrator: %v\n", err)
		os.Exit(1)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	runErr := make(chan error, 1)
	go func() {
		runErr <- o.Run(ctx)
	}()

	log.Printf("[MAIN] orchestrator listening on port %d", cfg.HTTPPort)

	select {
	case sig := <-shutdown:
		log.Printf("[MAIN] received %s, shutting down", sig)
		cancel()
		if err := <-runErr; err != nil {
			log.Printf("[MAIN] orchestrator exited with error: %v", err)
		}
	case err := <-runErr:
		if err != nil {
			fmt.Fprintf(os.Stderr, "orchestrator exited with error: %v\n", err)
			os.Exit(1)
		}
	}
}
