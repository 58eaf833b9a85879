// Package shutdown implements the signal-driven drain sequence: the
// first SIGINT/SIGTERM starts a graceful http.Server.Shutdown with a
// hard deadline, and a second signal during that drain forces an
// immediate exit.
package shutdown

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// DrainTimeout is the hard deadline for in-flight requests to finish
// after the first shutdown signal, matching tspages' 5s
// httpSrv.Shutdown budget.
const DrainTimeout = 5 * time.Second

// ForceExitCode is the process exit status used when a second signal
// arrives during drain (spec.md §4.7: "immediate exit 130").
const ForceExitCode = 130

// Run blocks until a SIGINT/SIGTERM arrives, then drains srv within
// DrainTimeout. A second signal received during the drain calls
// os.Exit(ForceExitCode) immediately, bypassing the drain.
func Run(srv *http.Server, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	stop()
	logger.Info("shutdown signal received, draining connections", "timeout", DrainTimeout)

	forceExit := make(chan os.Signal, 1)
	signal.Notify(forceExit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-forceExit
		logger.Warn("second shutdown signal received, forcing exit", "code", ForceExitCode)
		os.Exit(ForceExitCode)
	}()

	drain(srv, logger, DrainTimeout)
}

// drain is the testable core of the shutdown sequence: Shutdown the
// server within timeout and log the outcome.
func drain(srv *http.Server, logger *slog.Logger, timeout time.Duration) {
	drainCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		logger.Error("graceful shutdown did not complete in time", "err", err)
	} else {
		logger.Info("shutdown complete")
	}
}
