package sfnet

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"
)

// diagnosticDump, when non-nil, is invoked on SIGUSR1/SIGUSR2. No build tag
// gates it: once SetDiagnosticDump has installed a hook it runs in every
// build, and until then both signals are a no-op. Installing a hook a
// second time silently replaces the first rather than erroring, so only the
// last registration ever fires.
var diagnosticDump atomic.Pointer[func()]

// SetDiagnosticDump installs a diagnostic hook invoked on SIGUSR1/SIGUSR2,
// in every build. Calling it again replaces the previous hook; there is
// deliberately no way to unregister without replacing, matching the
// historical install semantics.
func SetDiagnosticDump(f func()) {
	diagnosticDump.Store(&f)
}

// watchSignals implements the process-wide signal table:
// SIGINT/SIGTERM/SIGQUIT request shutdown via cancel; SIGHUP is logged and
// otherwise ignored (no config reload in this framework); SIGPIPE is
// ignored outright, since every write goes through non-blocking syscalls
// that already surface EPIPE as an error; SIGUSR1/SIGUSR2 run the
// diagnostic hook if one is installed, and are a no-op otherwise.
func watchSignals(ctx context.Context, cancel context.CancelFunc, log *zap.Logger) {
	signal.Ignore(syscall.SIGPIPE)

	ch := make(chan os.Signal, 8)
	signal.Notify(ch,
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
		syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2,
	)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			switch sig {
			case syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				log.Info("shutdown signal received", zap.String("signal", sig.String()))
				cancel()
				return
			case syscall.SIGHUP:
				log.Info("SIGHUP received, no config reload wired, ignoring")
			case syscall.SIGUSR1, syscall.SIGUSR2:
				if hook := diagnosticDump.Load(); hook != nil && *hook != nil {
					(*hook)()
				}
			}
		}
	}
}
