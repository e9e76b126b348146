package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// InstallSignalShutdown starts a goroutine that calls m.Shutdown once SIGINT
// or SIGTERM is received (best-effort, as spec.md §4.5 describes: "Installs
// graceful shutdown on SIGINT/SIGTERM (where supported)"). It returns a
// cancel function the host can call to stop watching for signals without
// shutting down (e.g. during tests).
func InstallSignalShutdown(ctx context.Context, m *Manager) (stopWatching func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case <-sigCh:
			m.Shutdown(ctx)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
