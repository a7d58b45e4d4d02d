package runtime

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Service is a long running component with a blocking start and a
// context-bounded stop, such as an echo server.
type Service interface {
	Start(addr string) error
	Shutdown(ctx context.Context) error
}

// Serve starts svc on addr and blocks until it fails, ctx is cancelled or a
// shutdown signal arrives. Shutdown gets grace to drain in-flight requests.
func Serve(ctx context.Context, name, addr string, svc Service, grace time.Duration) error {
	if name == "" {
		name = "service"
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[%s] listening on %s", name, addr)
		errCh <- svc.Start(addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Printf("[%s] context cancelled, shutting down", name)
	case sig := <-sigCh:
		log.Printf("[%s] received signal %s, shutting down", name, sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
