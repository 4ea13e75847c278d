// Package lifecycle runs the long-lived parts of the service (HTTP servers,
// the admin gRPC server) under one context that SIGTERM and SIGINT cancel.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	polyguard "github.com/ai8future/polyguard"
)

// Component is a long-running function that participates in the application
// lifecycle. It must return once ctx is done.
type Component func(ctx context.Context) error

// Run launches every component in an errgroup under a context cancelled on
// SIGTERM or SIGINT, and waits for all of them. The first component error
// cancels the rest and is returned.
func Run(ctx context.Context, components ...Component) error {
	polyguard.AssertVersionChecked()

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	g, gCtx := errgroup.WithContext(signalCtx)
	for _, c := range components {
		if c == nil {
			continue
		}
		g.Go(func() error {
			return c(gCtx)
		})
	}
	return g.Wait()
}

// DefaultShutdownTimeout bounds graceful HTTP shutdown.
const DefaultShutdownTimeout = 10 * time.Second

// HTTPServer serves srv on ln (or srv.Addr when ln is nil) until ctx is done,
// then shuts it down gracefully.
func HTTPServer(logger *slog.Logger, name string, srv *http.Server, ln net.Listener) Component {
	return func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() {
			var err error
			if ln != nil {
				logger.Info("http server listening", "server", name, "addr", ln.Addr().String())
				err = srv.Serve(ln)
			} else {
				logger.Info("http server listening", "server", name, "addr", srv.Addr)
				err = srv.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				err = nil
			}
			errCh <- err
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultShutdownTimeout)
		defer cancel()
		logger.Info("http server shutting down", "server", name)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}

// GRPCServer serves srv on ln until ctx is done, then stops it gracefully.
func GRPCServer(logger *slog.Logger, name string, srv *grpc.Server, ln net.Listener) Component {
	return func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() {
			logger.Info("grpc server listening", "server", name, "addr", ln.Addr().String())
			errCh <- srv.Serve(ln)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		logger.Info("grpc server shutting down", "server", name)
		srv.GracefulStop()
		err := <-errCh
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}
