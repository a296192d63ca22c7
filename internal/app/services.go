package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cececho/internal/logging"
	"cececho/pkg/types"
)

// HTTPServer is the subset of *http.Server the service drives.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// httpService runs the HTTP server under the supervisor and shuts it down
// gracefully when the supervisor's context ends.
type httpService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

func (h *httpService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()

		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *httpService) String() string {
	return "http-server"
}

// Sweeper functions
type (
	cleanupFunc      func(ctx context.Context) (types.CleanupResult, error)
	limiterPruneFunc func(maxIdle time.Duration) int
)

// sweeper periodically drops expired students from the community group and
// prunes idle per-connection rate limiters.
type sweeper struct {
	interval      time.Duration
	limiterMaxAge time.Duration
	cleanup       cleanupFunc
	prune         limiterPruneFunc
}

func (s *sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *sweeper) sweep(ctx context.Context) {
	if s.cleanup != nil {
		result, err := s.cleanup(ctx)
		if err != nil {
			logging.Warn().Err(err).Msg("Scheduled community cleanup failed")
		} else if result.RemovedCount > 0 {
			logging.Info().Int("removed", result.RemovedCount).Msg("Scheduled community cleanup completed")
		}
	}
	if s.prune != nil {
		if n := s.prune(s.limiterMaxAge); n > 0 {
			logging.Debug().Int("pruned", n).Msg("Pruned idle event rate limiters")
		}
	}
}

func (s *sweeper) String() string {
	return "membership-sweeper"
}
