package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
)

// httpService runs an http.Server under the supervisor. Every restart binds
// the listener again.
type httpService struct {
	server          *http.Server
	shutdownTimeout time.Duration

	mu    sync.Mutex
	addr  net.Addr
	ready chan struct{}
}

func newHTTPService(server *http.Server, shutdownTimeout time.Duration) *httpService {
	return &httpService{
		server:          server,
		shutdownTimeout: shutdownTimeout,
		ready:           make(chan struct{}),
	}
}

func (h *httpService) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("http listen on %s: %w", h.server.Addr, err)
	}

	h.mu.Lock()
	h.addr = ln.Addr()
	select {
	case <-h.ready:
	default:
		close(h.ready)
	}
	h.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

// Addr is the bound address once the first Serve has started listening.
func (h *httpService) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addr
}

func (h *httpService) String() string { return "http-server" }

// limiterCleanup drops rate limiter buckets of users idle for longer than idle.
type limiterCleanup struct {
	limiter  interface{ Cleanup(time.Duration) int }
	interval time.Duration
	idle     time.Duration
	logger   zerolog.Logger
}

func (l *limiterCleanup) Serve(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := l.limiter.Cleanup(l.idle); n > 0 {
				l.logger.Debug().Int("removed", n).Msg("Pruned idle rate limiter buckets")
			}
		}
	}
}

func (l *limiterCleanup) String() string { return "rate-limiter-cleanup" }

// eventHook logs supervisor events through zerolog.
func eventHook(logger zerolog.Logger) suture.EventHook {
	return func(e suture.Event) {
		var ev *zerolog.Event
		switch e.Type() {
		case suture.EventTypeServicePanic:
			ev = logger.Error()
		case suture.EventTypeResume:
			ev = logger.Info()
		default:
			ev = logger.Warn()
		}
		ev.Fields(e.Map()).Msg(e.String())
	}
}
