package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"huddle/internal/logging"
	"huddle/internal/metrics"
	"huddle/pkg/interfaces"
	"huddle/pkg/types"
)

// GatewayConfig bounds store calls.
type GatewayConfig struct {
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Gateway runs store operations under a timeout and a circuit breaker and
// maps their failures onto ErrPersistenceTimeout and ErrPersistence.
type Gateway struct {
	store   interfaces.MessageStore
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  zerolog.Logger
}

// NewGateway wraps store.
func NewGateway(store interfaces.MessageStore, cfg GatewayConfig) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	logger := logging.WithComponent("gateway")

	settings := gobreaker.Settings{
		Name:        "message-store",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			// Rejections by the store's own rules are not outages.
			return err == nil || errors.Is(err, types.ErrValidation) || errors.Is(err, types.ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.Set(float64(to))
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	}

	return &Gateway{
		store:   store,
		timeout: cfg.Timeout,
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
		logger:  logger,
	}
}

// Append persists message, filling in its id and created_at.
func (g *Gateway) Append(ctx context.Context, message *types.Message) error {
	start := time.Now()
	err := g.Run(ctx, func(ctx context.Context) error {
		return g.store.AppendMessage(ctx, message)
	})
	metrics.PersistDuration.Observe(time.Since(start).Seconds())
	return err
}

// Run executes op with the gateway's timeout behind the breaker.
func (g *Gateway) Run(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := g.breaker.Execute(func() (struct{}, error) {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return struct{}{}, op(ctx)
	})
	return g.classify(err)
}

// State is the breaker state name.
func (g *Gateway) State() string {
	return g.breaker.State().String()
}

func (g *Gateway) classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, types.ErrValidation), errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrPersistence), errors.Is(err, types.ErrPersistenceTimeout):
		return err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return ErrBreakerOpen
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: store did not answer within %s", types.ErrPersistenceTimeout, g.timeout)
	default:
		g.logger.Error().Err(err).Msg("Store operation failed")
		return fmt.Errorf("%w: %w", types.ErrPersistence, err)
	}
}
