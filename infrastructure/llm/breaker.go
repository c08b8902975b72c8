package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"canvaschat/application/ports"
	pkgerrors "canvaschat/pkg/errors"
)

// BreakerOptions configures the circuit breaker around a completion client.
type BreakerOptions struct {
	// MaxRequests may pass while half-open.
	MaxRequests uint32
	// Interval clears the closed-state counts; zero never clears them.
	Interval time.Duration
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// FailureThreshold consecutive upstream failures open the breaker.
	FailureThreshold uint32
}

// BreakerClient fails fast with UPSTREAM while the provider keeps failing.
// Only provider failures count against it; a stopped stream or a rejected
// chunk is the caller's doing.
type BreakerClient struct {
	next   ports.CompletionClient
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

// NewBreakerClient wraps next.
func NewBreakerClient(next ports.CompletionClient, opts BreakerOptions, logger *zap.Logger) *BreakerClient {
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	logger = logger.Named("breaker")
	threshold := opts.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: opts.MaxRequests,
		Interval:    opts.Interval,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !pkgerrors.IsUpstream(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("completion circuit breaker state changed",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &BreakerClient{next: next, cb: cb, logger: logger}
}

// Name implements ports.CompletionClient.
func (b *BreakerClient) Name() string { return b.next.Name() }

// State reports the breaker state for health checks.
func (b *BreakerClient) State() string { return b.cb.State().String() }

// Stream implements ports.CompletionClient.
func (b *BreakerClient) Stream(ctx context.Context, req ports.CompletionRequest, onChunk ports.ChunkHandler) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Stream(ctx, req, onChunk)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return pkgerrors.NewUpstreamError(b.next.Name(), err).WithCode("CIRCUIT_OPEN")
	}
	return err
}
