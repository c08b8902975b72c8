package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"canvaschat/application/ports"
	pkgerrors "canvaschat/pkg/errors"
)

type fakeClient struct {
	err   error
	calls int
}

func (f *fakeClient) Name() string { return "fake" }

func (f *fakeClient) Stream(context.Context, ports.CompletionRequest, ports.ChunkHandler) error {
	f.calls++
	return f.err
}

func TestBreakerClient_OpensAfterConsecutiveUpstreamFailures(t *testing.T) {
	inner := &fakeClient{err: pkgerrors.NewUpstreamError("fake", errors.New("502"))}
	b := NewBreakerClient(inner, BreakerOptions{MaxRequests: 1, OpenTimeout: time.Hour, FailureThreshold: 3}, zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := b.Stream(ctx, ports.CompletionRequest{}, nil)
		assert.True(t, pkgerrors.IsUpstream(err))
	}
	assert.Equal(t, "open", b.State())

	err := b.Stream(ctx, ports.CompletionRequest{}, nil)
	assert.True(t, pkgerrors.IsUpstream(err))
	assert.Equal(t, "CIRCUIT_OPEN", pkgerrors.GetAppError(err).Code)
	assert.Equal(t, 3, inner.calls, "open breaker does not call the provider")
}

func TestBreakerClient_CallerErrorsDoNotTrip(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"cancelled", pkgerrors.NewCancelledError("completion")},
		{"node removed", pkgerrors.NewNotFoundError("node")},
		{"success", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &fakeClient{err: tt.err}
			b := NewBreakerClient(inner, BreakerOptions{OpenTimeout: time.Hour, FailureThreshold: 1}, zaptest.NewLogger(t))
			for i := 0; i < 5; i++ {
				err := b.Stream(context.Background(), ports.CompletionRequest{}, nil)
				assert.Equal(t, tt.err, err)
			}
			assert.Equal(t, "closed", b.State())
			assert.Equal(t, 5, inner.calls)
		})
	}
}

func TestBreakerClient_HalfOpenRecovers(t *testing.T) {
	inner := &fakeClient{err: pkgerrors.NewUpstreamError("fake", errors.New("down"))}
	b := NewBreakerClient(inner, BreakerOptions{MaxRequests: 1, OpenTimeout: 20 * time.Millisecond, FailureThreshold: 1}, zaptest.NewLogger(t))
	ctx := context.Background()

	_ = b.Stream(ctx, ports.CompletionRequest{}, nil)
	assert.Equal(t, "open", b.State())

	inner.err = nil
	assert.Eventually(t, func() bool { return b.State() == "half-open" }, time.Second, 5*time.Millisecond)
	assert.NoError(t, b.Stream(ctx, ports.CompletionRequest{}, nil))
	assert.Equal(t, "closed", b.State())
	assert.Equal(t, "fake", b.Name())
}
