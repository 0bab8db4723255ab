package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadopc/blockr/internal/backoff"
)

func fastConfig(maxRetries int) Config {
	return Config{
		MaxRetries: maxRetries,
		Backoff:    backoff.Config{BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2},
		Timer:      backoff.Instant,
	}
}

var errTransient = NewNetworkError("list", syscall.ECONNRESET)

// ============================================================
// Do
// ============================================================

func TestDoRetryTermination(t *testing.T) {
	for _, k := range []int{0, 1, 3, 5} {
		t.Run(fmt.Sprintf("max=%d", k), func(t *testing.T) {
			calls := 0
			_, err := Do(context.Background(), fastConfig(k), func(context.Context) (int, error) {
				calls++
				return 0, errTransient
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, syscall.ECONNRESET)
			assert.Equal(t, k+1, calls)
		})
	}
}

func TestDoNonRetryableShortCircuits(t *testing.T) {
	var retries []Info
	cfg := fastConfig(5)
	cfg.OnRetry = func(i Info) { retries = append(retries, i) }

	calls := 0
	terminal := NewHTTPError(400, `{"message":"bad"}`, "create")
	_, err := Do(context.Background(), cfg, func(context.Context) (string, error) {
		calls++
		return "", terminal
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, retries)

	var ce *ClassifiedError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 400, ce.StatusCode)
}

func TestDoReturnsFirstSuccess(t *testing.T) {
	var retries []Info
	cfg := fastConfig(5)
	cfg.OnRetry = func(i Info) { retries = append(retries, i) }

	calls := 0
	got, err := Do(context.Background(), cfg, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", ClassifyHTTPError(503, "", nil)
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	require.Len(t, retries, 2)
	assert.Equal(t, 1, retries[0].Attempt)
	assert.Equal(t, 2, retries[1].Attempt)
	assert.Equal(t, 5, retries[0].MaxRetries)
	assert.Equal(t, time.Millisecond, retries[0].Delay)
	assert.Equal(t, 2*time.Millisecond, retries[1].Delay)
}

func TestDoCustomPredicate(t *testing.T) {
	cfg := fastConfig(2)
	cfg.RetryIf = func(error) bool { return true }

	calls := 0
	err := Run(context.Background(), cfg, func(context.Context) error {
		calls++
		return errors.New("validation")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Run(ctx, fastConfig(3), func(context.Context) error {
		calls++
		return errTransient
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestDoCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{
		MaxRetries: 3,
		Backoff:    backoff.Config{BaseDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1},
		OnRetry:    func(Info) { cancel() },
	}

	calls := 0
	err := Run(ctx, cfg, func(context.Context) error {
		calls++
		return errTransient
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

// ============================================================
// Classification
// ============================================================

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"5xx", ClassifyHTTPError(502, "", nil), true},
		{"400", ClassifyHTTPError(400, "", nil), false},
		{"404", ClassifyHTTPError(404, "", nil), false},
		{"408", ClassifyHTTPError(408, "", nil), false},
		{"429", ClassifyHTTPError(429, "", nil), false},
		{"network", NewNetworkError("get", errors.New("dial")), true},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, true},
		{"net timeout", timeoutErr{}, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("decode"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestClassifiedErrorHelpers(t *testing.T) {
	err := fmt.Errorf("update block: %w", NewHTTPError(409, "dup", "update"))
	assert.True(t, IsIrrecoverable(err))
	assert.Equal(t, 409, StatusCode(err))
	assert.Contains(t, err.Error(), "[Irrecoverable] HTTP 409")

	netErr := NewNetworkError("list", io.EOF)
	assert.False(t, IsIrrecoverable(netErr))
	assert.Zero(t, StatusCode(netErr))
	assert.ErrorIs(t, netErr, io.EOF)
}
