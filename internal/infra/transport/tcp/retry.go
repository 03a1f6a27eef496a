package tcp

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tutu-network/gridpool/internal/infra/codec"
)

// RetryConfig controls how a worker redials a coordinator that is not
// listening yet.
type RetryConfig struct {
	MaxAttempts int           // total dials; < 1 means one
	BaseDelay   time.Duration // wait after the first failure, doubling each time
	MaxDelay    time.Duration // cap on the wait
}

// DefaultRetryConfig returns the dial policy used by `gridpool worker`.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 10,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Backoff is the wait before dial attempt+1, for attempt >= 1.
func (rc RetryConfig) Backoff(attempt int) time.Duration {
	delay := rc.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > rc.MaxDelay {
			return rc.MaxDelay
		}
	}
	return delay
}

// DialRetry is Dial with exponential backoff between failed attempts.
func DialRetry(ctx context.Context, addr, name string, c codec.Codec, rc RetryConfig, log *zap.Logger) (*Conn, error) {
	attempts := max(1, rc.MaxAttempts)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := Dial(ctx, addr, name, c)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		delay := rc.Backoff(attempt)
		log.Debug("coordinator not reachable, retrying",
			zap.String("addr", addr),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}
