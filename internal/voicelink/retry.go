package voicelink

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Default connection retry parameters.
const (
	defaultRetryAttempts   = 3
	defaultRetryBackoff    = 500 * time.Millisecond
	defaultRetryMaxBackoff = 5 * time.Second
)

// RetryConfig configures [Link.ConnectWithRetry].
type RetryConfig struct {
	// Attempts is the maximum number of connection attempts. Defaults to 3.
	Attempts int

	// Backoff is the initial wait between attempts. Doubles each attempt up
	// to MaxBackoff. Defaults to 500ms.
	Backoff time.Duration

	// MaxBackoff is the upper limit on backoff duration. Defaults to 5s.
	MaxBackoff time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Attempts <= 0 {
		c.Attempts = defaultRetryAttempts
	}
	if c.Backoff <= 0 {
		c.Backoff = defaultRetryBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultRetryMaxBackoff
	}
	return c
}

// ConnectWithRetry calls [Link.Connect] until it succeeds, the attempts are
// exhausted or ctx is done. The last error is returned wrapped in
// [ErrConnectFailure].
func (l *Link) ConnectWithRetry(ctx context.Context, ep Endpoint, rc RetryConfig) error {
	rc = rc.withDefaults()
	currentBackoff := rc.Backoff

	var lastErr error
	for attempt := 1; attempt <= rc.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("voicelink: connect %s: %w: %w", ep, ErrConnectFailure, err)
		}

		lastErr = l.Connect(ctx, ep)
		if lastErr == nil {
			if attempt > 1 {
				slog.Info("voice connection established after retry",
					"endpoint", ep.String(),
					"attempt", attempt,
				)
			}
			return nil
		}

		slog.Warn("voice connection attempt failed",
			"endpoint", ep.String(),
			"attempt", attempt,
			"max_attempts", rc.Attempts,
			"backoff", currentBackoff,
			"err", lastErr,
		)
		if attempt == rc.Attempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("voicelink: connect %s: %w: %w", ep, ErrConnectFailure, ctx.Err())
		case <-time.After(currentBackoff):
		}

		// Exponential backoff.
		currentBackoff *= 2
		if currentBackoff > rc.MaxBackoff {
			currentBackoff = rc.MaxBackoff
		}
	}

	slog.Error("voice connection failed after max attempts",
		"endpoint", ep.String(),
		"max_attempts", rc.Attempts,
	)
	return lastErr
}
