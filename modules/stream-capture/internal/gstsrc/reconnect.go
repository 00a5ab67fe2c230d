package gstsrc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ReconnectConfig contains configuration for exponential backoff reconnection
type ReconnectConfig struct {
	MaxRetries    int           // Maximum number of reconnection attempts (default: 5)
	RetryDelay    time.Duration // Initial retry delay (default: 1 second)
	MaxRetryDelay time.Duration // Maximum retry delay cap (default: 30 seconds)
}

// DefaultReconnectConfig returns default reconnection configuration
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// ReconnectState tracks the current state of reconnection attempts
type ReconnectState struct {
	CurrentRetries atomic.Int32
	Reconnects     atomic.Uint32 // total attempts since creation
}

// Reset clears the retry counter after the pipeline reaches PLAYING.
func (s *ReconnectState) Reset() {
	s.CurrentRetries.Store(0)
}

// ConnectFunc runs one pipeline session. A nil return means the session
// ended cleanly (context cancelled); an error triggers a retry.
type ConnectFunc func(ctx context.Context) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. RunWithReconnect returns it
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RunWithReconnect executes connectFn with exponential backoff between failed
// sessions
//
// Backoff schedule with the default config: 1s, 2s, 4s, 8s, 16s, then stop.
//
// Returns an error if max retries are exceeded, ctx.Err() if the context is
// cancelled, or nil when a session ends cleanly.
func RunWithReconnect(
	ctx context.Context,
	connectFn ConnectFunc,
	cfg ReconnectConfig,
	state *ReconnectState,
) error {
	for {
		select {
		case <-ctx.Done():
			slog.Info("stream-capture: context cancelled, stopping reconnection")
			return ctx.Err()
		default:
		}

		err := connectFn(ctx)
		if err == nil {
			state.Reset()
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		slog.Error("stream-capture: pipeline session failed", "error", err)

		retries := int(state.CurrentRetries.Add(1))
		state.Reconnects.Add(1)

		if retries > cfg.MaxRetries {
			return fmt.Errorf("max retries exceeded (%d attempts): %w", cfg.MaxRetries, err)
		}

		delay := CalculateBackoff(retries, cfg)

		slog.Warn("stream-capture: retrying pipeline",
			"attempt", retries,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			slog.Info("stream-capture: context cancelled during backoff")
			return ctx.Err()
		}
	}
}

// CalculateBackoff returns retryDelay * 2^(attempt-1), capped at MaxRetryDelay
func CalculateBackoff(attempt int, cfg ReconnectConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxRetryDelay || delay <= 0 {
		delay = cfg.MaxRetryDelay
	}
	return delay
}
