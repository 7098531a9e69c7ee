package utils

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ConnectRetry bounds startup connection attempts to backing services.
// The zero value retries for up to 30s starting at 500ms.
type ConnectRetry struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	Logger          *slog.Logger
}

func (r ConnectRetry) withDefaults() ConnectRetry {
	out := r
	if out.InitialInterval <= 0 {
		out.InitialInterval = 500 * time.Millisecond
	}
	if out.MaxInterval <= 0 {
		out.MaxInterval = 5 * time.Second
	}
	if out.MaxElapsedTime <= 0 {
		out.MaxElapsedTime = 30 * time.Second
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

func (r ConnectRetry) policy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.InitialInterval
	b.MaxInterval = r.MaxInterval
	b.MaxElapsedTime = r.MaxElapsedTime
	b.Reset()
	return backoff.WithContext(b, ctx)
}

// Do runs op until it succeeds, the retry budget is spent, or ctx is done.
// Wrap an error with backoff.Permanent to stop immediately.
func (r ConnectRetry) Do(ctx context.Context, target string, op func() error) error {
	r = r.withDefaults()
	notify := func(err error, d time.Duration) {
		r.Logger.Warn("retrying connection", "target", target, "err", err, "after", d)
	}
	if err := backoff.RetryNotify(op, r.policy(ctx), notify); err != nil {
		return fmt.Errorf("connect %s: %w", target, err)
	}
	return nil
}
