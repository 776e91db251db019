package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lattice-dev/lattice/internal/fingerprint"
	"github.com/lattice-dev/lattice/internal/meta"
)

// Retrying decorates a Backend with bounded retries and exponential
// backoff. ErrNotFound is a definitive answer and is never retried.
type Retrying struct {
	inner    Backend
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
}

// WithRetry wraps inner so each failing operation is retried up to
// attempts times, doubling the backoff between tries.
func WithRetry(inner Backend, attempts int, backoff time.Duration, logger *slog.Logger) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{inner: inner, attempts: attempts, backoff: backoff, logger: logger}
}

func (r *Retrying) do(ctx context.Context, op string, fn func() error) error {
	delay := r.backoff
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err = fn()
		if err == nil || errors.Is(err, ErrNotFound) || ctx.Err() != nil {
			return err
		}
		if attempt < r.attempts {
			r.logger.Warn("storage operation failed, retrying",
				"op", op, "attempt", attempt, "error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
	}
	return err
}

func (r *Retrying) Put(ctx context.Context, key fingerprint.Fingerprint, value []byte) error {
	return r.do(ctx, "put", func() error { return r.inner.Put(ctx, key, value) })
}

func (r *Retrying) Get(ctx context.Context, key fingerprint.Fingerprint) ([]byte, error) {
	var out []byte
	err := r.do(ctx, "get", func() error {
		var err error
		out, err = r.inner.Get(ctx, key)
		return err
	})
	return out, err
}

func (r *Retrying) Delete(ctx context.Context, key fingerprint.Fingerprint) error {
	return r.do(ctx, "delete", func() error { return r.inner.Delete(ctx, key) })
}

func (r *Retrying) PutDependents(ctx context.Context, id meta.Identity, dependents []meta.Identity) error {
	return r.do(ctx, "put_dependents", func() error { return r.inner.PutDependents(ctx, id, dependents) })
}

func (r *Retrying) ScanDependents(ctx context.Context) (map[meta.Identity][]meta.Identity, error) {
	var out map[meta.Identity][]meta.Identity
	err := r.do(ctx, "scan_dependents", func() error {
		var err error
		out, err = r.inner.ScanDependents(ctx)
		return err
	})
	return out, err
}

func (r *Retrying) Close() error {
	return r.inner.Close()
}
