package provider

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/pario-ai/intentd/pkg/models"
)

// retrying retries transient failures of a single backend.
type retrying struct {
	next       Provider
	maxRetries int
	timeout    time.Duration
	logger     *zap.Logger
	// newBackOff is swapped in tests to avoid real sleeps.
	newBackOff func() backoff.BackOff
}

func newRetrying(next Provider, maxRetries int, timeout time.Duration, logger *zap.Logger) *retrying {
	return &retrying{
		next:       next,
		maxRetries: maxRetries,
		timeout:    timeout,
		logger:     logger,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
}

func (r *retrying) Name() string { return r.next.Name() }

func (r *retrying) Complete(ctx context.Context, messages []models.ChatMessage) (string, error) {
	attempt := 0
	op := func() (string, error) {
		attempt++
		callCtx := ctx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}

		text, err := r.next.Complete(callCtx, messages)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil || isPermanent(err) {
			return "", backoff.Permanent(err)
		}
		if attempt <= r.maxRetries {
			r.logger.Warn("provider call failed, retrying",
				zap.String("provider", r.next.Name()),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return "", err
	}

	text, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(r.newBackOff()),
		backoff.WithMaxTries(uint(r.maxRetries+1)),
	)
	if err != nil {
		return "", &CallError{Provider: r.next.Name(), Err: err}
	}
	return text, nil
}
