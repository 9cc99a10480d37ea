package model

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	ctxpkg "github.com/stupiduntilnot/slavik/internal/context"
)

// PermanentError marks a provider failure that retrying cannot fix, such as
// a rejected request.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// RetryProvider retries failed completions with exponential backoff.
type RetryProvider struct {
	next     Provider
	maxTries uint
	interval time.Duration
	logger   *zap.Logger
}

// WithRetry wraps p so that each completion is attempted up to tries times.
// tries <= 1 returns p unchanged.
func WithRetry(p Provider, tries int, logger *zap.Logger) Provider {
	if tries <= 1 {
		return p
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryProvider{next: p, maxTries: uint(tries), interval: 500 * time.Millisecond, logger: logger}
}

// ChatCompletion implements Provider.
func (r *RetryProvider) ChatCompletion(ctx context.Context, messages []ctxpkg.Message) (CompletionResponse, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.interval
	b.MaxInterval = 10 * time.Second

	op := func() (CompletionResponse, error) {
		resp, err := r.next.ChatCompletion(ctx, messages)
		if err != nil {
			var perm *PermanentError
			if errors.As(err, &perm) {
				return CompletionResponse{}, backoff.Permanent(err)
			}
			return CompletionResponse{}, err
		}
		return resp, nil
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Debug("completion failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.maxTries),
		backoff.WithNotify(notify),
	)
}
