package messaging

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

const (
	defaultMaxAttempts   = 3
	baseRetryDelay       = time.Second
	maxRetryJitterMillis = 250
)

// RetryingSender retries transient failures with exponential backoff and jitter.
// Permanent failures are returned on the first attempt.
type RetryingSender struct {
	next        Sender
	maxAttempts int
	baseDelay   time.Duration
	randIntn    func(n int) int
	sleep       func(ctx context.Context, d time.Duration) error
}

var _ Sender = (*RetryingSender)(nil)

func NewRetryingSender(next Sender) (*RetryingSender, error) {
	if next == nil {
		return nil, fmt.Errorf("sender is required")
	}

	return &RetryingSender{
		next:        next,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   baseRetryDelay,
		randIntn:    rand.Intn,
		sleep:       sleepWithContext,
	}, nil
}

func (s *RetryingSender) SendFreeform(ctx context.Context, msg FreeformMessage) (*SendResult, error) {
	return s.do(ctx, func(ctx context.Context) (*SendResult, error) {
		return s.next.SendFreeform(ctx, msg)
	})
}

func (s *RetryingSender) SendTemplate(ctx context.Context, msg TemplateMessage) (*SendResult, error) {
	return s.do(ctx, func(ctx context.Context) (*SendResult, error) {
		return s.next.SendTemplate(ctx, msg)
	})
}

func (s *RetryingSender) do(ctx context.Context, send func(ctx context.Context) (*SendResult, error)) (*SendResult, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		result, err := send(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsTransient(err) || attempt == s.maxAttempts {
			break
		}
		if err := s.sleep(ctx, s.retryDelay(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (s *RetryingSender) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := s.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}

	jitterMillis := 0
	if s.randIntn != nil && maxRetryJitterMillis > 0 {
		jitterMillis = s.randIntn(maxRetryJitterMillis + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
