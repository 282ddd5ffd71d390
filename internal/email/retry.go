package email

import (
	"context"
	"math/rand"
	"time"
)

// Executor wraps a single send in bounded exponential-backoff retry.
// Total attempts = MaxRetries + 1.
type Executor struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// RetryResult is the last provider result plus how many attempts were made.
type RetryResult struct {
	SendResult
	Attempts int
}

func NewExecutor(maxRetries int, baseDelay time.Duration) *Executor {
	return &Executor{
		MaxRetries: maxRetries,
		BaseDelay:  baseDelay,
		MaxDelay:   60 * time.Second,
	}
}

// SendWithRetry attempts send immediately, then up to MaxRetries more times,
// sleeping min(base*2^attempt, cap) plus up to 20% jitter between attempts.
// It returns the last result; ordinary send failures never become errors.
// The backoff sleep holds no locks and aborts on context cancellation.
func (e *Executor) SendWithRetry(ctx context.Context, send func(context.Context, Message) SendResult, msg Message) RetryResult {
	var last SendResult
	attempts := 0

	for attempt := 0; attempt <= e.MaxRetries; attempt++ {
		last = send(ctx, msg)
		attempts++
		if last.Success {
			break
		}
		if attempt < e.MaxRetries {
			if !sleepCtx(ctx, e.delay(attempt)) {
				break
			}
		}
	}

	return RetryResult{SendResult: last, Attempts: attempts}
}

func (e *Executor) delay(attempt int) time.Duration {
	maxDelay := e.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}
	d := e.BaseDelay << uint(attempt)
	if d > maxDelay || d <= 0 {
		d = maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5 + 1))
	return d + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
