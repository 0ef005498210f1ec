package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RetryPolicy implements the exponential backoff retry described in spec
// §4.7: up to MaxRetries+1 attempts, delay = Delay * Backoff^attempt,
// retried only for transient errors.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
	Backoff    float64

	// Sleep is injectable for deterministic tests; defaults to time.Sleep
	// gated on ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Delay:      1000 * time.Millisecond,
		Backoff:    2,
		Sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deadline returns the overall deadline for one retried operation, derived
// from (maxRetries+1) attempts with geometric backoff between them, per
// spec §5.
func (p RetryPolicy) Deadline() time.Duration {
	total := time.Duration(0)
	delay := p.Delay
	for i := 0; i < p.MaxRetries; i++ {
		total += delay
		delay = time.Duration(float64(delay) * p.Backoff)
	}
	return total
}

// isTransient classifies an error per spec §4.7: wrapped ErrTransient,
// known POSIX-style network codes, or message substrings.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, code := range transientCodes {
		if strings.Contains(err.Error(), code) {
			return true
		}
	}
	for _, frag := range transientSubstrings {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// Do executes fn with the retry policy. fn is retried only while it
// returns a transient error; all other errors propagate immediately, as
// do context cancellations. Final failure after exhausting retries is
// wrapped with a message naming the attempt count, per spec §4.7.
func (p RetryPolicy) Do(ctx context.Context, logger *slog.Logger, op string, fn func(ctx context.Context) error) error {
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}
	var lastErr error
	attempts := p.MaxRetries + 1
	delay := p.Delay

	// correlationID ties every retry log line for this call together, so
	// an operator grepping a noisy log can follow one logical call across
	// its attempts rather than guessing which "retrying" lines belong
	// together.
	var correlationID string
	if attempts > 1 {
		correlationID = uuid.NewString()
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		if logger != nil {
			logger.Warn("transient engine error, retrying",
				"op", op, "attempt", attempt+1, "delay", delay, "error", err, "correlationId", correlationID)
		}
		if err := p.Sleep(ctx, delay); err != nil {
			return err
		}
		delay = time.Duration(float64(delay) * p.Backoff)
	}

	return fmt.Errorf("command failed after %d attempts: %w", attempts, lastErr)
}
