package engine

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/mbracero/fresco/pkg/schema"
)

// RetryPolicy bounds the retry ladder applied to transient task failures.
type RetryPolicy struct {
	MaxAttempts   int           `json:"max_attempts"`
	BaseDelay     time.Duration `json:"base_delay"`
	MaxDelay      time.Duration `json:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor"`
}

// DefaultRetryPolicy is the ladder used when a task spec carries none.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2,
	}
}

// Delay returns the backoff before the given retry, counted from 1 for the
// delay after the first failed attempt: base·factor^(n−1), capped at MaxDelay.
func (p RetryPolicy) Delay(retry int) time.Duration {
	if retry < 1 || p.BaseDelay <= 0 {
		return 0
	}
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	d := float64(p.BaseDelay)
	for i := 1; i < retry; i++ {
		d *= factor
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// quotaPatterns mark credential-scoped exhaustion; they trigger credential
// failover in inference nodes before the generic ladder.
var quotaPatterns = []string{
	"quota",
	"rate limit",
	"rate_limit",
	"too many requests",
	"429",
	"overloaded",
}

var authPatterns = []string{
	"unauthorized",
	"401",
	"403",
	"invalid api key",
	"invalid x-api-key",
	"authentication",
	"permission denied",
	"invalid credential",
}

var unavailablePatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"eof",
	"temporary failure",
	"temporarily unavailable",
	"i/o timeout",
	"service unavailable",
	"bad gateway",
	"gateway timeout",
	"internal server error",
	"502",
	"503",
}

// Classify maps an arbitrary failure to a coded FrescoError so retry and
// failover decisions are uniform regardless of which backend produced it.
// Already-coded errors pass through untouched. Unrecognized failures are
// treated as permanent.
func Classify(err error) *schema.FrescoError {
	if err == nil {
		return nil
	}

	var fe *schema.FrescoError
	if errors.As(err, &fe) {
		return fe
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return schema.NewError(schema.ErrCodeTimeout, "task deadline exceeded").WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		return schema.NewError(schema.ErrCodeCancelled, "task cancelled").WithCause(err)
	}

	msg := strings.ToLower(err.Error())
	for _, p := range quotaPatterns {
		if strings.Contains(msg, p) {
			return schema.NewError(schema.ErrCodeQuota, err.Error()).WithCause(err)
		}
	}
	for _, p := range authPatterns {
		if strings.Contains(msg, p) {
			return schema.NewError(schema.ErrCodeAuth, err.Error()).WithCause(err)
		}
	}
	for _, p := range unavailablePatterns {
		if strings.Contains(msg, p) {
			return schema.NewError(schema.ErrCodeUnavailable, err.Error()).WithCause(err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return schema.NewError(schema.ErrCodeTimeout, err.Error()).WithCause(err)
		}
		return schema.NewError(schema.ErrCodeUnavailable, err.Error()).WithCause(err)
	}

	return schema.NewError(schema.ErrCodeExecution, err.Error()).WithCause(err)
}

// IsTransient reports whether the failure warrants another attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err).IsRetryable()
}

// WaitForBackoff sleeps for the given delay or returns early when the
// context is cancelled.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
