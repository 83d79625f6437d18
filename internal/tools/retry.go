package tools

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/weft-run/weft/pkg/schema"
)

// RetryPolicy configures the retry wrapper. Max is the number of retries
// after the first attempt, so Max=2 means at most three executions.
type RetryPolicy struct {
	Max      int
	Backoff  string // none, constant, linear, exponential
	Delay    time.Duration
	MaxDelay time.Duration
}

// WithRetry wraps a tool so retryable failures are re-attempted with
// backoff. Non-retryable errors pass through unchanged; once attempts are
// exhausted the last error is wrapped in a RETRY_EXHAUSTED error carrying
// the attempt count.
func WithRetry(t Tool, policy RetryPolicy) Tool {
	return &retryTool{inner: t, policy: policy}
}

type retryTool struct {
	inner  Tool
	policy RetryPolicy
}

func (rt *retryTool) Name() string       { return rt.inner.Name() }
func (rt *retryTool) Schema() ToolSchema { return rt.inner.Schema() }

func (rt *retryTool) Execute(ctx context.Context, input any) (any, error) {
	if rt.policy.Max <= 0 {
		return rt.inner.Execute(ctx, input)
	}

	var lastErr error
	for attempt := 0; attempt <= rt.policy.Max; attempt++ {
		if attempt > 0 {
			if err := waitBackoff(ctx, backoffDelay(rt.policy, attempt-1)); err != nil {
				return nil, err
			}
		}

		out, err := rt.inner.Execute(ctx, input)
		if err == nil {
			return out, nil
		}
		if !IsRetryable(err) {
			return nil, err
		}
		lastErr = err
	}

	attempts := rt.policy.Max + 1
	return nil, schema.NewErrorf(schema.ErrCodeRetryExhausted,
		"tool %q failed after %d attempts", rt.inner.Name(), attempts).
		WithCause(lastErr).
		WithDetails(map[string]any{
			"attempts": attempts,
			"retries":  rt.policy.Max,
		})
}

// IsRetryable classifies whether an error is worth re-attempting.
// Typed errors are judged by code; 4xx HTTP failures are terminal except
// for 408 and 429. Plain errors default to retryable and the policy's Max
// bounds the damage.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Deadline exceeded is a per-attempt timeout, worth retrying.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// Cancellation means the run is shutting down.
	if errors.Is(err, context.Canceled) {
		return false
	}

	if werr, ok := schema.AsError(err); ok {
		switch werr.Code {
		case schema.ErrCodeExecution, schema.ErrCodeTimeout, schema.ErrCodeStore:
			if sc, ok := statusCodeDetail(werr); ok {
				return sc == 408 || sc == 429 || sc >= 500
			}
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"temporary failure",
		"i/o timeout",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
		"too many requests",
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return true
}

// statusCodeDetail extracts an HTTP status code attached to a typed error,
// if any.
func statusCodeDetail(werr *schema.Error) (int, bool) {
	if werr.Details == nil {
		return 0, false
	}
	switch sc := werr.Details["status_code"].(type) {
	case int:
		return sc, true
	case float64:
		return int(sc), true
	default:
		return 0, false
	}
}

// backoffDelay computes the wait before the next retry. attempt is the
// zero-based index of the attempt that just failed.
func backoffDelay(policy RetryPolicy, attempt int) time.Duration {
	if policy.Delay <= 0 {
		return 0
	}

	var delay time.Duration
	switch policy.Backoff {
	case "none":
		return 0
	case "linear":
		delay = policy.Delay * time.Duration(attempt+1)
	case "exponential":
		delay = policy.Delay
		for i := 0; i < attempt; i++ {
			delay *= 2
		}
	default: // constant
		delay = policy.Delay
	}

	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}

// waitBackoff sleeps for the delay or returns early when the context ends.
func waitBackoff(ctx context.Context, delay time.Duration) error {
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
