package llm

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"

	spacebot "github.com/nevindra/spacebot"
)

// Retriable reports whether an error is worth retrying on the same model:
// 5xx, connection failures, timeouts, and 429. Context cancellation is
// never retriable — a cancelled run is not a failure.
func Retriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var httpErr *spacebot.ErrHTTP
	if errors.As(err, &httpErr) {
		return httpErr.Status == 429 || httpErr.Status >= 500
	}

	var llmErr *spacebot.ErrLLM
	if errors.As(err, &llmErr) {
		return llmErr.Retriable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	// Wrapped transport failures from SDKs that don't expose a typed error.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "temporarily unavailable")
}

// RateLimited reports whether the error is a 429 or a provider-specific
// quota error. Rate-limited models enter cooldown before being tried again.
func RateLimited(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *spacebot.ErrHTTP
	if errors.As(err, &httpErr) {
		return httpErr.Status == 429
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "quota exceeded") ||
		strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "429")
}

// Cancelled reports whether the error stems from context cancellation.
func Cancelled(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var c *spacebot.ErrCancelled
	return errors.As(err, &c)
}
