package retry

import (
	"math"
	"net/http"
	"time"

	"github.com/patientwatch/patientwatch/internal/config"
	"github.com/patientwatch/patientwatch/internal/fetcher"
)

// Decider is implemented by every retry policy.
type Decider interface {
	ShouldRetry(err error, attempt int) bool
	Delay(err error, attempt int) time.Duration
}

// Policy is the page fetch retry policy.
type Policy struct {
	// ServerErrorAttempts is the number of retries allowed for 5xx responses.
	ServerErrorAttempts int
	// ServerErrorDelay is the fixed wait between 5xx retries.
	ServerErrorDelay time.Duration
	// RateLimitPadding is added to the server's retry_after.
	RateLimitPadding time.Duration
	// RateLimitFallback is used for 429 responses without a usable retry_after.
	RateLimitFallback Backoff
}

// Default returns the policy with the standard limits.
func Default() Policy {
	return FromConfig(config.Defaults().Collector.Retry)
}

// FromConfig builds a Policy from the collector retry section.
func FromConfig(c config.RetryConfig) Policy {
	return Policy{
		ServerErrorAttempts: c.ServerErrorAttempts,
		ServerErrorDelay:    c.ServerErrorDelay,
		RateLimitPadding:    c.RateLimitPadding,
		RateLimitFallback: Backoff{
			Initial:    c.RateLimitFallbackInitial,
			Max:        c.RateLimitFallbackMax,
			Multiplier: 2,
		},
	}
}

// ShouldRetry reports whether err is worth another attempt after attempt
// previous retries.
func (p Policy) ShouldRetry(err error, attempt int) bool {
	fe, ok := fetcher.AsError(err)
	if !ok {
		return false
	}
	switch {
	case fe.StatusCode == http.StatusTooManyRequests:
		return true
	case fe.StatusCode >= 500:
		return attempt < p.ServerErrorAttempts
	default:
		return false
	}
}

// Delay returns the wait before the next attempt. It is zero for errors
// that are not retried.
func (p Policy) Delay(err error, attempt int) time.Duration {
	fe, ok := fetcher.AsError(err)
	if !ok {
		return 0
	}
	switch {
	case fe.StatusCode == http.StatusTooManyRequests:
		if d, ok := retryAfter(fe.RetryAfterSeconds); ok {
			return d + p.RateLimitPadding
		}
		return p.RateLimitFallback.Duration(attempt)
	case fe.StatusCode >= 500:
		return p.ServerErrorDelay
	default:
		return 0
	}
}

// maxRetryAfter caps a server-supplied wait. Larger hints are treated as
// missing.
const maxRetryAfter = time.Hour

func retryAfter(secs *float64) (time.Duration, bool) {
	if secs == nil {
		return 0, false
	}
	s := *secs
	if math.IsNaN(s) || math.IsInf(s, 0) || s < 0 || s > maxRetryAfter.Seconds() {
		return 0, false
	}
	return time.Duration(s * float64(time.Second)), true
}

// SubmitPolicy is the retry policy for assessment submission.
type SubmitPolicy struct {
	MaxRetries int
	Backoff    Backoff
}

// DefaultSubmit returns two retries at min(1s*2^n, 4s).
func DefaultSubmit() SubmitPolicy {
	return SubmitPolicy{
		MaxRetries: 2,
		Backoff:    Backoff{Initial: time.Second, Max: 4 * time.Second, Multiplier: 2},
	}
}

func (p SubmitPolicy) ShouldRetry(err error, attempt int) bool {
	if code := fetcher.StatusCode(err); code >= 400 && code < 500 {
		return false
	}
	if _, ok := fetcher.AsError(err); !ok {
		return false
	}
	return attempt < p.MaxRetries
}

func (p SubmitPolicy) Delay(err error, attempt int) time.Duration {
	if !p.ShouldRetry(err, attempt) {
		return 0
	}
	return p.Backoff.Duration(attempt)
}
