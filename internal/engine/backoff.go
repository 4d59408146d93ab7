package engine

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// BackoffPolicy computes the wait before retrying a throttled or failed request.
type BackoffPolicy struct {
	baseDelay time.Duration
	maxDelay  time.Duration
	jitter    time.Duration
	rnd       tracker.Rand
}

// NewBackoffPolicy builds a policy; zero values fall back to 800ms base, 30s cap
// and 500ms jitter.
func NewBackoffPolicy(base, maxDelay, jitter time.Duration, rnd tracker.Rand) *BackoffPolicy {
	if base <= 0 {
		base = 800 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	if jitter < 0 {
		jitter = 0
	}
	return &BackoffPolicy{baseDelay: base, maxDelay: maxDelay, jitter: jitter, rnd: rnd}
}

// Delay returns the wait after the zero-based attempt failed. A server supplied
// Retry-After wins whenever it is longer than the exponential delay.
func (p *BackoffPolicy) Delay(attempt int, retryAfter time.Duration) time.Duration {
	delay := p.exponential(attempt)
	if retryAfter > delay {
		delay = retryAfter
	}
	return delay + p.randomJitter()
}

func (p *BackoffPolicy) exponential(attempt int) time.Duration {
	delay := p.baseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.maxDelay {
			return p.maxDelay
		}
	}
	if delay > p.maxDelay {
		return p.maxDelay
	}
	return delay
}

func (p *BackoffPolicy) randomJitter() time.Duration {
	if p.jitter <= 0 || p.rnd == nil {
		return 0
	}
	return time.Duration(p.rnd.Int63n(int64(p.jitter)))
}

const defaultRetryAfterMax = 5 * time.Minute

// parseRetryAfter reads a Retry-After header given as delta-seconds or an HTTP
// date. The result never exceeds limit; a non-positive limit means five minutes.
func parseRetryAfter(value string, now time.Time, limit time.Duration) time.Duration {
	if limit <= 0 {
		limit = defaultRetryAfterMax
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	secs, err := strconv.ParseInt(value, 10, 64)
	switch {
	case err == nil:
		if secs <= 0 {
			return 0
		}
		if secs > int64(limit/time.Second) {
			return limit
		}
		return time.Duration(secs) * time.Second
	case errors.Is(err, strconv.ErrRange):
		if strings.HasPrefix(value, "-") {
			return 0
		}
		return limit
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return min(d, limit)
		}
	}
	return 0
}
