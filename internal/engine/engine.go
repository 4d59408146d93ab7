// Package engine runs conditional product page fetches with retry, backoff
// and anti-bot classification.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/extract"
	"github.com/JakeFAU/pricewatch/internal/metrics"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

const evidenceLimit = 256 << 10

// Config tunes retry behavior.
type Config struct {
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	RetryJitter   time.Duration
	RetryAfterMax time.Duration
}

// Engine implements tracker.Fetcher.
type Engine struct {
	transport tracker.Transport
	detector  *extract.AntiBotDetector
	extractor *extract.Extractor
	clock     tracker.Clock
	sleeper   tracker.Sleeper
	backoff   *BackoffPolicy
	cfg       Config
	logger    *zap.Logger
}

// New wires an Engine.
func New(
	transport tracker.Transport,
	detector *extract.AntiBotDetector,
	extractor *extract.Extractor,
	clock tracker.Clock,
	sleeper tracker.Sleeper,
	rnd tracker.Rand,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		transport: transport,
		detector:  detector,
		extractor: extractor,
		clock:     clock,
		sleeper:   sleeper,
		backoff:   NewBackoffPolicy(cfg.BackoffBase, cfg.BackoffMax, cfg.RetryJitter, rnd),
		cfg:       cfg,
		logger:    logger,
	}
}

// Fetch issues a conditional GET for url and classifies the result. maxAttempts
// counts every request including the first; zero uses the configured default.
func (e *Engine) Fetch(
	ctx context.Context,
	url string,
	validators tracker.Validators,
	maxAttempts int,
) tracker.Outcome {
	if maxAttempts <= 0 {
		maxAttempts = e.cfg.MaxAttempts
	}
	site := metrics.SanitizeSite(url)
	headers := conditionalHeaders(validators)

	var (
		lastErr    error
		lastStatus int
	)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return withAttempts(tracker.Failed(tracker.FailureCanceled, err), attempt, lastStatus)
		}
		resp, err := e.transport.Get(ctx, tracker.FetchRequest{URL: url, Headers: headers.Clone()})
		var retryAfter time.Duration
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return withAttempts(tracker.Failed(tracker.FailureCanceled, ctxErr), attempt+1, lastStatus)
			}
			metrics.ObserveFetchAttempt(site, "error")
			lastErr = err
		case isRetryableStatus(resp.StatusCode):
			metrics.ObserveFetchAttempt(site, statusLabel(resp.StatusCode))
			lastStatus = resp.StatusCode
			lastErr = fmt.Errorf("retryable status %d", resp.StatusCode)
			retryAfter = parseRetryAfter(resp.Headers.Get("Retry-After"), e.clock.Now(), e.cfg.RetryAfterMax)
		default:
			metrics.ObserveFetchAttempt(site, statusLabel(resp.StatusCode))
			return withAttempts(e.classify(resp), attempt+1, resp.StatusCode)
		}

		if attempt+1 >= maxAttempts {
			break
		}
		delay := e.backoff.Delay(attempt, retryAfter)
		e.logger.Debug("retrying fetch",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Int("status", lastStatus),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)
		if err := e.sleeper.Sleep(ctx, delay); err != nil {
			return withAttempts(tracker.Failed(tracker.FailureCanceled, err), attempt+1, lastStatus)
		}
	}
	return withAttempts(
		tracker.Failed(tracker.FailureRetriesExhausted, lastErr),
		maxAttempts,
		lastStatus,
	)
}

func (e *Engine) classify(resp tracker.FetchResponse) tracker.Outcome {
	switch resp.StatusCode {
	case http.StatusNotModified:
		return tracker.Unchanged(validatorsFrom(resp.Headers))
	case http.StatusOK:
		if signal, blocked := e.detector.Detect(resp.Body); blocked {
			return tracker.AntiBot(signal, evidence(resp.Body))
		}
		res, err := e.extractor.Extract(resp.Body)
		if err != nil {
			return tracker.Failed(tracker.FailureExtraction, err)
		}
		return tracker.Outcome{
			Kind:         tracker.OutcomeChanged,
			Validators:   validatorsFrom(resp.Headers),
			Title:        res.Title,
			Price:        res.Price,
			RawPriceText: res.PriceText,
			Currency:     res.Currency,
		}
	default:
		return tracker.Failed(
			tracker.FailureUnexpectedStatus,
			fmt.Errorf("unexpected status %d", resp.StatusCode),
		)
	}
}

func conditionalHeaders(v tracker.Validators) http.Header {
	h := http.Header{}
	if v.ETag != "" {
		h.Set("If-None-Match", v.ETag)
	}
	if v.LastModified != "" {
		h.Set("If-Modified-Since", v.LastModified)
	}
	return h
}

func validatorsFrom(h http.Header) tracker.Validators {
	if h == nil {
		return tracker.Validators{}
	}
	return tracker.Validators{
		ETag:         h.Get("ETag"),
		LastModified: h.Get("Last-Modified"),
	}
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func statusLabel(code int) string {
	return strconv.Itoa(code)
}

func evidence(body []byte) []byte {
	if len(body) > evidenceLimit {
		body = body[:evidenceLimit]
	}
	return append([]byte(nil), body...)
}

func withAttempts(out tracker.Outcome, attempts, status int) tracker.Outcome {
	out.Attempts = attempts
	if out.StatusCode == 0 {
		out.StatusCode = status
	}
	return out
}

// IsCanceled reports whether a Failed outcome came from context cancellation.
func IsCanceled(out tracker.Outcome) bool {
	return out.Kind == tracker.OutcomeFailed &&
		(out.Reason == tracker.FailureCanceled ||
			errors.Is(out.Err, context.Canceled) ||
			errors.Is(out.Err, context.DeadlineExceeded))
}
