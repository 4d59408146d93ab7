package tracker

import (
	"net/http"
	"time"
)

// HistoryLimit caps how many price observations an item keeps.
const HistoryLimit = 4

// PricePoint is one observed price.
type PricePoint struct {
	Price      float64   `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
}

// Validators are the cache validators returned by the remote server.
type Validators struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

// Empty reports whether neither validator is set.
func (v Validators) Empty() bool {
	return v.ETag == "" && v.LastModified == ""
}

// Merge overlays next onto v, keeping the current value for any field next leaves empty.
func (v Validators) Merge(next Validators) Validators {
	out := v
	if next.ETag != "" {
		out.ETag = next.ETag
	}
	if next.LastModified != "" {
		out.LastModified = next.LastModified
	}
	return out
}

// Item is a tracked product page.
type Item struct {
	ID             string       `json:"id"`
	SourceURL      string       `json:"source_url"`
	Title          string       `json:"title"`
	CurrentPrice   float64      `json:"current_price"`
	PriceHistory   []PricePoint `json:"price_history"`
	AlarmThreshold float64      `json:"alarm_threshold"`
	Validators     Validators   `json:"validators"`
	ShardBucket    int          `json:"shard_bucket"`
	CooldownUntil  *time.Time   `json:"cooldown_until,omitempty"`
	LastCheckedAt  *time.Time   `json:"last_checked_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Clone returns a deep copy so callers can mutate history and timestamps freely.
func (i Item) Clone() Item {
	out := i
	if i.PriceHistory != nil {
		out.PriceHistory = append([]PricePoint(nil), i.PriceHistory...)
	}
	out.CooldownUntil = cloneTime(i.CooldownUntil)
	out.LastCheckedAt = cloneTime(i.LastCheckedAt)
	return out
}

// AlarmHit reports whether the current price is at or below a configured threshold.
func (i Item) AlarmHit() bool {
	return i.AlarmThreshold > 0 && i.CurrentPrice <= i.AlarmThreshold
}

// CoolingDown reports whether the item is still blocked from scheduling at now.
func (i Item) CoolingDown(now time.Time) bool {
	return i.CooldownUntil != nil && i.CooldownUntil.After(now)
}

// DueAt reports whether the scheduler should pick the item up in bucket at now.
func (i Item) DueAt(bucket int, now time.Time) bool {
	return i.ShardBucket == bucket && !i.CoolingDown(now)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// OutcomeKind discriminates fetch outcomes.
type OutcomeKind string

// Outcome kinds returned by the fetch engine.
const (
	OutcomeUnchanged OutcomeKind = "unchanged"
	OutcomeChanged   OutcomeKind = "changed"
	OutcomeAntiBot   OutcomeKind = "anti_bot"
	OutcomeFailed    OutcomeKind = "failed"
)

// FailureReason explains a Failed outcome.
type FailureReason string

// Failure reasons.
const (
	FailureRetriesExhausted FailureReason = "retries-exhausted"
	FailureExtraction       FailureReason = "extraction"
	FailureUnexpectedStatus FailureReason = "unexpected-status"
	FailureCanceled         FailureReason = "canceled"
)

// Outcome is the result of one engine fetch. Only the fields relevant to Kind are set.
type Outcome struct {
	Kind OutcomeKind

	// Unchanged and Changed.
	Validators Validators

	// Changed.
	Title        string
	Price        float64
	RawPriceText string
	Currency     string

	// AntiBot: which signal matched, plus the leading bytes of the page.
	Signal   string
	Evidence []byte

	// Failed.
	Reason FailureReason
	Err    error

	StatusCode int
	Attempts   int
}

// Unchanged builds an Unchanged outcome.
func Unchanged(v Validators) Outcome {
	return Outcome{Kind: OutcomeUnchanged, Validators: v}
}

// Failed builds a Failed outcome.
func Failed(reason FailureReason, err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: reason, Err: err}
}

// AntiBot builds an AntiBot outcome.
func AntiBot(signal string, evidence []byte) Outcome {
	return Outcome{Kind: OutcomeAntiBot, Signal: signal, Evidence: evidence}
}

// Alert is emitted when a new price reaches an item's alarm threshold.
type Alert struct {
	ItemID      string    `json:"item_id"`
	SourceURL   string    `json:"source_url"`
	Title       string    `json:"title"`
	Price       float64   `json:"price"`
	Threshold   float64   `json:"threshold"`
	Currency    string    `json:"currency,omitempty"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// FetchRequest describes one HTTP GET issued by the engine.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the raw HTTP response handed back by a Transport.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
