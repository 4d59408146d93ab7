// Package evaluate turns a fetch outcome into the next stored state of an
// item, deciding whether it must be persisted and whether an alert fires.
package evaluate

import (
	"time"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// Config bounds the anti-bot cooldown.
type Config struct {
	CooldownMin time.Duration
	CooldownMax time.Duration
}

// Transition is the result of evaluating one outcome. Item is the full next
// state and is only meaningful when Persist is true.
type Transition struct {
	Item         tracker.Item
	Persist      bool
	PriceChanged bool
	Alert        *tracker.Alert
	Cooldown     time.Duration
}

// Evaluator applies fetch outcomes to items. It never mutates its input.
type Evaluator struct {
	cfg Config
	rnd tracker.Rand
}

// New builds an Evaluator; a zero cooldown range defaults to 10–30 minutes.
func New(cfg Config, rnd tracker.Rand) *Evaluator {
	if cfg.CooldownMin <= 0 {
		cfg.CooldownMin = 10 * time.Minute
	}
	if cfg.CooldownMax <= cfg.CooldownMin {
		cfg.CooldownMax = cfg.CooldownMin + 20*time.Minute
	}
	return &Evaluator{cfg: cfg, rnd: rnd}
}

// Evaluate computes the transition for prior given out, observed at now.
func (e *Evaluator) Evaluate(prior tracker.Item, out tracker.Outcome, now time.Time) Transition {
	next := prior.Clone()
	switch out.Kind {
	case tracker.OutcomeUnchanged:
		next.Validators = next.Validators.Merge(out.Validators)
		next.LastCheckedAt = timePtr(now)
		return Transition{Item: next, Persist: true}

	case tracker.OutcomeChanged:
		next.Validators = next.Validators.Merge(out.Validators)
		next.LastCheckedAt = timePtr(now)
		if next.Title == "" {
			next.Title = out.Title
		}
		if out.Price == prior.CurrentPrice {
			return Transition{Item: next, Persist: true}
		}
		next.PriceHistory = AppendHistory(next.PriceHistory, tracker.PricePoint{Price: out.Price, ObservedAt: now})
		next.CurrentPrice = out.Price
		tr := Transition{Item: next, Persist: true, PriceChanged: true}
		if next.AlarmThreshold > 0 && out.Price <= next.AlarmThreshold {
			tr.Alert = &tracker.Alert{
				ItemID:      next.ID,
				SourceURL:   next.SourceURL,
				Title:       next.Title,
				Price:       out.Price,
				Threshold:   next.AlarmThreshold,
				Currency:    out.Currency,
				TriggeredAt: now,
			}
		}
		return tr

	case tracker.OutcomeAntiBot:
		d := e.cooldown()
		next.CooldownUntil = timePtr(now.Add(d))
		return Transition{Item: next, Persist: true, Cooldown: d}

	default:
		return Transition{Item: prior}
	}
}

// cooldown picks a whole-second duration strictly between CooldownMin and CooldownMax.
func (e *Evaluator) cooldown() time.Duration {
	span := e.cfg.CooldownMax - e.cfg.CooldownMin
	secs := int64(span / time.Second)
	if secs <= 2 || e.rnd == nil {
		return e.cfg.CooldownMin + span/2
	}
	return e.cfg.CooldownMin + time.Second + time.Duration(e.rnd.Int63n(secs-1))*time.Second
}

// AppendHistory appends p and keeps only the newest tracker.HistoryLimit points,
// oldest first.
func AppendHistory(history []tracker.PricePoint, p tracker.PricePoint) []tracker.PricePoint {
	out := make([]tracker.PricePoint, 0, tracker.HistoryLimit)
	out = append(out, history...)
	out = append(out, p)
	if len(out) > tracker.HistoryLimit {
		out = out[len(out)-tracker.HistoryLimit:]
	}
	return append([]tracker.PricePoint(nil), out...)
}

func timePtr(t time.Time) *time.Time {
	return &t
}
