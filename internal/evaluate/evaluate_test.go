package evaluate

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

var now = time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

func baseItem() tracker.Item {
	checked := now.Add(-time.Hour)
	return tracker.Item{
		ID:            "item-1",
		SourceURL:     "https://www.amazon.com.tr/dp/B0TEST",
		Title:         "Espresso Machine",
		CurrentPrice:  1500,
		PriceHistory:  []tracker.PricePoint{{Price: 1500, ObservedAt: now.Add(-24 * time.Hour)}},
		Validators:    tracker.Validators{ETag: `"v1"`, LastModified: "Tue, 30 Apr 2024 10:00:00 GMT"},
		ShardBucket:   30,
		LastCheckedAt: &checked,
	}
}

func newEvaluator(seed int64) *Evaluator {
	return New(Config{CooldownMin: 10 * time.Minute, CooldownMax: 30 * time.Minute}, rand.New(rand.NewSource(seed)))
}

func TestEvaluateUnchangedOnlyRefreshesValidators(t *testing.T) {
	t.Parallel()

	prior := baseItem()
	tr := newEvaluator(1).Evaluate(prior, tracker.Unchanged(tracker.Validators{ETag: `"v2"`}), now)

	require.True(t, tr.Persist)
	require.False(t, tr.PriceChanged)
	require.Nil(t, tr.Alert)
	require.Equal(t, prior.CurrentPrice, tr.Item.CurrentPrice)
	require.Equal(t, prior.PriceHistory, tr.Item.PriceHistory)
	require.Equal(t, `"v2"`, tr.Item.Validators.ETag)
	require.Equal(t, prior.Validators.LastModified, tr.Item.Validators.LastModified)
	require.Equal(t, now, *tr.Item.LastCheckedAt)
	require.Nil(t, tr.Item.CooldownUntil)
}

func TestEvaluateChangedSamePrice(t *testing.T) {
	t.Parallel()

	prior := baseItem()
	out := tracker.Outcome{Kind: tracker.OutcomeChanged, Price: 1500, Title: "Other", Validators: tracker.Validators{ETag: `"v3"`}}
	tr := newEvaluator(1).Evaluate(prior, out, now)

	require.True(t, tr.Persist)
	require.False(t, tr.PriceChanged)
	require.Len(t, tr.Item.PriceHistory, 1)
	require.Equal(t, `"v3"`, tr.Item.Validators.ETag)
	require.Equal(t, "Espresso Machine", tr.Item.Title)
	require.Equal(t, now, *tr.Item.LastCheckedAt)
}

func TestEvaluateChangedNewPriceAppendsHistory(t *testing.T) {
	t.Parallel()

	prior := baseItem()
	out := tracker.Outcome{Kind: tracker.OutcomeChanged, Price: 1399.9}
	tr := newEvaluator(1).Evaluate(prior, out, now)

	require.True(t, tr.PriceChanged)
	require.Equal(t, 1399.9, tr.Item.CurrentPrice)
	require.Equal(t, []tracker.PricePoint{
		{Price: 1500, ObservedAt: now.Add(-24 * time.Hour)},
		{Price: 1399.9, ObservedAt: now},
	}, tr.Item.PriceHistory)
	require.Nil(t, tr.Alert)
	// prior is untouched
	require.Len(t, prior.PriceHistory, 1)
	require.Equal(t, 1500.0, prior.CurrentPrice)
}

func TestEvaluateFillsEmptyTitle(t *testing.T) {
	t.Parallel()

	prior := baseItem()
	prior.Title = ""
	tr := newEvaluator(1).Evaluate(prior, tracker.Outcome{Kind: tracker.OutcomeChanged, Price: 1500, Title: "Fresh"}, now)
	require.Equal(t, "Fresh", tr.Item.Title)
}

func TestEvaluateHistoryKeepsLastFour(t *testing.T) {
	t.Parallel()

	e := newEvaluator(1)
	item := baseItem()
	item.PriceHistory = nil
	item.CurrentPrice = 0
	prices := []float64{10, 20, 30, 40, 50, 60, 70}
	for i, p := range prices {
		tr := e.Evaluate(item, tracker.Outcome{Kind: tracker.OutcomeChanged, Price: p}, now.Add(time.Duration(i)*time.Hour))
		require.True(t, tr.Persist)
		item = tr.Item
		require.LessOrEqual(t, len(item.PriceHistory), tracker.HistoryLimit)
	}

	require.Len(t, item.PriceHistory, 4)
	for i, want := range []float64{40, 50, 60, 70} {
		require.Equal(t, want, item.PriceHistory[i].Price)
		require.Equal(t, now.Add(time.Duration(i+3)*time.Hour), item.PriceHistory[i].ObservedAt)
	}
}

func TestEvaluateAlarm(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		threshold float64
		price     float64
		alert     bool
	}{
		{"below threshold", 1400, 1350, true},
		{"at threshold", 1400, 1400, true},
		{"above threshold", 1400, 1450, false},
		{"no alarm configured", 0, 1, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			prior := baseItem()
			prior.AlarmThreshold = tc.threshold
			tr := newEvaluator(1).Evaluate(prior, tracker.Outcome{Kind: tracker.OutcomeChanged, Price: tc.price, Currency: "TL"}, now)
			if !tc.alert {
				require.Nil(t, tr.Alert)
				return
			}
			require.NotNil(t, tr.Alert)
			require.Equal(t, tracker.Alert{
				ItemID:      "item-1",
				SourceURL:   prior.SourceURL,
				Title:       "Espresso Machine",
				Price:       tc.price,
				Threshold:   tc.threshold,
				Currency:    "TL",
				TriggeredAt: now,
			}, *tr.Alert)
		})
	}
}

func TestEvaluateAlarmNotRepeatedWhilePriceStable(t *testing.T) {
	t.Parallel()

	e := newEvaluator(1)
	item := baseItem()
	item.AlarmThreshold = 1400
	first := e.Evaluate(item, tracker.Outcome{Kind: tracker.OutcomeChanged, Price: 1300}, now)
	require.NotNil(t, first.Alert)

	second := e.Evaluate(first.Item, tracker.Outcome{Kind: tracker.OutcomeChanged, Price: 1300}, now.Add(time.Hour))
	require.Nil(t, second.Alert)
	third := e.Evaluate(second.Item, tracker.Unchanged(tracker.Validators{}), now.Add(2*time.Hour))
	require.Nil(t, third.Alert)
}

func TestEvaluateAntiBotSetsCooldownOnly(t *testing.T) {
	t.Parallel()

	e := newEvaluator(99)
	prior := baseItem()
	for i := 0; i < 500; i++ {
		tr := e.Evaluate(prior, tracker.AntiBot("phrase:captcha", nil), now)
		require.True(t, tr.Persist)
		require.NotNil(t, tr.Item.CooldownUntil)
		d := tr.Item.CooldownUntil.Sub(now)
		require.Greater(t, d, 10*time.Minute)
		require.Less(t, d, 30*time.Minute)
		require.Equal(t, d, tr.Cooldown)
		require.Equal(t, prior.CurrentPrice, tr.Item.CurrentPrice)
		require.Equal(t, prior.Title, tr.Item.Title)
		require.Equal(t, prior.Validators, tr.Item.Validators)
		require.Equal(t, prior.LastCheckedAt, tr.Item.LastCheckedAt)
		require.Equal(t, prior.PriceHistory, tr.Item.PriceHistory)
	}
}

func TestEvaluateCooldownNarrowRange(t *testing.T) {
	t.Parallel()

	e := New(Config{CooldownMin: time.Minute, CooldownMax: time.Minute + 2*time.Second}, rand.New(rand.NewSource(1)))
	tr := e.Evaluate(baseItem(), tracker.AntiBot("short-body", nil), now)
	require.Equal(t, time.Minute+time.Second, tr.Cooldown)
}

func TestEvaluateFailedDoesNotPersist(t *testing.T) {
	t.Parallel()

	prior := baseItem()
	for _, reason := range []tracker.FailureReason{
		tracker.FailureRetriesExhausted,
		tracker.FailureExtraction,
		tracker.FailureUnexpectedStatus,
		tracker.FailureCanceled,
	} {
		tr := newEvaluator(1).Evaluate(prior, tracker.Failed(reason, errors.New("x")), now)
		require.False(t, tr.Persist, "reason %s", reason)
		require.Nil(t, tr.Alert)
		require.Equal(t, prior, tr.Item)
	}
}

func TestAppendHistoryDoesNotAlias(t *testing.T) {
	t.Parallel()

	base := make([]tracker.PricePoint, 4, 8)
	for i := range base {
		base[i] = tracker.PricePoint{Price: float64(i)}
	}
	got := AppendHistory(base, tracker.PricePoint{Price: 9})
	got[0].Price = 100
	require.Equal(t, 0.0, base[0].Price)
	require.Equal(t, []float64{100, 2, 3, 9}, []float64{got[0].Price, got[1].Price, got[2].Price, got[3].Price})
}
