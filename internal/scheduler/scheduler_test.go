package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/evaluate"
	"github.com/JakeFAU/pricewatch/internal/notify/memory"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

var tickTime = time.Date(2026, 3, 1, 10, 7, 0, 0, time.UTC)

type fakeRepo struct {
	tracker.Repository

	mu      sync.Mutex
	items   []tracker.Item
	saved   map[string]tracker.Item
	saveErr map[string]error
	findErr error
}

func newFakeRepo(items ...tracker.Item) *fakeRepo {
	return &fakeRepo{items: items, saved: map[string]tracker.Item{}, saveErr: map[string]error{}}
}

func (r *fakeRepo) FindCandidates(_ context.Context, bucket int, now time.Time) ([]tracker.Item, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	var out []tracker.Item
	for _, it := range r.items {
		if it.DueAt(bucket, now) {
			out = append(out, it.Clone())
		}
	}
	return out, nil
}

func (r *fakeRepo) Save(_ context.Context, item tracker.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.saveErr[item.ID]; err != nil {
		return err
	}
	r.saved[item.ID] = item
	return nil
}

// FindByID returns the live record, reflecting alarm changes made after
// FindCandidates.
func (r *fakeRepo) FindByID(_ context.Context, id string) (tracker.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range r.items {
		if it.ID == id {
			return it.Clone(), nil
		}
	}
	return tracker.Item{}, tracker.ErrNotFound
}

func (r *fakeRepo) setAlarm(id string, threshold float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.items {
		if r.items[i].ID == id {
			r.items[i].AlarmThreshold = threshold
		}
	}
}

func (r *fakeRepo) savedItem(id string) (tracker.Item, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.saved[id]
	return it, ok
}

type scriptedFetcher struct {
	outcomes map[string]tracker.Outcome
	panics   map[string]bool
	onFetch  func(url string)
	calls    []string
}

func (f *scriptedFetcher) Fetch(_ context.Context, url string, _ tracker.Validators, _ int) tracker.Outcome {
	f.calls = append(f.calls, url)
	if f.onFetch != nil {
		f.onFetch(url)
	}
	if f.panics[url] {
		panic("selector blew up")
	}
	if out, ok := f.outcomes[url]; ok {
		return out
	}
	return tracker.Unchanged(tracker.Validators{})
}

type recordingSleeper struct {
	delays []time.Duration
	err    error
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return s.err
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type recordingArchiver struct {
	urls []string
}

func (a *recordingArchiver) Archive(_ context.Context, url string, _ []byte) (string, error) {
	a.urls = append(a.urls, url)
	return "file:///tmp/" + url, nil
}

// savedFirstNotifier fails the test if an alert arrives before the item is stored.
type savedFirstNotifier struct {
	t    *testing.T
	repo *fakeRepo
	rec  *memory.Recorder
}

func (n savedFirstNotifier) Notify(ctx context.Context, alert tracker.Alert) error {
	if _, ok := n.repo.savedItem(alert.ItemID); !ok {
		n.t.Errorf("alert for %s delivered before save", alert.ItemID)
	}
	return n.rec.Notify(ctx, alert)
}

func item(id string, bucket int) tracker.Item {
	return tracker.Item{
		ID:           id,
		SourceURL:    "https://shop.example/" + id,
		Title:        "Item " + id,
		CurrentPrice: 100,
		ShardBucket:  bucket,
	}
}

type harness struct {
	sched    *Scheduler
	repo     *fakeRepo
	fetcher  *scriptedFetcher
	sleeper  *recordingSleeper
	alerts   *memory.Recorder
	archiver *recordingArchiver
}

func newHarness(t *testing.T, repo *fakeRepo, fetcher *scriptedFetcher) *harness {
	t.Helper()
	rnd := rand.New(rand.NewSource(7))
	h := &harness{
		repo:     repo,
		fetcher:  fetcher,
		sleeper:  &recordingSleeper{},
		alerts:   memory.New(),
		archiver: &recordingArchiver{},
	}
	h.sched = New(
		repo,
		fetcher,
		evaluate.New(evaluate.Config{}, rnd),
		savedFirstNotifier{t: t, repo: repo, rec: h.alerts},
		h.archiver,
		fixedClock{t: tickTime},
		h.sleeper,
		rnd,
		Config{TargetRPS: 0.5, JitterMin: 80 * time.Millisecond, JitterMax: 420 * time.Millisecond, MaxAttempts: 3},
		zap.NewNop(),
	)
	return h
}

func TestRunTickProcessesCandidatesInSeededShuffleOrder(t *testing.T) {
	var (
		items     []tracker.Item
		repoOrder []string
	)
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		it := item(id, 7)
		items = append(items, it)
		repoOrder = append(repoOrder, it.SourceURL)
	}
	fetcher := &scriptedFetcher{}
	h := newHarness(t, newFakeRepo(items...), fetcher)

	want := append([]string(nil), repoOrder...)
	rand.New(rand.NewSource(7)).Shuffle(len(want), func(i, j int) { want[i], want[j] = want[j], want[i] })

	report, err := h.sched.RunTick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 8, report.Processed)
	assert.Equal(t, want, fetcher.calls)
	assert.NotEqual(t, repoOrder, fetcher.calls)
	assert.ElementsMatch(t, repoOrder, fetcher.calls)
}

func TestRunTickUsesAlarmSetDuringTick(t *testing.T) {
	repo := newFakeRepo(item("armed", 7), item("disarmed", 7))
	repo.setAlarm("disarmed", 80)
	fetcher := &scriptedFetcher{
		outcomes: map[string]tracker.Outcome{
			"https://shop.example/armed":    {Kind: tracker.OutcomeChanged, Price: 70},
			"https://shop.example/disarmed": {Kind: tracker.OutcomeChanged, Price: 70},
		},
		onFetch: func(string) {
			repo.setAlarm("armed", 90)
			repo.setAlarm("disarmed", 0)
		},
	}
	h := newHarness(t, repo, fetcher)

	report, err := h.sched.RunTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Alerts)
	alerts := h.alerts.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "armed", alerts[0].ItemID)
	assert.Equal(t, 90.0, alerts[0].Threshold)
}

func TestRunTickIsolatesItemFailures(t *testing.T) {
	alarmed := item("alarmed", 7)
	alarmed.AlarmThreshold = 80
	future := tickTime.Add(time.Minute)
	cooling := item("cooling", 7)
	cooling.CooldownUntil = &future

	repo := newFakeRepo(alarmed, item("panicky", 7), item("unsaved", 7), item("quiet", 7), item("elsewhere", 8), cooling)
	repo.saveErr["unsaved"] = errors.New("db down")
	fetcher := &scriptedFetcher{
		outcomes: map[string]tracker.Outcome{
			"https://shop.example/alarmed": {Kind: tracker.OutcomeChanged, Price: 70, Currency: "TL"},
			"https://shop.example/unsaved": {Kind: tracker.OutcomeChanged, Price: 60},
		},
		panics: map[string]bool{"https://shop.example/panicky": true},
	}
	h := newHarness(t, repo, fetcher)

	report, err := h.sched.RunTick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 7, report.Bucket)
	assert.Equal(t, 4, report.Candidates)
	assert.Equal(t, 4, report.Processed)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 1, report.Alerts)
	assert.Equal(t, 2, report.Outcomes[tracker.OutcomeChanged])
	assert.Equal(t, 1, report.Outcomes[tracker.OutcomeUnchanged])
	assert.ElementsMatch(t, []string{
		"https://shop.example/alarmed",
		"https://shop.example/panicky",
		"https://shop.example/unsaved",
		"https://shop.example/quiet",
	}, fetcher.calls)

	saved, ok := repo.savedItem("alarmed")
	require.True(t, ok)
	assert.Equal(t, 70.0, saved.CurrentPrice)
	_, ok = repo.savedItem("quiet")
	assert.True(t, ok)

	alerts := h.alerts.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "alarmed", alerts[0].ItemID)
	assert.Equal(t, 70.0, alerts[0].Price)
}

func TestRunTickPacesBetweenItems(t *testing.T) {
	repo := newFakeRepo(item("a", 7), item("b", 7), item("c", 7))
	h := newHarness(t, repo, &scriptedFetcher{})

	_, err := h.sched.RunTick(context.Background())
	require.NoError(t, err)

	require.Len(t, h.sleeper.delays, 2, "no pause after the last item")
	for _, d := range h.sleeper.delays {
		assert.GreaterOrEqual(t, d, 2*time.Second+80*time.Millisecond)
		assert.Less(t, d, 2*time.Second+420*time.Millisecond)
	}
}

func TestRunTickCoolsDownAntiBotItems(t *testing.T) {
	repo := newFakeRepo(item("blocked", 7))
	fetcher := &scriptedFetcher{outcomes: map[string]tracker.Outcome{
		"https://shop.example/blocked": tracker.AntiBot("short-body", []byte("<html>robot</html>")),
	}}
	h := newHarness(t, repo, fetcher)

	report, err := h.sched.RunTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Outcomes[tracker.OutcomeAntiBot])

	saved, ok := repo.savedItem("blocked")
	require.True(t, ok)
	require.NotNil(t, saved.CooldownUntil)
	assert.True(t, saved.CooldownUntil.After(tickTime.Add(10*time.Minute)))
	assert.True(t, saved.CooldownUntil.Before(tickTime.Add(30*time.Minute)))
	assert.Equal(t, 100.0, saved.CurrentPrice)
	assert.Equal(t, []string{"https://shop.example/blocked"}, h.archiver.urls)
}

func TestRunTickSkipsPersistOnFailure(t *testing.T) {
	repo := newFakeRepo(item("broken", 7))
	fetcher := &scriptedFetcher{outcomes: map[string]tracker.Outcome{
		"https://shop.example/broken": tracker.Failed(tracker.FailureRetriesExhausted, errors.New("503")),
	}}
	h := newHarness(t, repo, fetcher)

	report, err := h.sched.RunTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 1, report.Outcomes[tracker.OutcomeFailed])
	_, ok := repo.savedItem("broken")
	assert.False(t, ok)
	assert.Empty(t, h.alerts.Alerts())
}

func TestRunTickToleratesNotifierErrors(t *testing.T) {
	alarmed := item("alarmed", 7)
	alarmed.AlarmThreshold = 80
	repo := newFakeRepo(alarmed)
	fetcher := &scriptedFetcher{outcomes: map[string]tracker.Outcome{
		"https://shop.example/alarmed": {Kind: tracker.OutcomeChanged, Price: 75},
	}}
	h := newHarness(t, repo, fetcher)
	h.alerts.FailWith(errors.New("telegram down"))

	report, err := h.sched.RunTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Failed)
	assert.Len(t, h.alerts.Alerts(), 1)
	_, ok := repo.savedItem("alarmed")
	assert.True(t, ok)
}

func TestRunTickReturnsCandidateQueryError(t *testing.T) {
	repo := newFakeRepo()
	repo.findErr = errors.New("connection refused")
	h := newHarness(t, repo, &scriptedFetcher{})

	_, err := h.sched.RunTick(context.Background())
	assert.ErrorContains(t, err, "connection refused")
}

func TestRunTickStopsWhenPacingIsInterrupted(t *testing.T) {
	repo := newFakeRepo(item("a", 7), item("b", 7), item("c", 7))
	fetcher := &scriptedFetcher{}
	h := newHarness(t, repo, fetcher)
	h.sleeper.err = context.Canceled

	report, err := h.sched.RunTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Len(t, fetcher.calls, 1)
}

func TestRunTickStopsOnCanceledContext(t *testing.T) {
	repo := newFakeRepo(item("a", 7), item("b", 7))
	fetcher := &scriptedFetcher{}
	h := newHarness(t, repo, fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := h.sched.RunTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Candidates)
	assert.Equal(t, 0, report.Processed)
	assert.Empty(t, fetcher.calls)
}

func TestStartStop(t *testing.T) {
	h := newHarness(t, newFakeRepo(), &scriptedFetcher{})
	ctx := context.Background()

	require.NoError(t, h.sched.Start(ctx))
	assert.Error(t, h.sched.Start(ctx), "second start is rejected")

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, h.sched.Stop(stopCtx))
}

func TestJitterWithinBounds(t *testing.T) {
	h := newHarness(t, newFakeRepo(), &scriptedFetcher{})
	for i := 0; i < 200; i++ {
		j := h.sched.jitter()
		assert.GreaterOrEqual(t, j, 80*time.Millisecond)
		assert.Less(t, j, 420*time.Millisecond)
	}
	assert.Equal(t, 2*time.Second, h.sched.budget())
}
