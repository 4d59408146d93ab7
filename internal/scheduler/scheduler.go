// Package scheduler drives the per-minute crawl: each tick picks the items
// whose shard bucket matches the current minute, fetches them one at a time
// in random order and applies the results.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/evaluate"
	"github.com/JakeFAU/pricewatch/internal/metrics"
	"github.com/JakeFAU/pricewatch/internal/tracker"
	"github.com/JakeFAU/pricewatch/pkg/shard"
)

const everyMinute = "* * * * *"

// Config controls pacing and retries.
type Config struct {
	TargetRPS   float64
	JitterMin   time.Duration
	JitterMax   time.Duration
	MaxAttempts int
}

// TickReport summarizes one tick.
type TickReport struct {
	Bucket     int
	Candidates int
	Processed  int
	Failed     int
	Alerts     int
	Outcomes   map[tracker.OutcomeKind]int
	Duration   time.Duration
}

// Scheduler owns the tick loop.
type Scheduler struct {
	repo      tracker.Repository
	fetcher   tracker.Fetcher
	evaluator *evaluate.Evaluator
	notifier  tracker.Notifier
	archiver  tracker.Archiver
	clock     tracker.Clock
	sleeper   tracker.Sleeper
	rnd       tracker.Rand
	cfg       Config
	logger    *zap.Logger

	cron *cron.Cron
}

// New wires a Scheduler. archiver may be nil.
func New(
	repo tracker.Repository,
	fetcher tracker.Fetcher,
	evaluator *evaluate.Evaluator,
	notifier tracker.Notifier,
	archiver tracker.Archiver,
	clock tracker.Clock,
	sleeper tracker.Sleeper,
	rnd tracker.Rand,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if cfg.TargetRPS <= 0 {
		cfg.TargetRPS = 0.5
	}
	if cfg.JitterMin < 0 {
		cfg.JitterMin = 0
	}
	if cfg.JitterMax < cfg.JitterMin {
		cfg.JitterMax = cfg.JitterMin
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		repo:      repo,
		fetcher:   fetcher,
		evaluator: evaluator,
		notifier:  notifier,
		archiver:  archiver,
		clock:     clock,
		sleeper:   sleeper,
		rnd:       rnd,
		cfg:       cfg,
		logger:    logger,
	}
}

// Start schedules RunTick at the top of every minute. A tick that overruns
// causes the next one to be skipped rather than run concurrently.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cron != nil {
		return errors.New("scheduler already started")
	}
	cl := cronLogger{s: s.logger.Named("cron").Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(everyMinute, func() {
		if _, err := s.RunTick(ctx); err != nil {
			s.logger.Error("tick failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule tick: %w", err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("scheduler started",
		zap.Float64("target_rps", s.cfg.TargetRPS),
		zap.Int("max_attempts", s.cfg.MaxAttempts),
	)
	return nil
}

// Stop prevents new ticks and waits for a running one to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for running tick: %w", ctx.Err())
	}
}

// RunTick processes the bucket that is due now. Item level failures are logged
// and counted; only a failed candidate query is returned as an error.
func (s *Scheduler) RunTick(ctx context.Context) (TickReport, error) {
	start := s.clock.Now()
	report := TickReport{
		Bucket:   shard.ForTime(start),
		Outcomes: make(map[tracker.OutcomeKind]int),
	}
	logger := s.logger.With(zap.Int("bucket", report.Bucket))

	items, err := s.repo.FindCandidates(ctx, report.Bucket, start)
	if err != nil {
		return report, fmt.Errorf("find candidates for bucket %d: %w", report.Bucket, err)
	}
	report.Candidates = len(items)
	if len(items) == 0 {
		logger.Debug("no candidates")
		metrics.ObserveTick(0, 0)
		return report, nil
	}
	s.rnd.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
	logger.Info("tick started", zap.Int("candidates", len(items)))

	for i, item := range items {
		if ctx.Err() != nil {
			logger.Info("tick interrupted", zap.Int("remaining", len(items)-i))
			break
		}
		itemStart := s.clock.Now()
		res, err := s.processItem(ctx, item)
		report.Processed++
		if res.kind != "" {
			report.Outcomes[res.kind]++
		}
		if res.alerted {
			report.Alerts++
		}
		if err != nil {
			report.Failed++
			logger.Error("item failed",
				zap.String("item_id", item.ID),
				zap.String("url", item.SourceURL),
				zap.Error(err),
			)
		}
		if i < len(items)-1 {
			if err := s.pace(ctx, s.clock.Now().Sub(itemStart)); err != nil {
				logger.Info("tick interrupted during pacing", zap.Error(err))
				break
			}
		}
	}

	report.Duration = s.clock.Now().Sub(start)
	metrics.ObserveTick(report.Candidates, report.Duration)
	logger.Info("tick finished",
		zap.Int("processed", report.Processed),
		zap.Int("failed", report.Failed),
		zap.Int("alerts", report.Alerts),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

type itemResult struct {
	kind    tracker.OutcomeKind
	alerted bool
}

func (s *Scheduler) processItem(ctx context.Context, item tracker.Item) (res itemResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ObserveItemFailure("panic")
			err = fmt.Errorf("panic while processing item: %v", r)
		}
	}()

	out := s.fetcher.Fetch(ctx, item.SourceURL, item.Validators, s.cfg.MaxAttempts)
	res.kind = out.Kind
	metrics.ObserveItem(string(out.Kind))

	logger := s.logger.With(
		zap.String("item_id", item.ID),
		zap.String("url", item.SourceURL),
		zap.String("outcome", string(out.Kind)),
		zap.Int("attempts", out.Attempts),
	)

	if out.Kind == tracker.OutcomeChanged && out.Price != item.CurrentPrice {
		item.AlarmThreshold = s.currentAlarm(ctx, item, logger)
	}
	tr := s.evaluator.Evaluate(item, out, s.clock.Now())
	switch out.Kind {
	case tracker.OutcomeFailed:
		metrics.ObserveItemFailure("fetch")
		logger.Warn("fetch failed",
			zap.String("reason", string(out.Reason)),
			zap.Int("status", out.StatusCode),
			zap.Error(out.Err),
		)
	case tracker.OutcomeAntiBot:
		metrics.ObserveCooldown(item.SourceURL)
		logger.Warn("anti-bot page detected, cooling down",
			zap.String("signal", out.Signal),
			zap.Duration("cooldown", tr.Cooldown),
		)
		s.archive(ctx, item, out, logger)
	case tracker.OutcomeChanged:
		logger.Info("page fetched",
			zap.Float64("price", out.Price),
			zap.Float64("previous_price", item.CurrentPrice),
			zap.Bool("price_changed", tr.PriceChanged),
		)
	default:
		logger.Debug("page not modified")
	}

	if !tr.Persist {
		return res, nil
	}
	if err := s.repo.Save(ctx, tr.Item); err != nil {
		metrics.ObserveItemFailure("persist")
		return res, fmt.Errorf("save item: %w", err)
	}
	if tr.Alert != nil {
		res.alerted = true
		s.dispatch(ctx, *tr.Alert, logger)
	}
	return res, nil
}

// currentAlarm re-reads the stored threshold so a SetAlarm made after the
// candidate query applies to this price change. The snapshot value is used
// when the lookup fails.
func (s *Scheduler) currentAlarm(ctx context.Context, item tracker.Item, logger *zap.Logger) float64 {
	fresh, err := s.repo.FindByID(ctx, item.ID)
	if err != nil {
		logger.Debug("alarm refresh failed, using snapshot", zap.Error(err))
		return item.AlarmThreshold
	}
	return fresh.AlarmThreshold
}

func (s *Scheduler) dispatch(ctx context.Context, alert tracker.Alert, logger *zap.Logger) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, alert); err != nil {
		metrics.ObserveAlert("failed")
		logger.Warn("alert delivery failed", zap.Error(err))
		return
	}
	metrics.ObserveAlert("sent")
	logger.Info("alert sent",
		zap.Float64("price", alert.Price),
		zap.Float64("threshold", alert.Threshold),
	)
}

func (s *Scheduler) archive(ctx context.Context, item tracker.Item, out tracker.Outcome, logger *zap.Logger) {
	if s.archiver == nil || len(out.Evidence) == 0 {
		return
	}
	uri, err := s.archiver.Archive(ctx, item.SourceURL, out.Evidence)
	if err != nil {
		logger.Warn("archive challenge page failed", zap.Error(err))
		return
	}
	logger.Debug("challenge page archived", zap.String("uri", uri))
}

// pace waits out the remainder of the per-request budget plus jitter.
func (s *Scheduler) pace(ctx context.Context, elapsed time.Duration) error {
	wait := s.budget() - elapsed
	if wait < 0 {
		wait = 0
	}
	wait += s.jitter()
	metrics.ObservePacingDelay(wait)
	if err := s.sleeper.Sleep(ctx, wait); err != nil {
		return fmt.Errorf("pacing: %w", err)
	}
	return nil
}

func (s *Scheduler) budget() time.Duration {
	return time.Duration(float64(time.Second) / s.cfg.TargetRPS)
}

func (s *Scheduler) jitter() time.Duration {
	span := s.cfg.JitterMax - s.cfg.JitterMin
	if span <= 0 {
		return s.cfg.JitterMin
	}
	return s.cfg.JitterMin + time.Duration(s.rnd.Int63n(int64(span)))
}
