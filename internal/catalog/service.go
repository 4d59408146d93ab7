// Package catalog manages the set of tracked items: adding pages after an
// initial price check, listing them with alarms first, and editing alarms.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

var (
	// ErrInvalidURL is returned for anything but an absolute http(s) URL.
	ErrInvalidURL = errors.New("url must be an absolute http or https url")
	// ErrBlocked is returned when the first fetch hits an anti-bot page.
	ErrBlocked = errors.New("page is blocked by anti-bot protection")
	// ErrNoPriceFound is returned when the page has no readable price or title.
	ErrNoPriceFound = errors.New("no price found on page")
	// ErrFetchFailed is returned for any other failed first fetch.
	ErrFetchFailed = errors.New("could not fetch page")
	// ErrInvalidAlarm is returned for negative or non-finite thresholds.
	ErrInvalidAlarm = errors.New("alarm threshold must be a finite number >= 0")
)

// Throttle delays outbound requests per host.
type Throttle interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config tunes the add path.
type Config struct {
	MaxAttempts int
}

// Service implements the item management operations.
type Service struct {
	repo     tracker.Repository
	fetcher  tracker.Fetcher
	throttle Throttle
	ids      tracker.IDGenerator
	clock    tracker.Clock
	cfg      Config
	logger   *zap.Logger
}

// New wires a Service. throttle may be nil.
func New(
	repo tracker.Repository,
	fetcher tracker.Fetcher,
	throttle Throttle,
	ids tracker.IDGenerator,
	clock tracker.Clock,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		fetcher:  fetcher,
		throttle: throttle,
		ids:      ids,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Add fetches rawURL once and starts tracking it with the observed price.
func (s *Service) Add(ctx context.Context, rawURL string) (tracker.Item, error) {
	sourceURL, err := normalizeURL(rawURL)
	if err != nil {
		return tracker.Item{}, err
	}
	if _, err := s.repo.FindByURL(ctx, sourceURL); err == nil {
		return tracker.Item{}, tracker.ErrDuplicateURL
	} else if !errors.Is(err, tracker.ErrNotFound) {
		return tracker.Item{}, fmt.Errorf("lookup %s: %w", sourceURL, err)
	}

	if s.throttle != nil {
		if err := s.throttle.Wait(ctx, sourceURL); err != nil {
			return tracker.Item{}, err
		}
	}
	out := s.fetcher.Fetch(ctx, sourceURL, tracker.Validators{}, s.cfg.MaxAttempts)
	if err := firstFetchError(out); err != nil {
		s.logger.Info("add rejected",
			zap.String("url", sourceURL),
			zap.String("outcome", string(out.Kind)),
			zap.String("reason", string(out.Reason)),
			zap.Error(out.Err),
		)
		return tracker.Item{}, err
	}

	id, err := s.ids.NewID()
	if err != nil {
		return tracker.Item{}, err
	}
	now := s.clock.Now()
	checked := now
	item := tracker.Item{
		ID:            id,
		SourceURL:     sourceURL,
		Title:         out.Title,
		CurrentPrice:  out.Price,
		PriceHistory:  []tracker.PricePoint{{Price: out.Price, ObservedAt: now}},
		Validators:    out.Validators,
		LastCheckedAt: &checked,
		CreatedAt:     now,
	}
	if err := s.repo.Create(ctx, item); err != nil {
		if errors.Is(err, tracker.ErrDuplicateURL) {
			return tracker.Item{}, err
		}
		return tracker.Item{}, fmt.Errorf("create item: %w", err)
	}
	stored, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return tracker.Item{}, fmt.Errorf("reload item: %w", err)
	}
	s.logger.Info("item added",
		zap.String("item_id", id),
		zap.String("url", sourceURL),
		zap.Float64("price", out.Price),
		zap.Int("bucket", stored.ShardBucket),
	)
	return stored, nil
}

func firstFetchError(out tracker.Outcome) error {
	switch out.Kind {
	case tracker.OutcomeChanged:
		return nil
	case tracker.OutcomeAntiBot:
		return ErrBlocked
	case tracker.OutcomeFailed:
		if out.Reason == tracker.FailureExtraction {
			return fmt.Errorf("%w: %v", ErrNoPriceFound, out.Err)
		}
		if out.Reason == tracker.FailureCanceled && out.Err != nil {
			return out.Err
		}
		return fmt.Errorf("%w: %s", ErrFetchFailed, out.Reason)
	default:
		// A 304 without validators means the server is misbehaving.
		return fmt.Errorf("%w: unexpected %s response", ErrFetchFailed, out.Kind)
	}
}

// List returns every item: alarm hits first (furthest below the alarm first),
// then newest first.
func (s *Service) List(ctx context.Context) ([]tracker.Item, error) {
	items, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	SortForDisplay(items)
	return items, nil
}

// SortForDisplay orders items in place for listing.
func SortForDisplay(items []tracker.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.AlarmHit() != b.AlarmHit() {
			return a.AlarmHit()
		}
		if da, db := alarmGap(a), alarmGap(b); da != db {
			return da > db
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}

func alarmGap(item tracker.Item) float64 {
	if !item.AlarmHit() {
		return 0
	}
	return item.AlarmThreshold - item.CurrentPrice
}

// Get returns one item.
func (s *Service) Get(ctx context.Context, id string) (tracker.Item, error) {
	return s.repo.FindByID(ctx, id)
}

// Delete stops tracking an item.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeleteByID(ctx, id); err != nil {
		return err
	}
	s.logger.Info("item deleted", zap.String("item_id", id))
	return nil
}

// SetAlarm sets the threshold at or below which alerts fire. Zero clears it.
func (s *Service) SetAlarm(ctx context.Context, id string, threshold float64) (tracker.Item, error) {
	if threshold < 0 || math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return tracker.Item{}, ErrInvalidAlarm
	}
	item, err := s.repo.SetAlarm(ctx, id, threshold)
	if err != nil {
		return tracker.Item{}, err
	}
	s.logger.Info("alarm updated", zap.String("item_id", id), zap.Float64("threshold", threshold))
	return item, nil
}

func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", ErrInvalidURL
	}
	u.Fragment = ""
	return u.String(), nil
}
