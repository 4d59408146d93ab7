package tracker

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no item matches the lookup.
	ErrNotFound = errors.New("item not found")
	// ErrDuplicateURL is returned when an item with the same source URL already exists.
	ErrDuplicateURL = errors.New("item with this url already exists")
)

// Repository persists tracked items. Implementations recompute ShardBucket
// from SourceURL on every write.
type Repository interface {
	FindCandidates(ctx context.Context, bucket int, now time.Time) ([]Item, error)
	Save(ctx context.Context, item Item) error
	Create(ctx context.Context, item Item) error
	FindByID(ctx context.Context, id string) (Item, error)
	FindByURL(ctx context.Context, url string) (Item, error)
	List(ctx context.Context) ([]Item, error)
	DeleteByID(ctx context.Context, id string) error
	SetAlarm(ctx context.Context, id string, threshold float64) (Item, error)
	// SetShardBucket rewrites only the stored bucket of one item.
	SetShardBucket(ctx context.Context, id string, bucket int) error
}

// Fetcher runs a conditional fetch for one item and classifies the result.
type Fetcher interface {
	Fetch(ctx context.Context, url string, validators Validators, maxAttempts int) Outcome
}

// Transport performs a single HTTP GET without any retry logic.
type Transport interface {
	Get(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Notifier delivers price alerts.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// Archiver keeps a copy of challenge pages for later inspection.
type Archiver interface {
	Archive(ctx context.Context, sourceURL string, body []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Rand is the random source used for shuffling, jitter and cooldowns.
// *math/rand.Rand satisfies it.
type Rand interface {
	Int63n(n int64) int64
	Shuffle(n int, swap func(i, j int))
}

// Sleeper waits for d or until ctx is done, whichever comes first.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces item IDs.
type IDGenerator interface {
	NewID() (string, error)
}
