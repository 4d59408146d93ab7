// Package postgres provides the Postgres-backed item repository.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/pricewatch/internal/tracker"
	"github.com/JakeFAU/pricewatch/pkg/shard"
)

const (
	defaultTable       = "tracked_items"
	uniqueViolation    = "23505"
	itemColumns        = `id, source_url, title, current_price, price_history, alarm_threshold, etag, last_modified, shard_bucket, cooldown_until, last_checked_at, created_at`
	itemPlaceholderSet = `$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12`
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for tracked items.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// ItemStore persists tracked items in a single Postgres table.
type ItemStore struct {
	pool  pool
	table string
}

var _ tracker.Repository = (*ItemStore)(nil)

// NewItemStore connects to Postgres using cfg.
func NewItemStore(ctx context.Context, cfg Config) (*ItemStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ItemStore{pool: p, table: table}, nil
}

// NewItemStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewItemStoreWithPool(p pool, table string) (*ItemStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ItemStore{pool: p, table: table}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ItemStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *ItemStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the items table and its bucket index when missing.
func (s *ItemStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id              TEXT PRIMARY KEY,
	source_url      TEXT NOT NULL UNIQUE,
	title           TEXT NOT NULL DEFAULT '',
	current_price   DOUBLE PRECISION NOT NULL DEFAULT 0,
	price_history   JSONB NOT NULL DEFAULT '[]',
	alarm_threshold DOUBLE PRECISION NOT NULL DEFAULT 0,
	etag            TEXT NOT NULL DEFAULT '',
	last_modified   TEXT NOT NULL DEFAULT '',
	shard_bucket    INTEGER NOT NULL,
	cooldown_until  TIMESTAMPTZ,
	last_checked_at TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL
)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_shard_bucket_idx ON %[1]s (shard_bucket)`, s.table),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Create inserts a new item.
func (s *ItemStore) Create(ctx context.Context, item tracker.Item) error {
	if item.ID == "" {
		return fmt.Errorf("item id is required")
	}
	args, err := itemArgs(item)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, s.table, itemColumns, itemPlaceholderSet)
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return tracker.ErrDuplicateURL
		}
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

// Save writes back the fields the crawl loop owns. The alarm threshold is left
// alone so a concurrent SetAlarm is not overwritten by a tick.
func (s *ItemStore) Save(ctx context.Context, item tracker.Item) error {
	historyJSON, err := marshalHistory(item.PriceHistory)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	source_url = $2,
	title = $3,
	current_price = $4,
	price_history = $5,
	etag = $6,
	last_modified = $7,
	shard_bucket = $8,
	cooldown_until = $9,
	last_checked_at = $10
WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		item.ID,
		item.SourceURL,
		item.Title,
		item.CurrentPrice,
		historyJSON,
		item.Validators.ETag,
		item.Validators.LastModified,
		shard.Of(item.SourceURL),
		item.CooldownUntil,
		item.LastCheckedAt,
	)
	if err != nil {
		return fmt.Errorf("update item %s: %w", item.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update item %s: %w", item.ID, tracker.ErrNotFound)
	}
	return nil
}

// FindCandidates returns the items in bucket whose cooldown has elapsed.
func (s *ItemStore) FindCandidates(ctx context.Context, bucket int, now time.Time) ([]tracker.Item, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
WHERE shard_bucket = $1 AND (cooldown_until IS NULL OR cooldown_until <= $2)`, itemColumns, s.table)
	return s.queryItems(ctx, query, bucket, now)
}

// FindByID fetches one item.
func (s *ItemStore) FindByID(ctx context.Context, id string) (tracker.Item, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, itemColumns, s.table)
	return s.queryItem(ctx, query, id)
}

// FindByURL fetches one item by source URL.
func (s *ItemStore) FindByURL(ctx context.Context, url string) (tracker.Item, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE source_url = $1`, itemColumns, s.table)
	return s.queryItem(ctx, query, url)
}

// List returns all items, oldest first.
func (s *ItemStore) List(ctx context.Context) ([]tracker.Item, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at, id`, itemColumns, s.table)
	return s.queryItems(ctx, query)
}

// DeleteByID removes one item.
func (s *ItemStore) DeleteByID(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete item %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return tracker.ErrNotFound
	}
	return nil
}

// SetAlarm updates the alarm threshold and returns the stored row.
func (s *ItemStore) SetAlarm(ctx context.Context, id string, threshold float64) (tracker.Item, error) {
	query := fmt.Sprintf(`UPDATE %s SET alarm_threshold = $2 WHERE id = $1 RETURNING %s`, s.table, itemColumns)
	return s.queryItem(ctx, query, id, threshold)
}

// SetShardBucket overwrites the stored bucket and nothing else.
func (s *ItemStore) SetShardBucket(ctx context.Context, id string, bucket int) error {
	query := fmt.Sprintf(`UPDATE %s SET shard_bucket = $2 WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, id, bucket)
	if err != nil {
		return fmt.Errorf("update shard bucket %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update shard bucket %s: %w", id, tracker.ErrNotFound)
	}
	return nil
}

func (s *ItemStore) queryItem(ctx context.Context, query string, args ...any) (tracker.Item, error) {
	item, err := scanItem(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return tracker.Item{}, tracker.ErrNotFound
	}
	if err != nil {
		return tracker.Item{}, fmt.Errorf("query item: %w", err)
	}
	return item, nil
}

func (s *ItemStore) queryItems(ctx context.Context, query string, args ...any) ([]tracker.Item, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()
	var out []tracker.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (tracker.Item, error) {
	var (
		item              tracker.Item
		history           []byte
		cooldown, checked pgtype.Timestamptz
	)
	err := row.Scan(
		&item.ID,
		&item.SourceURL,
		&item.Title,
		&item.CurrentPrice,
		&history,
		&item.AlarmThreshold,
		&item.Validators.ETag,
		&item.Validators.LastModified,
		&item.ShardBucket,
		&cooldown,
		&checked,
		&item.CreatedAt,
	)
	if err != nil {
		return tracker.Item{}, err
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &item.PriceHistory); err != nil {
			return tracker.Item{}, fmt.Errorf("decode price history: %w", err)
		}
	}
	item.CooldownUntil = optionalTime(cooldown)
	item.LastCheckedAt = optionalTime(checked)
	return item, nil
}

// itemArgs orders item fields to match itemColumns.
func itemArgs(item tracker.Item) ([]any, error) {
	historyJSON, err := marshalHistory(item.PriceHistory)
	if err != nil {
		return nil, err
	}
	return []any{
		item.ID,
		item.SourceURL,
		item.Title,
		item.CurrentPrice,
		historyJSON,
		item.AlarmThreshold,
		item.Validators.ETag,
		item.Validators.LastModified,
		shard.Of(item.SourceURL),
		item.CooldownUntil,
		item.LastCheckedAt,
		item.CreatedAt,
	}, nil
}

func marshalHistory(history []tracker.PricePoint) ([]byte, error) {
	if history == nil {
		history = []tracker.PricePoint{}
	}
	b, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("marshal price history: %w", err)
	}
	return b, nil
}

func optionalTime(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time.UTC()
	return &t
}
