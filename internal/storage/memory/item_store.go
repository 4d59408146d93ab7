// Package memory provides an in-memory item repository for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/pricewatch/internal/tracker"
	"github.com/JakeFAU/pricewatch/pkg/shard"
)

// ItemStore keeps tracked items in a map guarded by a RWMutex.
type ItemStore struct {
	mu    sync.RWMutex
	items map[string]tracker.Item
	byURL map[string]string
}

var _ tracker.Repository = (*ItemStore)(nil)

// NewItemStore constructs an empty ItemStore.
func NewItemStore() *ItemStore {
	return &ItemStore{
		items: make(map[string]tracker.Item),
		byURL: make(map[string]string),
	}
}

// Create inserts a new item. The source URL must be unique.
func (s *ItemStore) Create(_ context.Context, item tracker.Item) error {
	if item.ID == "" {
		return fmt.Errorf("item id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[item.ID]; exists {
		return fmt.Errorf("item %s already exists", item.ID)
	}
	if _, exists := s.byURL[item.SourceURL]; exists {
		return tracker.ErrDuplicateURL
	}
	item = item.Clone()
	item.ShardBucket = shard.Of(item.SourceURL)
	s.items[item.ID] = item
	s.byURL[item.SourceURL] = item.ID
	return nil
}

// Save replaces an existing item, keeping the stored alarm threshold so a
// concurrent SetAlarm is not lost.
func (s *ItemStore) Save(_ context.Context, item tracker.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prior, ok := s.items[item.ID]
	if !ok {
		return fmt.Errorf("save %s: %w", item.ID, tracker.ErrNotFound)
	}
	if prior.SourceURL != item.SourceURL {
		if owner, taken := s.byURL[item.SourceURL]; taken && owner != item.ID {
			return tracker.ErrDuplicateURL
		}
		delete(s.byURL, prior.SourceURL)
		s.byURL[item.SourceURL] = item.ID
	}
	item = item.Clone()
	item.ShardBucket = shard.Of(item.SourceURL)
	item.AlarmThreshold = prior.AlarmThreshold
	s.items[item.ID] = item
	return nil
}

// FindCandidates returns the items in bucket that are not cooling down at now.
func (s *ItemStore) FindCandidates(_ context.Context, bucket int, now time.Time) ([]tracker.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []tracker.Item
	for _, item := range s.items {
		if item.DueAt(bucket, now) {
			out = append(out, item.Clone())
		}
	}
	return out, nil
}

// FindByID fetches an item by ID.
func (s *ItemStore) FindByID(_ context.Context, id string) (tracker.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return tracker.Item{}, tracker.ErrNotFound
	}
	return item.Clone(), nil
}

// FindByURL fetches an item by its source URL.
func (s *ItemStore) FindByURL(_ context.Context, url string) (tracker.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byURL[url]
	if !ok {
		return tracker.Item{}, tracker.ErrNotFound
	}
	return s.items[id].Clone(), nil
}

// List returns every item, oldest first.
func (s *ItemStore) List(_ context.Context) ([]tracker.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tracker.Item, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteByID removes an item.
func (s *ItemStore) DeleteByID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return tracker.ErrNotFound
	}
	delete(s.items, id)
	delete(s.byURL, item.SourceURL)
	return nil
}

// SetAlarm updates the alarm threshold and returns the updated item.
func (s *ItemStore) SetAlarm(_ context.Context, id string, threshold float64) (tracker.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return tracker.Item{}, tracker.ErrNotFound
	}
	item.AlarmThreshold = threshold
	s.items[id] = item
	return item.Clone(), nil
}

// SetShardBucket overwrites the stored bucket and nothing else.
func (s *ItemStore) SetShardBucket(_ context.Context, id string, bucket int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return tracker.ErrNotFound
	}
	item.ShardBucket = bucket
	s.items[id] = item
	return nil
}
