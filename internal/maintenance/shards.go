// Package maintenance holds offline repair jobs for the item store.
package maintenance

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/tracker"
	"github.com/JakeFAU/pricewatch/pkg/shard"
)

// AuditReport counts items whose stored bucket is wrong.
type AuditReport struct {
	Total      int
	OutOfRange int
	Mismatched int
}

// RepairReport counts the work done by Repair.
type RepairReport struct {
	Scanned int
	Updated int
}

// Shards audits and repairs stored shard buckets.
type Shards struct {
	repo   tracker.Repository
	logger *zap.Logger
}

// NewShards returns a Shards job.
func NewShards(repo tracker.Repository, logger *zap.Logger) *Shards {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Shards{repo: repo, logger: logger}
}

// Audit scans every item without writing.
func (s *Shards) Audit(ctx context.Context) (AuditReport, error) {
	items, err := s.repo.List(ctx)
	if err != nil {
		return AuditReport{}, fmt.Errorf("list items: %w", err)
	}
	var report AuditReport
	for _, item := range items {
		report.Total++
		switch {
		case !shard.Valid(item.ShardBucket):
			report.OutOfRange++
		case item.ShardBucket != shard.Of(item.SourceURL):
			report.Mismatched++
		}
	}
	s.logger.Info("shard audit",
		zap.Int("total", report.Total),
		zap.Int("out_of_range", report.OutOfRange),
		zap.Int("mismatched", report.Mismatched),
	)
	return report, nil
}

// Repair rewrites the bucket of every item that needs it, or of all items when
// force is set. Only the bucket column is written, so ticks running alongside
// keep their results.
func (s *Shards) Repair(ctx context.Context, force bool) (RepairReport, error) {
	items, err := s.repo.List(ctx)
	if err != nil {
		return RepairReport{}, fmt.Errorf("list items: %w", err)
	}
	var report RepairReport
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++
		want := shard.Of(item.SourceURL)
		if !force && item.ShardBucket == want {
			continue
		}
		if err := s.repo.SetShardBucket(ctx, item.ID, want); err != nil {
			if errors.Is(err, tracker.ErrNotFound) {
				continue
			}
			return report, fmt.Errorf("set shard bucket %s: %w", item.ID, err)
		}
		report.Updated++
	}
	s.logger.Info("shard repair",
		zap.Bool("force", force),
		zap.Int("scanned", report.Scanned),
		zap.Int("updated", report.Updated),
	)
	return report, nil
}
