package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidatorsMergeKeepsExisting(t *testing.T) {
	t.Parallel()

	cur := Validators{ETag: `"v1"`, LastModified: "Mon, 01 Jan 2024 00:00:00 GMT"}
	require.Equal(t, cur, cur.Merge(Validators{}))

	merged := cur.Merge(Validators{ETag: `"v2"`})
	require.Equal(t, `"v2"`, merged.ETag)
	require.Equal(t, cur.LastModified, merged.LastModified)
	require.True(t, Validators{}.Empty())
	require.False(t, merged.Empty())
}

func TestItemCloneIsDeep(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	orig := Item{
		ID:            "a",
		PriceHistory:  []PricePoint{{Price: 10, ObservedAt: now}},
		CooldownUntil: &now,
	}
	cp := orig.Clone()
	cp.PriceHistory[0].Price = 99
	*cp.CooldownUntil = now.Add(time.Hour)

	require.Equal(t, 10.0, orig.PriceHistory[0].Price)
	require.Equal(t, now, *orig.CooldownUntil)
}

func TestItemDueAt(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	past := now.Add(-time.Second)
	future := now.Add(time.Minute)

	require.True(t, Item{ShardBucket: 5}.DueAt(5, now))
	require.False(t, Item{ShardBucket: 5}.DueAt(6, now))
	require.True(t, Item{ShardBucket: 5, CooldownUntil: &past}.DueAt(5, now))
	require.True(t, Item{ShardBucket: 5, CooldownUntil: &now}.DueAt(5, now))
	require.False(t, Item{ShardBucket: 5, CooldownUntil: &future}.DueAt(5, now))
}

func TestItemAlarmHit(t *testing.T) {
	t.Parallel()

	require.False(t, Item{CurrentPrice: 5}.AlarmHit())
	require.True(t, Item{CurrentPrice: 5, AlarmThreshold: 5}.AlarmHit())
	require.False(t, Item{CurrentPrice: 6, AlarmThreshold: 5}.AlarmHit())
}
