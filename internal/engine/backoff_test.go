package engine

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffExponentialWithCap(t *testing.T) {
	t.Parallel()

	p := NewBackoffPolicy(800*time.Millisecond, 30*time.Second, 0, nil)
	require.Equal(t, 800*time.Millisecond, p.Delay(0, 0))
	require.Equal(t, 1600*time.Millisecond, p.Delay(1, 0))
	require.Equal(t, 3200*time.Millisecond, p.Delay(2, 0))
	require.Equal(t, 25600*time.Millisecond, p.Delay(5, 0))
	require.Equal(t, 30*time.Second, p.Delay(6, 0))
	require.Equal(t, 30*time.Second, p.Delay(60, 0))
}

func TestBackoffRetryAfterWinsWhenLonger(t *testing.T) {
	t.Parallel()

	p := NewBackoffPolicy(0, 0, 0, nil)
	require.Equal(t, 5*time.Second, p.Delay(0, 5*time.Second))
	require.Equal(t, 45*time.Second, p.Delay(3, 45*time.Second))
	require.Equal(t, 6400*time.Millisecond, p.Delay(3, time.Second))
}

func TestBackoffJitterBounds(t *testing.T) {
	t.Parallel()

	p := NewBackoffPolicy(800*time.Millisecond, 30*time.Second, 500*time.Millisecond, rand.New(rand.NewSource(7)))
	for i := 0; i < 200; i++ {
		d := p.Delay(0, 0)
		require.GreaterOrEqual(t, d, 800*time.Millisecond)
		require.Less(t, d, 1300*time.Millisecond)
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	limit := 5 * time.Minute
	tests := []struct {
		name  string
		value string
		limit time.Duration
		want  time.Duration
	}{
		{"seconds", "5", limit, 5 * time.Second},
		{"padded", " 5 ", limit, 5 * time.Second},
		{"empty", "", limit, 0},
		{"negative", "-3", limit, 0},
		{"garbage", "soon", limit, 0},
		{"http date", "Wed, 01 May 2024 12:01:30 GMT", limit, 90 * time.Second},
		{"past date", "Wed, 01 May 2024 11:00:00 GMT", limit, 0},
		{"at limit", "300", limit, limit},
		{"above limit", "301", limit, limit},
		{"would overflow duration", "9999999999", limit, limit},
		{"centuries", "99999999999", limit, limit},
		{"beyond int64", "99999999999999999999999", limit, limit},
		{"huge negative", "-99999999999999999999999", limit, 0},
		{"far future date", "Fri, 01 May 2099 12:00:00 GMT", limit, limit},
		{"default limit", "9999999999", 0, 5 * time.Minute},
		{"custom limit", "120", time.Minute, time.Minute},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := parseRetryAfter(tt.value, now, tt.limit)
			require.Equal(t, tt.want, got)
			require.GreaterOrEqual(t, got, time.Duration(0))
		})
	}
}
