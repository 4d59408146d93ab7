// Package shard maps tracked URLs onto the minute buckets used by the scheduler.
package shard

import (
	"crypto/sha1" //nolint:gosec // bucket assignment, not a security boundary
	"encoding/binary"
	"time"
)

// Buckets is the number of scheduling buckets, one per minute of the hour.
const Buckets = 60

// Of returns the bucket for rawURL: the first four bytes of its SHA-1 digest,
// read big-endian, modulo Buckets. Every component that assigns or audits
// buckets must go through this function.
func Of(rawURL string) int {
	sum := sha1.Sum([]byte(rawURL)) //nolint:gosec // see import
	return int(binary.BigEndian.Uint32(sum[:4]) % Buckets)
}

// ForTime returns the bucket that is due at t.
func ForTime(t time.Time) int {
	return t.Minute() % Buckets
}

// Valid reports whether b is a usable bucket number.
func Valid(b int) bool {
	return b >= 0 && b < Buckets
}
