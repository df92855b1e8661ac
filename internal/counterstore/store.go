// Package counterstore holds the hot engagement state: membership sets,
// live counters and ranked feed pools. Everything in it can be rebuilt from
// the database.
package counterstore

import (
	"context"
	"errors"
)

// ErrInvalidEdge is returned when an Edge is missing its set or member.
var ErrInvalidEdge = errors.New("counterstore: edge needs set, member, mirror and mirror member")

// Edge describes one membership toggle. Set/Member is the idempotence
// check, Mirror/MirrorMember the reverse index, and every key in Counters is
// incremented on add and decremented (never below zero) on removal. All of
// it happens atomically, and only when the membership actually changes.
type Edge struct {
	Set          string
	Member       string
	Mirror       string
	MirrorMember string
	Counters     []string
}

func (e Edge) validate() error {
	if e.Set == "" || e.Member == "" || e.Mirror == "" || e.MirrorMember == "" {
		return ErrInvalidEdge
	}
	return nil
}

// ScoredMember is one entry of a sorted set.
type ScoredMember struct {
	Member string
	Score  float64
}

// Store is the counter store contract. Implementations must make Link,
// Unlink and Incr atomic per call.
type Store interface {
	// Get returns the counter at key, 0 when absent.
	Get(ctx context.Context, key string) (int64, error)
	// GetMany returns the counters that exist among keys.
	GetMany(ctx context.Context, keys []string) (map[string]int64, error)
	// Incr adds delta to key and returns the new value, clamped at zero.
	Incr(ctx context.Context, key string, delta int64) (int64, error)
	// SeedCounter sets key to value only if key does not exist yet.
	SeedCounter(ctx context.Context, key string, value int64) (bool, error)
	// SetCounter overwrites key.
	SetCounter(ctx context.Context, key string, value int64) error

	IsMember(ctx context.Context, set, member string) (bool, error)
	AreMembers(ctx context.Context, set string, members []string) ([]bool, error)
	Members(ctx context.Context, set string) ([]string, error)
	AddMembers(ctx context.Context, set string, members ...string) error

	// Link adds the edge and reports whether it was new, along with the
	// value of each counter after the call.
	Link(ctx context.Context, e Edge) (bool, []int64, error)
	// Unlink removes the edge and reports whether it existed, along with
	// the value of each counter after the call.
	Unlink(ctx context.Context, e Edge) (bool, []int64, error)

	ZAdd(ctx context.Context, key, member string, score float64) error
	ZRem(ctx context.Context, key, member string) error
	ZRevRange(ctx context.Context, key string, offset, limit int64) ([]ScoredMember, error)
	ZCard(ctx context.Context, key string) (int64, error)

	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
}
