// Package state persists the only cross-run mutable data: per-category
// used-story sets, the breaking mutual-exclusion lock, and the per-day
// breaking counter.
package state

import "time"

// Used-story categories.
const (
	CategoryDaily    = "daily"
	CategoryWeekly   = "weekly"
	CategoryBreaking = "breaking"
)

// UsedStore is the duplicate tracker backing. A story present in its
// category's set must never be re-selected for that category.
type UsedStore interface {
	Contains(category, key string) (bool, error)
	Insert(category, key string) error
	// Prune drops records older than retention and, beyond that, trims the
	// set down to maxKeep newest records. Applied lazily by callers.
	Prune(category string, retention time.Duration, maxKeep int) error
}

// LockStore provides the breaking-run mutual exclusion and daily cap counter.
// A lock older than the staleness threshold is treated as absent.
type LockStore interface {
	// AcquireLock atomically claims the breaking lock. It returns false when
	// an unexpired lock is already held.
	AcquireLock(now time.Time, staleness time.Duration) (bool, error)
	ReleaseLock() error
	// LockHeld reports whether an unexpired lock exists.
	LockHeld(now time.Time, staleness time.Duration) (bool, error)

	// IncrBreakingCount bumps and returns the counter for the given day key
	// (formatted YYYY-MM-DD).
	IncrBreakingCount(day string) (int, error)
	BreakingCount(day string) (int, error)
}

// Store combines both concerns; the bolt and file backends implement it.
type Store interface {
	UsedStore
	LockStore
	Close() error
}

// DayKey formats the day bucket used by the breaking cap counter.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
