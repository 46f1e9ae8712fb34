package state

import (
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	usedBucket = []byte("used")
	metaBucket = []byte("meta")

	lockKey         = []byte("breaking_lock")
	breakingDayPfx  = "breaking_count:"
	timestampLayout = time.RFC3339Nano
)

// BoltStore keeps all cross-run state in a single bbolt file. Used-story sets
// live in nested buckets per category; the lock and counters in a meta
// bucket. bbolt's single-writer transactions give the read-modify-write
// safety the lock needs.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{usedBucket, metaBucket} {
			if _, createErr := tx.CreateBucketIfNotExists(bucket); createErr != nil {
				return createErr
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Contains(category, key string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(usedBucket).Bucket([]byte(category))
		if b == nil {
			return nil
		}
		found = b.Get([]byte(key)) != nil
		return nil
	})
	return found, err
}

func (s *BoltStore) Insert(category, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(usedBucket).CreateBucketIfNotExists([]byte(category))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), []byte(time.Now().Format(timestampLayout)))
	})
}

func (s *BoltStore) Prune(category string, retention time.Duration, maxKeep int) error {
	cutoff := time.Now().Add(-retention)

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(usedBucket).Bucket([]byte(category))
		if b == nil {
			return nil
		}

		type rec struct {
			key []byte
			at  time.Time
		}
		var all []rec
		var expired [][]byte

		err := b.ForEach(func(k, v []byte) error {
			at, parseErr := time.Parse(timestampLayout, string(v))
			if parseErr != nil || (retention > 0 && at.Before(cutoff)) {
				key := make([]byte, len(k))
				copy(key, k)
				expired = append(expired, key)
				return nil
			}
			key := make([]byte, len(k))
			copy(key, k)
			all = append(all, rec{key: key, at: at})
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		if maxKeep > 0 && len(all) > maxKeep {
			sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
			for _, r := range all[:len(all)-maxKeep] {
				if err := b.Delete(r.key); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *BoltStore) AcquireLock(now time.Time, staleness time.Duration) (bool, error) {
	acquired := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(metaBucket)
		if raw := b.Get(lockKey); raw != nil {
			created, parseErr := time.Parse(timestampLayout, string(raw))
			if parseErr == nil && now.Sub(created) < staleness {
				return nil // held and fresh
			}
			// stale lock from a crashed run; reclaim it
		}
		acquired = true
		return b.Put(lockKey, []byte(now.Format(timestampLayout)))
	})
	return acquired, err
}

func (s *BoltStore) ReleaseLock() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).Delete(lockKey)
	})
}

func (s *BoltStore) LockHeld(now time.Time, staleness time.Duration) (bool, error) {
	held := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(metaBucket).Get(lockKey)
		if raw == nil {
			return nil
		}
		created, parseErr := time.Parse(timestampLayout, string(raw))
		if parseErr != nil {
			return nil
		}
		held = now.Sub(created) < staleness
		return nil
	})
	return held, err
}

func (s *BoltStore) IncrBreakingCount(day string) (int, error) {
	var count int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(metaBucket)
		key := []byte(breakingDayPfx + day)
		count = decodeCount(b.Get(key)) + 1
		return b.Put(key, encodeCount(count))
	})
	return count, err
}

func (s *BoltStore) BreakingCount(day string) (int, error) {
	var count int
	err := s.db.View(func(tx *bolt.Tx) error {
		count = decodeCount(tx.Bucket(metaBucket).Get([]byte(breakingDayPfx + day)))
		return nil
	})
	return count, err
}

func encodeCount(n int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	return buf
}

func decodeCount(raw []byte) int {
	if len(raw) != 8 {
		return 0
	}
	return int(binary.BigEndian.Uint64(raw))
}
