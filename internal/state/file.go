package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

type usedRecord struct {
	Key    string    `json:"key"`
	UsedAt time.Time `json:"used_at"`
}

type fileState struct {
	Used           map[string][]usedRecord `json:"used"`
	LockCreatedAt  *time.Time              `json:"lock_created_at,omitempty"`
	BreakingCounts map[string]int          `json:"breaking_counts"`
}

// FileStore is the JSON-file state backend for deployments without bbolt.
// Every mutation rewrites the file; the advisory single-writer scheduling
// model makes that sufficient.
type FileStore struct {
	path string
	mu   sync.Mutex
	data fileState
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path: path,
		data: fileState{
			Used:           map[string][]usedRecord{},
			BreakingCounts: map[string]int{},
		},
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	if len(raw) == 0 {
		return fs, nil
	}
	if err := json.Unmarshal(raw, &fs.data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state file: %w", err)
	}
	if fs.data.Used == nil {
		fs.data.Used = map[string][]usedRecord{}
	}
	if fs.data.BreakingCounts == nil {
		fs.data.BreakingCounts = map[string]int{}
	}
	return fs, nil
}

func (fs *FileStore) Close() error { return nil }

// save must be called with fs.mu held.
func (fs *FileStore) save() error {
	data, err := json.MarshalIndent(fs.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if dir := filepath.Dir(fs.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(fs.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

func (fs *FileStore) Contains(category, key string) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for _, rec := range fs.data.Used[category] {
		if rec.Key == key {
			return true, nil
		}
	}
	return false, nil
}

func (fs *FileStore) Insert(category, key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for _, rec := range fs.data.Used[category] {
		if rec.Key == key {
			return nil
		}
	}
	fs.data.Used[category] = append(fs.data.Used[category], usedRecord{Key: key, UsedAt: time.Now()})
	return fs.save()
}

func (fs *FileStore) Prune(category string, retention time.Duration, maxKeep int) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	records := fs.data.Used[category]
	if len(records) == 0 {
		return nil
	}

	cutoff := time.Now().Add(-retention)
	kept := records[:0]
	for _, rec := range records {
		if retention > 0 && rec.UsedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, rec)
	}

	if maxKeep > 0 && len(kept) > maxKeep {
		sort.Slice(kept, func(i, j int) bool { return kept[i].UsedAt.Before(kept[j].UsedAt) })
		kept = kept[len(kept)-maxKeep:]
	}

	fs.data.Used[category] = kept
	return fs.save()
}

func (fs *FileStore) AcquireLock(now time.Time, staleness time.Duration) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.data.LockCreatedAt != nil && now.Sub(*fs.data.LockCreatedAt) < staleness {
		return false, nil
	}
	created := now
	fs.data.LockCreatedAt = &created
	return true, fs.save()
}

func (fs *FileStore) ReleaseLock() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.data.LockCreatedAt = nil
	return fs.save()
}

func (fs *FileStore) LockHeld(now time.Time, staleness time.Duration) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.data.LockCreatedAt == nil {
		return false, nil
	}
	return now.Sub(*fs.data.LockCreatedAt) < staleness, nil
}

func (fs *FileStore) IncrBreakingCount(day string) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.data.BreakingCounts[day]++
	return fs.data.BreakingCounts[day], fs.save()
}

func (fs *FileStore) BreakingCount(day string) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return fs.data.BreakingCounts[day], nil
}
