// Package store keeps the reverse index from watermark fingerprints to signed
// assets, and persists it as a single flat JSON snapshot.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"watermark-gateway/pkg/watermark"

	"github.com/gofrs/flock"
)

// Record is what the index remembers for one signed asset.
type Record struct {
	Path        string              `json:"path"`
	MessageBits watermark.BitVector `json:"message_bits"`
}

// WatermarkStore maps fingerprints to records. The zero value is not usable;
// construct it with NewWatermarkStore.
type WatermarkStore struct {
	path string
	lock *flock.Flock

	// persistMu orders snapshot writes within the process; the flock only
	// excludes other processes.
	persistMu sync.Mutex

	mu      sync.Mutex
	records map[string]Record
}

// NewWatermarkStore creates an empty store persisted at path. An empty path
// gives a memory-only store whose Persist and Load are no-ops.
func NewWatermarkStore(path string) *WatermarkStore {
	s := &WatermarkStore{
		path:    path,
		records: make(map[string]Record),
	}
	if path != "" {
		s.lock = flock.New(path + ".lock")
	}
	return s
}

// Path returns the snapshot file location.
func (s *WatermarkStore) Path() string {
	return s.path
}

// Put inserts or silently replaces the record under fingerprint.
func (s *WatermarkStore) Put(fingerprint string, rec Record) {
	rec.MessageBits = append(watermark.BitVector(nil), rec.MessageBits...)

	s.mu.Lock()
	s.records[fingerprint] = rec
	s.mu.Unlock()
}

// Get returns the record stored under fingerprint.
func (s *WatermarkStore) Get(fingerprint string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[fingerprint]
	return rec, ok
}

// Len returns the number of records.
func (s *WatermarkStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.records)
}

// Nearest scans every record and returns the one with the smallest squared
// distance to probe. Records of a different length are skipped. Equal scores
// keep the first record met in map iteration order, so ties are arbitrary.
func (s *WatermarkStore) Nearest(probe watermark.BitVector) (Record, float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		best     Record
		bestDist float64
		found    bool
	)
	for _, rec := range s.records {
		dist, ok := watermark.SquaredDistance(probe, rec.MessageBits)
		if !ok {
			continue
		}
		if !found || dist < bestDist {
			best, bestDist, found = rec, dist, true
		}
	}
	if !found {
		return Record{}, 0, false
	}
	best.MessageBits = append(watermark.BitVector(nil), best.MessageBits...)
	return best, bestDist, true
}

// Snapshot serialises the full map as a flat JSON object keyed by fingerprint.
func (s *WatermarkStore) Snapshot() ([]byte, error) {
	s.mu.Lock()
	records := make(map[string]Record, len(s.records))
	for k, v := range s.records {
		records[k] = v
	}
	s.mu.Unlock()

	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

// Restore replaces the in-memory map with the contents of a snapshot.
func (s *WatermarkStore) Restore(data []byte) error {
	records := make(map[string]Record)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &records); err != nil {
			return fmt.Errorf("parse snapshot: %w", err)
		}
	}
	// a "null" document decodes to a nil map
	if records == nil {
		records = make(map[string]Record)
	}

	s.mu.Lock()
	s.records = records
	s.mu.Unlock()
	return nil
}

// Persist writes the snapshot file atomically. The map mutex is only held
// while copying the records.
func (s *WatermarkStore) Persist() error {
	if s.path == "" {
		return nil
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	data, err := s.Snapshot()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock snapshot: %w", err)
	}
	defer s.lock.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot file. A missing file leaves the store empty.
func (s *WatermarkStore) Load() error {
	if s.path == "" {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s.Restore(nil)
		}
		return fmt.Errorf("read snapshot: %w", err)
	}
	return s.Restore(data)
}
