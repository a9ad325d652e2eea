package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"watermark-gateway/pkg/watermark"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func put(s *WatermarkStore, path string, bits watermark.BitVector) {
	s.Put(watermark.Fingerprint(bits), Record{Path: path, MessageBits: bits})
}

func TestNearestExactMatch(t *testing.T) {
	s := NewWatermarkStore("")
	put(s, "a.mp4", watermark.BitVector{0.9, 0.1, 0.8, 0.2})
	put(s, "b.mp4", watermark.BitVector{0.1, 0.9, 0.2, 0.8})

	rec, dist, ok := s.Nearest(watermark.BitVector{0.9, 0.1, 0.8, 0.2})
	require.True(t, ok)
	assert.Equal(t, "a.mp4", rec.Path)
	assert.Zero(t, dist)
}

func TestNearestNoisyProbe(t *testing.T) {
	s := NewWatermarkStore("")
	put(s, "a.mp4", watermark.BitVector{0.9, 0.1, 0.8, 0.2})
	put(s, "b.mp4", watermark.BitVector{0.1, 0.9, 0.2, 0.8})
	put(s, "c.mp4", watermark.BitVector{0.9, 0.9, 0.9, 0.9})

	rec, dist, ok := s.Nearest(watermark.BitVector{0.91, 0.12, 0.79, 0.18})
	require.True(t, ok)
	assert.Equal(t, "a.mp4", rec.Path)
	assert.InDelta(t, 0.001, dist, 1e-9)
}

func TestNearestSkipsMismatchedLengths(t *testing.T) {
	s := NewWatermarkStore("")
	put(s, "short.mp4", watermark.BitVector{0.9, 0.1})
	put(s, "long.mp4", watermark.BitVector{0.1, 0.1, 0.1, 0.1, 0.1, 0.1})
	put(s, "match.mp4", watermark.BitVector{0.1, 0.1, 0.1, 0.1})

	rec, _, ok := s.Nearest(watermark.BitVector{0.9, 0.9, 0.9, 0.9})
	require.True(t, ok)
	assert.Equal(t, "match.mp4", rec.Path)
}

func TestNearestNoCandidate(t *testing.T) {
	s := NewWatermarkStore("")
	_, _, ok := s.Nearest(watermark.BitVector{0.5})
	assert.False(t, ok, "empty store")

	put(s, "a.mp4", watermark.BitVector{0.9, 0.1})
	_, _, ok = s.Nearest(watermark.BitVector{0.5})
	assert.False(t, ok, "no length-compatible record")
}

func TestPutLastWriteWins(t *testing.T) {
	s := NewWatermarkStore("")
	put(s, "first.mp4", watermark.BitVector{0.9, 0.1, 0.8, 0.2})
	put(s, "second.mp4", watermark.BitVector{0.7, 0.3, 0.6, 0.4})

	require.Equal(t, 1, s.Len(), "both vectors share fingerprint a000")
	rec, ok := s.Get("a000")
	require.True(t, ok)
	assert.Equal(t, "second.mp4", rec.Path)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := NewWatermarkStore("")
	put(s, "a.mp4", watermark.BitVector{0.9, 0.1, 0.8, 0.2})
	put(s, "b.mp4", watermark.BitVector{0.1, 0.9, 0.2, 0.8, 0.33333333333, 0.75})

	data, err := s.Snapshot()
	require.NoError(t, err)

	restored := NewWatermarkStore("")
	require.NoError(t, restored.Restore(data))
	assert.Equal(t, s.records, restored.records)
}

func TestSnapshotFormat(t *testing.T) {
	s := NewWatermarkStore("")
	put(s, "data/processed/x.mp4", watermark.BitVector{0.9, 0.1, 0.8, 0.2})

	data, err := s.Snapshot()
	require.NoError(t, err)
	assert.JSONEq(t, `{"a000":{"path":"data/processed/x.mp4","message_bits":[0.9,0.1,0.8,0.2]}}`, string(data))
}

func TestRestoreRejectsGarbage(t *testing.T) {
	s := NewWatermarkStore("")
	assert.Error(t, s.Restore([]byte("not json")))
}

func TestPersistAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "video_store.json")

	s := NewWatermarkStore(path)
	put(s, "a.mp4", watermark.BitVector{0.9, 0.1, 0.8, 0.2})
	require.NoError(t, s.Persist())

	reloaded := NewWatermarkStore(path)
	require.NoError(t, reloaded.Load())
	rec, dist, ok := reloaded.Nearest(watermark.BitVector{0.91, 0.12, 0.79, 0.18})
	require.True(t, ok)
	assert.Equal(t, "a.mp4", rec.Path)
	assert.InDelta(t, 0.001, dist, 1e-9)

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temp files must not linger")
}

func TestLoadMissingFile(t *testing.T) {
	s := NewWatermarkStore(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, s.Load())
	assert.Zero(t, s.Len())
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "video_store.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))

	s := NewWatermarkStore(path)
	assert.Error(t, s.Load())
}

func TestLoadNullSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "video_store.json")
	require.NoError(t, os.WriteFile(path, []byte("null"), 0o644))

	s := NewWatermarkStore(path)
	require.NoError(t, s.Load())
	assert.Zero(t, s.Len())

	require.NotPanics(t, func() { put(s, "a.mp4", watermark.BitVector{1, 0}) })
	assert.Equal(t, 1, s.Len())
	require.NoError(t, s.Persist())
}

func TestConcurrentPutPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "video_store.json")
	s := NewWatermarkStore(path)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bits := make(watermark.BitVector, 8)
			for b := range bits {
				if i&(1<<b) != 0 {
					bits[b] = 1
				}
			}
			put(s, fmt.Sprintf("%d.mp4", i), bits)
			assert.NoError(t, s.Persist())
		}(i)
	}
	wg.Wait()

	reloaded := NewWatermarkStore(path)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, 16, reloaded.Len())
}
