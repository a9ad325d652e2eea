package memory

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"watermark-gateway/internal/model"
	"watermark-gateway/internal/pkg/logger"

	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(ttl time.Duration) *SessionRepository {
	return NewSessionRepository(ttl, logger.NewNopLogger())
}

func TestCreateStartsUploading(t *testing.T) {
	r := newRepo(0)
	s := r.Create("s1")

	assert.Equal(t, model.SessionUploading, s.Status)
	assert.Equal(t, s, r.Get("s1"))
	assert.Equal(t, 1, r.Count())
}

func TestGetUnknownSession(t *testing.T) {
	s := newRepo(0).Get("missing")
	assert.Equal(t, model.SessionNotFound, s.Status)
	assert.Equal(t, "Session not found", s.Error)
}

func TestAdvanceUnknownIsNoop(t *testing.T) {
	r := newRepo(0)
	assert.False(t, r.Advance("missing", model.SessionProcessing, ""))
	assert.Equal(t, 0, r.Count())
}

func TestAdvanceForwardOnly(t *testing.T) {
	tests := []struct {
		name  string
		path  []model.SessionStatus
		next  model.SessionStatus
		allow bool
	}{
		{"uploading to processing", nil, model.SessionProcessing, true},
		{"uploading to failed", nil, model.SessionFailed, true},
		{"processing to completed", []model.SessionStatus{model.SessionProcessing}, model.SessionCompleted, true},
		{"processing to failed", []model.SessionStatus{model.SessionProcessing}, model.SessionFailed, true},
		{"processing to uploading", []model.SessionStatus{model.SessionProcessing}, model.SessionUploading, false},
		{"processing to processing", []model.SessionStatus{model.SessionProcessing}, model.SessionProcessing, false},
		{"completed to processing", []model.SessionStatus{model.SessionProcessing, model.SessionCompleted}, model.SessionProcessing, false},
		{"completed to failed", []model.SessionStatus{model.SessionProcessing, model.SessionCompleted}, model.SessionFailed, false},
		{"failed to completed", []model.SessionStatus{model.SessionFailed}, model.SessionCompleted, false},
		{"to not_found", nil, model.SessionNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRepo(0)
			r.Create("s")
			for _, st := range tt.path {
				require.True(t, r.Advance("s", st, ""))
			}
			before := r.Get("s")

			assert.Equal(t, tt.allow, r.Advance("s", tt.next, "boom"))
			if tt.allow {
				assert.Equal(t, tt.next, r.Get("s").Status)
			} else {
				assert.Equal(t, before, r.Get("s"))
			}
		})
	}
}

func TestAdvanceRecordsError(t *testing.T) {
	r := newRepo(0)
	r.Create("s")
	require.True(t, r.Advance("s", model.SessionFailed, "embedding failed: status 503"))

	s := r.Get("s")
	assert.Equal(t, model.SessionFailed, s.Status)
	assert.Equal(t, "embedding failed: status 503", s.Error)
}

func TestConcurrentSessionsAreIndependent(t *testing.T) {
	r := newRepo(0)
	const n = 64

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s-%d", i)
			r.Create(id)
			r.Advance(id, model.SessionProcessing, "")
			if i%2 == 0 {
				r.Advance(id, model.SessionCompleted, "")
			} else {
				r.Advance(id, model.SessionFailed, fmt.Sprintf("failure %d", i))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, r.Count())
	for i := 0; i < n; i++ {
		s := r.Get(fmt.Sprintf("s-%d", i))
		if i%2 == 0 {
			assert.Equal(t, model.SessionCompleted, s.Status)
			assert.Empty(t, s.Error)
		} else {
			assert.Equal(t, model.SessionFailed, s.Status)
			assert.Equal(t, fmt.Sprintf("failure %d", i), s.Error)
		}
	}
}

func TestSessionTTLEvicts(t *testing.T) {
	r := newRepo(20 * time.Millisecond)
	r.Create("short")

	assert.Eventually(t, func() bool {
		return r.Get("short").Status == model.SessionNotFound
	}, time.Second, 10*time.Millisecond)
}

func TestCountSkipsExpiredBeforePurge(t *testing.T) {
	r := &SessionRepository{
		cache:  cache.New(20*time.Millisecond, time.Hour),
		logger: logger.NewNopLogger(),
		now:    time.Now,
	}
	r.Create("short")
	require.Equal(t, 1, r.Count())

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 1, r.cache.ItemCount(), "janitor has not purged yet")
	assert.Equal(t, 0, r.Count())
}
