package memory

import (
	"sync"
	"time"

	"watermark-gateway/internal/model"
	"watermark-gateway/internal/pkg/logger"

	"github.com/patrickmn/go-cache"
)

// SessionRepository is the session registry. go-cache holds the records; mu
// makes Advance's read-modify-write atomic.
type SessionRepository struct {
	mu     sync.Mutex
	cache  *cache.Cache
	logger logger.ILogger
	now    func() time.Time
}

// NewSessionRepository keeps sessions forever when ttl is zero.
func NewSessionRepository(ttl time.Duration, log logger.ILogger) *SessionRepository {
	expiration, cleanup := cache.NoExpiration, time.Duration(0)
	if ttl > 0 {
		expiration, cleanup = ttl, ttl
	}
	return &SessionRepository{
		cache:  cache.New(expiration, cleanup),
		logger: log,
		now:    time.Now,
	}
}

// Create registers id in the uploading state.
func (r *SessionRepository) Create(id string) model.Session {
	s := model.Session{ID: id, Status: model.SessionUploading, UpdatedAt: r.now()}

	r.mu.Lock()
	r.cache.Set(id, s, cache.DefaultExpiration)
	r.mu.Unlock()

	return s
}

// Advance moves id to status. Unknown ids and non-forward moves are ignored
// and reported as false.
func (r *SessionRepository) Advance(id string, status model.SessionStatus, errMsg string) bool {
	r.mu.Lock()
	x, found := r.cache.Get(id)
	if !found {
		r.mu.Unlock()
		return false
	}
	current := x.(model.Session)
	if !current.Status.CanAdvanceTo(status) {
		r.mu.Unlock()
		r.logger.Warn(logger.ModuleSession, "Refused status transition", map[string]interface{}{
			"session_id": id,
			"from":       current.Status,
			"to":         status,
		})
		return false
	}
	current.Status = status
	current.Error = errMsg
	current.UpdatedAt = r.now()
	r.cache.Set(id, current, cache.DefaultExpiration)
	r.mu.Unlock()

	return true
}

// Get never fails: unknown ids come back as not_found.
func (r *SessionRepository) Get(id string) model.Session {
	r.mu.Lock()
	x, found := r.cache.Get(id)
	r.mu.Unlock()

	if !found {
		return model.Session{ID: id, Status: model.SessionNotFound, Error: model.SessionNotFoundMessage}
	}
	return x.(model.Session)
}

// Count reports live sessions. Items skips entries that expired but have not
// been purged by the janitor yet.
func (r *SessionRepository) Count() int {
	return len(r.cache.Items())
}
