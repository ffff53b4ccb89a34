package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lakeside-io/lakeside/internal/objstore"
)

// ErrUnavailable is returned when the schema document is missing or
// malformed. Callers fail fast before taking any lock.
var ErrUnavailable = errors.New("schema unavailable")

// DefaultCacheTTL bounds how long a cached schema is served without checking
// the store for a newer revision.
const DefaultCacheTTL = 5 * time.Minute

// Manager fetches the schema document and caches it per process. The cache
// holds the document with its ETag and load time; a refresh first asks the
// store whether the ETag changed and skips the re-parse when it has not.
// There is no cross-process consistency requirement.
type Manager struct {
	store objstore.Store
	ttl   time.Duration
	log   *slog.Logger

	mu       sync.RWMutex
	cached   *Document
	etag     string
	loadedAt time.Time
}

// NewManager creates a schema manager over the given store.
func NewManager(store objstore.Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Manager{
		store: store,
		ttl:   ttl,
		log:   slog.With("component", "schema"),
	}
}

// Get returns the current schema document, serving from cache within the TTL.
func (m *Manager) Get(ctx context.Context) (*Document, error) {
	m.mu.RLock()
	if m.cached != nil && time.Since(m.loadedAt) < m.ttl {
		doc := m.cached
		m.mu.RUnlock()
		return doc, nil
	}
	m.mu.RUnlock()

	return m.refresh(ctx)
}

func (m *Manager) refresh(ctx context.Context) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Another caller may have refreshed while we waited for the lock.
	if m.cached != nil && time.Since(m.loadedAt) < m.ttl {
		return m.cached, nil
	}

	// Conditional check: unchanged ETag extends the cache without a fetch.
	if m.cached != nil && m.etag != "" {
		info, err := m.store.Head(ctx, Key)
		if err == nil && info.ETag == m.etag {
			m.loadedAt = time.Now()
			return m.cached, nil
		}
	}

	data, err := m.store.Get(ctx, Key)
	if err != nil {
		if errors.Is(err, objstore.ErrNotExist) {
			return nil, fmt.Errorf("%w: no document at %s", ErrUnavailable, Key)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var etag string
	if info, err := m.store.Head(ctx, Key); err == nil {
		etag = info.ETag
	}

	m.cached = doc
	m.etag = etag
	m.loadedAt = time.Now()
	m.log.Debug("schema loaded", "fields", len(doc.Fields), "etag", etag)
	return doc, nil
}

// Invalidate drops the cached document; the next Get refetches.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached = nil
	m.etag = ""
	m.loadedAt = time.Time{}
}
