package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"deskwarden/internal/adapter/screen"
	"deskwarden/internal/domain"
)

// VisibilityCache memoizes which capture sources are currently visible, with a
// short TTL, to avoid redundant OS enumeration on every tick.
//
// On enumeration failure the cache fails open: every requested source is
// treated as visible, and the cache timestamp is left untouched so the next
// check retries the real query.
type VisibilityCache struct {
	backend screen.Backend
	ttl     time.Duration
	logger  *slog.Logger

	mu          sync.Mutex
	lastQuery   time.Time
	cached      map[string]bool
	visibleList []domain.CaptureSource // full visible-source list, kept for diagnostics
}

// NewVisibilityCache creates a cache over the given enumeration backend.
func NewVisibilityCache(backend screen.Backend, ttl time.Duration, logger *slog.Logger) *VisibilityCache {
	return &VisibilityCache{
		backend: backend,
		ttl:     ttl,
		logger:  logger,
	}
}

// CheckVisible reports visibility for the requested source IDs. Within the TTL
// window the previous map is returned without any OS call.
func (c *VisibilityCache) CheckVisible(ctx context.Context, ids []string) map[string]bool {
	c.mu.Lock()
	if c.cached != nil && time.Since(c.lastQuery) < c.ttl {
		cached := c.cached
		c.mu.Unlock()
		return cached
	}
	c.mu.Unlock()

	sources, err := c.backend.ListSources(ctx)
	if err != nil {
		c.logger.Warn("visibility query failed, treating all sources as visible", "error", err)
		open := make(map[string]bool, len(ids))
		for _, id := range ids {
			open[id] = true
		}
		return open
	}

	visible := make(map[string]bool, len(ids))
	byID := make(map[string]domain.CaptureSource, len(sources))
	var visibleList []domain.CaptureSource
	for _, src := range sources {
		byID[src.ID] = src
		if src.Visible {
			visibleList = append(visibleList, src)
		}
	}
	for _, id := range ids {
		src, ok := byID[id]
		visible[id] = ok && src.Visible
	}

	c.mu.Lock()
	c.cached = visible
	c.visibleList = visibleList
	c.lastQuery = time.Now()
	c.mu.Unlock()

	return visible
}

// VisibleSources returns the full visible-source list from the last real query.
func (c *VisibilityCache) VisibleSources() []domain.CaptureSource {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.CaptureSource, len(c.visibleList))
	copy(out, c.visibleList)
	return out
}

// ClearCache resets state, forcing the next check to bypass the TTL.
func (c *VisibilityCache) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = nil
	c.visibleList = nil
	c.lastQuery = time.Time{}
}
