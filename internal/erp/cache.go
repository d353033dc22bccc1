package erp

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// ContextSource loads the context of a project.
type ContextSource interface {
	ProjectContext(ctx context.Context, projectID string) (*ProjectContext, error)
}

const (
	defaultCacheSize   = 128
	defaultCacheTTL    = 5 * time.Minute
	defaultLoadTimeout = 30 * time.Second
)

// CachedSource keeps recently loaded project contexts in an expiring LRU and
// collapses concurrent loads of the same project into one query.
type CachedSource struct {
	source ContextSource
	cache  *expirable.LRU[string, *ProjectContext]
	group  singleflight.Group
}

// NewCachedSource wraps source. Non-positive size or ttl select the defaults.
func NewCachedSource(source ContextSource, size int, ttl time.Duration) *CachedSource {
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedSource{
		source: source,
		cache:  expirable.NewLRU[string, *ProjectContext](size, nil, ttl),
	}
}

// ProjectContext implements ContextSource. A shared load is detached from the
// caller that started it; each caller only stops waiting on its own ctx.
func (c *CachedSource) ProjectContext(ctx context.Context, projectID string) (*ProjectContext, error) {
	if pc, ok := c.cache.Get(projectID); ok {
		return pc, nil
	}

	flight := c.group.DoChan(projectID, func() (any, error) {
		if pc, ok := c.cache.Get(projectID); ok {
			return pc, nil
		}
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultLoadTimeout)
		defer cancel()
		pc, err := c.source.ProjectContext(loadCtx, projectID)
		if err != nil {
			return nil, err
		}
		c.cache.Add(projectID, pc)
		return pc, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-flight:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ProjectContext), nil
	}
}

// Invalidate drops a cached project so the next read reloads it.
func (c *CachedSource) Invalidate(projectID string) {
	c.cache.Remove(projectID)
}
