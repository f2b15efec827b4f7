package graph

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"

	"github.com/easyauth-k8s/easyauth/pkg/logger"
)

// defaultManifestTTL bounds how stale the cached manifest can get. App
// registrations change rarely; an hour keeps new scopes usable without
// hammering the directory.
const defaultManifestTTL = time.Hour

// manifestFetcher is implemented by Retriever.
type manifestFetcher interface {
	Fetch(ctx context.Context) (*Manifest, error)
}

// ManifestCache serves the application manifest, refreshing it lazily after
// the TTL. Concurrent refreshes collapse into one directory round trip.
type ManifestCache struct {
	fetcher manifestFetcher
	ttl     time.Duration

	mu       sync.RWMutex
	manifest *Manifest
	fetched  time.Time

	group singleflight.Group
}

// NewManifestCache wraps a retriever with caching. ttl <= 0 selects the
// default.
func NewManifestCache(fetcher manifestFetcher, ttl time.Duration) *ManifestCache {
	if ttl <= 0 {
		ttl = defaultManifestTTL
	}
	return &ManifestCache{fetcher: fetcher, ttl: ttl}
}

// Get returns the cached manifest, fetching it when missing or expired. A
// refresh failure with a stale copy on hand serves the stale copy; sign-in
// keeps working through directory blips.
func (c *ManifestCache) Get(ctx context.Context) (*Manifest, error) {
	c.mu.RLock()
	manifest, fetched := c.manifest, c.fetched
	c.mu.RUnlock()

	if manifest != nil && time.Since(fetched) < c.ttl {
		return manifest, nil
	}

	fresh, err, _ := c.group.Do("manifest", func() (any, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		if manifest != nil {
			logger.Warnf("serving stale application manifest, refresh failed: %v", err)
			return manifest, nil
		}
		return nil, err
	}
	return fresh.(*Manifest), nil
}

func (c *ManifestCache) refresh(ctx context.Context) (*Manifest, error) {
	manifest, err := backoff.Retry(ctx, func() (*Manifest, error) {
		return c.fetcher.Fetch(ctx)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(3))
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.manifest = manifest
	c.fetched = time.Now()
	c.mu.Unlock()
	return manifest, nil
}
