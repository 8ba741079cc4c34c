package artifact

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ObjectGetter downloads one object from the store.
type ObjectGetter interface {
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
}

// StorageResolver returns the ObjectGetter for a region.
type StorageResolver func(ctx context.Context, region string) (ObjectGetter, error)

// CacheObserver is notified about cache activity.
type CacheObserver interface {
	CacheHit()
	CacheMiss()
	DownloadFailed()
}

// DefaultFetchTimeout bounds one shared download.
const DefaultFetchTimeout = 2 * time.Minute

// Artifact is a downloaded object.
type Artifact struct {
	Data        []byte
	DisplayName string
}

// DownloadError reports a failed fetch. It is never cached.
type DownloadError struct {
	Locator string
	Err     error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", e.Locator, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// Cache memoizes downloads by raw locator string for the life of the process.
// Entries are never evicted: once a locator has been fetched successfully it
// is never fetched again. Concurrent fetches of the same locator share one
// download.
type Cache struct {
	storage  StorageResolver
	observer CacheObserver
	logger   logrus.FieldLogger

	fetchTimeout time.Duration

	mu      sync.RWMutex
	entries map[string]*Artifact
	flight  singleflight.Group
}

// NewCache creates an empty cache. observer and logger may be nil.
func NewCache(storage StorageResolver, observer CacheObserver, logger logrus.FieldLogger) *Cache {
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	return &Cache{
		storage:  storage,
		observer: observer,
		logger:   logger,
		entries:  make(map[string]*Artifact),

		fetchTimeout: DefaultFetchTimeout,
	}
}

// Fetch returns the artifact for locator, downloading it on first use.
// The locator is expected to be valid already; only the scheme and bucket are
// checked here. The returned artifact is shared and must not be modified.
//
// A shared download runs detached from any one caller's context, bounded by
// the cache's fetch timeout. A caller whose ctx ends first gets a
// DownloadError while the download carries on for the others.
//
// Parameters:
//   - ctx: bounds how long this caller waits
//   - locator: raw object locator, used as the cache key
//   - region: region of the storage client used on a miss
//
// Returns:
//   - *Artifact: the cached or freshly downloaded object
//   - error: *ValidationError for a malformed locator, *DownloadError otherwise
func (c *Cache) Fetch(ctx context.Context, locator, region string) (*Artifact, error) {
	if artifact, ok := c.lookup(locator); ok {
		c.notify(CacheObserver.CacheHit)
		return artifact, nil
	}

	loc, err := splitLocator(locator)
	if err != nil {
		return nil, err
	}

	results := c.flight.DoChan(locator, func() (any, error) {
		// A concurrent caller may have finished between lookup and DoChan.
		if artifact, ok := c.lookup(locator); ok {
			return artifact, nil
		}
		c.notify(CacheObserver.CacheMiss)

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		return c.download(fetchCtx, locator, region, loc)
	})

	select {
	case res := <-results:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Artifact), nil
	case <-ctx.Done():
		return nil, &DownloadError{Locator: locator, Err: ctx.Err()}
	}
}

// Len returns the number of cached artifacts.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) lookup(locator string) (*Artifact, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	artifact, ok := c.entries[locator]
	return artifact, ok
}

func (c *Cache) download(ctx context.Context, locator, region string, loc Locator) (*Artifact, error) {
	log := c.logger.WithFields(logrus.Fields{
		"locator": locator,
		"region":  region,
	})

	getter, err := c.storage(ctx, region)
	if err != nil {
		c.notify(CacheObserver.DownloadFailed)
		log.WithError(err).Error("Failed to resolve storage client")
		return nil, &DownloadError{Locator: locator, Err: err}
	}

	startTime := time.Now()
	data, err := getter.GetObject(ctx, loc.Bucket, loc.Key)
	if err != nil {
		c.notify(CacheObserver.DownloadFailed)
		log.WithError(err).Warn("Artifact download failed")
		return nil, &DownloadError{Locator: locator, Err: err}
	}

	artifact := &Artifact{Data: data, DisplayName: loc.DisplayName()}
	c.mu.Lock()
	c.entries[locator] = artifact
	c.mu.Unlock()

	log.WithFields(logrus.Fields{
		"bytes":    len(data),
		"name":     artifact.DisplayName,
		"duration": time.Since(startTime),
	}).Info("Artifact cached")
	return artifact, nil
}

func (c *Cache) notify(event func(CacheObserver)) {
	if c.observer != nil {
		event(c.observer)
	}
}
