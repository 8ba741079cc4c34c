package artifact

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	calls   atomic.Int32
	objects map[string][]byte
	err     error
	delay   time.Duration
	keys    []string
	mu      sync.Mutex
}

func (f *fakeStore) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.keys = append(f.keys, bucket+"|"+key)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.objects[bucket+"/"+key], nil
}

func staticStorage(getter ObjectGetter) StorageResolver {
	return func(context.Context, string) (ObjectGetter, error) {
		return getter, nil
	}
}

func (c *Cache) cached(locator string) bool {
	_, ok := c.lookup(locator)
	return ok
}

type countingCacheObserver struct {
	hits, misses, failures atomic.Int32
}

func (o *countingCacheObserver) CacheHit()       { o.hits.Add(1) }
func (o *countingCacheObserver) CacheMiss()      { o.misses.Add(1) }
func (o *countingCacheObserver) DownloadFailed() { o.failures.Add(1) }

func TestScanEmptyText(t *testing.T) {
	assert.Equal(t, []Segment{PlainSegment("")}, Scan(""))
}

func TestScanWithoutLinks(t *testing.T) {
	assert.Equal(t, []Segment{PlainSegment("no links here")}, Scan("no links here"))
}

func TestScanSplitsAroundLink(t *testing.T) {
	got := Scan("hello [file](s3://b/k.txt) world")
	assert.Equal(t, []Segment{
		PlainSegment("hello "),
		LinkSegment("file", "s3://b/k.txt"),
		PlainSegment(" world"),
	}, got)
}

func TestScanAdjacentAndEdgeLinks(t *testing.T) {
	got := Scan("[a](s3://b/1)[b](s3://b/dir/2.csv) tail")
	assert.Equal(t, []Segment{
		LinkSegment("a", "s3://b/1"),
		LinkSegment("b", "s3://b/dir/2.csv"),
		PlainSegment(" tail"),
	}, got)
}

func TestScanIgnoresOtherSchemesAndEmptyLabels(t *testing.T) {
	text := "see [docs](https://example.com) and [](s3://b/k)"
	assert.Equal(t, []Segment{PlainSegment(text)}, Scan(text))
}

func TestScanReportsInvalidLocatorAsLink(t *testing.T) {
	got := Scan("bad [x](s3://bucket-only) link")
	require.Len(t, got, 3)
	assert.Equal(t, ObjectLink, got[1].Kind)
	assert.Equal(t, "s3://bucket-only", got[1].Locator)
}

func TestParseLocator(t *testing.T) {
	loc, err := ParseLocator("s3://reports/2024/q1/summary.pdf")
	require.NoError(t, err)
	assert.Equal(t, Locator{Bucket: "reports", Key: "2024/q1/summary.pdf"}, loc)
	assert.Equal(t, "summary.pdf", loc.DisplayName())

	for _, raw := range []string{"s3://bucket-only", "s3://bucket/", "s3:///key", "https://b/k"} {
		_, err := ParseLocator(raw)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr, raw)
	}
}

func TestDisplayNameDefaults(t *testing.T) {
	assert.Equal(t, DefaultDisplayName, Locator{Bucket: "b", Key: ""}.DisplayName())
	assert.Equal(t, DefaultDisplayName, Locator{Bucket: "b", Key: "dir/"}.DisplayName())
	assert.Equal(t, "file", Locator{Bucket: "b", Key: "file"}.DisplayName())
	assert.Equal(t, DefaultDisplayName, Locator{Bucket: "b", Key: "dir/.."}.DisplayName())
	assert.Equal(t, DefaultDisplayName, Locator{Bucket: "b", Key: "."}.DisplayName())
	assert.Equal(t, "..hidden", Locator{Bucket: "b", Key: "dir/..hidden"}.DisplayName())
}

func TestCacheFetchesOnce(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{"b/dir/k.txt": []byte("payload")}}
	observer := &countingCacheObserver{}
	cache := NewCache(staticStorage(store), observer, nil)

	first, err := cache.Fetch(context.Background(), "s3://b/dir/k.txt", "us-east-1")
	require.NoError(t, err)
	second, err := cache.Fetch(context.Background(), "s3://b/dir/k.txt", "eu-west-1")
	require.NoError(t, err)

	assert.Equal(t, int32(1), store.calls.Load())
	assert.Same(t, first, second)
	assert.Equal(t, []byte("payload"), first.Data)
	assert.Equal(t, "k.txt", first.DisplayName)
	assert.Equal(t, int32(1), observer.hits.Load())
	assert.Equal(t, int32(1), observer.misses.Load())
	assert.True(t, cache.cached("s3://b/dir/k.txt"))
}

func TestCacheEmptyKeyUsesDefaultName(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{"bucket/": []byte("x")}}
	cache := NewCache(staticStorage(store), nil, nil)

	artifact, err := cache.Fetch(context.Background(), "s3://bucket/", "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, DefaultDisplayName, artifact.DisplayName)
	assert.Equal(t, []string{"bucket|"}, store.keys)
}

func TestCacheDoesNotCacheFailures(t *testing.T) {
	store := &fakeStore{err: errors.New("NoSuchKey")}
	observer := &countingCacheObserver{}
	cache := NewCache(staticStorage(store), observer, nil)

	_, err := cache.Fetch(context.Background(), "s3://b/missing", "us-east-1")
	var derr *DownloadError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "s3://b/missing", derr.Locator)
	assert.False(t, cache.cached("s3://b/missing"))

	store.err = nil
	store.objects = map[string][]byte{"b/missing": []byte("now here")}
	artifact, err := cache.Fetch(context.Background(), "s3://b/missing", "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("now here"), artifact.Data)
	assert.Equal(t, int32(2), store.calls.Load())
	assert.Equal(t, int32(1), observer.failures.Load())
}

func TestCacheStorageResolverFailureIsDownloadError(t *testing.T) {
	missing := errors.New("credentials are required")
	cache := NewCache(func(context.Context, string) (ObjectGetter, error) { return nil, missing }, nil, nil)

	_, err := cache.Fetch(context.Background(), "s3://b/k", "us-east-1")
	var derr *DownloadError
	require.ErrorAs(t, err, &derr)
	assert.ErrorIs(t, err, missing)
}

func TestCacheConcurrentFetchesShareOneDownload(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{"b/k": []byte("v")}, delay: 20 * time.Millisecond}
	cache := NewCache(staticStorage(store), nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Fetch(context.Background(), "s3://b/k", "us-east-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), store.calls.Load())
	assert.Equal(t, 1, cache.Len())
}

func TestCacheSharedDownloadSurvivesCancelledCaller(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{"b/k": []byte("v")}, delay: 200 * time.Millisecond}
	cache := NewCache(staticStorage(store), nil, nil)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := cache.Fetch(ctxA, "s3://b/k", "us-east-1")
		errA <- err
	}()

	time.Sleep(10 * time.Millisecond)
	resultB := make(chan error, 1)
	go func() {
		artifact, err := cache.Fetch(context.Background(), "s3://b/k", "us-east-1")
		if err == nil {
			assert.Equal(t, []byte("v"), artifact.Data)
		}
		resultB <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancelA()

	err := <-errA
	var derr *DownloadError
	require.ErrorAs(t, err, &derr)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, <-resultB)
	assert.True(t, cache.cached("s3://b/k"))
	assert.Equal(t, int32(1), store.calls.Load())
}

func TestCacheFetchTimeoutBoundsDownload(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{"b/k": []byte("v")}, delay: time.Second}
	cache := NewCache(staticStorage(store), nil, nil)
	cache.fetchTimeout = 20 * time.Millisecond

	_, err := cache.Fetch(context.Background(), "s3://b/k", "us-east-1")
	var derr *DownloadError
	require.ErrorAs(t, err, &derr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, cache.cached("s3://b/k"))
}

func TestRenderDegradesInvalidAndFailedLinks(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{"b/good.txt": []byte("ok")}}
	cache := NewCache(staticStorage(store), nil, nil)
	failing := func(ctx context.Context, locator string) (*Artifact, error) {
		if locator == "s3://b/broken" {
			return nil, &DownloadError{Locator: locator, Err: errors.New("AccessDenied")}
		}
		return cache.Fetch(ctx, locator, "us-east-1")
	}

	segments := Scan("a [good](s3://b/good.txt) b [bad](s3://nokey) c [gone](s3://b/broken)")
	rendered := Render(context.Background(), segments, failing)
	require.Len(t, rendered, 6)

	assert.Equal(t, "a ", rendered[0].Text())
	assert.True(t, rendered[1].Downloadable())
	assert.Equal(t, "good", rendered[1].Text())
	assert.Equal(t, "good.txt", rendered[1].Artifact.DisplayName)

	var verr *ValidationError
	assert.ErrorAs(t, rendered[3].Err, &verr)
	assert.Equal(t, "[bad](s3://nokey)", rendered[3].Text())

	var derr *DownloadError
	assert.ErrorAs(t, rendered[5].Err, &derr)
	assert.Equal(t, "[gone](s3://b/broken)", rendered[5].Text())

	assert.Equal(t, int32(1), store.calls.Load(), "invalid locators are never fetched")
}
