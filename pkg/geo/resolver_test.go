package geo

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"proxyscraper/pkg/xdb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCache struct {
	mu      sync.Mutex
	records map[string]Record
	getErr  error
	putErr  error
	puts    int
}

func newMemCache() *memCache {
	return &memCache{records: make(map[string]Record)}
}

func (c *memCache) Get(_ context.Context, ip string) (Record, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return Record{}, false, c.getErr
	}
	rec, ok := c.records[ip]
	return rec, ok, nil
}

func (c *memCache) Put(_ context.Context, rec Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	if c.putErr != nil {
		return c.putErr
	}
	if _, ok := c.records[rec.IP]; !ok {
		c.records[rec.IP] = rec
	}
	return nil
}

type stubStrategy struct {
	name   string
	rec    Record
	err    error
	calls  int
	closed bool
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Lookup(_ context.Context, ip string) (Record, error) {
	s.calls++
	if s.err != nil {
		return Record{}, s.err
	}
	rec := s.rec
	rec.IP = ip
	return rec, nil
}

func (s *stubStrategy) Close() error {
	s.closed = true
	return nil
}

func TestResolveFallsThroughTiers(t *testing.T) {
	cache := newMemCache()
	failing := &stubStrategy{name: "first", err: errors.New("boom")}
	empty := &stubStrategy{name: "second", err: ErrNotFound}
	good := &stubStrategy{name: "third", rec: Record{Country: "Germany", CountryCode: "DE"}}
	unused := &stubStrategy{name: "fourth", rec: Record{Country: "France", CountryCode: "FR"}}

	r := NewResolver(cache, failing, empty, good, unused)
	rec := r.Resolve(context.Background(), "5.6.7.8")

	assert.Equal(t, "DE", rec.CountryCode)
	assert.Equal(t, "5.6.7.8", rec.IP)
	assert.Equal(t, "third", rec.Source)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, empty.calls)
	assert.Equal(t, 0, unused.calls)
	assert.Contains(t, cache.records, "5.6.7.8")
}

func TestResolveIsIdempotentOnceCached(t *testing.T) {
	cache := newMemCache()
	tier := &stubStrategy{name: "xdb", rec: Record{Country: "United States", CountryCode: "US"}}

	r := NewResolver(cache, tier)
	first := r.Resolve(context.Background(), "1.2.3.4")
	second := r.Resolve(context.Background(), "1.2.3.4")

	assert.Equal(t, first, second)
	assert.Equal(t, 1, tier.calls)
}

func TestResolveExhaustedIsNotCached(t *testing.T) {
	cache := newMemCache()
	tier := &stubStrategy{name: "remote", err: ErrAPIFailed}

	r := NewResolver(cache, tier)
	rec := r.Resolve(context.Background(), "9.9.9.9")

	assert.Equal(t, Record{IP: "9.9.9.9"}, rec)
	assert.True(t, rec.Empty())
	assert.Zero(t, cache.puts)

	// The chain is retried on the next call.
	r.Resolve(context.Background(), "9.9.9.9")
	assert.Equal(t, 2, tier.calls)
}

func TestResolveToleratesCacheErrors(t *testing.T) {
	cache := newMemCache()
	cache.getErr = errors.New("disk I/O error")
	cache.putErr = errors.New("disk I/O error")
	tier := &stubStrategy{name: "xdb", rec: Record{CountryCode: "JP", Country: "Japan"}}

	r := NewResolver(cache, tier)
	rec := r.Resolve(context.Background(), "1.1.1.1")

	assert.Equal(t, "JP", rec.CountryCode)
}

func TestResolveWithoutCache(t *testing.T) {
	tier := &stubStrategy{name: "xdb", rec: Record{CountryCode: "JP", Country: "Japan"}}
	r := NewResolver(nil, tier)

	assert.Equal(t, "JP", r.Resolve(context.Background(), "1.1.1.1").CountryCode)
	assert.Equal(t, []string{"xdb"}, r.Strategies())
}

func TestResolverClose(t *testing.T) {
	a := &stubStrategy{name: "a"}
	b := &stubStrategy{name: "b"}

	require.NoError(t, NewResolver(nil, a, b).Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func buildIndex(t *testing.T) *xdb.Searcher {
	t.Helper()

	b := xdb.NewBuilder()
	require.NoError(t, b.AddRange("1.2.3.0", "1.2.3.255", "US|0|California|Los Angeles|Example ISP"))
	require.NoError(t, b.AddRange("1.2.5.0", "1.2.5.255", "Atlantis|0|0|0|0"))
	require.NoError(t, b.AddRange("1.2.6.0", "1.2.6.255", "美国|0|0|0|0"))
	path := filepath.Join(t.TempDir(), "test.xdb")
	require.NoError(t, b.WriteFile(path))

	s, err := xdb.Open(path, xdb.ModeBuffer)
	require.NoError(t, err)
	return s
}

func TestXdbStrategy(t *testing.T) {
	s := NewXdbStrategy(buildIndex(t), NewCountryNormalizer(NormalizerConfig{}))
	defer s.Close()

	rec, err := s.Lookup(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, "US", rec.CountryCode)
	assert.Equal(t, "California", rec.Province)
	assert.Equal(t, "Los Angeles", rec.City)
	assert.Equal(t, "Example ISP", rec.ISP)

	_, err = s.Lookup(context.Background(), "8.8.8.8")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Lookup(context.Background(), "1.2.5.1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Lookup(context.Background(), "not-an-ip")
	assert.ErrorIs(t, err, xdb.ErrInvalidIP)
}

func TestXdbStrategyChineseCountryName(t *testing.T) {
	s := NewXdbStrategy(buildIndex(t), NewCountryNormalizer(NormalizerConfig{}))
	defer s.Close()

	rec, err := s.Lookup(context.Background(), "1.2.6.1")
	require.NoError(t, err)
	assert.Equal(t, "US", rec.CountryCode)
	assert.Equal(t, "美国", rec.Country)
}

func TestResolveFromIndex(t *testing.T) {
	cache := newMemCache()
	r := NewResolver(cache, NewXdbStrategy(buildIndex(t), nil))
	defer r.Close()

	rec := r.Resolve(context.Background(), "1.2.3.4")
	assert.Equal(t, "US", rec.CountryCode)
	assert.Equal(t, "xdb", rec.Source)
	assert.Equal(t, rec, cache.records["1.2.3.4"])
}
