package writer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"proxyscraper/pkg/geo"
	"proxyscraper/pkg/scraper"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapResolver struct {
	mu    sync.Mutex
	codes map[string]string
	calls map[string]int
}

func newMapResolver(codes map[string]string) *mapResolver {
	return &mapResolver{codes: codes, calls: make(map[string]int)}
}

func (r *mapResolver) Resolve(_ context.Context, ip string) geo.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[ip]++
	return geo.Record{IP: ip, CountryCode: r.codes[ip]}
}

func readLines(t *testing.T, fs afero.Fs, path string) []string {
	t.Helper()

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func proxy(host string, port int, protocol scraper.Protocol) scraper.Proxy {
	return scraper.Proxy{Host: host, Port: port, Type: protocol}
}

func TestSaveRawDedupAppend(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := New(fs, "/store", nil)
	ctx := context.Background()

	batch := []scraper.Proxy{
		proxy("1.1.1.1", 80, scraper.HTTP),
		proxy("2.2.2.2", 8080, scraper.HTTP),
		proxy("1.1.1.1", 80, scraper.HTTP),
		proxy("3.3.3.3", 1080, scraper.SOCKS5),
	}

	assert.Equal(t, 2, w.SaveRaw(ctx, batch))
	assert.Equal(t, []string{"1.1.1.1:80", "2.2.2.2:8080"}, readLines(t, fs, "/store/raw/http.txt"))
	assert.Equal(t, []string{"3.3.3.3:1080"}, readLines(t, fs, "/store/raw/socks5.txt"))

	// Same set again is a no-op.
	assert.Equal(t, 0, w.SaveRaw(ctx, batch))
	assert.Equal(t, []string{"1.1.1.1:80", "2.2.2.2:8080"}, readLines(t, fs, "/store/raw/http.txt"))

	// Only new lines are appended.
	assert.Equal(t, 1, w.SaveRaw(ctx, []scraper.Proxy{proxy("4.4.4.4", 80, scraper.HTTP), proxy("1.1.1.1", 80, scraper.HTTP)}))
	assert.Equal(t, []string{"1.1.1.1:80", "2.2.2.2:8080", "4.4.4.4:80"}, readLines(t, fs, "/store/raw/http.txt"))
}

func TestSaveRawMatchesFirstFieldOfExistingLines(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/store/raw/http.txt", []byte("1.1.1.1:80 US\n2.2.2.2:80"), 0o644))

	w := New(fs, "/store", nil)
	assert.Equal(t, 1, w.SaveRaw(context.Background(), []scraper.Proxy{
		proxy("1.1.1.1", 80, scraper.HTTP),
		proxy("3.3.3.3", 80, scraper.HTTP),
	}))

	assert.Equal(t, []string{"1.1.1.1:80 US", "2.2.2.2:80", "3.3.3.3:80"}, readLines(t, fs, "/store/raw/http.txt"))
}

func TestSaveRawNoNewLinesLeavesFileUntouched(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := New(fs, "/store", nil)

	assert.Equal(t, 0, w.SaveRaw(context.Background(), nil))
	exists, err := afero.DirExists(fs, "/store/raw")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSaveFinalReplaces(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/store/http.txt", []byte("9.9.9.9:9999 ZZ\n"), 0o644))

	resolver := newMapResolver(map[string]string{"1.2.3.4": "US", "5.6.7.8": "DE"})
	w := New(fs, "/store", resolver)

	n := w.SaveFinal(context.Background(), []scraper.Proxy{
		proxy("5.6.7.8", 3128, scraper.HTTP),
		proxy("1.2.3.4", 8080, scraper.HTTP),
		proxy("1.2.3.4", 8080, scraper.HTTP),
		proxy("1.2.3.4", 1080, scraper.SOCKS4),
	})

	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"1.2.3.4:8080 US", "5.6.7.8:3128 DE"}, readLines(t, fs, "/store/http.txt"))
	assert.Equal(t, []string{"1.2.3.4:1080 US"}, readLines(t, fs, "/store/socks4.txt"))

	// One lookup per host per call.
	assert.Equal(t, 1, resolver.calls["1.2.3.4"])
}

func TestSaveFinalUsesKnownCountry(t *testing.T) {
	fs := afero.NewMemMapFs()
	resolver := newMapResolver(nil)
	w := New(fs, "/store", resolver)

	p := proxy("1.2.3.4", 8080, scraper.HTTPS)
	p.Country = "JP"
	w.SaveFinal(context.Background(), []scraper.Proxy{p})

	assert.Equal(t, []string{"1.2.3.4:8080 JP"}, readLines(t, fs, "/store/https.txt"))
	assert.Zero(t, resolver.calls["1.2.3.4"])
}

func TestSaveFinalUnresolvedCountryKeepsBlankSuffix(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := New(fs, "/store", newMapResolver(nil))

	w.SaveFinal(context.Background(), []scraper.Proxy{proxy("1.2.3.4", 8080, scraper.HTTP)})

	data, err := afero.ReadFile(fs, "/store/http.txt")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4:8080 \n", string(data))
}

func TestSaveByCountryGroups(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/store/http/US.txt", []byte("7.7.7.7:80\n"), 0o644))

	resolver := newMapResolver(map[string]string{"1.1.1.1": "US", "2.2.2.2": "US", "3.3.3.3": "DE"})
	w := New(fs, "/store", resolver)

	n := w.SaveByCountry(context.Background(), []scraper.Proxy{
		proxy("1.1.1.1", 80, scraper.HTTP),
		proxy("2.2.2.2", 80, scraper.HTTP),
		proxy("2.2.2.2", 80, scraper.HTTP),
		proxy("3.3.3.3", 80, scraper.HTTP),
		proxy("3.3.3.3", 1080, scraper.SOCKS5),
		proxy("4.4.4.4", 80, scraper.HTTP),
	})

	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"1.1.1.1:80", "2.2.2.2:80"}, readLines(t, fs, "/store/http/US.txt"))
	assert.Equal(t, []string{"3.3.3.3:80"}, readLines(t, fs, "/store/http/DE.txt"))
	assert.Equal(t, []string{"3.3.3.3:1080"}, readLines(t, fs, "/store/socks5/DE.txt"))
	assert.Equal(t, []string{"4.4.4.4:80"}, readLines(t, fs, "/store/http/unknown.txt"))

	files, err := afero.ReadDir(fs, "/store/http")
	require.NoError(t, err)
	var names []string
	for _, f := range files {
		names = append(names, f.Name())
	}
	sort.Strings(names)
	assert.Equal(t, []string{"DE.txt", "US.txt", "unknown.txt"}, names)
}

func TestPublishResolvesEachHostOnce(t *testing.T) {
	fs := afero.NewMemMapFs()
	resolver := newMapResolver(map[string]string{"1.1.1.1": "US"})
	w := New(fs, "/store", resolver)

	n := w.Publish(context.Background(), []scraper.Proxy{
		proxy("1.1.1.1", 80, scraper.HTTP),
		proxy("1.1.1.1", 1080, scraper.SOCKS5),
		proxy("9.9.9.9", 80, scraper.HTTP),
	})

	assert.Equal(t, 5, n)
	assert.Equal(t, 1, resolver.calls["1.1.1.1"])
	assert.Equal(t, 1, resolver.calls["9.9.9.9"])
	assert.Equal(t, []string{"1.1.1.1:80 US", "9.9.9.9:80 "}, readLines(t, fs, "/store/http.txt"))
	assert.Equal(t, []string{"1.1.1.1:1080"}, readLines(t, fs, "/store/socks5/US.txt"))
	assert.Equal(t, []string{"9.9.9.9:80"}, readLines(t, fs, "/store/http/unknown.txt"))
}

func TestPublishQueriesFailingAPIOncePerRun(t *testing.T) {
	var hits atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"status":"fail","message":"reserved range"}`))
	}))
	defer api.Close()

	resolver := geo.NewResolver(nil, geo.NewRemoteStrategy(geo.RemoteConfig{
		PrimaryURL:  api.URL + "/json/{ip}",
		FallbackURL: api.URL + "/fallback/{ip}",
		RetryWait:   10 * time.Millisecond,
	}))

	fs := afero.NewMemMapFs()
	w := New(fs, "/store", resolver)
	w.Publish(context.Background(), []scraper.Proxy{proxy("9.9.9.9", 80, scraper.HTTP)})

	// primary, one retry, fallback
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, []string{"9.9.9.9:80"}, readLines(t, fs, "/store/http/unknown.txt"))
}

func TestGroupFailureDoesNotAbortSiblings(t *testing.T) {
	root := t.TempDir()
	fs := afero.NewOsFs()

	// A plain file where the socks5 directory should go, and a directory where http.txt should go.
	require.NoError(t, os.WriteFile(filepath.Join(root, "socks5"), []byte("blocker"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "socks4.txt", "blocker"), 0o755))

	resolver := newMapResolver(map[string]string{"1.1.1.1": "US", "2.2.2.2": "US", "3.3.3.3": "US"})
	w := New(fs, root, resolver)
	proxies := []scraper.Proxy{
		proxy("1.1.1.1", 80, scraper.HTTP),
		proxy("2.2.2.2", 1080, scraper.SOCKS5),
		proxy("3.3.3.3", 4145, scraper.SOCKS4),
	}

	assert.Equal(t, 1, w.SaveByCountry(context.Background(), proxies[:2]))
	assert.Equal(t, []string{"1.1.1.1:80"}, readLines(t, fs, filepath.Join(root, "http", "US.txt")))

	assert.Equal(t, 2, w.SaveFinal(context.Background(), proxies))
	assert.Equal(t, []string{"1.1.1.1:80 US"}, readLines(t, fs, filepath.Join(root, "http.txt")))
	assert.Equal(t, []string{"2.2.2.2:1080 US"}, readLines(t, fs, filepath.Join(root, "socks5.txt")))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "leftover temp file %s", e.Name())
	}
}

func TestWriteFailureOnReadOnlyFs(t *testing.T) {
	w := New(afero.NewReadOnlyFs(afero.NewMemMapFs()), "/store", nil)
	proxies := []scraper.Proxy{proxy("1.1.1.1", 80, scraper.HTTP), proxy("2.2.2.2", 80, scraper.SOCKS5)}

	assert.Zero(t, w.SaveRaw(context.Background(), proxies))
	assert.Zero(t, w.SaveFinal(context.Background(), proxies))
	assert.Zero(t, w.SaveByCountry(context.Background(), proxies))
}

func TestLoadRaw(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/store/raw/http.txt", []byte("1.1.1.1:80\n\ngarbage\n1.1.1.1:80\n2.2.2.2:8080 US\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/store/raw/socks5.txt", []byte("3.3.3.3:1080\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/store/raw/notes.md", []byte("1.1.1.1:80\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/store/raw/ftp.txt", []byte("4.4.4.4:21\n"), 0o644))

	proxies, err := New(fs, "/store", nil).LoadRaw(context.Background())
	require.NoError(t, err)

	var keys []string
	for _, p := range proxies {
		keys = append(keys, p.Key())
	}
	assert.ElementsMatch(t, []string{"http://1.1.1.1:80", "http://2.2.2.2:8080", "socks5://3.3.3.3:1080"}, keys)

	for _, p := range proxies {
		if p.Host == "2.2.2.2" {
			assert.Equal(t, "US", p.Country)
		}
	}
}

func TestLoadRawMissingDir(t *testing.T) {
	proxies, err := New(afero.NewMemMapFs(), "/store", nil).LoadRaw(context.Background())
	require.NoError(t, err)
	assert.Empty(t, proxies)
}

func TestRawRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := New(fs, "/store", nil)
	in := []scraper.Proxy{proxy("1.1.1.1", 80, scraper.HTTP), proxy("3.3.3.3", 4145, scraper.SOCKS4)}

	w.SaveRaw(context.Background(), in)
	out, err := w.LoadRaw(context.Background())
	require.NoError(t, err)

	require.Len(t, out, 2)
	assert.ElementsMatch(t, []string{in[0].Key(), in[1].Key()}, []string{out[0].Key(), out[1].Key()})
}
