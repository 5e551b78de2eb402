package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"proxyscraper/internal/logger"

	"github.com/biter777/countries"
	"github.com/golang/groupcache/lru"
	"golang.org/x/text/cases"
)

const (
	DefaultGeoNamesURL   = "http://api.geonames.org/searchJSON"
	DefaultNameCacheSize = 1024
)

// NormalizerConfig holds CountryNormalizer configuration
type NormalizerConfig struct {
	GeoNamesURL string
	Usernames   []string
	CacheSize   int
	Timeout     time.Duration
}

// CountryNormalizer maps free-text country names to ISO 3166-1 alpha-2 codes.
// Latin-script names go through the ISO reference table. Names in other
// scripts are looked up in the bundled Chinese region names first and
// sent to the GeoNames search API otherwise. Positive answers are memoized
// in a bounded LRU.
type CountryNormalizer struct {
	client      *http.Client
	geonamesURL string
	usernames   []string

	mu   sync.Mutex
	memo *lru.Cache

	log *logger.Logger
}

// NewCountryNormalizer creates a normalizer
func NewCountryNormalizer(cfg NormalizerConfig) *CountryNormalizer {
	if cfg.GeoNamesURL == "" {
		cfg.GeoNamesURL = DefaultGeoNamesURL
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultNameCacheSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &CountryNormalizer{
		client:      &http.Client{Timeout: cfg.Timeout},
		geonamesURL: cfg.GeoNamesURL,
		usernames:   cfg.Usernames,
		memo:        lru.New(cfg.CacheSize),
		log:         logger.New("country"),
	}
}

// NameToCode returns the ISO alpha-2 code for name, or false when it cannot be resolved.
func (n *CountryNormalizer) NameToCode(ctx context.Context, name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}

	key := cases.Fold().String(name)
	if code, ok := n.memoGet(key); ok {
		return code, true
	}

	var code string
	if local, ok := localNameToCode(key); ok {
		code = local
	} else if hasNonLatin(name) {
		var err error
		code, err = n.searchGeoNames(ctx, name)
		if err != nil {
			n.log.WarnBg("GeoNames lookup failed for %q: %v", name, err)
			return "", false
		}
	} else if c := countries.ByName(name); c != countries.Unknown {
		code = c.Alpha2()
	}

	if code == "" {
		return "", false
	}

	code = strings.ToUpper(code)
	n.memoAdd(key, code)
	return code, true
}

// Len returns the number of memoized names.
func (n *CountryNormalizer) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.memo.Len()
}

func (n *CountryNormalizer) memoGet(key string) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.memo.Get(key)
	if !ok {
		return "", false
	}
	return v.(string), true
}

func (n *CountryNormalizer) memoAdd(key, code string) {
	n.mu.Lock()
	n.memo.Add(key, code)
	n.mu.Unlock()
}

type geoNamesResponse struct {
	Geonames []struct {
		CountryCode string `json:"countryCode"`
		CountryName string `json:"countryName"`
	} `json:"geonames"`
	Status *struct {
		Message string `json:"message"`
		Value   int    `json:"value"`
	} `json:"status"`
}

func (n *CountryNormalizer) searchGeoNames(ctx context.Context, name string) (string, error) {
	if len(n.usernames) == 0 {
		return "", fmt.Errorf("no geonames usernames configured")
	}

	q := url.Values{}
	q.Set("q", name)
	q.Set("maxRows", "1")
	q.Set("username", n.usernames[rand.IntN(len(n.usernames))])

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.geonamesURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var body geoNamesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if body.Status != nil {
		return "", fmt.Errorf("geonames error %d: %s", body.Status.Value, body.Status.Message)
	}
	if len(body.Geonames) == 0 {
		return "", nil
	}
	return body.Geonames[0].CountryCode, nil
}

func hasNonLatin(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) && !unicode.Is(unicode.Latin, r) {
			return true
		}
	}
	return false
}

func isCountryCode(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
