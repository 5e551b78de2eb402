package geo

import (
	"context"
	"fmt"

	"proxyscraper/pkg/xdb"

	"github.com/biter777/countries"
)

// XdbStrategy resolves addresses from a local xdb index.
type XdbStrategy struct {
	searcher   *xdb.Searcher
	normalizer *CountryNormalizer
}

// NewXdbStrategy wraps searcher. The normalizer translates country names
// that the dataset stores in place of ISO codes; it may be nil.
func NewXdbStrategy(searcher *xdb.Searcher, normalizer *CountryNormalizer) *XdbStrategy {
	return &XdbStrategy{searcher: searcher, normalizer: normalizer}
}

func (s *XdbStrategy) Name() string { return "xdb" }

func (s *XdbStrategy) Lookup(ctx context.Context, ip string) (Record, error) {
	raw, err := s.searcher.Search(ip)
	if err != nil {
		return Record{}, fmt.Errorf("xdb search: %w", err)
	}

	region := xdb.ParseRegion(raw)
	if region.IsEmpty() {
		return Record{}, ErrNotFound
	}

	code, name := s.countryCode(ctx, region.Country)
	if code == "" {
		return Record{}, fmt.Errorf("%w: unknown country %q", ErrNotFound, region.Country)
	}

	return Record{
		IP:          ip,
		Country:     name,
		CountryCode: code,
		Region:      region.Region,
		Province:    region.Province,
		City:        region.City,
		ISP:         region.ISP,
	}, nil
}

// Close releases the underlying searcher.
func (s *XdbStrategy) Close() error {
	return s.searcher.Close()
}

func (s *XdbStrategy) countryCode(ctx context.Context, country string) (code, name string) {
	if isCountryCode(country) {
		c := countries.ByName(country)
		if c == countries.Unknown {
			return "", country
		}
		return c.Alpha2(), c.String()
	}

	if s.normalizer != nil {
		if code, ok := s.normalizer.NameToCode(ctx, country); ok {
			return code, country
		}
		return "", country
	}

	if c := countries.ByName(country); c != countries.Unknown {
		return c.Alpha2(), country
	}
	return "", country
}
