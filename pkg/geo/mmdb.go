package geo

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// MMDBStrategy resolves addresses from a MaxMind country database.
type MMDBStrategy struct {
	reader *geoip2.Reader
}

// OpenMMDBStrategy opens the database at path.
func OpenMMDBStrategy(path string) (*MMDBStrategy, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mmdb %s: %w", path, err)
	}
	return &MMDBStrategy{reader: reader}, nil
}

func (s *MMDBStrategy) Name() string { return "mmdb" }

func (s *MMDBStrategy) Lookup(_ context.Context, ip string) (Record, error) {
	addr := net.ParseIP(ip)
	if addr == nil {
		return Record{}, fmt.Errorf("invalid ip %q", ip)
	}

	country, err := s.reader.Country(addr)
	if err != nil {
		return Record{}, fmt.Errorf("mmdb lookup: %w", err)
	}
	if country.Country.IsoCode == "" {
		return Record{}, ErrNotFound
	}

	return Record{
		IP:          ip,
		Country:     country.Country.Names["en"],
		CountryCode: country.Country.IsoCode,
	}, nil
}

// Close releases the database handle.
func (s *MMDBStrategy) Close() error {
	return s.reader.Close()
}
