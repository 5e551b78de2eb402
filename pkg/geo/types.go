package geo

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by a strategy that has no data for the address.
	ErrNotFound = errors.New("geo: no record for address")
	// ErrAPIFailed is returned when a remote API reports failure.
	ErrAPIFailed = errors.New("geo: api request failed")
)

// Record is the geographic origin of an IP address.
// Narrower producers leave the optional fields empty.
type Record struct {
	IP          string `json:"ip"`
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
	Region      string `json:"region,omitempty"`
	Province    string `json:"province,omitempty"`
	City        string `json:"city,omitempty"`
	ISP         string `json:"isp,omitempty"`
	Source      string `json:"source,omitempty"`
}

// Empty reports whether the record carries no country information.
func (r Record) Empty() bool {
	return r.Country == "" && r.CountryCode == ""
}

// Strategy is one tier of the resolution chain.
type Strategy interface {
	Name() string
	Lookup(ctx context.Context, ip string) (Record, error)
}

// Cache stores resolved records keyed by IP.
type Cache interface {
	Get(ctx context.Context, ip string) (Record, bool, error)
	Put(ctx context.Context, rec Record) error
}
