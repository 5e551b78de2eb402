package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"proxyscraper/internal/database/models/model"
	"proxyscraper/internal/database/models/table"
	"proxyscraper/pkg/geo"

	"github.com/go-jet/jet/v2/qrm"
	. "github.com/go-jet/jet/v2/sqlite"
)

// Service is the geo cache tier backed by SQLite
type Service struct {
	db *DB
}

// NewService creates a new database service
func NewService(db *DB) *Service {
	return &Service{db: db}
}

// Get returns the cached record for ip. A miss is reported as ok == false with a nil error.
func (s *Service) Get(ctx context.Context, ip string) (geo.Record, bool, error) {
	stmt := SELECT(
		table.Geo.AllColumns,
	).FROM(
		table.Geo,
	).WHERE(
		table.Geo.IP.EQ(String(ip)),
	).LIMIT(1)

	var row model.Geo
	err := stmt.QueryContext(ctx, s.db, &row)
	if errors.Is(err, qrm.ErrNoRows) {
		return geo.Record{}, false, nil
	}
	if err != nil {
		return geo.Record{}, false, fmt.Errorf("failed to get geo record for %s: %w", ip, err)
	}

	return geo.Record{
		IP:          row.IP,
		Country:     row.Country,
		CountryCode: row.CountryCode,
		Region:      row.Region,
		Province:    row.Province,
		City:        row.City,
		ISP:         row.Isp,
		Source:      row.Source,
	}, true, nil
}

// Put stores rec unless a row for the same ip already exists.
// Cached rows are never overwritten, so the first successful resolution wins.
func (s *Service) Put(ctx context.Context, rec geo.Record) error {
	if rec.IP == "" {
		return fmt.Errorf("refusing to cache geo record without ip")
	}

	row := model.Geo{
		IP:          rec.IP,
		Country:     rec.Country,
		CountryCode: rec.CountryCode,
		Region:      rec.Region,
		Province:    rec.Province,
		City:        rec.City,
		Isp:         rec.ISP,
		Source:      rec.Source,
		CreatedAt:   time.Now().UTC().Format("2006-01-02 15:04:05"),
	}

	stmt := table.Geo.INSERT(
		table.Geo.AllColumns,
	).MODEL(
		row,
	).ON_CONFLICT(table.Geo.IP).DO_NOTHING()

	if _, err := stmt.ExecContext(ctx, s.db); err != nil {
		return fmt.Errorf("failed to cache geo record for %s: %w", rec.IP, err)
	}
	return nil
}

// Count returns the number of cached records
func (s *Service) Count(ctx context.Context) (int64, error) {
	stmt := SELECT(
		COUNT(STAR).AS("count"),
	).FROM(
		table.Geo,
	)

	var dest struct {
		Count int64 `alias:"count"`
	}
	if err := stmt.QueryContext(ctx, s.db, &dest); err != nil {
		return 0, fmt.Errorf("failed to count geo records: %w", err)
	}
	return dest.Count, nil
}
