package database

import (
	"context"
	"path/filepath"
	"testing"

	"proxyscraper/pkg/geo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	db, err := NewDB(filepath.Join(t.TempDir(), "cache", "geo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewService(db)
}

func TestServiceGetMiss(t *testing.T) {
	svc := newTestService(t)

	rec, ok, err := svc.Get(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, rec.Empty())
}

func TestServicePutGet(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	want := geo.Record{
		IP:          "1.2.3.4",
		Country:     "United States",
		CountryCode: "US",
		Province:    "California",
		City:        "Los Angeles",
		ISP:         "Example ISP",
		Source:      "xdb",
	}
	require.NoError(t, svc.Put(ctx, want))

	got, ok, err := svc.Get(ctx, "1.2.3.4")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestServicePutKeepsFirstRecord(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first := geo.Record{IP: "5.6.7.8", Country: "Germany", CountryCode: "DE", Source: "remote"}
	second := geo.Record{IP: "5.6.7.8", Country: "France", CountryCode: "FR", Source: "remote"}

	require.NoError(t, svc.Put(ctx, first))
	require.NoError(t, svc.Put(ctx, second))

	got, ok, err := svc.Get(ctx, "5.6.7.8")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "DE", got.CountryCode)

	count, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestServicePutRequiresIP(t *testing.T) {
	svc := newTestService(t)
	assert.Error(t, svc.Put(context.Background(), geo.Record{CountryCode: "US"}))
}
