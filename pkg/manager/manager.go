package manager

import (
	"context"
	"fmt"
	"time"

	"proxyscraper/internal/logger"
	"proxyscraper/pkg/checker"
	"proxyscraper/pkg/scraper"
)

const DefaultBatchSize = 500

// Source supplies candidate proxies.
type Source interface {
	ScrapeAll(ctx context.Context) ([]scraper.Proxy, error)
}

// Checker validates candidates; results are index-aligned with the input.
type Checker interface {
	CheckProxies(ctx context.Context, proxies []scraper.Proxy) []checker.CheckResult
}

// Store persists proxies.
type Store interface {
	SaveRaw(ctx context.Context, proxies []scraper.Proxy) int
	Publish(ctx context.Context, proxies []scraper.Proxy) int
	LoadRaw(ctx context.Context) ([]scraper.Proxy, error)
}

// Stats summarizes one pipeline run.
type Stats struct {
	RunID        string
	Mode         string
	Candidates   int
	Checked      int
	Valid        int
	ByProtocol   map[scraper.Protocol]int
	ByStatus     map[string]int
	FilesWritten int
	Duration     time.Duration
}

func newStats(id, mode string) Stats {
	return Stats{
		RunID:      id,
		Mode:       mode,
		ByProtocol: make(map[scraper.Protocol]int),
		ByStatus:   make(map[string]int),
	}
}

type Manager struct {
	source    Source
	checker   Checker
	store     Store
	batchSize int
	logger    *logger.Logger
}

func NewManager(source Source, checker Checker, store Store, batchSize int) *Manager {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &Manager{
		source:    source,
		checker:   checker,
		store:     store,
		batchSize: batchSize,
		logger:    logger.New("manager"),
	}
}

// Scrape collects candidates from every source, validates them and stages
// the survivors for the next validation pass.
func (m *Manager) Scrape(ctx context.Context) (Stats, error) {
	id := logger.GenerateID()
	start := time.Now()
	stats := newStats(id, "scrape")

	m.logger.Info(id, "Starting scraping proxies...")

	candidates, err := m.source.ScrapeAll(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to scrape proxies: %w", err)
	}
	stats.Candidates = len(candidates)

	valid := m.validate(ctx, id, candidates, &stats)
	if len(valid) > 0 {
		stats.FilesWritten = m.store.SaveRaw(ctx, valid)
	}

	stats.Duration = time.Since(start)
	m.logger.Info(id, "Scraping completed: %d candidates, %d valid, %d files written in %s",
		stats.Candidates, stats.Valid, stats.FilesWritten, stats.Duration.Round(time.Millisecond))

	return stats, ctx.Err()
}

// Validate re-checks the staged candidates and rewrites the published files.
func (m *Manager) Validate(ctx context.Context) (Stats, error) {
	id := logger.GenerateID()
	start := time.Now()
	stats := newStats(id, "validate")

	m.logger.Info(id, "Starting proxy validation...")

	candidates, err := m.store.LoadRaw(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to load raw proxies: %w", err)
	}
	stats.Candidates = len(candidates)
	m.logger.Info(id, "Loaded %d raw proxies", len(candidates))

	valid := m.validate(ctx, id, candidates, &stats)

	// A cancelled run must not replace the published files with a partial set.
	if err := ctx.Err(); err != nil {
		stats.Duration = time.Since(start)
		m.logger.Warn(id, "Validation cancelled after %d of %d candidates", stats.Checked, stats.Candidates)
		return stats, err
	}

	if len(valid) > 0 {
		stats.FilesWritten = m.store.Publish(ctx, valid)
	}

	stats.Duration = time.Since(start)
	m.logger.Info(id, "Proxy validation completed: %d of %d valid, %d files written in %s",
		stats.Valid, stats.Candidates, stats.FilesWritten, stats.Duration.Round(time.Millisecond))

	return stats, nil
}

// validate checks candidates in batches, stopping between batches once ctx is done.
func (m *Manager) validate(ctx context.Context, id string, candidates []scraper.Proxy, stats *Stats) []scraper.Proxy {
	var valid []scraper.Proxy

	for start := 0; start < len(candidates); start += m.batchSize {
		if ctx.Err() != nil {
			break
		}

		end := min(start+m.batchSize, len(candidates))
		results := m.checker.CheckProxies(ctx, candidates[start:end])
		healthy := checker.FilterHealthyProxies(results)

		for _, r := range results {
			stats.ByStatus[r.Status.String()]++
		}
		for _, p := range healthy {
			stats.ByProtocol[p.Type]++
		}
		stats.Checked += len(results)
		stats.Valid += len(healthy)
		valid = append(valid, healthy...)

		m.logger.Debug(id, "Batch %d-%d: %d of %d valid", start, end, len(healthy), len(results))
	}

	return valid
}
