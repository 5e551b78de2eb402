package scraper

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"proxyscraper/internal/logger"

	"github.com/corpix/uarand"
	"github.com/sourcegraph/conc/pool"
)

type MultiScraper struct {
	scrapers []Scraper
	logger   *logger.Logger
}

func NewMultiScraper(scrapers ...Scraper) *MultiScraper {
	return &MultiScraper{
		scrapers: scrapers,
		logger:   logger.New("multiscraper"),
	}
}

// NewMultiScraperWithConfig builds the configured text and HTML sources.
// countries may be nil, in which case HTML country columns are ignored.
func NewMultiScraperWithConfig(config ScraperConfig, countries CountryResolver) *MultiScraper {
	var scrapers []Scraper

	if len(config.TextSources) > 0 {
		scrapers = append(scrapers, NewTextListScraper("textlist", config.TextSources, config))
	}

	for _, src := range config.HTMLSources {
		scrapers = append(scrapers, NewHTMLTableScraper(src, config, countries))
	}

	return NewMultiScraper(scrapers...)
}

// Names returns the names of the configured sources.
func (m *MultiScraper) Names() []string {
	names := make([]string, 0, len(m.scrapers))
	for _, s := range m.scrapers {
		names = append(names, s.Name())
	}
	return names
}

// ScrapeAll runs every source concurrently and merges the results,
// keeping the first occurrence of each proxy key. A failing source is skipped.
func (m *MultiScraper) ScrapeAll(ctx context.Context) ([]Proxy, error) {
	results := make([][]Proxy, len(m.scrapers))

	p := pool.New().WithMaxGoroutines(8)
	for i, s := range m.scrapers {
		p.Go(func() {
			proxies, err := s.Scrape(ctx)
			if err != nil {
				m.logger.WarnBg("Scraper %s failed: %v", s.Name(), err)
				return
			}
			results[i] = proxies
		})
	}
	p.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var allProxies []Proxy
	seen := make(map[string]bool)
	totalUnique := 0

	for i, proxies := range results {
		uniqueCount := 0
		for _, proxy := range proxies {
			key := proxy.Key()
			if !seen[key] {
				seen[key] = true
				allProxies = append(allProxies, proxy)
				uniqueCount++
			}
		}

		m.logger.InfoBg("Scraper %s: %d total, %d unique", m.scrapers[i].Name(), len(proxies), uniqueCount)
		totalUnique += uniqueCount
	}

	m.logger.InfoBg("Total unique proxies collected: %d", totalUnique)
	return allProxies, nil
}

func fetch(ctx context.Context, client *http.Client, userAgent, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	if userAgent == "" {
		userAgent = uarand.GetRandom()
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return resp, nil
}

func sortedProtocols(sources map[Protocol][]string) []Protocol {
	protocols := make([]Protocol, 0, len(sources))
	for p := range sources {
		protocols = append(protocols, p)
	}
	sort.Slice(protocols, func(i, j int) bool { return protocols[i] < protocols[j] })
	return protocols
}
