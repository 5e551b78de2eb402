package scraper

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"time"

	"proxyscraper/internal/logger"
)

// TextListScraper reads plain-text proxy lists, one candidate per line.
type TextListScraper struct {
	name      string
	sources   map[Protocol][]string
	client    *http.Client
	userAgent string
	logger    *logger.Logger
}

// NewTextListScraper creates a scraper over sources, keyed by the protocol
// assumed for lines that do not carry a scheme.
func NewTextListScraper(name string, sources map[Protocol][]string, config ScraperConfig) *TextListScraper {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &TextListScraper{
		name:    name,
		sources: sources,
		client: &http.Client{
			Timeout: timeout,
		},
		userAgent: config.UserAgent,
		logger:    logger.New(name),
	}
}

func (t *TextListScraper) Name() string {
	return t.name
}

func (t *TextListScraper) Scrape(ctx context.Context) ([]Proxy, error) {
	var allProxies []Proxy

	for _, protocol := range sortedProtocols(t.sources) {
		for _, listURL := range t.sources[protocol] {
			if ctx.Err() != nil {
				return allProxies, ctx.Err()
			}

			proxies, err := t.scrapeURL(ctx, listURL, protocol)
			if err != nil {
				t.logger.WarnBg("Failed to fetch %s: %v", listURL, err)
				continue
			}

			t.logger.DebugBg("Collected %d %s proxies from %s", len(proxies), protocol, listURL)
			allProxies = append(allProxies, proxies...)
		}
	}

	return allProxies, nil
}

func (t *TextListScraper) scrapeURL(ctx context.Context, listURL string, protocol Protocol) ([]Proxy, error) {
	resp, err := fetch(ctx, t.client, t.userAgent, listURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return ParseList(resp.Body, protocol, t.name)
}

// ParseList parses a plain-text list. Malformed lines are skipped.
func ParseList(reader io.Reader, protocol Protocol, source string) ([]Proxy, error) {
	var proxies []Proxy
	scanner := bufio.NewScanner(reader)
	now := time.Now()

	for scanner.Scan() {
		proxy, err := ParseLine(scanner.Text(), protocol)
		if err != nil {
			continue
		}

		proxy.Source = source
		proxy.LastSeen = now
		proxies = append(proxies, proxy)
	}

	return proxies, scanner.Err()
}
