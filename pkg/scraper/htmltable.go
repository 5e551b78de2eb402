package scraper

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"proxyscraper/internal/logger"

	"github.com/PuerkitoBio/goquery"
)

// HTMLSource describes a page that lists proxies in an HTML table.
// Column indexes are zero-based; a negative index means the column is absent.
type HTMLSource struct {
	Name           string
	URL            string
	Protocol       Protocol
	RowSelector    string
	HostColumn     int
	PortColumn     int
	CountryColumn  int
	ProtocolColumn int
}

// HTMLTableScraper extracts proxies from the rows of an HTML table.
type HTMLTableScraper struct {
	source    HTMLSource
	client    *http.Client
	userAgent string
	countries CountryResolver
	logger    *logger.Logger
}

func NewHTMLTableScraper(source HTMLSource, config ScraperConfig, countries CountryResolver) *HTMLTableScraper {
	if source.Name == "" {
		source.Name = "htmltable"
	}
	if source.RowSelector == "" {
		source.RowSelector = "table tbody tr"
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTMLTableScraper{
		source: source,
		client: &http.Client{
			Timeout: timeout,
		},
		userAgent: config.UserAgent,
		countries: countries,
		logger:    logger.New(source.Name),
	}
}

func (h *HTMLTableScraper) Name() string {
	return h.source.Name
}

func (h *HTMLTableScraper) Scrape(ctx context.Context) ([]Proxy, error) {
	resp, err := fetch(ctx, h.client, h.userAgent, h.source.URL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", h.source.URL, err)
	}

	return h.parseDocument(ctx, doc), nil
}

func (h *HTMLTableScraper) parseDocument(ctx context.Context, doc *goquery.Document) []Proxy {
	var proxies []Proxy
	now := time.Now()
	skipped := 0

	doc.Find(h.source.RowSelector).Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		cell := func(i int) string {
			if i < 0 || i >= cells.Length() {
				return ""
			}
			return strings.TrimSpace(cells.Eq(i).Text())
		}

		protocol := h.source.Protocol
		if p, err := ParseProtocol(cell(h.source.ProtocolColumn)); err == nil {
			protocol = p
		}

		proxy, err := ParseLine(cell(h.source.HostColumn)+":"+cell(h.source.PortColumn), protocol)
		if err != nil {
			skipped++
			return
		}

		if name := cell(h.source.CountryColumn); name != "" && h.countries != nil {
			if code, ok := h.countries.NameToCode(ctx, name); ok {
				proxy.Country = code
			}
		}

		proxy.Source = h.source.Name
		proxy.LastSeen = now
		proxies = append(proxies, proxy)
	})

	h.logger.DebugBg("Parsed %d proxies from %s (%d rows skipped)", len(proxies), h.source.URL, skipped)
	return proxies
}
