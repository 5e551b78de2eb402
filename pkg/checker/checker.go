package checker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"proxyscraper/internal/logger"
	"proxyscraper/pkg/scraper"

	"github.com/corpix/uarand"
	"github.com/sourcegraph/conc/pool"
	netproxy "golang.org/x/net/proxy"
	"h12.io/socks"
)

const (
	DefaultEchoURL    = "https://httpbin.org/ip"
	DefaultTimeout    = 10 * time.Second
	DefaultMaxWorkers = 200

	maxBodySize = 64 << 10
)

// ErrOriginMismatch is returned when the echo endpoint reports an origin other than the proxy host.
var ErrOriginMismatch = errors.New("origin does not match proxy host")

type ProxyStatus int

const (
	StatusUnknown ProxyStatus = iota
	StatusHealthy
	StatusUnhealthy
	StatusTimeout
	StatusError
)

func (s ProxyStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	case StatusTimeout:
		return "timeout"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

type CheckResult struct {
	Proxy        scraper.Proxy
	Status       ProxyStatus
	ResponseTime time.Duration
	Error        error
	CheckedAt    time.Time
}

// Checker validates proxies by fetching an echo endpoint through them.
// A proxy is healthy iff the endpoint answers 200 with an origin equal to the proxy host.
type Checker struct {
	echoURL    string
	timeout    time.Duration
	maxWorkers int
	userAgent  string
	logger     *logger.Logger
}

type CheckerConfig struct {
	EchoURL string
	Timeout time.Duration
	// MaxWorkers bounds in-flight checks; 0 means no bound.
	MaxWorkers int
	// UserAgent is sent with every check; empty picks a random desktop agent per request.
	UserAgent string
}

func NewChecker() *Checker {
	return NewCheckerWithConfig(CheckerConfig{
		EchoURL:    DefaultEchoURL,
		Timeout:    DefaultTimeout,
		MaxWorkers: DefaultMaxWorkers,
	})
}

func NewCheckerWithConfig(config CheckerConfig) *Checker {
	if config.EchoURL == "" {
		config.EchoURL = DefaultEchoURL
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxWorkers < 0 {
		config.MaxWorkers = 0
	}

	return &Checker{
		echoURL:    config.EchoURL,
		timeout:    config.Timeout,
		maxWorkers: config.MaxWorkers,
		userAgent:  config.UserAgent,
		logger:     logger.New("checker"),
	}
}

// Validate returns the candidates whose check succeeded.
func (c *Checker) Validate(ctx context.Context, candidates []scraper.Proxy) []scraper.Proxy {
	return FilterHealthyProxies(c.CheckProxies(ctx, candidates))
}

func (c *Checker) CheckProxy(ctx context.Context, proxy scraper.Proxy) CheckResult {
	start := time.Now()
	result := CheckResult{
		Proxy:     proxy,
		CheckedAt: start,
	}

	status, err := c.testProxy(ctx, proxy)
	result.Status = status
	result.Error = err
	result.ResponseTime = time.Since(start)

	return result
}

// CheckProxies checks every proxy. The result slice is index-aligned with the input.
func (c *Checker) CheckProxies(ctx context.Context, proxies []scraper.Proxy) []CheckResult {
	if len(proxies) == 0 {
		return nil
	}

	results := make([]CheckResult, len(proxies))

	p := pool.New()
	if c.maxWorkers > 0 {
		p = p.WithMaxGoroutines(c.maxWorkers)
	}
	for i, proxy := range proxies {
		p.Go(func() {
			results[i] = c.CheckProxy(ctx, proxy)
		})
	}
	p.Wait()

	counts := CountByStatus(results)
	c.logger.InfoBg("Checked %d proxies: %d healthy, %d unhealthy, %d timeout, %d error",
		len(results), counts[StatusHealthy], counts[StatusUnhealthy], counts[StatusTimeout], counts[StatusError])

	return results
}

func (c *Checker) testProxy(ctx context.Context, proxy scraper.Proxy) (ProxyStatus, error) {
	if err := ctx.Err(); err != nil {
		return StatusError, err
	}

	transport, err := c.newTransport(proxy)
	if err != nil {
		return StatusError, err
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   c.timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse // Don't follow redirects
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.echoURL, nil)
	if err != nil {
		return StatusError, err
	}

	userAgent := c.userAgent
	if userAgent == "" {
		userAgent = uarand.GetRandom()
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Connection", "close")

	resp, err := client.Do(req)
	if err != nil {
		if isTimeoutError(err) {
			return StatusTimeout, err
		}
		if isConnectionError(err) {
			return StatusUnhealthy, err
		}
		return StatusError, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StatusUnhealthy, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var body struct {
		Origin string `json:"origin"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&body); err != nil {
		if isTimeoutError(err) {
			return StatusTimeout, err
		}
		return StatusError, fmt.Errorf("invalid echo response: %w", err)
	}

	if body.Origin != proxy.Host {
		return StatusUnhealthy, fmt.Errorf("%w: got %q", ErrOriginMismatch, body.Origin)
	}

	return StatusHealthy, nil
}

func (c *Checker) newTransport(proxy scraper.Proxy) (*http.Transport, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   c.timeout,
			KeepAlive: -1,
		}).DialContext,
		DisableKeepAlives:     true, // Important for proxy testing
		DisableCompression:    true,
		MaxIdleConns:          0,
		IdleConnTimeout:       1 * time.Second,
		TLSHandshakeTimeout:   c.timeout,
		ResponseHeaderTimeout: c.timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	switch proxy.Type {
	case scraper.HTTP, scraper.HTTPS:
		// HTTPS candidates are spoken to as plain HTTP proxies too.
		proxyURL := proxy.URL()
		proxyURL.Scheme = "http"
		transport.Proxy = http.ProxyURL(proxyURL)

	case scraper.SOCKS5:
		dialContext, err := c.socks5Dialer(proxy)
		if err != nil {
			return nil, err
		}
		transport.DialContext = dialContext

	case scraper.SOCKS4:
		transport.DialContext = c.socks4Dialer(proxy)

	default:
		return nil, fmt.Errorf("unsupported proxy type: %q", proxy.Type)
	}

	return transport, nil
}

type dialContextFunc func(ctx context.Context, network, addr string) (net.Conn, error)

func (c *Checker) socks5Dialer(proxy scraper.Proxy) (dialContextFunc, error) {
	var auth *netproxy.Auth
	if proxy.Username != "" {
		auth = &netproxy.Auth{User: proxy.Username, Password: proxy.Password}
	}

	dialer, err := netproxy.SOCKS5("tcp", proxy.Address(), auth, &net.Dialer{Timeout: c.timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	if cd, ok := dialer.(netproxy.ContextDialer); ok {
		return cd.DialContext, nil
	}
	return func(_ context.Context, network, addr string) (net.Conn, error) {
		return dialer.Dial(network, addr)
	}, nil
}

func (c *Checker) socks4Dialer(proxy scraper.Proxy) dialContextFunc {
	uri := proxy.URL()
	// The SOCKS4 client always sends an empty user id.
	uri.User = nil
	uri.RawQuery = "timeout=" + strconv.FormatInt(c.timeout.Milliseconds(), 10) + "ms"

	dial := socks.Dial(uri.String())
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return dial(network, addr)
	}
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no route to host") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "connection reset")
}

func FilterHealthyProxies(results []CheckResult) []scraper.Proxy {
	var healthy []scraper.Proxy
	for _, result := range results {
		if result.Status == StatusHealthy {
			healthy = append(healthy, result.Proxy)
		}
	}
	return healthy
}

func CountByStatus(results []CheckResult) map[ProxyStatus]int {
	counts := make(map[ProxyStatus]int)
	for _, result := range results {
		counts[result.Status]++
	}
	return counts
}
