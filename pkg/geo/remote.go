package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"proxyscraper/internal/logger"

	"github.com/biter777/countries"
	"github.com/cenkalti/backoff"
	"golang.org/x/time/rate"
)

const (
	DefaultPrimaryAPI    = "http://ip-api.com/json/{ip}"
	DefaultFallbackAPI   = "https://ipapi.co/{ip}/json/"
	DefaultRetryWait     = 45 * time.Second
	DefaultRatePerMinute = 45
)

// RemoteConfig holds RemoteStrategy configuration
type RemoteConfig struct {
	PrimaryURL    string
	FallbackURL   string
	Timeout       time.Duration
	RetryWait     time.Duration
	RatePerMinute int
	UserAgent     string
}

// RemoteStrategy resolves addresses through public geolocation APIs.
// The primary API gets one retry after RetryWait; the fallback API is tried once.
type RemoteStrategy struct {
	client    *http.Client
	primary   string
	fallback  string
	retryWait time.Duration
	limiter   *rate.Limiter
	userAgent string
	log       *logger.Logger
}

// NewRemoteStrategy creates a remote strategy. A negative RetryWait disables the retry.
func NewRemoteStrategy(cfg RemoteConfig) *RemoteStrategy {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), 1)
	}

	return &RemoteStrategy{
		client:    &http.Client{Timeout: cfg.Timeout},
		primary:   cfg.PrimaryURL,
		fallback:  cfg.FallbackURL,
		retryWait: cfg.RetryWait,
		limiter:   limiter,
		userAgent: cfg.UserAgent,
		log:       logger.New("geo-remote"),
	}
}

func (s *RemoteStrategy) Name() string { return "remote" }

func (s *RemoteStrategy) Lookup(ctx context.Context, ip string) (Record, error) {
	if s.primary == "" && s.fallback == "" {
		return Record{}, fmt.Errorf("%w: no api configured", ErrAPIFailed)
	}

	var primaryErr error
	if s.primary != "" {
		rec, err := s.lookupWithRetry(ctx, s.primary, ip)
		if err == nil {
			return rec, nil
		}
		primaryErr = err
	}

	if s.fallback == "" || ctx.Err() != nil {
		return Record{}, primaryErr
	}

	s.log.WarnBg("Using fallback API for %s (primary: %v)", ip, primaryErr)
	rec, err := s.fetch(ctx, s.fallback, ip)
	if err != nil {
		if primaryErr != nil {
			return Record{}, fmt.Errorf("primary: %v; fallback: %w", primaryErr, err)
		}
		return Record{}, err
	}
	return rec, nil
}

func (s *RemoteStrategy) lookupWithRetry(ctx context.Context, endpoint, ip string) (Record, error) {
	if s.retryWait < 0 {
		return s.fetch(ctx, endpoint, ip)
	}

	var rec Record
	operation := func() error {
		var err error
		rec, err = s.fetch(ctx, endpoint, ip)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(s.retryWait), 1), ctx)
	notify := func(err error, wait time.Duration) {
		s.log.WarnBg("Request for %s failed: %v. Retrying after %s", ip, err, wait)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// apiResponse is the union of the ip-api.com and ipapi.co response shapes.
type apiResponse struct {
	Status         string `json:"status"`
	Message        string `json:"message"`
	Country        string `json:"country"`
	CountryCode    string `json:"countryCode"`
	CountryCodeAlt string `json:"country_code"`
	CountryName    string `json:"country_name"`
	RegionCode     string `json:"region_code"`
	RegionName     string `json:"regionName"`
	Region         string `json:"region"`
	City           string `json:"city"`
	ISP            string `json:"isp"`
	Org            string `json:"org"`
	Error          bool   `json:"error"`
	Reason         string `json:"reason"`
}

func (s *RemoteStrategy) fetch(ctx context.Context, endpoint, ip string) (Record, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return Record{}, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL(endpoint, ip), nil)
	if err != nil {
		return Record{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Record{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Record{}, fmt.Errorf("%w: status code %d", ErrAPIFailed, resp.StatusCode)
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Record{}, fmt.Errorf("failed to decode response: %w", err)
	}

	return body.record(ip)
}

func (r apiResponse) record(ip string) (Record, error) {
	if strings.EqualFold(r.Status, "fail") || r.Error {
		msg := r.Message
		if msg == "" {
			msg = r.Reason
		}
		return Record{}, fmt.Errorf("%w: %s", ErrAPIFailed, msg)
	}

	code := firstNonEmpty(r.CountryCode, r.CountryCodeAlt)
	name := firstNonEmpty(r.CountryName, r.Country)

	// ipapi.co puts the ISO code in "country".
	if code == "" && isCountryCode(r.Country) {
		code = r.Country
	}
	if name == code && code != "" {
		if c := countries.ByName(code); c != countries.Unknown {
			name = c.String()
		}
	}
	if code == "" && name == "" {
		return Record{}, fmt.Errorf("%w: response carries no country", ErrAPIFailed)
	}

	return Record{
		IP:          ip,
		Country:     name,
		CountryCode: strings.ToUpper(code),
		Region:      firstNonEmpty(r.RegionName, r.Region, r.RegionCode),
		City:        r.City,
		ISP:         firstNonEmpty(r.ISP, r.Org),
	}, nil
}

func apiURL(endpoint, ip string) string {
	if strings.Contains(endpoint, "{ip}") {
		return strings.ReplaceAll(endpoint, "{ip}", ip)
	}
	return strings.TrimRight(endpoint, "/") + "/" + ip
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
