package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"proxyscraper/internal/logger"
	"proxyscraper/pkg/scraper"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const envPrefix = "PROXYSCRAPER"

type Config struct {
	Log     LogConfig     `mapstructure:"log" validate:"required"`
	Checker CheckerConfig `mapstructure:"checker" validate:"required"`
	Geo     GeoConfig     `mapstructure:"geo" validate:"required"`
	Store   StoreConfig   `mapstructure:"store" validate:"required"`
	Scraper ScraperConfig `mapstructure:"scraper" validate:"required"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=console json"`
}

type CheckerConfig struct {
	EchoURL    string        `mapstructure:"echo_url" validate:"required,url"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"required,min=1s,max=2m"`
	MaxWorkers int           `mapstructure:"max_workers" validate:"min=0,max=10000"`
	UserAgent  string        `mapstructure:"user_agent"`
	BatchSize  int           `mapstructure:"batch_size" validate:"required,min=1,max=100000"`
}

type GeoConfig struct {
	CachePath         string        `mapstructure:"cache_path" validate:"required"`
	XdbPath           string        `mapstructure:"xdb_path"`
	XdbURL            string        `mapstructure:"xdb_url" validate:"omitempty,url"`
	XdbMode           string        `mapstructure:"xdb_mode" validate:"required,oneof=buffer vector file"`
	MMDBPath          string        `mapstructure:"mmdb_path"`
	MMDBURL           string        `mapstructure:"mmdb_url" validate:"omitempty,url"`
	PrimaryAPI        string        `mapstructure:"primary_api" validate:"omitempty,url"`
	FallbackAPI       string        `mapstructure:"fallback_api" validate:"omitempty,url"`
	APITimeout        time.Duration `mapstructure:"api_timeout" validate:"required,min=1s,max=1m"`
	RetryWait         time.Duration `mapstructure:"retry_wait" validate:"min=0,max=10m"`
	APIRatePerMinute  int           `mapstructure:"api_rate_per_minute" validate:"min=0,max=10000"`
	GeoNamesURL       string        `mapstructure:"geonames_url" validate:"required,url"`
	GeoNamesUsernames []string      `mapstructure:"geonames_usernames"`
	NameCacheSize     int           `mapstructure:"name_cache_size" validate:"required,min=1,max=1000000"`
}

type StoreConfig struct {
	Dir string `mapstructure:"dir" validate:"required"`
}

type ScraperConfig struct {
	Timeout     time.Duration       `mapstructure:"timeout" validate:"required,min=1s,max=5m"`
	UserAgent   string              `mapstructure:"user_agent"`
	TextSources map[string][]string `mapstructure:"text_sources" validate:"dive,keys,protocol,endkeys,dive,url"`
	HTMLSources []HTMLSourceConfig  `mapstructure:"html_sources" validate:"dive"`
}

// HTMLSourceConfig describes a table-based source. Columns are 1-based; 0 means absent.
type HTMLSourceConfig struct {
	Name           string `mapstructure:"name" validate:"required"`
	URL            string `mapstructure:"url" validate:"required,url"`
	Protocol       string `mapstructure:"protocol" validate:"required,protocol"`
	RowSelector    string `mapstructure:"row_selector"`
	HostColumn     int    `mapstructure:"host_column" validate:"min=1"`
	PortColumn     int    `mapstructure:"port_column" validate:"min=1"`
	CountryColumn  int    `mapstructure:"country_column" validate:"min=0"`
	ProtocolColumn int    `mapstructure:"protocol_column" validate:"min=0"`
}

// setDefaults configures default values for viper
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// Checker defaults
	v.SetDefault("checker.echo_url", "https://httpbin.org/ip")
	v.SetDefault("checker.timeout", "10s")
	v.SetDefault("checker.max_workers", 200)
	v.SetDefault("checker.user_agent", "")
	v.SetDefault("checker.batch_size", 500)

	// Geo defaults
	v.SetDefault("geo.cache_path", "./data/geo.db")
	v.SetDefault("geo.xdb_path", "./data/ip2region.xdb")
	v.SetDefault("geo.xdb_url", "https://raw.githubusercontent.com/lionsoul2014/ip2region/master/data/ip2region.xdb")
	v.SetDefault("geo.xdb_mode", "buffer")
	v.SetDefault("geo.mmdb_path", "")
	v.SetDefault("geo.mmdb_url", "")
	v.SetDefault("geo.primary_api", "http://ip-api.com/json/{ip}")
	v.SetDefault("geo.fallback_api", "https://ipapi.co/{ip}/json/")
	v.SetDefault("geo.api_timeout", "10s")
	v.SetDefault("geo.retry_wait", "45s")
	v.SetDefault("geo.api_rate_per_minute", 45)
	v.SetDefault("geo.geonames_url", "http://api.geonames.org/searchJSON")
	v.SetDefault("geo.geonames_usernames", []string{})
	v.SetDefault("geo.name_cache_size", 1024)

	// Store defaults
	v.SetDefault("store.dir", "./proxies")

	// Scraper defaults
	v.SetDefault("scraper.timeout", "30s")
	v.SetDefault("scraper.user_agent", "")
	v.SetDefault("scraper.text_sources", map[string][]string{
		"http": {
			"https://api.openproxylist.xyz/http.txt",
			"https://raw.githubusercontent.com/TheSpeedX/PROXY-List/master/http.txt",
			"https://www.proxy-list.download/api/v1/get?type=http",
		},
		"https": {
			"https://www.proxy-list.download/api/v1/get?type=https",
		},
		"socks4": {
			"https://www.proxy-list.download/api/v1/get?type=socks4",
		},
		"socks5": {
			"https://www.proxy-list.download/api/v1/get?type=socks5",
		},
	})
	v.SetDefault("scraper.html_sources", []map[string]interface{}{})
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/proxyscraper")

	// Set environment variable prefix and enable reading from env
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

// LoadConfig loads configuration from multiple sources with validation
func LoadConfig(configPath string) (*Config, error) {
	log := logger.New("config")
	v := newViper()

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := loadDotEnv(".env"); err != nil {
			log.WarnBg("Failed to load .env file: %v", err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		log.InfoBg("No config file found, using defaults and environment variables")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// loadDotEnv exports the variables of a dotenv file without overriding the real environment.
func loadDotEnv(path string) error {
	dv := viper.New()
	dv.SetConfigFile(path)
	dv.SetConfigType("env")
	if err := dv.ReadInConfig(); err != nil {
		return err
	}

	for _, key := range dv.AllKeys() {
		name := strings.ToUpper(key)
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, dv.GetString(key)); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks config against its struct tags.
func Validate(config *Config) error {
	validate := validator.New()

	if err := registerCustomValidators(validate); err != nil {
		return fmt.Errorf("failed to register validators: %w", err)
	}

	if err := validate.Struct(config); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// registerCustomValidators adds custom validation rules
func registerCustomValidators(validate *validator.Validate) error {
	return validate.RegisterValidation("protocol", func(fl validator.FieldLevel) bool {
		_, err := scraper.ParseProtocol(fl.Field().String())
		return err == nil
	})
}

// SaveConfigTemplate generates a sample configuration file
func SaveConfigTemplate(path string) error {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")

	if err := v.SafeWriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config template: %w", err)
	}

	return nil
}

// PrintConfig displays the current configuration (for debugging)
func PrintConfig(config *Config) {
	log := logger.New("config")

	log.InfoBg("Configuration loaded:")
	log.InfoBg("  Log: level=%s format=%s", config.Log.Level, config.Log.Format)
	log.InfoBg("  Checker: %s, %d workers, %v timeout, batch size %d",
		config.Checker.EchoURL, config.Checker.MaxWorkers, config.Checker.Timeout, config.Checker.BatchSize)
	log.InfoBg("  Geo cache: %s", config.Geo.CachePath)
	log.InfoBg("  Geo index: %s (mode %s)", valueOr(config.Geo.XdbPath, "[DISABLED]"), config.Geo.XdbMode)
	log.InfoBg("  Geo mmdb: %s", valueOr(config.Geo.MMDBPath, "[DISABLED]"))
	log.InfoBg("  Geo APIs: primary=%s fallback=%s retry wait=%v rate=%d/min",
		valueOr(config.Geo.PrimaryAPI, "[DISABLED]"), valueOr(config.Geo.FallbackAPI, "[DISABLED]"),
		config.Geo.RetryWait, config.Geo.APIRatePerMinute)
	if len(config.Geo.GeoNamesUsernames) > 0 {
		log.InfoBg("  GeoNames usernames: [SET] (%d)", len(config.Geo.GeoNamesUsernames))
	} else {
		log.InfoBg("  GeoNames usernames: [NOT SET]")
	}
	log.InfoBg("  Store: %s", config.Store.Dir)
	log.InfoBg("  Scraper: %d text protocols, %d html sources", len(config.Scraper.TextSources), len(config.Scraper.HTMLSources))
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
