package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"proxyscraper/internal/config"
	"proxyscraper/internal/database"
	"proxyscraper/internal/logger"
	"proxyscraper/pkg/checker"
	"proxyscraper/pkg/geo"
	"proxyscraper/pkg/manager"
	"proxyscraper/pkg/scraper"
	"proxyscraper/pkg/writer"
	"proxyscraper/pkg/xdb"

	"github.com/spf13/afero"
	flag "github.com/spf13/pflag"
)

var (
	configPath = flag.StringP("config", "c", "", "Path to config file")
	doScrape   = flag.Bool("scrape", false, "Scrape sources, validate candidates and append them to the raw lists")
	doValidate = flag.Bool("validate", false, "Re-validate the raw lists and publish final and per-country lists")
	buildXdb   = flag.String("build-xdb", "", "Build the local geo index from a start|end|region source file and exit")
	genConfig  = flag.Bool("gen-config", false, "Generate default config file")
	logLevel   = flag.String("log-level", "", "Override the configured log level")
	version    = flag.BoolP("version", "v", false, "Show version")
)

const (
	Version = "1.0.0"
	Banner  = `
______ ______ ______ ______ ______ ______ ______ ______

  proxyscraper v%s
  scrape, validate and geolocate public proxies

______ ______ ______ ______ ______ ______ ______ ______

`
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("proxyscraper v%s\n", Version)
		return
	}

	fmt.Printf(Banner, Version)

	if *genConfig {
		if err := config.SaveConfigTemplate("config.yaml"); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Default config generated: config.yaml")
		return
	}

	if *buildXdb == "" && *doScrape == *doValidate {
		fmt.Fprintln(os.Stderr, "exactly one of --scrape, --validate or --build-xdb is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	if *buildXdb != "" {
		if err := buildIndex(*buildXdb, cfg.Geo.XdbPath); err != nil {
			logger.New("main").ErrorBg("%v", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg); err != nil {
		logger.New("main").ErrorBg("%v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	log := logger.New("main")
	log.InfoBg("Starting proxyscraper v%s", Version)
	config.PrintConfig(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Geo.CachePath)
	if err != nil {
		return fmt.Errorf("failed to initialize geo cache: %w", err)
	}
	defer db.Close()
	cache := database.NewService(db)

	normalizer := geo.NewCountryNormalizer(geo.NormalizerConfig{
		GeoNamesURL: cfg.Geo.GeoNamesURL,
		Usernames:   cfg.Geo.GeoNamesUsernames,
		CacheSize:   cfg.Geo.NameCacheSize,
		Timeout:     cfg.Geo.APITimeout,
	})

	resolver := geo.NewResolver(cache, buildStrategies(ctx, cfg, normalizer)...)
	defer func() {
		if err := resolver.Close(); err != nil {
			log.WarnBg("Failed to close geo strategies: %v", err)
		}
	}()
	log.InfoBg("Geo strategies: %v", resolver.Strategies())

	store := writer.New(afero.NewOsFs(), cfg.Store.Dir, resolver)

	chk := checker.NewCheckerWithConfig(checker.CheckerConfig{
		EchoURL:    cfg.Checker.EchoURL,
		Timeout:    cfg.Checker.Timeout,
		MaxWorkers: cfg.Checker.MaxWorkers,
		UserAgent:  cfg.Checker.UserAgent,
	})

	scraperConfig, err := buildScraperConfig(cfg.Scraper)
	if err != nil {
		return err
	}
	source := scraper.NewMultiScraperWithConfig(scraperConfig, normalizer)
	log.InfoBg("Scrapers: %v", source.Names())

	mgr := manager.NewManager(source, chk, store, cfg.Checker.BatchSize)

	var stats manager.Stats
	if *doScrape {
		stats, err = mgr.Scrape(ctx)
	} else {
		stats, err = mgr.Validate(ctx)
	}
	if err != nil {
		return fmt.Errorf("%s run failed: %w", stats.Mode, err)
	}

	log.Info(stats.RunID, "%s finished in %v: %d candidates, %d checked, %d valid, %d files written",
		stats.Mode, stats.Duration.Round(time.Millisecond), stats.Candidates, stats.Checked, stats.Valid, stats.FilesWritten)
	for protocol, n := range stats.ByProtocol {
		log.Debug(stats.RunID, "  %s: %d valid", protocol, n)
	}
	for status, n := range stats.ByStatus {
		log.Debug(stats.RunID, "  %s: %d", status, n)
	}

	countCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if n, err := cache.Count(countCtx); err == nil {
		log.Info(stats.RunID, "Geo cache holds %d entries", n)
	}

	return nil
}

// buildStrategies assembles the lookup tiers. A tier whose data cannot be loaded is skipped.
func buildStrategies(ctx context.Context, cfg *config.Config, normalizer *geo.CountryNormalizer) []geo.Strategy {
	log := logger.New("main")
	var strategies []geo.Strategy

	if cfg.Geo.XdbPath != "" {
		if err := xdb.EnsureFile(ctx, cfg.Geo.XdbPath, cfg.Geo.XdbURL); err != nil {
			log.WarnBg("Local index disabled: %v", err)
		} else if searcher, err := xdb.Open(cfg.Geo.XdbPath, xdb.Mode(cfg.Geo.XdbMode)); err != nil {
			log.WarnBg("Local index disabled: %v", err)
		} else {
			if h, err := xdb.LoadHeaderFromFile(cfg.Geo.XdbPath); err == nil {
				log.DebugBg("Local index %s: version %d, built %s", cfg.Geo.XdbPath, h.Version,
					time.Unix(int64(h.CreatedAt), 0).UTC().Format(time.RFC3339))
			}
			strategies = append(strategies, geo.NewXdbStrategy(searcher, normalizer))
		}
	}

	if cfg.Geo.MMDBPath != "" {
		if err := xdb.EnsureFile(ctx, cfg.Geo.MMDBPath, cfg.Geo.MMDBURL); err != nil {
			log.WarnBg("MaxMind database disabled: %v", err)
		} else if s, err := geo.OpenMMDBStrategy(cfg.Geo.MMDBPath); err != nil {
			log.WarnBg("MaxMind database disabled: %v", err)
		} else {
			strategies = append(strategies, s)
		}
	}

	if cfg.Geo.PrimaryAPI != "" || cfg.Geo.FallbackAPI != "" {
		strategies = append(strategies, geo.NewRemoteStrategy(geo.RemoteConfig{
			PrimaryURL:    cfg.Geo.PrimaryAPI,
			FallbackURL:   cfg.Geo.FallbackAPI,
			Timeout:       cfg.Geo.APITimeout,
			RetryWait:     cfg.Geo.RetryWait,
			RatePerMinute: cfg.Geo.APIRatePerMinute,
			UserAgent:     cfg.Scraper.UserAgent,
		}))
	}

	return strategies
}

// buildIndex compiles a text range source into the configured index path.
func buildIndex(src, dst string) error {
	log := logger.New("main")
	if dst == "" {
		return fmt.Errorf("geo.xdb_path is not configured")
	}

	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open index source: %w", err)
	}
	defer f.Close()

	b := xdb.NewBuilder()
	n, err := b.ReadSource(f)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dst, err)
	}
	if err := b.WriteFile(dst); err != nil {
		return err
	}

	log.InfoBg("Built %s from %d ranges in %s", dst, n, src)
	return nil
}

func buildScraperConfig(cfg config.ScraperConfig) (scraper.ScraperConfig, error) {
	out := scraper.ScraperConfig{
		Timeout:     cfg.Timeout,
		UserAgent:   cfg.UserAgent,
		TextSources: make(map[scraper.Protocol][]string, len(cfg.TextSources)),
	}

	for name, urls := range cfg.TextSources {
		protocol, err := scraper.ParseProtocol(name)
		if err != nil {
			return out, fmt.Errorf("text source %q: %w", name, err)
		}
		out.TextSources[protocol] = append(out.TextSources[protocol], urls...)
	}

	for _, src := range cfg.HTMLSources {
		protocol, err := scraper.ParseProtocol(src.Protocol)
		if err != nil {
			return out, fmt.Errorf("html source %q: %w", src.Name, err)
		}
		out.HTMLSources = append(out.HTMLSources, scraper.HTMLSource{
			Name:           src.Name,
			URL:            src.URL,
			Protocol:       protocol,
			RowSelector:    src.RowSelector,
			HostColumn:     src.HostColumn - 1,
			PortColumn:     src.PortColumn - 1,
			CountryColumn:  src.CountryColumn - 1,
			ProtocolColumn: src.ProtocolColumn - 1,
		})
	}

	return out, nil
}
