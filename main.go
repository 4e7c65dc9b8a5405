package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"apartment-ranker/config"
	"apartment-ranker/geocoding"
	"apartment-ranker/metrics"
	"apartment-ranker/scraper/zillow"
	"apartment-ranker/server"
	"apartment-ranker/services"
	"apartment-ranker/storage"
	"apartment-ranker/utils"
)

const usage = `Usage: apartment-ranker <command> [args]

Commands:
  scrape [pages]                                  scrape listings and store them
  view [limit]                                    print stored active listings
  all                                             scrape, then print the inventory
  rank <work_address> [max_rent] [min_bedrooms]   rank stored listings
  mark-stale [days]                               deactivate listings not seen recently
  serve                                           run the HTTP API`

// app bundles the dependencies shared by the commands.
type app struct {
	cfg      *config.Config
	scoring  config.Scoring
	logger   *utils.Logger
	store    *storage.SQLStore
	geocoder geocoding.Geocoder
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	redis    *redis.Client
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(2)
	}

	logger := utils.NewLogger()
	cfg := config.Load()

	scoring, err := config.LoadScoring(cfg.ScoringConfigPath)
	if err != nil {
		logger.Error("Invalid scoring configuration: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, scoring, logger)
	if err != nil {
		logger.Error("Startup failed: %v", err)
		if cfg.DBDriver == storage.DriverPostgres {
			logger.Error("Make sure Docker is running: docker compose up -d")
		}
		os.Exit(1)
	}
	defer a.close()

	args := os.Args[2:]
	switch os.Args[1] {
	case "scrape":
		_, err = a.scrape(ctx, intArg(args, 0, cfg.PagesToScrape))
	case "view":
		err = a.view(ctx, intArg(args, 0, 20))
	case "all":
		if _, err = a.scrape(ctx, cfg.PagesToScrape); err == nil {
			err = a.view(ctx, 0)
		}
	case "rank":
		if len(args) < 1 {
			fmt.Println(usage)
			os.Exit(2)
		}
		err = a.rank(ctx, args)
	case "mark-stale":
		err = a.markStale(ctx, intArg(args, 0, cfg.StaleAfterDays))
	case "serve":
		err = a.serve(ctx)
	default:
		fmt.Println(usage)
		os.Exit(2)
	}

	if err != nil {
		logger.Error("%s failed: %v", os.Args[1], err)
		os.Exit(1)
	}
}

func newApp(ctx context.Context, cfg *config.Config, scoring config.Scoring, logger *utils.Logger) (*app, error) {
	store, err := storage.Open(ctx, cfg.DBDriver, cfg.DSN())
	if err != nil {
		return nil, err
	}

	m := metrics.NewMetrics()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := m.Register(reg); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	a := &app{
		cfg:      cfg,
		scoring:  scoring,
		logger:   logger,
		store:    store,
		metrics:  m,
		registry: reg,
	}

	nominatim := geocoding.NewNominatimClient(geocoding.NominatimOptions{
		BaseURL:     cfg.GeocoderURL,
		UserAgent:   cfg.GeocoderUserAgent,
		Timeout:     cfg.GeocodeTimeout,
		RateLimitMs: cfg.GeocodeRateLimitMs,
		MaxRetries:  cfg.MaxRetries,
		Logger:      logger,
	})

	var shared geocoding.Store
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		cache := geocoding.NewRedisCache(a.redis, cfg.GeocodeCacheTTL)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := cache.HealthCheck(pingCtx)
		cancel()
		if err != nil {
			logger.Warn("[main] Redis at %s unavailable, using in-process geocode cache only: %v", cfg.RedisAddr, err)
		} else {
			shared = cache
			logger.Info("[main] Shared geocode cache: redis %s (ttl %v)", cfg.RedisAddr, cfg.GeocodeCacheTTL)
		}
	}
	a.geocoder = geocoding.NewCachingGeocoder(nominatim, shared, m, logger)

	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	_ = a.store.Close()
}

func (a *app) newRanker() *services.Ranker {
	return services.NewRanker(services.NewScorer(a.scoring), a.geocoder, services.RankerOptions{
		Concurrency: a.cfg.GeocodeConcurrency,
		Timeout:     a.cfg.RankTimeout,
	}, a.logger, a.metrics)
}

// scrape fetches listings, saves the raw rows to CSV and upserts the cleaned
// listings. It returns the number of listings stored.
func (a *app) scrape(ctx context.Context, pages int) (int, error) {
	a.logger.Info("=== Scraping %d pages from %s ===", pages, a.cfg.SearchURL)

	rawListings, err := zillow.New(a.cfg, a.logger).Scrape(ctx, pages)
	if err != nil {
		return 0, fmt.Errorf("zillow scrape: %w", err)
	}
	if len(rawListings) == 0 {
		a.logger.Warn("No listings were scraped")
		return 0, nil
	}

	csvWriter, err := storage.NewCSVWriter(a.cfg.CSVOutputPath, 0)
	if err != nil {
		a.logger.Error("Failed to create CSV writer: %v", err)
	} else {
		if err := csvWriter.WriteRaw(rawListings); err != nil {
			a.logger.Error("CSV write failed: %v", err)
		} else {
			a.logger.Info("Raw listings saved to %s", a.cfg.CSVOutputPath)
		}
		_ = csvWriter.Close()
	}

	cleaned := services.NewCleaner(a.logger).Clean(rawListings)
	if len(cleaned) == 0 {
		a.logger.Warn("All listings were dropped during cleaning")
		return 0, nil
	}

	inserted, updated, err := a.store.Upsert(ctx, cleaned)
	if err != nil {
		return 0, err
	}
	a.logger.Info("Stored %d listings: %d new, %d updated", len(cleaned), inserted, updated)
	return len(cleaned), nil
}

func (a *app) view(ctx context.Context, limit int) error {
	listings, err := a.store.FetchActiveListings(ctx)
	if err != nil {
		return err
	}

	insights := services.NewInsightService(a.logger)
	insights.PrintInventory(os.Stdout, insights.Inventory(listings))

	if limit > 0 && len(listings) > limit {
		listings = listings[:limit]
	}
	for i, l := range listings {
		fmt.Printf("  %3d. $%-6d %-45s %s\n", i+1, l.Price, l.FullAddress(), l.ListingURL)
	}
	fmt.Println()
	return nil
}

// rank parses "<work_address> [max_rent] [min_bedrooms]" through the same
// validation the API uses and prints the top matches.
func (a *app) rank(ctx context.Context, args []string) error {
	req := services.PreferenceRequest{WorkAddress: jsonString(args[0])}
	if len(args) > 1 {
		req.MaxRent = jsonString(args[1])
	}
	if len(args) > 2 {
		req.MinBedrooms = jsonString(args[2])
	}

	profile, err := services.ValidatePreferences(req, services.DefaultsFrom(a.cfg, a.scoring))
	if err != nil {
		return err
	}

	listings, err := a.store.FetchActiveListings(ctx)
	if err != nil {
		return err
	}

	ranking, err := a.newRanker().Rank(ctx, listings, profile)
	if err != nil {
		return err
	}
	if err := a.store.SaveCoordinates(ctx, ranking.Geocoded); err != nil {
		a.logger.Warn("Could not store geocoded positions: %v", err)
	}

	insights := services.NewInsightService(a.logger)
	insights.PrintRanking(os.Stdout, insights.Summarize(ranking))
	return nil
}

func (a *app) markStale(ctx context.Context, days int) error {
	if days < 1 {
		return fmt.Errorf("days must be at least 1, got %d", days)
	}
	n, err := a.store.MarkInactive(ctx, time.Duration(days)*24*time.Hour)
	if err != nil {
		return err
	}
	a.logger.Info("Marked %d listings inactive (not seen in %d days)", n, days)
	return nil
}

func (a *app) serve(ctx context.Context) error {
	srv := server.New(server.Options{
		Store:    a.store,
		Ranker:   a.newRanker(),
		Geocoder: a.geocoder,
		Defaults: services.DefaultsFrom(a.cfg, a.scoring),
		Logger:   a.logger,
		Metrics:  a.metrics,
		Gatherer: a.registry,
	})
	return srv.ListenAndServe(ctx, a.cfg.HTTPAddr)
}

// intArg returns args[i] as an int, or fallback when absent or malformed.
func intArg(args []string, i, fallback int) int {
	if i >= len(args) {
		return fallback
	}
	n, err := strconv.Atoi(args[i])
	if err != nil {
		return fallback
	}
	return n
}

// jsonString encodes s as a JSON string literal for a PreferenceRequest field.
func jsonString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
