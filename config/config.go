package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	DBDriver         string
	SQLitePath       string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	GeocoderURL        string
	GeocoderUserAgent  string
	GeocodeRateLimitMs int
	GeocodeConcurrency int
	GeocodeTimeout     time.Duration
	RedisAddr          string
	RedisPassword      string
	GeocodeCacheTTL    time.Duration
	RankTimeout        time.Duration
	ScoringConfigPath  string
	DefaultMaxRent     int
	StaleAfterDays     int
	HTTPAddr           string

	SearchURL     string
	MaxRetries    int
	PagesToScrape int
	RateLimitMs   int
	CSVOutputPath string
	ChromeBin     string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		DBDriver:         getEnv("DB_DRIVER", "postgres"),
		SQLitePath:       getEnv("SQLITE_PATH", "apartments.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "ranker"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "ranker123"),
		PostgresDB:       getEnv("POSTGRES_DB", "apartments"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		GeocoderURL:        getEnv("GEOCODER_URL", "https://nominatim.openstreetmap.org/search"),
		GeocoderUserAgent:  getEnv("GEOCODER_USER_AGENT", "ApartmentRanker/1.0"),
		GeocodeRateLimitMs: getEnvInt("GEOCODE_RATE_LIMIT_MS", 1000),
		GeocodeConcurrency: getEnvInt("GEOCODE_CONCURRENCY", 4),
		GeocodeTimeout:     getEnvDuration("GEOCODE_TIMEOUT", 10*time.Second),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		GeocodeCacheTTL:    getEnvDuration("GEOCODE_CACHE_TTL", 30*24*time.Hour),
		RankTimeout:        getEnvDuration("RANK_TIMEOUT", 30*time.Second),
		ScoringConfigPath:  getEnv("SCORING_CONFIG", ""),
		DefaultMaxRent:     getEnvInt("DEFAULT_MAX_RENT", 2000),
		StaleAfterDays:     getEnvInt("STALE_AFTER_DAYS", 2),
		HTTPAddr:           getEnv("HTTP_ADDR", "127.0.0.1:5000"),

		SearchURL:     getEnv("SEARCH_URL", "https://www.zillow.com/des-moines-ia/rentals/"),
		MaxRetries:    getEnvInt("MAX_RETRIES", 3),
		PagesToScrape: getEnvInt("PAGES_TO_SCRAPE", 3),
		RateLimitMs:   getEnvInt("RATE_LIMIT_MS", 2000),
		CSVOutputPath: getEnv("CSV_OUTPUT_PATH", "./output/raw_listings.csv"),
		ChromeBin:     getEnv("CHROME_BIN", ""),
	}
}

// DSN returns the connection string for the configured driver.
func (c *Config) DSN() string {
	if c.DBDriver == "sqlite3" {
		return c.SQLitePath
	}
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return fallback
}
