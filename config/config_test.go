package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("GEOCODE_CONCURRENCY", "")
	t.Setenv("RANK_TIMEOUT", "")

	cfg := Load()
	if cfg.DBDriver != "postgres" {
		t.Errorf("DBDriver: got %q, want postgres", cfg.DBDriver)
	}
	if cfg.GeocodeConcurrency != 4 {
		t.Errorf("GeocodeConcurrency: got %d, want 4", cfg.GeocodeConcurrency)
	}
	if cfg.RankTimeout != 30*time.Second {
		t.Errorf("RankTimeout: got %v, want 30s", cfg.RankTimeout)
	}
	if cfg.DefaultMaxRent != 2000 {
		t.Errorf("DefaultMaxRent: got %d, want 2000", cfg.DefaultMaxRent)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GEOCODE_CONCURRENCY", "8")
	t.Setenv("RANK_TIMEOUT", "5s")
	t.Setenv("STALE_AFTER_DAYS", "not-a-number")

	cfg := Load()
	if cfg.GeocodeConcurrency != 8 {
		t.Errorf("GeocodeConcurrency: got %d, want 8", cfg.GeocodeConcurrency)
	}
	if cfg.RankTimeout != 5*time.Second {
		t.Errorf("RankTimeout: got %v, want 5s", cfg.RankTimeout)
	}
	if cfg.StaleAfterDays != 2 {
		t.Errorf("invalid int should fall back to default, got %d", cfg.StaleAfterDays)
	}
}

func TestDSN(t *testing.T) {
	cfg := &Config{
		DBDriver:         "postgres",
		PostgresHost:     "db",
		PostgresPort:     "5432",
		PostgresUser:     "u",
		PostgresPassword: "p",
		PostgresDB:       "apartments",
		PostgresSSLMode:  "disable",
	}
	want := "host=db port=5432 user=u password=p dbname=apartments sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN: got %q, want %q", got, want)
	}

	cfg.DBDriver = "sqlite3"
	cfg.SQLitePath = "apartments.db"
	if got := cfg.DSN(); got != "apartments.db" {
		t.Errorf("sqlite DSN: got %q", got)
	}
}

func TestDefaultScoringIsValid(t *testing.T) {
	if err := DefaultScoring().Validate(); err != nil {
		t.Fatalf("default calibration invalid: %v", err)
	}
}

func TestLoadScoringEmptyPath(t *testing.T) {
	cfg, err := LoadScoring("")
	if err != nil {
		t.Fatalf("LoadScoring: %v", err)
	}
	if cfg.Weights.Commute != 40 {
		t.Errorf("commute weight: got %g, want 40", cfg.Weights.Commute)
	}
}

func TestLoadScoringMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scoring.yaml")
	yaml := `
weights:
  commute: 50
commute:
  curve: exponential
  speeds_mph:
    cycling: 12
location:
  center:
    lat: 41.5868
    lng: -93.625
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadScoring(path)
	if err != nil {
		t.Fatalf("LoadScoring: %v", err)
	}
	if cfg.Weights.Commute != 50 {
		t.Errorf("commute weight: got %g, want 50", cfg.Weights.Commute)
	}
	if cfg.Weights.Price != 30 {
		t.Errorf("price weight should keep default 30, got %g", cfg.Weights.Price)
	}
	if cfg.Commute.Curve != CurveExponential {
		t.Errorf("curve: got %q", cfg.Commute.Curve)
	}
	if cfg.Commute.SpeedsMph["cycling"] != 12 {
		t.Errorf("cycling speed missing: %v", cfg.Commute.SpeedsMph)
	}
	if cfg.Commute.SpeedsMph["driving"] != 30 {
		t.Errorf("driving speed should keep default: %v", cfg.Commute.SpeedsMph)
	}
	if cfg.Location.Center == nil || cfg.Location.Center.Lat != 41.5868 {
		t.Errorf("location centre not loaded: %+v", cfg.Location.Center)
	}
	if cfg.Location.Curve != CurveLinear {
		t.Errorf("location curve should keep default linear, got %q", cfg.Location.Curve)
	}
}

func TestValidateRejectsUnknownLocationCurve(t *testing.T) {
	cfg := DefaultScoring()
	cfg.Location.Curve = "logistic"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "location.curve") {
		t.Errorf("Validate() = %v; want location.curve error", err)
	}
}

func TestLoadScoringRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scoring.yaml")
	yaml := `
weights:
  price: -1
commute:
  max_minutes: 5
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadScoring(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "weights.price") || !strings.Contains(err.Error(), "max_minutes") {
		t.Errorf("error should name both problems: %v", err)
	}
	if cfg.Weights.Price != 30 {
		t.Errorf("defaults should be returned on error, got price weight %g", cfg.Weights.Price)
	}
}

func TestLoadScoringMissingFile(t *testing.T) {
	if _, err := LoadScoring(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
