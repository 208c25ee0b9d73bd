package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"finance-sync-be/reconcile"
	"finance-sync-be/tracing"
)

// Database drivers understood by database.Connect.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is everything the service reads from the environment.
type Config struct {
	Port string

	DBDriver    string
	DatabaseURL string
	AutoMigrate bool
	DBLogLevel  string

	LogLevel  string
	LogFormat string

	CORSOrigins string

	BatchMaxSize int
	BalanceMode  reconcile.BalanceMode

	RateLimitMax    int
	RateLimitWindow time.Duration

	NATSURL     string
	NATSSubject string

	GeminiAPIKey string
	GeminiModel  string

	TraceExporter string
}

// Load reads the environment through os.LookupEnv.
func Load() (Config, error) {
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary lookup function.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}

	var errs []error
	intVar := func(key string, def int) int {
		raw := get(key, "")
		if raw == "" {
			return def
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive integer, got %q", key, raw))
			return def
		}
		return n
	}

	cfg := Config{
		Port:         get("PORT", "3000"),
		DBDriver:     strings.ToLower(get("DB_DRIVER", DriverPostgres)),
		DatabaseURL:  get("DATABASE_URL", ""),
		DBLogLevel:   get("DB_LOG_LEVEL", "warn"),
		LogLevel:     get("LOG_LEVEL", "info"),
		LogFormat:    get("LOG_FORMAT", "console"),
		CORSOrigins:  get("CORS_ORIGINS", "*"),
		BatchMaxSize: intVar("BATCH_MAX_SIZE", reconcile.DefaultMaxBatchSize),
		RateLimitMax: intVar("RATE_LIMIT_MAX", 60),
		NATSURL:      get("NATS_URL", ""),
		NATSSubject:  get("NATS_SUBJECT", "transactions.synced"),
		GeminiAPIKey: get("GEMINI_API_KEY", ""),
		GeminiModel:  get("GEMINI_MODEL", "gemini-1.5-flash"),
	}
	cfg.TraceExporter = strings.ToLower(get("TRACE_EXPORTER", tracing.ExporterNone))

	autoMigrate, err := strconv.ParseBool(get("AUTO_MIGRATE", "true"))
	if err != nil {
		errs = append(errs, fmt.Errorf("AUTO_MIGRATE: %w", err))
	}
	cfg.AutoMigrate = autoMigrate

	window, err := time.ParseDuration(get("RATE_LIMIT_WINDOW", "1m"))
	if err != nil || window <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_WINDOW must be a positive duration, got %q", get("RATE_LIMIT_WINDOW", "")))
	}
	cfg.RateLimitWindow = window

	mode, err := reconcile.ParseBalanceMode(get("BALANCE_MODE", "additive"))
	if err != nil {
		errs = append(errs, fmt.Errorf("BALANCE_MODE: %w", err))
	}
	cfg.BalanceMode = mode

	switch cfg.DBDriver {
	case DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, cfg.DBDriver))
	}
	if !tracing.ValidExporter(cfg.TraceExporter) {
		errs = append(errs, fmt.Errorf("TRACE_EXPORTER must be %q or %q, got %q", tracing.ExporterNone, tracing.ExporterStdout, cfg.TraceExporter))
	}
	if cfg.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL environment variable not set"))
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
