package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	RouteGPXPath       string
	FeedURL            string
	FeedTimeout        time.Duration
	RefreshInterval    time.Duration
	RouteWatchInterval time.Duration
	HighlightBib       string
	HighlightNames     []string

	DatabaseURL string
	NATSURL     string
	WeatherURL  string
	MetricsAddr string
	Location    *time.Location

	LogNATSSubjects bool
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.RouteGPXPath = os.Getenv("ROUTE_GPX_PATH")
	cfg.FeedURL = getenvDefault("FEED_URL", "https://trackleaders.com/spot/raam25/mainpoints.js")

	// Feed request timeout (seconds)
	sec, err := intEnv("FEED_TIMEOUT_SEC", 20)
	if err != nil {
		return nil, err
	}
	cfg.FeedTimeout = time.Duration(sec) * time.Second

	// Refresh interval (seconds)
	sec, err = intEnv("REFRESH_INTERVAL_SEC", 300)
	if err != nil {
		return nil, err
	}
	if sec <= 0 {
		return nil, fmt.Errorf("invalid REFRESH_INTERVAL_SEC: %d", sec)
	}
	cfg.RefreshInterval = time.Duration(sec) * time.Second

	// Course file watch interval (seconds); 0 disables reload checks.
	sec, err = intEnv("ROUTE_WATCH_INTERVAL_SEC", 300)
	if err != nil {
		return nil, err
	}
	cfg.RouteWatchInterval = time.Duration(sec) * time.Second

	cfg.HighlightBib = strings.TrimSpace(os.Getenv("HIGHLIGHT_BIB"))
	if v := os.Getenv("HIGHLIGHT_NAMES"); v != "" {
		for _, n := range strings.Split(v, ",") {
			if n = strings.TrimSpace(n); n != "" {
				cfg.HighlightNames = append(cfg.HighlightNames, n)
			}
		}
	}

	// Database is optional: without it the tracker skips history persistence.
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" && os.Getenv("PGDATABASE") != "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := os.Getenv("PGDATABASE")
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if pass != "" {
			dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			dsn = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	}
	cfg.DatabaseURL = dsn

	cfg.NATSURL = getenvDefault("NATS_URL", "nats://127.0.0.1:4222")
	cfg.WeatherURL = os.Getenv("WEATHER_URL")

	// Debug logging for NATS publish subjects
	if v := os.Getenv("LOG_NATS_SUBJECTS"); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "t", "yes", "y", "on":
			cfg.LogNATSSubjects = true
		default:
			cfg.LogNATSSubjects = false
		}
	}

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	// Time zone
	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	return cfg, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
