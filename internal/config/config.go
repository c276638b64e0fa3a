// Package config loads the daemon configuration from the environment.
// Variables are prefixed ARGUS_; a .env file in the data directory (or the
// working directory) is loaded first, with real environment taking
// precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config is the full daemon configuration.
type Config struct {
	DataDir  string
	TenantID string

	LogLevel  string
	LogFormat string

	// Search backend. Empty SearchURL selects the in-memory service.
	SearchURL      string
	SearchUsername string
	SearchPassword string
	IndexPrefix    string

	// Detection engine.
	RuleWorkers     int
	RuleTimeout     time.Duration
	DedupWindow     time.Duration
	MaxAlertsPerRun int

	// Parsing jobs.
	JobWorkers   int
	ChunkSize    int
	EvidenceDir  string
	PromoteAfter int

	// Enrichment.
	RedisURL          string
	EnrichConcurrency int
	EnrichCacheTTL    time.Duration

	// Adapters.
	EDRURL     string
	EDRAPIKey  string
	SOARURL    string
	SOARAPIKey string

	// Notifications.
	WebhookURL         string
	WebhookMinSeverity int

	// Metrics endpoint.
	MetricsAddr string
}

// Load reads the configuration from the environment. A missing .env file is
// not an error.
func Load() (*Config, error) {
	dataDir := getenv("ARGUS_DATA_DIR", defaultDataDir())

	// .env in the data dir wins over one in the working directory; real
	// environment variables win over both.
	envFile := filepath.Join(dataDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("file", envFile).Msg("failed to load env file")
		}
	} else if err := godotenv.Load(); err == nil {
		log.Debug().Msg("loaded .env from working directory")
	}

	cfg := &Config{
		DataDir:  getenv("ARGUS_DATA_DIR", dataDir),
		TenantID: getenv("ARGUS_TENANT_ID", "default"),

		LogLevel:  getenv("ARGUS_LOG_LEVEL", "info"),
		LogFormat: getenv("ARGUS_LOG_FORMAT", "auto"),

		SearchURL:      os.Getenv("ARGUS_SEARCH_URL"),
		SearchUsername: os.Getenv("ARGUS_SEARCH_USERNAME"),
		SearchPassword: os.Getenv("ARGUS_SEARCH_PASSWORD"),
		IndexPrefix:    getenv("ARGUS_INDEX_PREFIX", "argus-events-"),

		RuleWorkers:     getenvInt("ARGUS_RULE_WORKERS", runtime.NumCPU()*2),
		RuleTimeout:     getenvDuration("ARGUS_RULE_TIMEOUT", 60*time.Second),
		DedupWindow:     getenvDuration("ARGUS_DEDUP_WINDOW", time.Hour),
		MaxAlertsPerRun: getenvInt("ARGUS_MAX_ALERTS_PER_RUN", 1000),

		JobWorkers:   getenvInt("ARGUS_JOB_WORKERS", 4),
		ChunkSize:    getenvInt("ARGUS_CHUNK_SIZE", 1000),
		EvidenceDir:  getenv("ARGUS_EVIDENCE_DIR", filepath.Join(dataDir, "evidence")),
		PromoteAfter: getenvInt("ARGUS_PROMOTE_AFTER", 100),

		RedisURL:          os.Getenv("ARGUS_REDIS_URL"),
		EnrichConcurrency: getenvInt("ARGUS_ENRICH_CONCURRENCY", 10),
		EnrichCacheTTL:    getenvDuration("ARGUS_ENRICH_CACHE_TTL", time.Hour),

		EDRURL:     os.Getenv("ARGUS_EDR_URL"),
		EDRAPIKey:  os.Getenv("ARGUS_EDR_API_KEY"),
		SOARURL:    os.Getenv("ARGUS_SOAR_URL"),
		SOARAPIKey: os.Getenv("ARGUS_SOAR_API_KEY"),

		WebhookURL:         os.Getenv("ARGUS_WEBHOOK_URL"),
		WebhookMinSeverity: getenvInt("ARGUS_WEBHOOK_MIN_SEVERITY", 0),

		MetricsAddr: getenv("ARGUS_METRICS_ADDR", ":9633"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data directory must not be empty")
	}
	if c.RuleWorkers <= 0 {
		return fmt.Errorf("ARGUS_RULE_WORKERS must be positive, got %d", c.RuleWorkers)
	}
	if c.JobWorkers <= 0 {
		return fmt.Errorf("ARGUS_JOB_WORKERS must be positive, got %d", c.JobWorkers)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("ARGUS_CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.EnrichConcurrency <= 0 {
		return fmt.Errorf("ARGUS_ENRICH_CONCURRENCY must be positive, got %d", c.EnrichConcurrency)
	}
	if !strings.HasSuffix(c.IndexPrefix, "-") {
		return fmt.Errorf("ARGUS_INDEX_PREFIX must end with '-', got %q", c.IndexPrefix)
	}
	return nil
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".argus")
	}
	return "/var/lib/argus"
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("ignoring non-numeric env value")
		return fallback
	}
	return n
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("ignoring unparseable duration env value")
		return fallback
	}
	return d
}
