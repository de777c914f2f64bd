package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures everything needed to run the crawler and the API server.
type Config struct {
	Fetch   FetchConfig   `yaml:"fetch"`
	Browser BrowserConfig `yaml:"browser"`
	Robots  RobotsConfig  `yaml:"robots"`
	DB      SQLConfig     `yaml:"db"`
	Vector  VectorConfig  `yaml:"vector"`
	Mapping MappingConfig `yaml:"mapping"`
	API     APIConfig     `yaml:"api"`
	Logging LoggingConfig `yaml:"logging"`
}

// FetchConfig controls the HTTP side of the dual-mode fetcher.
type FetchConfig struct {
	UserAgent      string            `yaml:"user_agent"`
	Headers        map[string]string `yaml:"headers"`
	Timeout        Duration          `yaml:"timeout"`
	MaxAttempts    int               `yaml:"max_attempts"`
	MaxBodyBytes   int64             `yaml:"max_body_bytes"`
	ProxyURL       string            `yaml:"proxy_url"`
	PerDomainDelay Duration          `yaml:"per_domain_delay"`
	RateLimit      RateLimitConfig   `yaml:"rate_limit"`
}

// RateLimitConfig applies a token bucket per domain.
type RateLimitConfig struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// BrowserConfig controls the headless rendering session.
type BrowserConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Wait            Duration `yaml:"wait"`
	Settle          Duration `yaml:"settle"`
	DisableHeadless bool     `yaml:"disable_headless"`
}

// RobotsConfig configures robots.txt handling. The crawler behaves like a
// browser-driven assistant by default, so respect is opt-in.
type RobotsConfig struct {
	Respect   bool     `yaml:"respect"`
	UserAgent string   `yaml:"user_agent"`
	CacheTTL  Duration `yaml:"cache_ttl"`
	Overrides []string `yaml:"overrides"`
}

// SQLConfig describes the optional Postgres page archive.
type SQLConfig struct {
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool     `yaml:"auto_migrate"`
	CreateIfMissing bool     `yaml:"create_if_missing"`
}

// VectorConfig points at the Qdrant instance and the embedding service the
// indexer and retrieval cascade talk to.
type VectorConfig struct {
	Endpoint     string   `yaml:"endpoint"`
	APIKey       string   `yaml:"api_key"`
	EmbeddingURL string   `yaml:"embedding_url"`
	Timeout      Duration `yaml:"timeout"`
	IndexWorkers int      `yaml:"index_workers"`
}

// MappingConfig selects the key-value store that remembers which vector
// collection holds a given website's corpus.
type MappingConfig struct {
	Backend string      `yaml:"backend"` // "memory" or "redis"
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis-backed mapping store.
type RedisConfig struct {
	Host     string   `yaml:"host"`
	Port     string   `yaml:"port"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	Key      string   `yaml:"key"`
	Timeout  Duration `yaml:"timeout"`
}

// APIConfig controls the HTTP server.
type APIConfig struct {
	Addr        string `yaml:"addr"`
	MaxSessions int    `yaml:"max_sessions"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Fetch: FetchConfig{
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
			Headers:        map[string]string{},
			Timeout:        DurationFrom(30 * time.Second),
			MaxAttempts:    3,
			MaxBodyBytes:   6 * 1024 * 1024,
			PerDomainDelay: DurationFrom(0),
		},
		Browser: BrowserConfig{
			Enabled: true,
			Wait:    DurationFrom(10 * time.Second),
			Settle:  DurationFrom(3 * time.Second),
		},
		Robots: RobotsConfig{
			Respect:   false,
			UserAgent: "zentra-crawler/1.0",
			CacheTTL:  DurationFrom(6 * time.Hour),
		},
		DB: SQLConfig{
			AutoMigrate: true,
		},
		Vector: VectorConfig{
			Timeout:      DurationFrom(15 * time.Second),
			IndexWorkers: 4,
		},
		Mapping: MappingConfig{
			Backend: "memory",
			Redis: RedisConfig{
				Port:    "6379",
				Key:     "zentra:collections",
				Timeout: DurationFrom(5 * time.Second),
			},
		},
		API: APIConfig{
			Addr:        ":8080",
			MaxSessions: 5,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: true,
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalise() {
	c.Mapping.Backend = strings.ToLower(strings.TrimSpace(c.Mapping.Backend))
	if c.Mapping.Backend == "" {
		c.Mapping.Backend = "memory"
	}
	c.Vector.Endpoint = strings.TrimRight(strings.TrimSpace(c.Vector.Endpoint), "/")
	c.Vector.EmbeddingURL = strings.TrimRight(strings.TrimSpace(c.Vector.EmbeddingURL), "/")
}

// Validate enforces required invariants for the configuration.
func (c Config) Validate() error {
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be > 0 (got %d)", c.Fetch.MaxAttempts)
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetch.max_body_bytes must be > 0 (got %d)", c.Fetch.MaxBodyBytes)
	}
	if strings.TrimSpace(c.Fetch.UserAgent) == "" {
		return errors.New("fetch.user_agent must be set")
	}
	if c.Fetch.RateLimit.Requests < 0 {
		return fmt.Errorf("fetch.rate_limit.requests must be >= 0 (got %d)", c.Fetch.RateLimit.Requests)
	}
	switch c.Mapping.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported mapping backend %q", c.Mapping.Backend)
	}
	if c.API.MaxSessions <= 0 {
		return fmt.Errorf("api.max_sessions must be > 0 (got %d)", c.API.MaxSessions)
	}
	return nil
}
