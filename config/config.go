package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned for configuration values that cannot be used.
var ErrInvalid = errors.New("invalid configuration")

// Config holds every setting of the service and the CLI.
type Config struct {
	Database    DatabaseConfig `yaml:"database"`
	SourcesFile string         `yaml:"sources_file"`
	Dedup       DedupConfig    `yaml:"dedup"`
	Fetch       FetchConfig    `yaml:"fetch"`
	Bloom       BloomConfig    `yaml:"bloom"`
	Kafka       KafkaConfig    `yaml:"kafka"`
	S3          S3Config       `yaml:"s3"`
	Port        string         `yaml:"port"`
	LogLevel    string         `yaml:"log_level"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`
}

// DedupConfig tunes the duplicate cache and thresholds.
type DedupConfig struct {
	WindowHours    int     `yaml:"window_hours"`
	MaxEntries     int     `yaml:"max_entries"`
	StaleSeconds   int     `yaml:"stale_seconds"`
	Threshold      float64 `yaml:"threshold"`
	BatchThreshold float64 `yaml:"batch_threshold"`
}

// Window returns the cache window.
func (d DedupConfig) Window() time.Duration { return time.Duration(d.WindowHours) * time.Hour }

// StaleAfter returns how long a cache snapshot is used before a refresh.
func (d DedupConfig) StaleAfter() time.Duration { return time.Duration(d.StaleSeconds) * time.Second }

// FetchConfig tunes fetch runs.
type FetchConfig struct {
	Workers        int     `yaml:"workers"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RatePerSecond  float64 `yaml:"rate_per_second"`
	EnrichContent  bool    `yaml:"enrich_content"`
	EnrichWorkers  int     `yaml:"enrich_workers"`
}

// Timeout returns the per-request HTTP timeout.
func (f FetchConfig) Timeout() time.Duration { return time.Duration(f.TimeoutSeconds) * time.Second }

// BloomConfig configures the optional RedisBloom fingerprint filter.
type BloomConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Addr       string  `yaml:"addr"`
	Password   string  `yaml:"password"`
	Key        string  `yaml:"key"`
	TTLSeconds int     `yaml:"ttl_seconds"`
	Capacity   int     `yaml:"capacity"`
	ErrorRate  float64 `yaml:"error_rate"`
	NonScaling bool    `yaml:"nonscaling"`
}

// TTL returns how long a fingerprint stays matchable, capped at the dedup window.
func (b BloomConfig) TTL() time.Duration { return time.Duration(b.TTLSeconds) * time.Second }

// KafkaConfig configures publishing and stream intake. Kafka is disabled
// when Brokers is empty.
type KafkaConfig struct {
	Brokers    []string `yaml:"brokers"`
	Topic      string   `yaml:"topic"`
	InputTopic string   `yaml:"input_topic"`
	GroupID    string   `yaml:"group_id"`
}

// Enabled reports whether brokers are configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// S3Config configures the batch archive. S3 is disabled when Bucket is empty.
type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Profile      string `yaml:"profile"`
	Prefix       string `yaml:"prefix"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// Enabled reports whether a bucket is configured.
func (s S3Config) Enabled() bool { return s.Bucket != "" }

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database:    DatabaseConfig{Driver: DefaultDatabaseDriver, URL: DefaultDatabaseURL},
		SourcesFile: DefaultSourcesFile,
		Dedup: DedupConfig{
			WindowHours:    DefaultWindowHours,
			MaxEntries:     DefaultMaxEntries,
			StaleSeconds:   DefaultStaleSeconds,
			Threshold:      DefaultThreshold,
			BatchThreshold: DefaultBatchThreshold,
		},
		Fetch: FetchConfig{
			Workers:        DefaultFetchWorkers,
			TimeoutSeconds: DefaultFetchTimeoutSeconds,
			RatePerSecond:  DefaultFetchRatePerSecond,
			EnrichWorkers:  DefaultEnrichWorkers,
		},
		Bloom: BloomConfig{
			Addr:       "localhost:6379",
			Key:        DefaultBloomKey,
			TTLSeconds: DefaultBloomTTLSeconds,
			Capacity:   DefaultBloomCapacity,
			ErrorRate:  DefaultBloomErrorRate,
		},
		Kafka: KafkaConfig{
			Topic:      DefaultKafkaTopic,
			InputTopic: DefaultKafkaInputTopic,
			GroupID:    DefaultKafkaGroupID,
		},
		Port:     DefaultPort,
		LogLevel: DefaultLogLevel,
	}
}

// Load builds the configuration from defaults, the YAML file at path (or
// DefaultConfigFile when path is empty and the file exists), a .env file and
// the environment, in that order.
func Load(path string) (Config, error) {
	// Load environment variables from .env if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: parse %s: %v", ErrInvalid, path, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnvOverrides() error {
	var errs []error
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, v))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s=%q is not a number", ErrInvalid, key, v))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalid, key, v))
				return
			}
			*dst = b
		}
	}

	str("DATABASE_DRIVER", &c.Database.Driver)
	str("DATABASE_URL", &c.Database.URL)
	str("SOURCES_FILE", &c.SourcesFile)

	integer("DEDUP_WINDOW_HOURS", &c.Dedup.WindowHours)
	integer("DEDUP_MAX_ENTRIES", &c.Dedup.MaxEntries)
	integer("DEDUP_STALE_SECONDS", &c.Dedup.StaleSeconds)
	float("DEDUP_THRESHOLD", &c.Dedup.Threshold)
	float("BATCH_THRESHOLD", &c.Dedup.BatchThreshold)

	integer("FETCH_WORKERS", &c.Fetch.Workers)
	integer("FETCH_TIMEOUT_SECONDS", &c.Fetch.TimeoutSeconds)
	float("FETCH_RATE_PER_SECOND", &c.Fetch.RatePerSecond)
	boolean("FETCH_ENRICH_CONTENT", &c.Fetch.EnrichContent)

	str("REDIS_ADDR", &c.Bloom.Addr)
	str("REDIS_PASS", &c.Bloom.Password)
	boolean("BLOOM_ENABLED", &c.Bloom.Enabled)
	str("BLOOM_KEY", &c.Bloom.Key)
	integer("BLOOM_TTL_SECONDS", &c.Bloom.TTLSeconds)
	integer("BLOOM_CAPACITY", &c.Bloom.Capacity)
	float("BLOOM_ERROR_RATE", &c.Bloom.ErrorRate)
	boolean("BLOOM_NONSCALING", &c.Bloom.NonScaling)

	if v := strings.TrimSpace(os.Getenv("KAFKA_BOOTSTRAP_SERVERS")); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	str("KAFKA_TOPIC", &c.Kafka.Topic)
	str("KAFKA_INPUT_TOPIC", &c.Kafka.InputTopic)
	str("KAFKA_GROUP_ID", &c.Kafka.GroupID)

	str("S3_BUCKET", &c.S3.Bucket)
	str("S3_REGION", &c.S3.Region)
	str("S3_PROFILE", &c.S3.Profile)
	str("S3_PREFIX", &c.S3.Prefix)
	boolean("S3_USE_PATH_STYLE", &c.S3.UsePathStyle)

	str("PORT", &c.Port)
	str("LOG_LEVEL", &c.LogLevel)

	return errors.Join(errs...)
}

// Validate checks that every value is usable.
func (c Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "sqlite3", "postgres", "postgresql":
	default:
		fail("unknown database driver %q", c.Database.Driver)
	}
	if c.Database.URL == "" {
		fail("database url is empty")
	}
	if c.Dedup.WindowHours <= 0 {
		fail("dedup window must be positive")
	}
	if c.Dedup.MaxEntries <= 0 {
		fail("dedup max entries must be positive")
	}
	if c.Dedup.StaleSeconds <= 0 {
		fail("dedup stale seconds must be positive")
	}
	if c.Dedup.Threshold <= 0 || c.Dedup.Threshold > 1 {
		fail("dedup threshold %v outside (0, 1]", c.Dedup.Threshold)
	}
	if c.Dedup.BatchThreshold <= 0 || c.Dedup.BatchThreshold > 1 {
		fail("batch threshold %v outside (0, 1]", c.Dedup.BatchThreshold)
	}
	if c.Fetch.Workers <= 0 {
		fail("fetch workers must be positive")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		fail("fetch timeout must be positive")
	}
	if c.Fetch.RatePerSecond <= 0 {
		fail("fetch rate must be positive")
	}
	if c.Bloom.Enabled {
		if c.Bloom.Addr == "" || c.Bloom.Key == "" {
			fail("bloom filter needs REDIS_ADDR and BLOOM_KEY")
		}
		if c.Bloom.ErrorRate <= 0 || c.Bloom.ErrorRate >= 1 {
			fail("bloom error rate %v outside (0, 1)", c.Bloom.ErrorRate)
		}
	}
	if c.Kafka.Enabled() && (c.Kafka.Topic == "" || c.Kafka.InputTopic == "" || c.Kafka.GroupID == "") {
		fail("kafka needs a topic, an input topic and a group id")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		fail("port %q is not a number", c.Port)
	}

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
