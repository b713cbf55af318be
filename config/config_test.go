package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var envKeys = []string{
	"DATABASE_DRIVER", "DATABASE_URL", "SOURCES_FILE",
	"DEDUP_WINDOW_HOURS", "DEDUP_MAX_ENTRIES", "DEDUP_STALE_SECONDS", "DEDUP_THRESHOLD", "BATCH_THRESHOLD",
	"FETCH_WORKERS", "FETCH_TIMEOUT_SECONDS", "FETCH_RATE_PER_SECOND", "FETCH_ENRICH_CONTENT",
	"REDIS_ADDR", "REDIS_PASS", "BLOOM_ENABLED", "BLOOM_KEY", "BLOOM_TTL_SECONDS", "BLOOM_CAPACITY", "BLOOM_ERROR_RATE", "BLOOM_NONSCALING",
	"KAFKA_BOOTSTRAP_SERVERS", "KAFKA_TOPIC", "KAFKA_INPUT_TOPIC", "KAFKA_GROUP_ID",
	"S3_BUCKET", "S3_REGION", "S3_PROFILE", "S3_PREFIX", "S3_USE_PATH_STYLE",
	"PORT", "LOG_LEVEL",
}

// clearEnv blanks every variable Load reads; empty values count as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.URL != "feedtriage.db" {
		t.Fatalf("database = %+v", cfg.Database)
	}
	if cfg.Dedup.Window() != 72*time.Hour || cfg.Dedup.StaleAfter() != 5*time.Minute {
		t.Fatalf("dedup = %+v", cfg.Dedup)
	}
	if cfg.Dedup.Threshold != 0.6 || cfg.Dedup.BatchThreshold != 0.5 {
		t.Fatalf("thresholds = %v, %v", cfg.Dedup.Threshold, cfg.Dedup.BatchThreshold)
	}
	if cfg.Fetch.Timeout() != 15*time.Second || cfg.Fetch.Workers != 8 {
		t.Fatalf("fetch = %+v", cfg.Fetch)
	}
	if cfg.Kafka.Enabled() || cfg.S3.Enabled() || cfg.Bloom.Enabled {
		t.Fatal("optional collaborators should be disabled by default")
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "feedtriage.yaml")
	yamlDoc := `
database:
  driver: postgres
  url: postgres://triage@localhost/triage
dedup:
  threshold: 0.7
fetch:
  workers: 3
  enrich_content: true
kafka:
  brokers: [kafka:9092]
s3:
  bucket: from-yaml
log_level: debug
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("FETCH_WORKERS", "12")
	t.Setenv("S3_BUCKET", "from-env")
	t.Setenv("S3_USE_PATH_STYLE", "true")
	t.Setenv("KAFKA_BOOTSTRAP_SERVERS", "k1:9092, k2:9092,")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Database.Driver != "postgres" || cfg.Database.URL != "postgres://triage@localhost/triage" {
		t.Fatalf("database = %+v", cfg.Database)
	}
	if cfg.Dedup.Threshold != 0.7 {
		t.Fatalf("threshold = %v; want 0.7 from yaml", cfg.Dedup.Threshold)
	}
	// Fields the file leaves out keep their defaults.
	if cfg.Dedup.BatchThreshold != DefaultBatchThreshold || cfg.Dedup.MaxEntries != DefaultMaxEntries {
		t.Fatalf("dedup = %+v", cfg.Dedup)
	}
	if cfg.Fetch.Workers != 12 || !cfg.Fetch.EnrichContent {
		t.Fatalf("fetch = %+v", cfg.Fetch)
	}
	if cfg.S3.Bucket != "from-env" || !cfg.S3.UsePathStyle {
		t.Fatalf("s3 = %+v", cfg.S3)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("brokers = %q", cfg.Kafka.Brokers)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level = %q", cfg.LogLevel)
	}
}

func TestLoadInvalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"bad integer", map[string]string{"FETCH_WORKERS": "many"}},
		{"bad float", map[string]string{"DEDUP_THRESHOLD": "high"}},
		{"bad bool", map[string]string{"BLOOM_ENABLED": "sometimes"}},
		{"threshold above one", map[string]string{"DEDUP_THRESHOLD": "1.5"}},
		{"zero workers", map[string]string{"FETCH_WORKERS": "0"}},
		{"unknown driver", map[string]string{"DATABASE_DRIVER": "oracle"}},
		{"bad port", map[string]string{"PORT": "http"}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range c.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); !errors.Is(err, ErrInvalid) {
				t.Fatalf("Load error = %v; want ErrInvalid", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for a missing config file")
	}
}

func TestValidateKafkaNeedsTopics(t *testing.T) {
	cfg := Default()
	cfg.Kafka.Brokers = []string{"k1:9092"}
	cfg.Kafka.InputTopic = ""
	if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Validate error = %v; want ErrInvalid", err)
	}
}
