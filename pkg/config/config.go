// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Storage, Postgres, Kafka, Redis, Indexer, Search, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Indexer  IndexerConfig  `yaml:"indexer"`
	Search   SearchConfig   `yaml:"search"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// Storage backends understood by StorageConfig.Backend.
const (
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
)

// StorageConfig selects the key-value adapter the index is built on.
type StorageConfig struct {
	Backend     string        `yaml:"backend"`
	BoltPath    string        `yaml:"boltPath"`
	BoltTimeout time.Duration `yaml:"boltTimeout"`
	// PostgresTable names the key-value table used by the postgres backend.
	PostgresTable string `yaml:"postgresTable"`
	// PostgresPageSize bounds the rows fetched per range-scan round trip.
	PostgresPageSize int `yaml:"postgresPageSize"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	Mutations       string `yaml:"mutations"`
	CacheInvalidate string `yaml:"cacheInvalidate"`
	// DeadLetter receives mutation events the indexer could not apply.
	DeadLetter string `yaml:"deadLetter"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// FieldConfig describes how one document field is indexed.
type FieldConfig struct {
	// Type is one of text, keyword, numeric, datetime.
	Type     string `yaml:"type"`
	Analyzer string `yaml:"analyzer"`
	Store    *bool  `yaml:"store"`
	// Locations controls whether positions and offsets are kept. Without
	// them phrase queries and highlighting do not apply to the field.
	Locations *bool `yaml:"locations"`
}

// IndexerConfig controls document analysis and index writes.
type IndexerConfig struct {
	AnalysisWorkers int                    `yaml:"analysisWorkers"`
	DefaultAnalyzer string                 `yaml:"defaultAnalyzer"`
	PositionGap     int                    `yaml:"positionGap"`
	Fields          map[string]FieldConfig `yaml:"fields"`
	CommitRetries   int                    `yaml:"commitRetries"`
	// Async makes the document endpoints publish to the mutation topic
	// instead of committing, leaving the write to the indexer service.
	Async bool `yaml:"async"`
	// MaxBulkOps bounds the operations accepted by one bulk request.
	MaxBulkOps int `yaml:"maxBulkOps"`
}

// SearchConfig controls query execution limits and timeouts.
type SearchConfig struct {
	DefaultSize          int           `yaml:"defaultSize"`
	MaxSize              int           `yaml:"maxSize"`
	Parallelism          int           `yaml:"parallelism"`
	Timeout              time.Duration `yaml:"timeout"`
	MaxConcurrentQueries int           `yaml:"maxConcurrentQueries"`
	DocCacheSize         int           `yaml:"docCacheSize"`
	FragmentSize         int           `yaml:"fragmentSize"`
	MaxFragments         int           `yaml:"maxFragments"`
	// DefaultField is searched by query-string terms without a field prefix.
	DefaultField string `yaml:"defaultField"`
	// MaxExpansion caps the terms a fuzzy, prefix or range leaf may expand to.
	MaxExpansion int `yaml:"maxExpansion"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls span logging for search requests.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate float64 `yaml:"sampleRate"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with defaults suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			Backend:          BackendBolt,
			BoltPath:         "data/index.db",
			BoltTimeout:      5 * time.Second,
			PostgresTable:    "textsearch_kv",
			PostgresPageSize: 512,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "textsearch",
			User:            "textsearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "textsearch-indexer",
			Topics: KafkaTopics{
				Mutations:       "index-mutations",
				CacheInvalidate: "cache-invalidate",
				DeadLetter:      "index-mutations-dlq",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Indexer: IndexerConfig{
			AnalysisWorkers: 4,
			DefaultAnalyzer: "standard",
			PositionGap:     100,
			CommitRetries:   3,
			MaxBulkOps:      10000,
		},
		Search: SearchConfig{
			DefaultSize:          10,
			MaxSize:              1000,
			Parallelism:          8,
			Timeout:              10 * time.Second,
			MaxConcurrentQueries: 64,
			DocCacheSize:         4096,
			FragmentSize:         200,
			MaxFragments:         3,
			DefaultField:         "body",
			MaxExpansion:         1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendBolt, BackendPostgres:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == BackendBolt && c.Storage.BoltPath == "" {
		return fmt.Errorf("storage.boltPath is required for the bolt backend")
	}
	if c.Search.DefaultSize <= 0 || c.Search.MaxSize < c.Search.DefaultSize {
		return fmt.Errorf("search.defaultSize must be positive and not exceed search.maxSize")
	}
	if c.Search.DefaultField == "" {
		return fmt.Errorf("search.defaultField is required")
	}
	if c.Search.MaxExpansion <= 0 {
		return fmt.Errorf("search.maxExpansion must be positive")
	}
	if c.Search.Parallelism <= 0 {
		return fmt.Errorf("search.parallelism must be positive")
	}
	if c.Indexer.AnalysisWorkers <= 0 {
		return fmt.Errorf("indexer.analysisWorkers must be positive")
	}
	for name, f := range c.Indexer.Fields {
		switch f.Type {
		case "", "text", "keyword", "numeric", "datetime":
		default:
			return fmt.Errorf("field %q: unknown type %q", name, f.Type)
		}
	}
	return nil
}

// applyEnvOverrides reads SP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SP_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("SP_STORAGE_BOLT_PATH"); v != "" {
		cfg.Storage.BoltPath = v
	}
	if v := os.Getenv("SP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SP_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("SP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SP_REDIS_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Redis.Enabled = enabled
		}
	}
	if v := os.Getenv("SP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SP_SEARCH_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.Parallelism = n
		}
	}
	if v := os.Getenv("SP_SEARCH_DEFAULT_FIELD"); v != "" {
		cfg.Search.DefaultField = v
	}
	if v := os.Getenv("SP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
