// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Listing   ListingConfig   `mapstructure:"listing"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
}

// CrawlConfig governs one crawl and its two worker pools.
type CrawlConfig struct {
	RootPath           string        `mapstructure:"root_path"`
	EndpointID         string        `mapstructure:"endpoint_id"`
	CrawlID            string        `mapstructure:"crawl_id"`
	BaseURL            string        `mapstructure:"base_url"`
	SourceKind         string        `mapstructure:"source_kind"`
	Grouper            string        `mapstructure:"grouper"`
	MaxCrawlThreads    int           `mapstructure:"max_crawl_threads"`
	CommitThreads      int           `mapstructure:"commit_threads"`
	BatchLimit         int           `mapstructure:"batch_limit"`
	MaxPublishAttempts int           `mapstructure:"max_publish_attempts"`
	PublishRate        float64       `mapstructure:"publish_rate"`
	PublishBurst       int           `mapstructure:"publish_burst"`
	IdleBackoffMin     time.Duration `mapstructure:"idle_backoff_min"`
	IdleBackoffMax     time.Duration `mapstructure:"idle_backoff_max"`
	EmptySleep         time.Duration `mapstructure:"empty_sleep"`
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
}

// RetryConfig bounds listing retries. Zero limits mean unlimited.
type RetryConfig struct {
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	MaxElapsed  time.Duration `mapstructure:"max_elapsed"`
}

// ListingConfig selects and configures the ListingClient.
type ListingConfig struct {
	// Provider is "http" or "fs".
	Provider string            `mapstructure:"provider"`
	HTTP     HTTPListingConfig `mapstructure:"http"`
	FS       FSListingConfig   `mapstructure:"fs"`
}

// HTTPListingConfig configures the paginated listing API client.
type HTTPListingConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Token     string        `mapstructure:"token"`
	PageSize  int           `mapstructure:"page_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
	Burst     int           `mapstructure:"burst"`
}

// FSListingConfig configures the local filesystem listing client.
type FSListingConfig struct {
	Root       string `mapstructure:"root"`
	MaxEntries int    `mapstructure:"max_entries"`
}

// QueueConfig selects the MessageQueue backend.
type QueueConfig struct {
	// Provider is "pubsub", "kafka" or "memory".
	Provider string       `mapstructure:"provider"`
	PubSub   PubSubConfig `mapstructure:"pubsub"`
	Kafka    KafkaConfig  `mapstructure:"kafka"`
}

// PubSubConfig holds the Pub/Sub project.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// KafkaConfig holds broker and topic settings.
type KafkaConfig struct {
	Brokers           []string      `mapstructure:"brokers"`
	Partitions        int           `mapstructure:"partitions"`
	ReplicationFactor int           `mapstructure:"replication_factor"`
	BatchTimeout      time.Duration `mapstructure:"batch_timeout"`
}

// RegistryConfig selects the CrawlRegistry backend.
type RegistryConfig struct {
	// Provider is "postgres", "redis" or "memory".
	Provider string         `mapstructure:"provider"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig controls access to the relational registry.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// RedisConfig controls the Redis registry.
type RedisConfig struct {
	Addr   string        `mapstructure:"addr"`
	Prefix string        `mapstructure:"prefix"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// ArtifactsConfig selects where failure artifacts are written.
type ArtifactsConfig struct {
	// Provider is "gcs", "local", "memory" or "none".
	Provider string `mapstructure:"provider"`
	Prefix   string `mapstructure:"prefix"`
	Bucket   string `mapstructure:"bucket"`
	BaseDir  string `mapstructure:"base_dir"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// NewViper returns a Viper instance with defaults and env binding applied.
// Callers may bind flags to it before calling LoadFrom.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load builds a Config from disk and environment.
func Load(path string) (Config, error) {
	return LoadFrom(NewViper(), path)
}

// LoadFrom reads the optional config file into v and decodes the result.
func LoadFrom(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Keys without a meaningful default are registered empty so env
	// overrides reach Unmarshal.
	for _, key := range []string{
		"crawl.endpoint_id",
		"crawl.crawl_id",
		"crawl.base_url",
		"listing.http.token",
		"listing.fs.root",
		"queue.pubsub.project_id",
		"registry.postgres.dsn",
		"registry.redis.addr",
		"artifacts.bucket",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("queue.kafka.brokers", []string{})
	v.SetDefault("registry.redis.ttl", "0s")
	v.SetDefault("crawl.root_path", "/")
	v.SetDefault("crawl.source_kind", "globus")
	v.SetDefault("crawl.grouper", "extension")
	v.SetDefault("crawl.max_crawl_threads", 8)
	v.SetDefault("crawl.commit_threads", 10)
	v.SetDefault("crawl.batch_limit", 10)
	v.SetDefault("crawl.max_publish_attempts", 5)
	v.SetDefault("crawl.publish_rate", 0)
	v.SetDefault("crawl.publish_burst", 1)
	v.SetDefault("crawl.idle_backoff_min", "1s")
	v.SetDefault("crawl.idle_backoff_max", "5s")
	v.SetDefault("crawl.empty_sleep", "1s")
	v.SetDefault("crawl.heartbeat_interval", "10s")
	v.SetDefault("retry.base_delay", "500ms")
	v.SetDefault("retry.max_delay", "30s")
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.max_elapsed", "5m")
	v.SetDefault("listing.provider", "http")
	v.SetDefault("listing.http.base_url", "https://transfer.api.globusonline.org/v0.10")
	v.SetDefault("listing.http.page_size", 1000)
	v.SetDefault("listing.http.timeout", "60s")
	v.SetDefault("listing.http.burst", 1)
	v.SetDefault("listing.fs.max_entries", 0)
	v.SetDefault("queue.provider", "pubsub")
	v.SetDefault("queue.kafka.partitions", 1)
	v.SetDefault("queue.kafka.replication_factor", 1)
	v.SetDefault("queue.kafka.batch_timeout", "100ms")
	v.SetDefault("registry.provider", "postgres")
	v.SetDefault("registry.postgres.table", "crawls")
	v.SetDefault("registry.postgres.max_conns", 4)
	v.SetDefault("registry.postgres.ensure_schema", false)
	v.SetDefault("registry.redis.prefix", "crawler:crawl:")
	v.SetDefault("artifacts.provider", "local")
	v.SetDefault("artifacts.prefix", "crawls")
	v.SetDefault("artifacts.base_dir", "data/artifacts")
	v.SetDefault("logging.development", false)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", ":8080")
}

// Validate enforces required values and reasonable limits. The endpoint is
// only required for the HTTP listing provider.
func (c Config) Validate() error {
	var errs []error
	if c.Crawl.RootPath == "" {
		errs = append(errs, errors.New("crawl.root_path is required"))
	}
	if c.Crawl.MaxCrawlThreads <= 0 {
		errs = append(errs, errors.New("crawl.max_crawl_threads must be > 0"))
	}
	if c.Crawl.CommitThreads <= 0 {
		errs = append(errs, errors.New("crawl.commit_threads must be > 0"))
	}
	if c.Crawl.BatchLimit <= 0 {
		errs = append(errs, errors.New("crawl.batch_limit must be > 0"))
	}
	if c.Crawl.MaxPublishAttempts < 0 {
		errs = append(errs, errors.New("crawl.max_publish_attempts must be >= 0"))
	}
	if c.Crawl.IdleBackoffMin <= 0 || c.Crawl.IdleBackoffMax < c.Crawl.IdleBackoffMin {
		errs = append(errs, errors.New("crawl.idle_backoff_min must be > 0 and <= crawl.idle_backoff_max"))
	}
	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("retry.max_attempts must be >= 0"))
	}

	switch c.Listing.Provider {
	case "http":
		if c.Crawl.EndpointID == "" {
			errs = append(errs, errors.New("crawl.endpoint_id is required for the http listing provider"))
		}
		if c.Listing.HTTP.BaseURL == "" {
			errs = append(errs, errors.New("listing.http.base_url is required"))
		}
	case "fs":
		if c.Listing.FS.Root == "" {
			errs = append(errs, errors.New("listing.fs.root is required for the fs listing provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown listing.provider %q", c.Listing.Provider))
	}

	switch c.Queue.Provider {
	case "pubsub":
		if c.Queue.PubSub.ProjectID == "" {
			errs = append(errs, errors.New("queue.pubsub.project_id is required"))
		}
	case "kafka":
		if len(c.Queue.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("queue.kafka.brokers is required"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown queue.provider %q", c.Queue.Provider))
	}

	switch c.Registry.Provider {
	case "postgres":
		if c.Registry.Postgres.DSN == "" {
			errs = append(errs, errors.New("registry.postgres.dsn is required"))
		}
	case "redis":
		if c.Registry.Redis.Addr == "" {
			errs = append(errs, errors.New("registry.redis.addr is required"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown registry.provider %q", c.Registry.Provider))
	}

	switch c.Artifacts.Provider {
	case "gcs":
		if c.Artifacts.Bucket == "" {
			errs = append(errs, errors.New("artifacts.bucket is required for the gcs provider"))
		}
	case "local":
		if c.Artifacts.BaseDir == "" {
			errs = append(errs, errors.New("artifacts.base_dir is required for the local provider"))
		}
	case "memory", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown artifacts.provider %q", c.Artifacts.Provider))
	}

	if c.Server.Enabled && c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required when the server is enabled"))
	}
	return errors.Join(errs...)
}
