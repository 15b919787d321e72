package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Store     StoreConfig     `mapstructure:"store"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	// Manifest is the path of the module manifest holding deployment economics.
	Manifest string `mapstructure:"manifest"`
}

type ServerConfig struct {
	// Port serves health checks and Prometheus metrics.
	Port int `mapstructure:"port"`
}

type ChainConfig struct {
	Name        string        `mapstructure:"name"`
	ChainID     int64         `mapstructure:"chain_id"`
	RPCEndpoint string        `mapstructure:"rpc_endpoint"`
	BlockTime   time.Duration `mapstructure:"block_time"`
	StartBlock  uint64        `mapstructure:"start_block"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int32  `mapstructure:"max_connections"`
}

type StoreConfig struct {
	// Backend is "postgres" or "memory".
	Backend string `mapstructure:"backend"`
}

type ProcessorConfig struct {
	// BatchSize is the number of blocks fetched per log range.
	BatchSize int `mapstructure:"batch_size"`
	// Workers bounds concurrent block fetches.
	Workers int `mapstructure:"workers"`
	// AddressChunk bounds the number of pair addresses per log filter.
	AddressChunk int           `mapstructure:"address_chunk"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	// PairLookup is "store" to answer getPair from indexed pairs, or "rpc" to call the factory.
	PairLookup string `mapstructure:"pair_lookup"`
}

type FeedConfig struct {
	// Source is "rpc" for log polling or "kafka" for a pre-ordered log topic.
	Source string      `mapstructure:"source"`
	Kafka  KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
	Version string   `mapstructure:"version"`
}

type CacheConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type RealtimeConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	APIURL  string        `mapstructure:"api_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SchedulerConfig struct {
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("INDEXER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("chain.block_time", "2s")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("store.backend", "postgres")
	v.SetDefault("processor.batch_size", 500)
	v.SetDefault("processor.workers", 8)
	v.SetDefault("processor.address_chunk", 500)
	v.SetDefault("processor.retry_delay", "5s")
	v.SetDefault("processor.pair_lookup", "store")
	v.SetDefault("feed.source", "rpc")
	v.SetDefault("feed.kafka.group_id", "elk-v2-aggregator")
	v.SetDefault("feed.kafka.version", "3.6.0")
	v.SetDefault("cache.redis.ttl", "24h")
	v.SetDefault("realtime.timeout", "5s")
	v.SetDefault("scheduler.snapshot_interval", "1m")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("manifest", "manifests/elk-v2.yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks option combinations that viper cannot express.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	switch c.Processor.PairLookup {
	case "store", "rpc":
	default:
		return fmt.Errorf("unknown pair lookup %q", c.Processor.PairLookup)
	}

	switch c.Feed.Source {
	case "rpc":
		if c.Chain.RPCEndpoint == "" {
			return fmt.Errorf("chain.rpc_endpoint is required for the rpc feed")
		}
	case "kafka":
		if len(c.Feed.Kafka.Brokers) == 0 || c.Feed.Kafka.Topic == "" {
			return fmt.Errorf("feed.kafka.brokers and feed.kafka.topic are required for the kafka feed")
		}
	default:
		return fmt.Errorf("unknown feed source %q", c.Feed.Source)
	}

	if c.Processor.PairLookup == "rpc" && c.Chain.RPCEndpoint == "" {
		return fmt.Errorf("chain.rpc_endpoint is required for the rpc pair lookup")
	}
	if c.Processor.BatchSize <= 0 {
		return fmt.Errorf("processor.batch_size must be positive")
	}

	return nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}
