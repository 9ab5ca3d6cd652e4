package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the dredigo server.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Store   StoreConfig   `mapstructure:"store"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig contains network level settings for the RESP listener.
type ServerConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	ReadBufSize int           `mapstructure:"read_buffer_size"`
}

// PubSubConfig controls the pub/sub hub's sharding and fan-out worker pool.
type PubSubConfig struct {
	ShardCount         int `mapstructure:"shard_count"`
	SendChannelSize    int `mapstructure:"send_channel_size"`
	BroadcastQueueSize int `mapstructure:"broadcast_queue_size"`
	BroadcastWorkers   int `mapstructure:"broadcast_workers"`
}

// StoreConfig controls the keyspace and TTL expiry engine.
type StoreConfig struct {
	DBCount        int           `mapstructure:"db_count"`
	ExpireInterval time.Duration `mapstructure:"expire_interval"`
}

// MetricsConfig controls Prometheus/diagnostics endpoints.
type MetricsConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	ListenAddr    string        `mapstructure:"listen_addr"`
	Endpoint      string        `mapstructure:"endpoint"`
	ServiceName   string        `mapstructure:"service_name"`
	ProcessSample time.Duration `mapstructure:"process_sample_interval"`
}

// LoggingConfig controls the zap logger's level and development mode.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 9000)
	v.SetDefault("server.read_timeout", 0)
	v.SetDefault("server.idle_timeout", 0)
	v.SetDefault("server.read_buffer_size", 16<<10)

	v.SetDefault("pubsub.shard_count", 64)
	v.SetDefault("pubsub.send_channel_size", 256)
	v.SetDefault("pubsub.broadcast_queue_size", 1024)
	v.SetDefault("pubsub.broadcast_workers", 0)

	v.SetDefault("store.db_count", 16)
	v.SetDefault("store.expire_interval", 5*time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9095")
	v.SetDefault("metrics.endpoint", "/metrics")
	v.SetDefault("metrics.service_name", "dredigo")
	v.SetDefault("metrics.process_sample_interval", 15*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetConfigName("dredigo")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("DREDIGO")
	v.AutomaticEnv()

	// Config file is optional; the server runs entirely off defaults/env.
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	if cfg.PubSub.ShardCount <= 0 {
		cfg.PubSub.ShardCount = 64
	}
	if cfg.PubSub.SendChannelSize <= 0 {
		cfg.PubSub.SendChannelSize = 256
	}
	if cfg.Store.DBCount <= 0 {
		cfg.Store.DBCount = 16
	}
	if cfg.Store.ExpireInterval <= 0 {
		cfg.Store.ExpireInterval = 5 * time.Second
	}

	return cfg, nil
}
