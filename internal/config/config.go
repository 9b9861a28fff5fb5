// Package config loads the service configuration from an optional YAML file
// and ICSIGHT_-prefixed environment variables, with sane defaults for a
// local deployment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Buffer    BufferConfig    `mapstructure:"buffer"`
	Timeline  TimelineConfig  `mapstructure:"timeline"`
	Health    HealthConfig    `mapstructure:"health"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Poll      PollConfig      `mapstructure:"poll"`
	Transport TransportConfig `mapstructure:"transport"`
	NATS      NATSConfig      `mapstructure:"nats"`
}

// ServerConfig configures the dashboard-facing HTTP listener.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// UpstreamConfig locates the telemetry source.
type UpstreamConfig struct {
	WebsocketURL string `mapstructure:"websocket_url"`
	APIBaseURL   string `mapstructure:"api_base_url"`
}

// BufferConfig sizes the session event buffer.
type BufferConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// TimelineConfig shapes the timeline aggregate.
type TimelineConfig struct {
	BucketWidth time.Duration `mapstructure:"bucket_width"`
	MaxBuckets  int           `mapstructure:"max_buckets"`
	TopK        int           `mapstructure:"top_k"`
}

// HealthConfig tunes the health estimator.
type HealthConfig struct {
	WindowSize int           `mapstructure:"window_size"`
	Freshness  time.Duration `mapstructure:"freshness"`
}

// AlertingConfig tunes the alert emitter.
type AlertingConfig struct {
	PolicyPath string        `mapstructure:"policy_path"`
	TTL        time.Duration `mapstructure:"ttl"`
	HistoryCap int           `mapstructure:"history_cap"`
}

// PollConfig sets the snapshot refresh cadence.
type PollConfig struct {
	StatusInterval time.Duration `mapstructure:"status_interval"`
	StatsInterval  time.Duration `mapstructure:"stats_interval"`
	SeedLimit      int           `mapstructure:"seed_limit"`
}

// TransportConfig tunes the websocket reconnect behavior.
type TransportConfig struct {
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffCap  time.Duration `mapstructure:"backoff_cap"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// NATSConfig configures the optional broker mirror. An empty URL disables it.
type NATSConfig struct {
	URL string `mapstructure:"url"`
}

// Load reads configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ICSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8090")
	v.SetDefault("upstream.websocket_url", "ws://localhost:8000/ws/realtime")
	v.SetDefault("upstream.api_base_url", "http://localhost:8000")
	v.SetDefault("buffer.capacity", 1000)
	v.SetDefault("timeline.bucket_width", 5*time.Minute)
	v.SetDefault("timeline.max_buckets", 50)
	v.SetDefault("timeline.top_k", 10)
	v.SetDefault("health.window_size", 10)
	v.SetDefault("health.freshness", 10*time.Second)
	v.SetDefault("alerting.policy_path", "")
	v.SetDefault("alerting.ttl", 5*time.Second)
	v.SetDefault("alerting.history_cap", 20)
	v.SetDefault("poll.status_interval", 5*time.Second)
	v.SetDefault("poll.stats_interval", 10*time.Second)
	v.SetDefault("poll.seed_limit", 100)
	v.SetDefault("transport.backoff_base", time.Second)
	v.SetDefault("transport.backoff_cap", 30*time.Second)
	v.SetDefault("transport.max_attempts", 10)
	v.SetDefault("nats.url", "")
}
