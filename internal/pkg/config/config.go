package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	ArcGIS    ArcGISConfig    `mapstructure:"arcgis"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
	// RoundTimeout bounds a whole query round served over HTTP, in seconds.
	RoundTimeout int `mapstructure:"round_timeout"`
}

type UpstreamConfig struct {
	// Timeout bounds a single service query, in seconds.
	Timeout   int    `mapstructure:"timeout"`
	UserAgent string `mapstructure:"user_agent"`
}

// RoundBudget is the longest a round over n services can take when every
// service times out.
func (u UpstreamConfig) RoundBudget(n int) time.Duration {
	return time.Duration(n) * u.QueryTimeout()
}

// QueryTimeout returns Timeout as a duration.
func (u UpstreamConfig) QueryTimeout() time.Duration {
	return time.Duration(u.Timeout) * time.Second
}

type ArcGISConfig struct {
	TokenURL        string `mapstructure:"token_url"`
	Referer         string `mapstructure:"referer"`
	TokenExpiration int    `mapstructure:"token_expiration"`
	TokenCache      bool   `mapstructure:"token_cache"`
}

type RegistryConfig struct {
	Path string `mapstructure:"path"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
	// PublishTimeout bounds a report publish, in seconds.
	PublishTimeout int `mapstructure:"publish_timeout"`
}

type ValkeyConfig struct {
	Addr    string `mapstructure:"addr"`
	Enabled bool   `mapstructure:"enabled"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	OTLPAddr    string `mapstructure:"otlp_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	TaskQueue string `mapstructure:"task_queue"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 310)
	v.SetDefault("server.round_timeout", 300)
	v.SetDefault("upstream.timeout", 20)
	v.SetDefault("upstream.user_agent", "geoincidence/1.0")
	v.SetDefault("arcgis.token_url", "https://www.geoservicos.ide.df.gov.br/arcgis/tokens/generateToken")
	v.SetDefault("arcgis.referer", "http://localhost:8080")
	v.SetDefault("arcgis.token_expiration", 60)
	v.SetDefault("arcgis.token_cache", true)
	v.SetDefault("registry.path", "")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.publish_timeout", 5)
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("valkey.enabled", false)
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.otlp_addr", "localhost:4317")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.task_queue", "incidence-batch")
	v.SetDefault("log.level", envOr("LOG_LEVEL", "info"))
	v.SetDefault("log.format", envOr("LOG_FORMAT", "json"))

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: GEOINCIDENCE_UPSTREAM_TIMEOUT → upstream.timeout
	v.SetEnvPrefix("GEOINCIDENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if c.Server.RoundTimeout < c.Upstream.Timeout {
		errs = append(errs, fmt.Sprintf("server.round_timeout (%d) must be at least upstream.timeout (%d)", c.Server.RoundTimeout, c.Upstream.Timeout))
	}
	if c.Upstream.Timeout < 1 || c.Upstream.Timeout > 120 {
		errs = append(errs, fmt.Sprintf("upstream.timeout must be 1-120 seconds, got %d", c.Upstream.Timeout))
	}
	if c.ArcGIS.TokenURL == "" {
		errs = append(errs, "arcgis.token_url is required")
	}
	if c.ArcGIS.TokenExpiration <= 0 {
		errs = append(errs, "arcgis.token_expiration must be positive")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, "nats.url is required when nats is enabled")
	}
	if c.NATS.Enabled && c.NATS.PublishTimeout <= 0 {
		errs = append(errs, "nats.publish_timeout must be positive when nats is enabled")
	}
	if c.Valkey.Enabled && c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required when valkey is enabled")
	}
	if c.Telemetry.Enabled && c.Telemetry.OTLPAddr == "" {
		errs = append(errs, "telemetry.otlp_addr is required when telemetry is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
