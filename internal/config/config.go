// internal/config/config.go
package config

import (
	"fmt"
	"io"
	"time"

	"github.com/YaganovValera/feedbridge/common/configloader"
	"github.com/YaganovValera/feedbridge/common/httpserver"
	"github.com/YaganovValera/feedbridge/common/logger"
	"github.com/YaganovValera/feedbridge/common/telemetry"
	"github.com/YaganovValera/feedbridge/internal/sink/kafkasink"
	"github.com/YaganovValera/feedbridge/internal/sink/redisstore"
	"github.com/YaganovValera/feedbridge/internal/sink/timescaledb"
	"github.com/YaganovValera/feedbridge/internal/sink/wshub"
	"github.com/YaganovValera/feedbridge/pkg/feedclient"
)

// EnvPrefix — префикс переменных окружения (FEEDBRIDGE_FEED_SECRET и т.п.).
const EnvPrefix = "FEEDBRIDGE"

// Config — все настройки сервиса.
type Config struct {
	ServiceName    string             `mapstructure:"service_name"`
	ServiceVersion string             `mapstructure:"service_version"`
	Logging        logger.Config      `mapstructure:"logging"`
	HTTP           httpserver.Config  `mapstructure:"http"`
	Telemetry      telemetry.Config   `mapstructure:"telemetry"`
	Feed           FeedConfig         `mapstructure:"feed"`
	Kafka          kafkasink.Config   `mapstructure:"kafka"`
	Redis          redisstore.Config  `mapstructure:"redis"`
	Timescale      timescaledb.Config `mapstructure:"timescale"`
	Stream         wshub.Config       `mapstructure:"stream"`
}

// FeedConfig хранит настройки клиента feed-сервера.
type FeedConfig struct {
	ServiceName string `mapstructure:"service_name"`
	// Services — статическая discovery-таблица: имя → base URL.
	Services     map[string]string `mapstructure:"services"`
	PublicURL    string            `mapstructure:"public_url"`
	BindPort     int               `mapstructure:"bind_port"` // 0 → http.port
	Hostname     string            `mapstructure:"hostname"`
	Pathname     string            `mapstructure:"pathname"`
	Secret       string            `mapstructure:"secret"`
	TimeoutMS    int               `mapstructure:"timeout_ms"`
	Compress     bool              `mapstructure:"compress"`
	TrustProxy   bool              `mapstructure:"trust_proxy"` // адрес из X-Forwarded-For
	MaxBodyBytes int64             `mapstructure:"max_body_bytes"`
	TimeLocation string            `mapstructure:"time_location"`
	// Register — регистрироваться при старте serve и сниматься при остановке.
	Register bool `mapstructure:"register"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"service_name":    "feedbridge",
		"service_version": "v0.1.0",

		"logging.level":    "info",
		"logging.dev_mode": false,

		"http.host":             "",
		"http.port":             8080,
		"http.read_timeout":     "10s",
		"http.write_timeout":    "15s",
		"http.idle_timeout":     "60s",
		"http.shutdown_timeout": "5s",
		"http.metrics_path":     "/metrics",
		"http.healthz_path":     "/healthz",
		"http.readyz_path":      "/readyz",
		"http.cors":             false,

		"telemetry.enabled":       false,
		"telemetry.endpoint":      "otel-collector:4317",
		"telemetry.insecure":      true,
		"telemetry.sampler_ratio": 1.0,

		"feed.service_name":   feedclient.DefaultServiceName,
		"feed.public_url":     "",
		"feed.bind_port":      0,
		"feed.hostname":       "",
		"feed.pathname":       feedclient.DefaultPathname,
		"feed.secret":         "",
		"feed.timeout_ms":     int(feedclient.DefaultTimeout / time.Millisecond),
		"feed.compress":       false,
		"feed.trust_proxy":    false,
		"feed.max_body_bytes": feedclient.DefaultMaxBodyBytes,
		"feed.time_location":  "UTC",
		"feed.register":       true,

		"kafka.enabled":                           false,
		"kafka.topic":                             "feed.envelopes",
		"kafka.encoding":                          "proto",
		"kafka.producer.brokers":                  "",
		"kafka.producer.required_acks":            "all",
		"kafka.producer.timeout":                  "5s",
		"kafka.producer.compression":              "none",
		"kafka.producer.backoff.max_elapsed_time": "30s",
		"kafka.producer.backoff.max_attempts":     5,

		"redis.enabled":                  false,
		"redis.url":                      "redis://localhost:6379/0",
		"redis.ttl":                      "10m",
		"redis.key_prefix":               "feed",
		"redis.backoff.max_elapsed_time": "30s",

		"timescale.enabled":                  false,
		"timescale.dsn":                      "",
		"timescale.max_conns":                4,
		"timescale.ensure_schema":            false,
		"timescale.backoff.max_elapsed_time": "30s",

		"stream.enabled":     false,
		"stream.path":        "/stream",
		"stream.buffer_size": 64,
	}
}

// Load загружает и валидирует конфиг. Если path пустой — читаются только ENV и defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := configloader.Load(configloader.Options{
		Path:      path,
		EnvPrefix: EnvPrefix,
		Defaults:  defaults(),
		Out:       &cfg,
	}); err != nil {
		return nil, err
	}
	cfg.Telemetry.ServiceName = cfg.ServiceName
	cfg.Telemetry.ServiceVersion = cfg.ServiceVersion
	return &cfg, nil
}

// Validate вызывается configloader'ом после decode.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	c.HTTP.ApplyDefaults()
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http: %w", err)
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}
	if err := c.Feed.validate(); err != nil {
		return err
	}
	for name, v := range map[string]interface{ Validate() error }{
		"kafka":     c.Kafka,
		"redis":     c.Redis,
		"timescale": c.Timescale,
		"stream":    c.Stream,
	} {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (f FeedConfig) validate() error {
	if f.TimeoutMS < 0 {
		return fmt.Errorf("feed.timeout_ms must be >= 0")
	}
	if f.BindPort < 0 || f.BindPort > 65535 {
		return fmt.Errorf("feed.bind_port must be between 0 and 65535")
	}
	if _, err := time.LoadLocation(f.TimeLocation); err != nil {
		return fmt.Errorf("feed.time_location: %w", err)
	}
	name := f.ServiceName
	if name == "" {
		name = feedclient.DefaultServiceName
	}
	if _, err := feedclient.StaticDiscovery(f.Services).ServiceURL(name); err != nil {
		return fmt.Errorf("feed.services: %w", err)
	}
	return nil
}

// ClientConfig собирает feedclient.Config; httpPort подставляется, если
// feed.bind_port не задан.
func (c *Config) ClientConfig(log *logger.Logger, doer feedclient.Doer) (feedclient.Config, error) {
	loc, err := time.LoadLocation(c.Feed.TimeLocation)
	if err != nil {
		return feedclient.Config{}, fmt.Errorf("feed.time_location: %w", err)
	}
	port := c.Feed.BindPort
	if port == 0 {
		port = c.HTTP.Port
	}
	return feedclient.Config{
		ServiceName:  c.Feed.ServiceName,
		Discovery:    feedclient.StaticDiscovery(c.Feed.Services),
		PublicURL:    c.Feed.PublicURL,
		BindPort:     port,
		Hostname:     c.Feed.Hostname,
		Pathname:     c.Feed.Pathname,
		Secret:       c.Feed.Secret,
		Timeout:      time.Duration(c.Feed.TimeoutMS) * time.Millisecond,
		Compress:     c.Feed.Compress,
		TrustProxy:   c.Feed.TrustProxy,
		MaxBodyBytes: c.Feed.MaxBodyBytes,
		HTTPClient:   doer,
		Logger:       log,
		TimeLocation: loc,
	}, nil
}

// Print выводит текущий конфиг (секреты скрыты).
func (c *Config) Print(w io.Writer) error {
	cp := *c
	if cp.Feed.Secret != "" {
		cp.Feed.Secret = "***"
	}
	if cp.Timescale.DSN != "" {
		cp.Timescale.DSN = "***"
	}
	return configloader.PrintConfig(w, cp)
}
