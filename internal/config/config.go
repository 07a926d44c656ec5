package config

import (
	"time"

	"github.com/rickgao/cacao-monitor/internal/model"
)

// DashboardConfig is the root configuration for a dashboard instance.
type DashboardConfig struct {
	Adafruit AdafruitConfig `yaml:"adafruit"`
	Poller   PollerConfig   `yaml:"poller"`
	Push     PushConfig     `yaml:"push"`
	Metrics  []MetricConfig `yaml:"metrics"`
	Server   ServerConfig   `yaml:"server"`
}

// AdafruitConfig holds Adafruit IO account settings.
type AdafruitConfig struct {
	Account    string        `yaml:"account"` // Account name, also the MQTT username and topic namespace
	APIKey     string        `yaml:"api_key"` // X-AIO-Key header and MQTT password
	RestURL    string        `yaml:"rest_url"`
	BrokerURL  string        `yaml:"broker_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"` // Retries within one poll tick, 0 = report and wait for the next tick
}

// PollerConfig holds the pull channel schedule.
type PollerConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	Once     bool          `yaml:"once"` // fetch once at start, then rely on push
}

// EffectiveInterval returns the poll interval, 0 meaning once.
func (p PollerConfig) EffectiveInterval() time.Duration {
	if p.Once {
		return 0
	}
	return p.Interval
}

// PushConfig holds the MQTT push channel settings.
type PushConfig struct {
	Enabled            *bool         `yaml:"enabled"` // nil = true
	Shared             bool          `yaml:"shared"`  // one connection for all metrics
	Reconnect          bool          `yaml:"reconnect"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	QoS                byte          `yaml:"qos"`
}

// IsEnabled reports whether the push channel should run.
func (p PushConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// MetricConfig describes one dashboard tile.
type MetricConfig struct {
	Name    string `yaml:"name"`
	Unit    string `yaml:"unit"`
	FeedKey string `yaml:"feed_key"`
}

// Metric converts the entry to a model.Metric.
func (m MetricConfig) Metric() model.Metric {
	return model.Metric{DisplayName: m.Name, Unit: m.Unit, SourceKey: m.FeedKey}
}

// ServerConfig holds the metrics and health HTTP server settings.
type ServerConfig struct {
	Port int    `yaml:"port"` // 0 = default, -1 = disabled
	Path string `yaml:"path"`
}

// ModelMetrics returns the configured metrics in order.
func (c *DashboardConfig) ModelMetrics() []model.Metric {
	out := make([]model.Metric, 0, len(c.Metrics))
	for _, m := range c.Metrics {
		out = append(out, m.Metric())
	}
	return out
}
