package config

import (
	"time"

	"github.com/rickgao/cacao-monitor/internal/model"
)

// Default values for optional configuration fields.
const (
	DefaultRestURL            = "https://io.adafruit.com"
	DefaultBrokerURL          = "wss://io.adafruit.com:443/mqtt/"
	DefaultAPITimeout         = 30 * time.Second
	DefaultPollInterval       = 10 * time.Second
	DefaultPollTimeout        = 10 * time.Second
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultConnectTimeout     = 10 * time.Second
	DefaultServerPort         = 9090
	DefaultServerPath         = "/metrics"
)

// ApplyDefaults fills unset optional fields.
func (c *DashboardConfig) ApplyDefaults() {
	// Adafruit defaults
	if c.Adafruit.RestURL == "" {
		c.Adafruit.RestURL = DefaultRestURL
	}
	if c.Adafruit.BrokerURL == "" {
		c.Adafruit.BrokerURL = DefaultBrokerURL
	}
	if c.Adafruit.Timeout == 0 {
		c.Adafruit.Timeout = DefaultAPITimeout
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Timeout == 0 {
		c.Poller.Timeout = DefaultPollTimeout
	}

	// Push defaults
	if c.Push.ReconnectBaseDelay == 0 {
		c.Push.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Push.ReconnectMaxDelay == 0 {
		c.Push.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Push.ConnectTimeout == 0 {
		c.Push.ConnectTimeout = DefaultConnectTimeout
	}

	// Metric defaults
	if len(c.Metrics) == 0 {
		for _, m := range model.DefaultMetrics() {
			c.Metrics = append(c.Metrics, MetricConfig{Name: m.DisplayName, Unit: m.Unit, FeedKey: m.SourceKey})
		}
	}
	for i := range c.Metrics {
		if c.Metrics[i].Name == "" {
			c.Metrics[i].Name = c.Metrics[i].FeedKey
		}
	}

	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.Path == "" {
		c.Server.Path = DefaultServerPath
	}
}

// Default returns a config with every default applied and the given credentials.
func Default(account, apiKey string) *DashboardConfig {
	cfg := &DashboardConfig{
		Adafruit: AdafruitConfig{Account: account, APIKey: apiKey},
	}
	cfg.ApplyDefaults()
	return cfg
}
