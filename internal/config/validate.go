package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *DashboardConfig) Validate() error {
	if c.Adafruit.Account == "" {
		return errors.New("adafruit.account is required")
	}
	if strings.ContainsAny(c.Adafruit.Account, "/+#") {
		return fmt.Errorf("adafruit.account %q must not contain '/', '+' or '#'", c.Adafruit.Account)
	}
	if c.Adafruit.APIKey == "" {
		return errors.New("adafruit.api_key is required")
	}
	if err := validateURL("adafruit.rest_url", c.Adafruit.RestURL, "http", "https"); err != nil {
		return err
	}
	if err := validateURL("adafruit.broker_url", c.Adafruit.BrokerURL, "ws", "wss", "tcp", "ssl", "tls", "mqtt", "mqtts"); err != nil {
		return err
	}
	if c.Adafruit.MaxRetries < 0 {
		return errors.New("adafruit.max_retries must be >= 0")
	}

	if c.Poller.Interval < 0 {
		return errors.New("poller.interval must be >= 0")
	}
	if c.Poller.Timeout < 0 {
		return errors.New("poller.timeout must be >= 0")
	}

	if c.Push.QoS > 1 {
		return fmt.Errorf("push.qos must be 0 or 1, got %d", c.Push.QoS)
	}
	if c.Push.ReconnectMaxDelay < c.Push.ReconnectBaseDelay {
		return fmt.Errorf("push.reconnect_max_delay (%v) cannot be less than reconnect_base_delay (%v)",
			c.Push.ReconnectMaxDelay, c.Push.ReconnectBaseDelay)
	}

	if len(c.Metrics) == 0 {
		return errors.New("metrics must not be empty")
	}
	seen := make(map[string]bool, len(c.Metrics))
	for i, m := range c.Metrics {
		if err := m.validate(fmt.Sprintf("metrics[%d]", i)); err != nil {
			return err
		}
		if seen[m.FeedKey] {
			return fmt.Errorf("metrics[%d].feed_key %q is duplicated", i, m.FeedKey)
		}
		seen[m.FeedKey] = true
	}

	if c.Server.Port != -1 && (c.Server.Port < 1 || c.Server.Port > 65535) {
		return fmt.Errorf("server.port must be between 1 and 65535 or -1, got %d", c.Server.Port)
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server.path must start with '/', got %q", c.Server.Path)
	}

	return nil
}

func (m MetricConfig) validate(prefix string) error {
	if m.FeedKey == "" {
		return fmt.Errorf("%s.feed_key is required", prefix)
	}
	if strings.ContainsAny(m.FeedKey, "/+#") {
		return fmt.Errorf("%s.feed_key %q must not contain '/', '+' or '#'", prefix, m.FeedKey)
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%s %q has no host", field, raw)
			}
			return nil
		}
	}
	return fmt.Errorf("%s scheme must be one of %s, got %q", field, strings.Join(schemes, ", "), u.Scheme)
}
