package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformed is returned when a payload cannot be decoded as JSON.
var ErrMalformed = errors.New("malformed payload")

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

// Metric identifies one sensor stream.
type Metric struct {
	DisplayName string // Human-readable label (e.g., "Temperature")
	Unit        string // Display suffix (e.g., "°C", "%")
	SourceKey   string // Feed key on the remote service (e.g., "dht20-temp")
}

// Validate reports whether the metric can be bound to a synchronizer.
func (m Metric) Validate() error {
	if m.SourceKey == "" {
		return errors.New("metric source key is required")
	}
	return nil
}

// DefaultMetrics returns the four environmental factors shown on the dashboard.
func DefaultMetrics() []Metric {
	return []Metric{
		{DisplayName: "Temperature", Unit: "°C", SourceKey: "dht20-temp"},
		{DisplayName: "Humidity", Unit: "%", SourceKey: "dht20-humi"},
		{DisplayName: "Light", Unit: "%", SourceKey: "yolo-light"},
		{DisplayName: "Moisture", Unit: "%", SourceKey: "yolo-moisture"},
	}
}

// DeriveTopic returns the broker topic carrying a feed's readings.
func DeriveTopic(account, sourceKey string) string {
	return account + "/feeds/" + sourceKey
}

// -----------------------------------------------------------------------------
// Readings
// -----------------------------------------------------------------------------

// Channel names the data source that produced a reading.
type Channel string

const (
	ChannelPull Channel = "pull"
	ChannelPush Channel = "push"
)

// Value is an untyped payload as delivered by the source.
// The service does not guarantee a schema: numbers, strings and objects all occur.
type Value struct {
	raw json.RawMessage
}

// ParseValue decodes a JSON payload into a Value. JSON null carries no
// reading and is malformed.
func ParseValue(data []byte) (Value, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || !json.Valid(trimmed) || bytes.Equal(trimmed, []byte("null")) {
		return Value{}, fmt.Errorf("%w: %q", ErrMalformed, truncate(trimmed, 64))
	}
	raw := make(json.RawMessage, len(trimmed))
	copy(raw, trimmed)
	return Value{raw: raw}, nil
}

// MustValue is like ParseValue but panics on malformed input. Intended for tests and literals.
func MustValue(s string) Value {
	v, err := ParseValue([]byte(s))
	if err != nil {
		panic(err)
	}
	return v
}

// IsZero reports whether the value holds no payload.
func (v Value) IsZero() bool {
	return len(v.raw) == 0
}

// Raw returns the JSON encoding of the value.
func (v Value) Raw() json.RawMessage {
	return v.raw
}

// String renders the value for display.
// JSON strings are unquoted; every other JSON type is shown verbatim.
func (v Value) String() string {
	if len(v.raw) > 0 && v.raw[0] == '"' {
		var s string
		if err := json.Unmarshal(v.raw, &s); err == nil {
			return s
		}
	}
	return string(v.raw)
}

// Float returns the value as a number when it is a JSON number or a numeric string.
func (v Value) Float() (float64, bool) {
	var f float64
	if err := json.Unmarshal(v.raw, &f); err == nil {
		return f, true
	}
	var s json.Number
	if err := json.Unmarshal(v.raw, &s); err == nil {
		if f, err := s.Float64(); err == nil {
			return f, true
		}
	}
	return 0, false
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	if len(v.raw) == 0 {
		return []byte("null"), nil
	}
	return v.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler. null leaves the zero Value.
func (v *Value) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = Value{}
		return nil
	}
	parsed, err := ParseValue(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Reading is the current known value for a Metric.
type Reading struct {
	Value      Value     // Payload as delivered
	ReceivedAt time.Time // Local timestamp when the reading arrived
	Channel    Channel   // "pull" or "push"
	Seq        uint64    // Delivery order within one synchronizer (starts at 1)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
