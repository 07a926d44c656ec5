package connection

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrConnLost      = errors.New("connection lost")
	ErrTimeout       = errors.New("operation timeout")
	ErrAlreadyClosed = errors.New("already closed")
	ErrSubscribe     = errors.New("subscription refused")
)

// TimestampedMessage wraps a broker message with its receive timestamp.
type TimestampedMessage struct {
	Topic      string    // Topic the message was published on
	Data       []byte    // Raw payload bytes
	ReceivedAt time.Time // Local timestamp when the message was handed to us
}

// MessageHandler is invoked for every message delivered on a subscribed topic.
// Handlers run on the transport's delivery goroutine, so a handler that blocks
// holds back later messages on the same connection until it returns. Handlers
// that may wait must also return once their owner shuts down.
type MessageHandler func(msg TimestampedMessage)

// Subscription is a live topic subscription.
type Subscription interface {
	// Errors returns a channel that receives the error that ended the subscription.
	Errors() <-chan error

	// Close unsubscribes and releases the underlying connection.
	Close() error
}

// Subscriber opens topic subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)
}

// ClientConfig configures an MQTT client.
type ClientConfig struct {
	BrokerURL      string        // e.g., wss://io.adafruit.com:443/mqtt/
	Username       string        // Account identifier
	Password       string        // API key
	ClientIDPrefix string        // Prefix for generated client ids
	QoS            byte          // Subscription QoS (0 or 1)
	ConnectTimeout time.Duration // Handshake + CONNACK timeout
	KeepAlive      time.Duration // MQTT keepalive interval
	WriteTimeout   time.Duration // Write deadline for packets
	CloseTimeout   time.Duration // Max wait for UNSUBACK and DISCONNECT on Close
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ClientIDPrefix: "cacao",
		QoS:            0,
		ConnectTimeout: 10 * time.Second,
		KeepAlive:      30 * time.Second,
		WriteTimeout:   5 * time.Second,
		CloseTimeout:   time.Second,
	}
}
