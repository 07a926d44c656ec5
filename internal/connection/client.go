package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// subackFailure is the SUBACK return code for a refused subscription.
const subackFailure = 0x80

// Client represents a single MQTT session with the broker.
type Client interface {
	// Connect establishes the session and waits for CONNACK.
	Connect(ctx context.Context) error

	// Subscribe subscribes to a topic and waits for SUBACK.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error

	// Unsubscribe removes a topic subscription.
	Unsubscribe(ctx context.Context, topic string) error

	// Close unsubscribes every topic and disconnects. Safe to call more than once.
	Close() error

	// Errors returns a channel of connection errors (connection lost).
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// client implements the Client interface on top of paho.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger
	id     string

	mqtt   mqtt.Client
	errors chan error

	// State
	mu        sync.RWMutex
	connected bool
	closed    bool
	topics    map[string]struct{}
}

// NewClient creates a new MQTT client. No network activity happens until Connect.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}

	prefix := cfg.ClientIDPrefix
	if prefix == "" {
		prefix = "cacao"
	}

	c := &client{
		cfg:    cfg,
		id:     prefix + "-" + uuid.NewString(),
		errors: make(chan error, 1),
		topics: make(map[string]struct{}),
	}
	c.logger = logger.With("client_id", c.id)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(c.id).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetKeepAlive(cfg.KeepAlive).
		SetWriteTimeout(cfg.WriteTimeout).
		SetConnectionLostHandler(c.onConnectionLost)

	if isWebsocketBroker(cfg.BrokerURL) {
		opts.SetCustomOpenConnectionFn(func(uri *url.URL, options mqtt.ClientOptions) (net.Conn, error) {
			ctx, cancel := context.WithTimeout(context.Background(), options.ConnectTimeout)
			defer cancel()
			return dialWebsocket(ctx, uri, options.TLSConfig, options.ConnectTimeout)
		})
	}

	c.mqtt = mqtt.NewClient(opts)
	return c
}

// Connect establishes the MQTT session.
func (c *client) Connect(ctx context.Context) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrAlreadyClosed
	}

	if err := waitToken(ctx, c.mqtt.Connect()); err != nil {
		return fmt.Errorf("connect %s: %w", redactURL(c.cfg.BrokerURL), err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.mqtt.Disconnect(0)
		return ErrAlreadyClosed
	}
	c.connected = true
	c.mu.Unlock()

	c.logger.Debug("mqtt connected", "broker", redactURL(c.cfg.BrokerURL))
	return nil
}

// Subscribe subscribes to a topic.
func (c *client) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	tok := c.mqtt.Subscribe(topic, c.cfg.QoS, func(_ mqtt.Client, m mqtt.Message) {
		handler(TimestampedMessage{
			Topic:      m.Topic(),
			Data:       m.Payload(),
			ReceivedAt: time.Now(),
		})
	})
	if err := waitToken(ctx, tok); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	if st, ok := tok.(*mqtt.SubscribeToken); ok {
		for t, code := range st.Result() {
			if code == subackFailure {
				return fmt.Errorf("subscribe %s: %w", t, ErrSubscribe)
			}
		}
	}

	c.mu.Lock()
	c.topics[topic] = struct{}{}
	c.mu.Unlock()

	c.logger.Debug("mqtt subscribed", "topic", topic)
	return nil
}

// Unsubscribe removes a topic subscription.
func (c *client) Unsubscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	delete(c.topics, topic)
	c.mu.Unlock()

	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := waitToken(ctx, c.mqtt.Unsubscribe(topic)); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", topic, err)
	}
	return nil
}

// Close unsubscribes and disconnects. It is safe to call while Connect is
// still in flight.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	wasConnected := c.connected
	c.connected = false
	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	c.topics = make(map[string]struct{})
	c.mu.Unlock()

	// Disconnect also aborts a connect still waiting for CONNACK.
	if wasConnected && len(topics) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CloseTimeout)
		if err := waitToken(ctx, c.mqtt.Unsubscribe(topics...)); err != nil {
			c.logger.Debug("unsubscribe on close failed", "error", err)
		}
		cancel()
	}

	c.mqtt.Disconnect(uint(c.cfg.CloseTimeout / time.Millisecond))
	c.logger.Debug("mqtt disconnected")
	return nil
}

// Errors returns the errors channel.
func (c *client) Errors() <-chan error {
	return c.errors
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// onConnectionLost is invoked by paho when an established session drops.
func (c *client) onConnectionLost(_ mqtt.Client, err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.mu.Unlock()

	c.logger.Warn("mqtt connection lost", "error", err)

	select {
	case c.errors <- fmt.Errorf("%w: %v", ErrConnLost, err):
	default:
	}
}

// waitToken blocks until the token completes or ctx is done.
func waitToken(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
}

func isWebsocketBroker(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "ws" || u.Scheme == "wss"
}

// redactURL strips userinfo so credentials never reach the logs.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}
