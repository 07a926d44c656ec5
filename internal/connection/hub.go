package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Hub multiplexes topic subscriptions over one shared broker connection.
//
// The connection is opened by the first Subscribe and closed when the last
// subscription is released. Connection errors end every live subscription;
// the next Subscribe opens a fresh connection.
type Hub struct {
	cfg       ClientConfig
	logger    *slog.Logger
	newClient func(ClientConfig, *slog.Logger) Client

	// opMu serializes broker round trips (connect, subscribe, unsubscribe).
	// mu guards the fields below and is never held across network calls,
	// since the delivery goroutine takes it for every message.
	opMu   sync.Mutex
	mu     sync.Mutex
	client Client
	done   chan struct{} // closed when the current client is retired
	topics map[string]map[uint64]*hubSub
	nextID uint64
}

// HubStats provides statistics about the hub.
type HubStats struct {
	Connected     bool
	Topics        int
	Subscriptions int
}

// NewHub creates a Hub. No connection is opened until the first Subscribe.
func NewHub(cfg ClientConfig, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cfg:       cfg,
		logger:    logger,
		newClient: NewClient,
		topics:    make(map[string]map[uint64]*hubSub),
	}
}

// Subscribe registers handler on topic, connecting and subscribing on the broker as needed.
func (h *Hub) Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error) {
	h.opMu.Lock()
	defer h.opMu.Unlock()

	h.mu.Lock()
	c := h.client
	h.mu.Unlock()

	if c == nil {
		c = h.newClient(h.cfg, h.logger.With("shared", true))
		if err := c.Connect(ctx); err != nil {
			c.Close()
			return nil, err
		}
		done := make(chan struct{})
		h.mu.Lock()
		h.client = c
		h.done = done
		h.mu.Unlock()
		go h.watch(c, done)
		h.logger.Info("shared mqtt connection opened")
	}

	// Register before subscribing so the first messages are not lost.
	h.mu.Lock()
	h.nextID++
	sub := &hubSub{
		hub:     h,
		id:      h.nextID,
		topic:   topic,
		handler: handler,
		errors:  make(chan error, 1),
	}
	subs, existing := h.topics[topic]
	if !existing {
		subs = make(map[uint64]*hubSub)
		h.topics[topic] = subs
	}
	subs[sub.id] = sub
	h.mu.Unlock()

	if !existing {
		if err := c.Subscribe(ctx, topic, h.dispatcher(topic)); err != nil {
			h.mu.Lock()
			delete(h.topics, topic)
			retired := h.retireIfIdleLocked()
			h.mu.Unlock()
			h.closeRetired(retired)
			return nil, err
		}
	}

	return sub, nil
}

// Stats returns current statistics.
func (h *Hub) Stats() HubStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	total := 0
	for _, subs := range h.topics {
		total += len(subs)
	}
	return HubStats{
		Connected:     h.client != nil && h.client.IsConnected(),
		Topics:        len(h.topics),
		Subscriptions: total,
	}
}

// dispatcher fans a topic's messages out to its handlers.
func (h *Hub) dispatcher(topic string) MessageHandler {
	return func(msg TimestampedMessage) {
		h.mu.Lock()
		subs := h.topics[topic]
		handlers := make([]MessageHandler, 0, len(subs))
		for _, s := range subs {
			handlers = append(handlers, s.handler)
		}
		h.mu.Unlock()

		for _, handle := range handlers {
			handle(msg)
		}
	}
}

// watch ends every subscription when the shared connection fails.
func (h *Hub) watch(c Client, done <-chan struct{}) {
	select {
	case <-done:
		return
	case err := <-c.Errors():
		h.mu.Lock()
		if h.client != c {
			h.mu.Unlock()
			return
		}
		failed := h.topics
		h.topics = make(map[string]map[uint64]*hubSub)
		h.client = nil
		close(h.done)
		h.mu.Unlock()

		c.Close()

		h.logger.Warn("shared mqtt connection failed", "error", err, "topics", len(failed))
		for _, subs := range failed {
			for _, s := range subs {
				s.fail(err)
			}
		}
	}
}

// release drops one subscription, unsubscribing the topic and closing the
// connection when they are no longer referenced.
func (h *Hub) release(s *hubSub) error {
	h.opMu.Lock()
	defer h.opMu.Unlock()

	h.mu.Lock()
	subs, ok := h.topics[s.topic]
	if !ok {
		h.mu.Unlock()
		return nil
	}
	if _, ok := subs[s.id]; !ok {
		h.mu.Unlock()
		return nil
	}
	delete(subs, s.id)

	unsubscribe := false
	if len(subs) == 0 {
		delete(h.topics, s.topic)
		unsubscribe = len(h.topics) > 0
	}
	c := h.client
	retired := h.retireIfIdleLocked()
	h.mu.Unlock()

	if retired != nil {
		h.closeRetired(retired)
		return nil
	}

	if unsubscribe && c != nil {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.CloseTimeout)
		defer cancel()
		if err := c.Unsubscribe(ctx, s.topic); err != nil {
			return fmt.Errorf("release %s: %w", s.topic, err)
		}
	}
	return nil
}

// retireIfIdleLocked detaches the shared client when no topic is referenced.
// The caller closes the returned client after releasing h.mu.
func (h *Hub) retireIfIdleLocked() Client {
	if len(h.topics) > 0 || h.client == nil {
		return nil
	}
	c := h.client
	close(h.done)
	h.client = nil
	return c
}

func (h *Hub) closeRetired(c Client) {
	if c == nil {
		return
	}
	c.Close()
	h.logger.Info("shared mqtt connection closed")
}

// hubSub is one reference to a topic on the Hub.
type hubSub struct {
	hub     *Hub
	id      uint64
	topic   string
	handler MessageHandler
	errors  chan error

	once sync.Once
	err  error
}

func (s *hubSub) Errors() <-chan error { return s.errors }

func (s *hubSub) Close() error {
	s.once.Do(func() {
		s.err = s.hub.release(s)
	})
	return s.err
}

func (s *hubSub) fail(err error) {
	select {
	case s.errors <- err:
	default:
	}
}
