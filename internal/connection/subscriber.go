package connection

import (
	"context"
	"log/slog"
)

// Dedicated opens one broker connection per subscription.
type Dedicated struct {
	cfg       ClientConfig
	logger    *slog.Logger
	newClient func(ClientConfig, *slog.Logger) Client
}

// NewDedicated creates a Subscriber that gives every topic its own connection.
func NewDedicated(cfg ClientConfig, logger *slog.Logger) *Dedicated {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dedicated{
		cfg:       cfg,
		logger:    logger,
		newClient: NewClient,
	}
}

// Subscribe connects, authenticates and subscribes to topic.
// On failure the connection is closed before returning.
func (d *Dedicated) Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error) {
	c := d.newClient(d.cfg, d.logger.With("topic", topic))

	if err := c.Connect(ctx); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.Subscribe(ctx, topic, handler); err != nil {
		c.Close()
		return nil, err
	}

	return &dedicatedSub{client: c}, nil
}

type dedicatedSub struct {
	client Client
}

func (s *dedicatedSub) Errors() <-chan error { return s.client.Errors() }
func (s *dedicatedSub) Close() error         { return s.client.Close() }
