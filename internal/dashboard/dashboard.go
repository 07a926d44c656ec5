package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/cacao-monitor/internal/api"
	"github.com/rickgao/cacao-monitor/internal/config"
	"github.com/rickgao/cacao-monitor/internal/connection"
	"github.com/rickgao/cacao-monitor/internal/display"
	"github.com/rickgao/cacao-monitor/internal/metrics"
	"github.com/rickgao/cacao-monitor/internal/model"
	"github.com/rickgao/cacao-monitor/internal/poller"
	"github.com/rickgao/cacao-monitor/internal/synchronizer"
)

// Dashboard keeps a Board fresh for a set of metrics.
type Dashboard struct {
	metrics  []model.Metric
	board    *display.Board
	recorder *metrics.Recorder
	sync     *synchronizer.Synchronizer
	hub      *connection.Hub
	logger   *slog.Logger

	mu      sync.Mutex
	handles []*synchronizer.Handle
	started time.Time
}

// Option configures a Dashboard.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	fetcher    poller.Fetcher
	subscriber connection.Subscriber
	recorder   *metrics.Recorder
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithFetcher replaces the Adafruit IO REST client.
func WithFetcher(f poller.Fetcher) Option {
	return func(o *options) {
		o.fetcher = f
	}
}

// WithSubscriber replaces the MQTT push source.
func WithSubscriber(s connection.Subscriber) Option {
	return func(o *options) {
		o.subscriber = s
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r *metrics.Recorder) Option {
	return func(o *options) {
		o.recorder = r
	}
}

// New builds a Dashboard from a validated config.
func New(cfg *config.DashboardConfig, opts ...Option) (*Dashboard, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.recorder == nil {
		o.recorder = metrics.NewRecorder()
	}

	ms := cfg.ModelMetrics()
	for i, m := range ms {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("metric %d: %w", i, err)
		}
	}

	d := &Dashboard{
		metrics:  ms,
		board:    display.NewBoard(ms),
		recorder: o.recorder,
		logger:   o.logger.With("component", "dashboard"),
	}

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = api.NewClient(
			cfg.Adafruit.RestURL,
			cfg.Adafruit.Account,
			cfg.Adafruit.APIKey,
			api.WithLogger(o.logger),
			api.WithTimeout(cfg.Adafruit.Timeout),
			api.WithRetries(cfg.Adafruit.MaxRetries, time.Second),
		)
	}

	subscriber := o.subscriber
	if subscriber == nil && cfg.Push.IsEnabled() {
		cc := clientConfig(cfg)
		if cfg.Push.Shared {
			d.hub = connection.NewHub(cc, o.logger)
			subscriber = d.hub
		} else {
			subscriber = connection.NewDedicated(cc, o.logger)
		}
	}

	sc := synchronizer.DefaultConfig()
	sc.Account = cfg.Adafruit.Account
	sc.Poll = poller.Config{
		Interval: cfg.Poller.EffectiveInterval(),
		Timeout:  cfg.Poller.Timeout,
	}
	sc.Reconnect = cfg.Push.Reconnect
	sc.ReconnectBaseDelay = cfg.Push.ReconnectBaseDelay
	sc.ReconnectMaxDelay = cfg.Push.ReconnectMaxDelay

	d.sync = synchronizer.New(sc, fetcher, subscriber,
		synchronizer.WithLogger(o.logger),
		synchronizer.WithObserver(d.recorder),
	)
	return d, nil
}

func clientConfig(cfg *config.DashboardConfig) connection.ClientConfig {
	cc := connection.DefaultClientConfig()
	cc.BrokerURL = cfg.Adafruit.BrokerURL
	cc.Username = cfg.Adafruit.Account
	cc.Password = cfg.Adafruit.APIKey
	cc.QoS = cfg.Push.QoS
	cc.ConnectTimeout = cfg.Push.ConnectTimeout
	return cc
}

// Board returns the board the dashboard keeps fresh.
func (d *Dashboard) Board() *display.Board {
	return d.board
}

// Recorder returns the metrics recorder.
func (d *Dashboard) Recorder() *metrics.Recorder {
	return d.recorder
}

// Start starts a synchronizer per metric. It returns without waiting for data.
func (d *Dashboard) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handles != nil {
		return fmt.Errorf("dashboard already started")
	}

	handles := make([]*synchronizer.Handle, 0, len(d.metrics))
	for _, m := range d.metrics {
		h, err := d.sync.Start(ctx, m, d.onUpdate(m), d.onError(m))
		if err != nil {
			for _, started := range handles {
				started.Stop()
			}
			return fmt.Errorf("start %s: %w", m.SourceKey, err)
		}
		handles = append(handles, h)
	}

	d.handles = handles
	d.started = time.Now()
	d.logger.Info("dashboard started", "metrics", len(handles), "shared_push", d.hub != nil)
	return nil
}

// Stop stops every synchronizer. No board change happens after it returns.
func (d *Dashboard) Stop() {
	d.mu.Lock()
	handles := d.handles
	d.handles = nil
	d.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *synchronizer.Handle) {
			defer wg.Done()
			h.Stop()
		}(h)
	}
	wg.Wait()

	if len(handles) > 0 {
		d.logger.Info("dashboard stopped")
	}
}

// Run starts the dashboard, blocks until ctx is done, then stops it.
func (d *Dashboard) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	d.Stop()
	return nil
}

func (d *Dashboard) onUpdate(m model.Metric) func(model.Reading) {
	return func(r model.Reading) {
		d.board.Update(m.SourceKey, r)
		d.logger.Debug("reading",
			"feed", m.SourceKey,
			"value", r.Value.String(),
			"channel", r.Channel,
			"seq", r.Seq,
		)
	}
}

func (d *Dashboard) onError(m model.Metric) func(error) {
	return func(err error) {
		d.board.Fail(m.SourceKey, err)
		d.logger.Warn("metric error", "feed", m.SourceKey, "error", err)
	}
}

// Health reports every tile, degraded while any tile is still loading.
func (d *Dashboard) Health(ctx context.Context) metrics.Health {
	h := metrics.Health{Status: "healthy", Components: make(map[string]any)}

	for _, t := range d.board.Snapshot() {
		c := map[string]any{
			"state":  t.State.String(),
			"errors": t.Errors,
		}
		if !t.Loading() {
			c["value"] = t.Text
			c["channel"] = t.Reading.Channel
			c["received_at"] = t.Reading.ReceivedAt
		} else {
			h.Status = "degraded"
		}
		if t.LastError != nil {
			c["last_error"] = t.LastError.Error()
		}
		h.Components[t.Metric.SourceKey] = c
	}

	if d.hub != nil {
		stats := d.hub.Stats()
		h.Components["push_hub"] = map[string]any{
			"connected":     stats.Connected,
			"topics":        stats.Topics,
			"subscriptions": stats.Subscriptions,
		}
	}
	return h
}
