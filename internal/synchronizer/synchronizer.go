package synchronizer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/cacao-monitor/internal/connection"
	"github.com/rickgao/cacao-monitor/internal/model"
	"github.com/rickgao/cacao-monitor/internal/poller"
)

// Observer is notified of every delivered update and error, on the dispatch goroutine.
type Observer interface {
	ObserveUpdate(m model.Metric, r model.Reading)
	ObserveError(m model.Metric, err *Error)
}

// Config holds synchronizer configuration.
type Config struct {
	Account            string        // Account namespace used to derive topics
	Poll               poller.Config // Pull channel settings
	Reconnect          bool          // Re-open the push channel after failures
	ReconnectBaseDelay time.Duration // First reconnect wait (default: 1s)
	ReconnectMaxDelay  time.Duration // Cap on reconnect wait (default: 60s)
	EventBuffer        int           // Pending events per handle (default: 16)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Poll:               poller.DefaultConfig(),
		ReconnectBaseDelay: time.Second,
		ReconnectMaxDelay:  60 * time.Second,
		EventBuffer:        16,
	}
}

// Synchronizer starts metric handles. It holds no per-metric state, so one
// Synchronizer can start any number of independent handles.
type Synchronizer struct {
	cfg        Config
	fetcher    poller.Fetcher
	subscriber connection.Subscriber
	observer   Observer
	logger     *slog.Logger
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synchronizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver sets an observer for updates and errors.
func WithObserver(o Observer) Option {
	return func(s *Synchronizer) {
		s.observer = o
	}
}

// New creates a Synchronizer. A nil fetcher disables the pull channel and a
// nil subscriber disables the push channel. Credentials live in the fetcher
// and subscriber; nothing is read from the environment.
func New(cfg Config, fetcher poller.Fetcher, subscriber connection.Subscriber, opts ...Option) *Synchronizer {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 16
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = time.Second
	}
	if cfg.ReconnectMaxDelay < cfg.ReconnectBaseDelay {
		cfg.ReconnectMaxDelay = cfg.ReconnectBaseDelay
	}

	s := &Synchronizer{
		cfg:        cfg,
		fetcher:    fetcher,
		subscriber: subscriber,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins both channels for metric and returns immediately.
//
// onUpdate receives every reading and onError every channel failure (an *Error).
// Both run on one goroutine per handle, never concurrently, and must not call
// Handle.Stop. Cancelling ctx stops the channels too, but only Stop waits for them.
func (s *Synchronizer) Start(ctx context.Context, metric model.Metric, onUpdate func(model.Reading), onError func(error)) (*Handle, error) {
	if err := metric.Validate(); err != nil {
		return nil, err
	}
	if onUpdate == nil {
		onUpdate = func(model.Reading) {}
	}
	if onError == nil {
		onError = func(error) {}
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)

	h := &Handle{
		metric:   metric,
		topic:    model.DeriveTopic(s.cfg.Account, metric.SourceKey),
		cfg:      s.cfg,
		onUpdate: onUpdate,
		onError:  onError,
		observer: s.observer,
		logger:   s.logger.With("metric", metric.DisplayName, "feed", metric.SourceKey),
		events:   make(chan event, s.cfg.EventBuffer),
		cancel:   cancel,
		group:    g,
	}

	g.Go(func() error { return h.dispatch(gctx) })

	if s.fetcher != nil {
		p := poller.New(s.cfg.Poll, s.fetcher, metric.SourceKey, poller.ResultHandlerFunc(h.handlePull), h.logger)
		g.Go(func() error { return p.Run(gctx) })
	}

	if s.subscriber != nil {
		sub := s.subscriber
		g.Go(func() error { return h.runPush(gctx, sub) })
	}

	h.logger.Info("metric synchronizer started",
		"pull", s.fetcher != nil,
		"push", s.subscriber != nil,
		"interval", s.cfg.Poll.Interval,
		"topic", h.topic,
	)

	return h, nil
}

// event is one pending callback.
type event struct {
	value      model.Value
	receivedAt time.Time
	channel    model.Channel
	err        *Error
}

// Handle controls one started metric.
type Handle struct {
	metric   model.Metric
	topic    string
	cfg      Config
	onUpdate func(model.Reading)
	onError  func(error)
	observer Observer
	logger   *slog.Logger

	events chan event
	seq    uint64 // dispatch goroutine only

	cancel   context.CancelFunc
	group    *errgroup.Group
	stopOnce sync.Once
}

// Metric returns the metric this handle is bound to.
func (h *Handle) Metric() model.Metric {
	return h.metric
}

// Topic returns the push topic derived for the metric.
func (h *Handle) Topic() string {
	return h.topic
}

// Stop cancels the poll timer, closes the push subscription and waits for
// every task to exit. No callback runs after Stop returns. Idempotent.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() {
		h.cancel()
		h.group.Wait()
		h.logger.Info("metric synchronizer stopped")
	})
}

// dispatch is the handle's event loop.
func (h *Handle) dispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-h.events:
			// Stop may have raced the receive.
			if ctx.Err() != nil {
				return nil
			}
			h.deliver(ev)
		}
	}
}

func (h *Handle) deliver(ev event) {
	if ev.err != nil {
		if h.observer != nil {
			h.observer.ObserveError(h.metric, ev.err)
		}
		h.onError(ev.err)
		return
	}

	h.seq++
	r := model.Reading{
		Value:      ev.value,
		ReceivedAt: ev.receivedAt,
		Channel:    ev.channel,
		Seq:        h.seq,
	}
	if h.observer != nil {
		h.observer.ObserveUpdate(h.metric, r)
	}
	h.onUpdate(r)
}

// emit queues an event, giving up once ctx is done.
func (h *Handle) emit(ctx context.Context, ev event) {
	select {
	case h.events <- ev:
	case <-ctx.Done():
	}
}

func (h *Handle) fail(ctx context.Context, kind Kind, channel model.Channel, err error) {
	h.emit(ctx, event{err: &Error{
		Kind:      kind,
		Channel:   channel,
		SourceKey: h.metric.SourceKey,
		Err:       err,
	}})
}

// handlePull turns poll results into events.
func (h *Handle) handlePull(ctx context.Context, r poller.Result) {
	if r.Err != nil {
		h.fail(ctx, classifyPull(r.Err), model.ChannelPull, r.Err)
		return
	}
	h.emit(ctx, event{value: r.Value, receivedAt: r.ReceivedAt, channel: model.ChannelPull})
}

// handlePush returns the message handler for the push subscription. With the
// event buffer full it waits for dispatch to drain or for ctx to end, which
// paces the broker connection instead of dropping readings.
func (h *Handle) handlePush(ctx context.Context) connection.MessageHandler {
	return func(msg connection.TimestampedMessage) {
		v, err := model.ParseValue(msg.Data)
		if err != nil {
			h.fail(ctx, KindMalformedPayload, model.ChannelPush, err)
			return
		}
		h.emit(ctx, event{value: v, receivedAt: msg.ReceivedAt, channel: model.ChannelPush})
	}
}
