package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/rickgao/cacao-monitor/internal/model"
)

// Fetcher retrieves the latest value of a feed.
type Fetcher interface {
	Fetch(ctx context.Context, feedKey string) (model.Value, error)
}

// Result is the outcome of one fetch.
type Result struct {
	Value      model.Value
	ReceivedAt time.Time
	Err        error
}

// ResultHandler receives fetch results.
type ResultHandler interface {
	HandleResult(ctx context.Context, r Result)
}

// ResultHandlerFunc is a function adapter for ResultHandler.
type ResultHandlerFunc func(context.Context, Result)

func (f ResultHandlerFunc) HandleResult(ctx context.Context, r Result) {
	f(ctx, r)
}

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Poll interval (default: 10s, 0 = once)
	Timeout  time.Duration // Per-request timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 10 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// Poller periodically fetches one feed.
type Poller struct {
	cfg     Config
	fetcher Fetcher
	feedKey string
	handler ResultHandler
	logger  *slog.Logger
}

// New creates a new Poller.
func New(cfg Config, fetcher Fetcher, feedKey string, handler ResultHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:     cfg,
		fetcher: fetcher,
		feedKey: feedKey,
		handler: handler,
		logger:  logger.With("feed", feedKey),
	}
}

// Run polls until ctx is done. It always returns nil so it can share an
// errgroup with other tasks without cancelling them.
func (p *Poller) Run(ctx context.Context) error {
	// Poll immediately on start.
	p.pollOnce(ctx)

	if p.cfg.Interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

// pollOnce fetches the feed and hands the result to the handler.
// Results that complete after ctx is done are discarded.
func (p *Poller) pollOnce(ctx context.Context) {
	start := time.Now()

	reqCtx := ctx
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	v, err := p.fetcher.Fetch(reqCtx, p.feedKey)
	if ctx.Err() != nil {
		return
	}

	if err != nil {
		p.logger.Warn("failed to poll feed", "error", err, "duration", time.Since(start))
	} else {
		p.logger.Debug("poll complete", "value", v.String(), "duration", time.Since(start))
	}

	if p.handler != nil {
		p.handler.HandleResult(ctx, Result{Value: v, ReceivedAt: time.Now(), Err: err})
	}
}
