package synchronizer

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/rickgao/cacao-monitor/internal/connection"
	"github.com/rickgao/cacao-monitor/internal/model"
)

// runPush owns the push subscription. It always returns nil so a dead push
// channel never cancels the pull channel sharing its errgroup.
func (h *Handle) runPush(ctx context.Context, subscriber connection.Subscriber) error {
	if !h.cfg.Reconnect {
		sub, err := subscriber.Subscribe(ctx, h.topic, h.handlePush(ctx))
		if err != nil {
			if ctx.Err() == nil {
				h.logger.Warn("push subscribe failed", "error", err)
				h.fail(ctx, KindConnection, model.ChannelPush, err)
			}
			return nil
		}
		h.hold(ctx, sub)
		return nil
	}

	// One backoff spans every attempt, so a session that drops right after
	// SUBACK still waits before the next connect. It resets only once a
	// session has stayed up for ReconnectMaxDelay.
	b := h.newBackOff()
	for {
		sub, err := subscriber.Subscribe(ctx, h.topic, h.handlePush(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			h.fail(ctx, KindConnection, model.ChannelPush, err)
		} else {
			start := time.Now()
			h.hold(ctx, sub)
			if ctx.Err() != nil {
				return nil
			}
			if time.Since(start) >= h.cfg.ReconnectMaxDelay {
				b.Reset()
			}
		}

		wait := b.NextBackOff()
		h.logger.Warn("push channel down, reconnecting", "error", err, "backoff", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// hold keeps sub open until ctx is done or the connection fails, then closes it.
func (h *Handle) hold(ctx context.Context, sub connection.Subscription) {
	defer sub.Close()

	h.logger.Debug("push subscribed", "topic", h.topic)

	select {
	case <-ctx.Done():
	case err := <-sub.Errors():
		h.logger.Warn("push connection lost", "error", err)
		h.fail(ctx, KindConnection, model.ChannelPush, err)
	}
}

func (h *Handle) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = h.cfg.ReconnectBaseDelay
	b.MaxInterval = h.cfg.ReconnectMaxDelay
	return b
}
