package api

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rickgao/cacao-monitor/internal/model"
)

// DataPoint is one stored value of a feed.
type DataPoint struct {
	ID        string      `json:"id"`
	FeedID    int64       `json:"feed_id"`
	FeedKey   string      `json:"feed_key"`
	Value     model.Value `json:"value"`
	CreatedAt time.Time   `json:"created_at"`
}

// LastData returns the most recent value stored for a feed.
func (c *Client) LastData(ctx context.Context, feedKey string) (*DataPoint, error) {
	path := fmt.Sprintf("/api/v2/%s/feeds/%s/data/last",
		url.PathEscape(c.account),
		url.PathEscape(feedKey),
	)

	var dp DataPoint
	if err := c.get(ctx, path, &dp); err != nil {
		return nil, err
	}
	if dp.Value.IsZero() {
		return nil, fmt.Errorf("feed %s: %w: response has no value", feedKey, model.ErrMalformed)
	}

	return &dp, nil
}

// Fetch implements poller.Fetcher by returning the feed's latest value.
func (c *Client) Fetch(ctx context.Context, feedKey string) (model.Value, error) {
	dp, err := c.LastData(ctx, feedKey)
	if err != nil {
		return model.Value{}, err
	}
	return dp.Value, nil
}
