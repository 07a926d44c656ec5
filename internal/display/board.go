package display

import (
	"sync"
	"time"

	"github.com/rickgao/cacao-monitor/internal/model"
)

// Board holds the tiles of a dashboard in metric order.
type Board struct {
	mu      sync.RWMutex
	order   []string
	tiles   map[string]Tile
	changed chan struct{}
	now     func() time.Time
}

// NewBoard creates a board with a loading tile per metric. Metrics sharing a
// source key collapse into the first one.
func NewBoard(metrics []model.Metric) *Board {
	b := &Board{
		tiles:   make(map[string]Tile, len(metrics)),
		changed: make(chan struct{}, 1),
		now:     time.Now,
	}
	for _, m := range metrics {
		if _, ok := b.tiles[m.SourceKey]; ok {
			continue
		}
		b.order = append(b.order, m.SourceKey)
		b.tiles[m.SourceKey] = NewTile(m)
	}
	return b
}

// Update records a reading for the metric with the given source key.
// Unknown keys are ignored.
func (b *Board) Update(sourceKey string, r model.Reading) bool {
	b.mu.Lock()
	t, ok := b.tiles[sourceKey]
	if ok {
		b.tiles[sourceKey] = t.WithReading(r)
	}
	b.mu.Unlock()

	if ok {
		b.notify()
	}
	return ok
}

// Fail records an error for the metric with the given source key.
func (b *Board) Fail(sourceKey string, err error) bool {
	b.mu.Lock()
	t, ok := b.tiles[sourceKey]
	if ok {
		b.tiles[sourceKey] = t.WithError(err, b.now())
	}
	b.mu.Unlock()

	if ok {
		b.notify()
	}
	return ok
}

// Tile returns the tile for sourceKey.
func (b *Board) Tile(sourceKey string) (Tile, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.tiles[sourceKey]
	return t, ok
}

// Snapshot returns every tile in metric order.
func (b *Board) Snapshot() []Tile {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Tile, 0, len(b.order))
	for _, key := range b.order {
		out = append(out, b.tiles[key])
	}
	return out
}

// Ready reports whether every tile has a value.
func (b *Board) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, t := range b.tiles {
		if t.Loading() {
			return false
		}
	}
	return true
}

// OnChange returns a channel that receives after any tile changes.
// Notifications coalesce: one receive may cover several changes.
func (b *Board) OnChange() <-chan struct{} {
	return b.changed
}

func (b *Board) notify() {
	select {
	case b.changed <- struct{}{}:
	default:
	}
}
