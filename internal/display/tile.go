package display

import (
	"time"

	"github.com/rickgao/cacao-monitor/internal/model"
)

// State of a tile.
type State int

const (
	StateLoading State = iota
	StateKnown
)

func (s State) String() string {
	if s == StateKnown {
		return "known"
	}
	return "loading"
}

// Tile is the rendered state of one metric.
type Tile struct {
	Metric    model.Metric
	State     State
	Text      string // value + " " + unit, empty while loading
	Reading   model.Reading
	LastError error
	ErrorAt   time.Time
	Errors    int
}

// NewTile returns a loading tile for m.
func NewTile(m model.Metric) Tile {
	return Tile{Metric: m, State: StateLoading}
}

// Format renders a reading the way tiles show it.
func Format(v model.Value, unit string) string {
	return v.String() + " " + unit
}

// WithReading returns the tile updated with r.
func (t Tile) WithReading(r model.Reading) Tile {
	t.State = StateKnown
	t.Reading = r
	t.Text = Format(r.Value, t.Metric.Unit)
	return t
}

// WithError returns the tile with err recorded. The displayed value is kept.
func (t Tile) WithError(err error, at time.Time) Tile {
	t.LastError = err
	t.ErrorAt = at
	t.Errors++
	return t
}

// Loading reports whether no reading has arrived yet.
func (t Tile) Loading() bool {
	return t.State == StateLoading
}
