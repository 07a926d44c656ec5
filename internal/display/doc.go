// Package display holds the view state for metric tiles.
//
// A Tile is a pure function of the last reading: without one it is loading,
// with one it shows the value followed by the unit. Errors are recorded next
// to the tile but never replace a known value.
//
// Board keeps one tile per metric and is safe for concurrent use. Hosts
// redraw when the channel returned by OnChange fires.
package display
