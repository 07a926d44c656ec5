// Package tui renders a display.Board in the terminal with bubbletea.
//
// The view is a "CACAO CARE" header over a two-column grid of tiles. Loading
// tiles show a spinner. The model redraws whenever the board changes and quits
// on q, esc or ctrl+c.
package tui
