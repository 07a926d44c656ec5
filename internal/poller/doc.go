// Package poller implements the pull channel loop.
//
// The Poller:
//   - Fetches the latest value of one feed immediately on start
//   - Repeats on a fixed interval (10s by default, 0 = fetch once)
//   - Reports every success and every failure to its handler
//   - Keeps polling after failures; the next tick is the only retry
package poller
