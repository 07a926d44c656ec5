// Package synchronizer keeps one metric's reading fresh from two redundant channels.
//
// Each started metric gets a Handle owning three tasks under one cancellation scope:
//   - pull: polls the REST feed on an interval (package poller)
//   - push: holds an MQTT subscription on account/feeds/<key> (package connection)
//   - dispatch: the only goroutine that invokes the caller's callbacks
//
// Updates from both channels are applied last-write-wins; every delivered
// reading carries a sequence number in delivery order. Handle.Stop tears all
// three tasks down and returns only once no further callback can run.
package synchronizer
