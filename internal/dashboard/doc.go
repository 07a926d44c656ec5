// Package dashboard wires one metric synchronizer per configured metric into a
// display.Board.
//
// The pull channel is an api.Client shared by every metric. The push channel
// is either a connection per metric or, with push.shared, one connection Hub.
// Every update and error is also recorded by a metrics.Recorder.
package dashboard
