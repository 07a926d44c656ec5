// Package brokertest runs an in-process MQTT broker for tests.
package brokertest

import (
	"net"
	"sync"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
)

// Credentials accepted by a broker started with Start.
const (
	Account = "farmer"
	Key     = "aio_secret"
)

// Options tunes a test broker.
type Options struct {
	// AuthDelay holds every CONNECT this long before CONNACK is sent.
	AuthDelay time.Duration
}

// Broker is an MQTT broker behind a WebSocket listener on a loopback port.
type Broker struct {
	server     *mochi.Server
	addr       string
	once       sync.Once
	connecting chan struct{}
}

// Start starts a broker that accepts only Account/Key and registers its shutdown with t.
func Start(t testing.TB) *Broker {
	t.Helper()
	return StartWithOptions(t, Options{})
}

// StartWithOptions is like Start with broker behaviour tuned by opts.
func StartWithOptions(t testing.TB, opts Options) *Broker {
	t.Helper()

	server := mochi.New(&mochi.Options{InlineClient: true})
	connecting := make(chan struct{}, 16)

	// Hooks run in the order added, so the delay precedes authentication.
	if opts.AuthDelay > 0 {
		if err := server.AddHook(&delayHook{delay: opts.AuthDelay, connecting: connecting}, nil); err != nil {
			t.Fatalf("add delay hook: %v", err)
		}
	}

	err := server.AddHook(new(auth.Hook), &auth.Options{
		Ledger: &auth.Ledger{
			Auth: auth.AuthRules{
				{Username: Account, Password: Key, Allow: true},
			},
		},
	})
	if err != nil {
		t.Fatalf("add auth hook: %v", err)
	}

	addr := freeAddr(t)
	ws := listeners.NewWebsocket(listeners.Config{ID: "ws", Address: addr})
	if err := server.AddListener(ws); err != nil {
		t.Fatalf("add listener: %v", err)
	}

	go server.Serve()
	waitListening(t, addr)

	b := &Broker{server: server, addr: addr, connecting: connecting}
	t.Cleanup(b.Close)
	return b
}

// URL returns the broker's WebSocket URL.
func (b *Broker) URL() string {
	return "ws://" + b.addr + "/mqtt/"
}

// Publish publishes payload on topic from the broker's inline client.
func (b *Broker) Publish(t testing.TB, topic, payload string) {
	t.Helper()
	if err := b.server.Publish(topic, []byte(payload), false, 0); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

// Connecting receives once per CONNECT held by Options.AuthDelay.
func (b *Broker) Connecting() <-chan struct{} {
	return b.connecting
}

// ConnectedClients counts open network sessions, excluding the inline client.
func (b *Broker) ConnectedClients() int {
	n := 0
	for _, cl := range b.server.Clients.GetAll() {
		if !cl.Net.Inline && !cl.Closed() {
			n++
		}
	}
	return n
}

// WaitNoClients fails t unless every network session is gone within timeout.
func (b *Broker) WaitNoClients(t testing.TB, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if b.ConnectedClients() == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("broker still has %d connected clients after %v", b.ConnectedClients(), timeout)
}

// Close stops the broker, dropping every client. Safe to call more than once.
func (b *Broker) Close() {
	b.once.Do(func() { b.server.Close() })
}

func freeAddr(t testing.TB) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func waitListening(t testing.TB, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("broker not listening on %s", addr)
}

// delayHook stalls authentication without deciding it.
type delayHook struct {
	mochi.HookBase
	delay      time.Duration
	connecting chan struct{}
}

func (h *delayHook) ID() string { return "auth-delay" }

func (h *delayHook) Provides(b byte) bool {
	return b == mochi.OnConnectAuthenticate
}

func (h *delayHook) OnConnectAuthenticate(cl *mochi.Client, pk packets.Packet) bool {
	select {
	case h.connecting <- struct{}{}:
	default:
	}
	time.Sleep(h.delay)
	return false
}
