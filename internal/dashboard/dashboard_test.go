package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/cacao-monitor/internal/config"
	"github.com/rickgao/cacao-monitor/internal/connection/brokertest"
	"github.com/rickgao/cacao-monitor/internal/model"
)

type fetchFunc func(ctx context.Context, feedKey string) (model.Value, error)

func (f fetchFunc) Fetch(ctx context.Context, feedKey string) (model.Value, error) {
	return f(ctx, feedKey)
}

func pullOnlyConfig() *config.DashboardConfig {
	cfg := config.Default("farmer", "aio_key")
	disabled := false
	cfg.Push.Enabled = &disabled
	cfg.Poller.Interval = 50 * time.Millisecond
	return cfg
}

func waitReady(t *testing.T, d *Dashboard, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for !d.Board().Ready() {
		select {
		case <-d.Board().OnChange():
		case <-deadline:
			t.Fatalf("board not ready: %+v", d.Board().Snapshot())
		}
	}
}

func TestDashboard_PullOnly(t *testing.T) {
	values := map[string]string{
		"dht20-temp":    "27",
		"dht20-humi":    "80",
		"yolo-light":    "61",
		"yolo-moisture": "44",
	}
	fetcher := fetchFunc(func(_ context.Context, key string) (model.Value, error) {
		return model.MustValue(values[key]), nil
	})

	d, err := New(pullOnlyConfig(), WithFetcher(fetcher))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	waitReady(t, d, 2*time.Second)

	want := []string{"27 °C", "80 %", "61 %", "44 %"}
	for i, tile := range d.Board().Snapshot() {
		if tile.Text != want[i] {
			t.Errorf("tile %s = %q, want %q", tile.Metric.SourceKey, tile.Text, want[i])
		}
	}

	h := d.Health(context.Background())
	if h.Status != "healthy" {
		t.Errorf("Health().Status = %q, want healthy", h.Status)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDashboard_ErrorsKeepLastValue(t *testing.T) {
	var calls atomic.Int32
	fetcher := fetchFunc(func(_ context.Context, key string) (model.Value, error) {
		if key == "dht20-temp" && calls.Add(1) > 1 {
			return model.Value{}, errors.New("network timeout")
		}
		return model.MustValue("1"), nil
	})

	d, err := New(pullOnlyConfig(), WithFetcher(fetcher))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		tile, _ := d.Board().Tile("dht20-temp")
		if tile.Errors > 0 {
			if tile.Text != "1 °C" || tile.Loading() {
				t.Errorf("tile after error = %s %q, want known \"1 °C\"", tile.State, tile.Text)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no error recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := d.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
}

func TestDashboard_Degraded(t *testing.T) {
	fetcher := fetchFunc(func(context.Context, string) (model.Value, error) {
		return model.Value{}, errors.New("down")
	})
	d, err := New(pullOnlyConfig(), WithFetcher(fetcher))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got := d.Health(context.Background()).Status; got != "degraded" {
		t.Errorf("Health().Status = %q, want degraded", got)
	}
}

func TestDashboard_StopWithoutStart(t *testing.T) {
	d, err := New(pullOnlyConfig(), WithFetcher(fetchFunc(func(context.Context, string) (model.Value, error) {
		return model.MustValue("1"), nil
	})))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	d.Stop()
}

func TestDashboard_InvalidMetric(t *testing.T) {
	cfg := pullOnlyConfig()
	cfg.Metrics = []config.MetricConfig{{Name: "x"}}
	if _, err := New(cfg); err == nil {
		t.Error("expected error for metric without feed key")
	}
}

// End to end: REST server and broker, one shared push connection.
func TestDashboard_SharedPush(t *testing.T) {
	broker := brokertest.Start(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		// /api/v2/{account}/feeds/{key}/data/last
		if len(parts) != 8 || r.Header.Get("X-AIO-Key") != brokertest.Key {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `{"feed_key":%q,"value":"10"}`, parts[5])
	}))
	defer srv.Close()

	cfg := config.Default(brokertest.Account, brokertest.Key)
	cfg.Adafruit.RestURL = srv.URL
	cfg.Adafruit.BrokerURL = broker.URL()
	cfg.Poller.Once = true
	cfg.Push.Shared = true
	cfg.Push.ConnectTimeout = 2 * time.Second

	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	waitReady(t, d, 3*time.Second)

	// Wait until every metric shares the hub connection.
	deadline := time.Now().Add(3 * time.Second)
	for d.hub.Stats().Subscriptions < 4 {
		if time.Now().After(deadline) {
			t.Fatalf("hub stats = %+v, want 4 subscriptions", d.hub.Stats())
		}
		time.Sleep(10 * time.Millisecond)
	}

	broker.Publish(t, "farmer/feeds/yolo-moisture", "52")

	deadline = time.Now().Add(3 * time.Second)
	for {
		tile, _ := d.Board().Tile("yolo-moisture")
		if tile.Text == "52 %" && tile.Reading.Channel == model.ChannelPush {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("moisture tile = %q via %s, want \"52 %%\" via push", tile.Text, tile.Reading.Channel)
		}
		time.Sleep(10 * time.Millisecond)
	}

	stats := d.hub.Stats()
	if !stats.Connected || stats.Topics != 4 {
		t.Errorf("hub stats = %+v, want connected with 4 topics", stats)
	}

	d.Stop()
	if got := d.hub.Stats(); got.Subscriptions != 0 || got.Connected {
		t.Errorf("hub stats after Stop = %+v, want empty and disconnected", got)
	}
}
