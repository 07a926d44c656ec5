package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/cacao-monitor/internal/connection"
	"github.com/rickgao/cacao-monitor/internal/model"
	"github.com/rickgao/cacao-monitor/internal/poller"
)

var temperature = model.Metric{DisplayName: "Temperature", Unit: "°C", SourceKey: "dht20-temp"}

// scriptedFetcher returns the next scripted response on every call and
// repeats the last one once the script runs out.
type scriptedFetcher struct {
	mu     sync.Mutex
	script []fetchResponse
	calls  atomic.Int32
}

type fetchResponse struct {
	value string
	err   error
}

func (f *scriptedFetcher) Fetch(ctx context.Context, feedKey string) (model.Value, error) {
	n := int(f.calls.Add(1)) - 1

	f.mu.Lock()
	resp := f.script[len(f.script)-1]
	if n < len(f.script) {
		resp = f.script[n]
	}
	f.mu.Unlock()

	if resp.err != nil {
		return model.Value{}, resp.err
	}
	return model.MustValue(resp.value), nil
}

// fakeSubscriber hands out subscriptions whose messages and failures the test drives.
type fakeSubscriber struct {
	mu      sync.Mutex
	err     error
	dropped bool // hand out subscriptions that have already lost their connection
	subs    []*fakeSub
	subbed  chan struct{}
	lastTop string
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{subbed: make(chan struct{}, 8)}
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, topic string, handler connection.MessageHandler) (connection.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTop = topic
	if f.err != nil {
		f.signal()
		return nil, f.err
	}
	s := &fakeSub{handler: handler, errors: make(chan error, 1)}
	if f.dropped {
		s.errors <- connection.ErrConnLost
	}
	f.subs = append(f.subs, s)
	f.signal()
	return s, nil
}

func (f *fakeSubscriber) signal() {
	select {
	case f.subbed <- struct{}{}:
	default:
	}
}

func (f *fakeSubscriber) latest() *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[len(f.subs)-1]
}

func (f *fakeSubscriber) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeSubscriber) waitSubscribed(t *testing.T) {
	t.Helper()
	select {
	case <-f.subbed:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for push subscribe")
	}
}

type fakeSub struct {
	handler connection.MessageHandler
	errors  chan error
	closed  atomic.Int32
}

func (s *fakeSub) Errors() <-chan error { return s.errors }

func (s *fakeSub) Close() error {
	s.closed.Add(1)
	return nil
}

func (s *fakeSub) publish(payload string) {
	s.handler(connection.TimestampedMessage{Data: []byte(payload), ReceivedAt: time.Now()})
}

// recorder collects callbacks.
type recorder struct {
	mu       sync.Mutex
	readings []model.Reading
	errs     []error
	changed  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{changed: make(chan struct{}, 64)}
}

func (r *recorder) onUpdate(rd model.Reading) {
	r.mu.Lock()
	r.readings = append(r.readings, rd)
	r.mu.Unlock()
	r.changed <- struct{}{}
}

func (r *recorder) onError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.changed <- struct{}{}
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.readings), len(r.errs)
}

func (r *recorder) last() model.Reading {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readings[len(r.readings)-1]
}

// waitFor blocks until cond holds or fails the test after timeout.
func (r *recorder) waitFor(t *testing.T, timeout time.Duration, cond func(updates, errs int) bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if cond(r.counts()) {
			return
		}
		select {
		case <-r.changed:
		case <-deadline:
			u, e := r.counts()
			t.Fatalf("timeout: updates=%d errors=%d", u, e)
		}
	}
}

func testConfig(interval time.Duration) Config {
	cfg := DefaultConfig()
	cfg.Account = "farmer"
	cfg.Poll = poller.Config{Interval: interval, Timeout: time.Second}
	return cfg
}

func TestStart_RejectsMissingSourceKey(t *testing.T) {
	s := New(testConfig(time.Hour), nil, nil)
	if _, err := s.Start(context.Background(), model.Metric{DisplayName: "x"}, nil, nil); err == nil {
		t.Fatal("expected error for metric without source key")
	}
}

func TestStart_SubscribesDerivedTopic(t *testing.T) {
	sub := newFakeSubscriber()
	s := New(testConfig(time.Hour), nil, sub)

	h, err := s.Start(context.Background(), temperature, nil, nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.Stop()

	sub.waitSubscribed(t)
	if sub.lastTop != "farmer/feeds/dht20-temp" {
		t.Errorf("topic = %q, want %q", sub.lastTop, "farmer/feeds/dht20-temp")
	}
	if h.Topic() != "farmer/feeds/dht20-temp" {
		t.Errorf("Topic() = %q, want %q", h.Topic(), "farmer/feeds/dht20-temp")
	}
	if h.Metric() != temperature {
		t.Errorf("Metric() = %+v, want %+v", h.Metric(), temperature)
	}
}

// Pull 25 at start, push 27 shortly after, pull 26 on the next tick.
func TestLastWriteWins(t *testing.T) {
	interval := 300 * time.Millisecond
	fetcher := &scriptedFetcher{script: []fetchResponse{{value: "25"}, {value: "26"}}}
	sub := newFakeSubscriber()
	rec := newRecorder()

	s := New(testConfig(interval), fetcher, sub)
	h, err := s.Start(context.Background(), temperature, rec.onUpdate, rec.onError)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.Stop()

	rec.waitFor(t, time.Second, func(u, _ int) bool { return u >= 1 })
	if got := rec.last(); got.Value.String() != "25" || got.Channel != model.ChannelPull {
		t.Errorf("first reading = %s via %s, want 25 via pull", got.Value, got.Channel)
	}

	sub.waitSubscribed(t)
	sub.latest().publish("27")
	rec.waitFor(t, time.Second, func(u, _ int) bool { return u >= 2 })
	if got := rec.last(); got.Value.String() != "27" || got.Channel != model.ChannelPush {
		t.Errorf("after push = %s via %s, want 27 via push", got.Value, got.Channel)
	}

	rec.waitFor(t, 2*interval, func(u, _ int) bool { return u >= 3 })
	last := rec.last()
	if last.Value.String() != "26" || last.Channel != model.ChannelPull {
		t.Errorf("after next tick = %s via %s, want 26 via pull", last.Value, last.Channel)
	}
	if last.Seq != 3 {
		t.Errorf("Seq = %d, want 3", last.Seq)
	}
}

func TestPullFailureKeepsPolling(t *testing.T) {
	fetcher := &scriptedFetcher{script: []fetchResponse{
		{err: errors.New("network timeout")},
		{value: "25"},
	}}
	rec := newRecorder()

	s := New(testConfig(50*time.Millisecond), fetcher, nil)
	h, err := s.Start(context.Background(), temperature, rec.onUpdate, rec.onError)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.Stop()

	rec.waitFor(t, 2*time.Second, func(u, _ int) bool { return u >= 2 })

	_, errCount := rec.counts()
	if errCount != 1 {
		t.Fatalf("errors = %d, want 1", errCount)
	}
	rec.mu.Lock()
	err = rec.errs[0]
	rec.mu.Unlock()

	if !errors.Is(err, ErrTransientFetch) {
		t.Errorf("error = %v, want ErrTransientFetch", err)
	}
	var syncErr *Error
	if !errors.As(err, &syncErr) || syncErr.Channel != model.ChannelPull || syncErr.SourceKey != "dht20-temp" {
		t.Errorf("error = %#v, want pull error for dht20-temp", err)
	}
}

func TestMalformedPull(t *testing.T) {
	fetcher := &scriptedFetcher{script: []fetchResponse{{err: model.ErrMalformed}}}
	rec := newRecorder()

	s := New(testConfig(time.Hour), fetcher, nil)
	h, _ := s.Start(context.Background(), temperature, rec.onUpdate, rec.onError)
	defer h.Stop()

	rec.waitFor(t, time.Second, func(_, e int) bool { return e >= 1 })
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !errors.Is(rec.errs[0], ErrMalformedPayload) {
		t.Errorf("error = %v, want ErrMalformedPayload", rec.errs[0])
	}
}

func TestMalformedPush(t *testing.T) {
	sub := newFakeSubscriber()
	rec := newRecorder()

	s := New(testConfig(time.Hour), nil, sub)
	h, _ := s.Start(context.Background(), temperature, rec.onUpdate, rec.onError)
	defer h.Stop()

	sub.waitSubscribed(t)
	sub.latest().publish("ON")
	sub.latest().publish("28")

	rec.waitFor(t, time.Second, func(u, e int) bool { return u >= 1 && e >= 1 })
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !errors.Is(rec.errs[0], ErrMalformedPayload) {
		t.Errorf("error = %v, want ErrMalformedPayload", rec.errs[0])
	}
	if rec.readings[0].Value.String() != "28" {
		t.Errorf("reading = %s, want 28", rec.readings[0].Value)
	}
}

func TestPushAuthFailure(t *testing.T) {
	sub := newFakeSubscriber()
	sub.err = errors.New("not authorized")
	rec := newRecorder()

	s := New(testConfig(time.Hour), nil, sub)
	h, _ := s.Start(context.Background(), temperature, rec.onUpdate, rec.onError)
	defer h.Stop()

	rec.waitFor(t, time.Second, func(_, e int) bool { return e >= 1 })
	time.Sleep(50 * time.Millisecond)

	updates, errCount := rec.counts()
	if updates != 0 {
		t.Errorf("updates = %d, want 0", updates)
	}
	if errCount != 1 {
		t.Errorf("errors = %d, want 1", errCount)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !errors.Is(rec.errs[0], ErrConnection) {
		t.Errorf("error = %v, want ErrConnection", rec.errs[0])
	}
}

func TestPushDropDoesNotReconnectByDefault(t *testing.T) {
	sub := newFakeSubscriber()
	rec := newRecorder()

	s := New(testConfig(time.Hour), nil, sub)
	h, _ := s.Start(context.Background(), temperature, rec.onUpdate, rec.onError)
	defer h.Stop()

	sub.waitSubscribed(t)
	first := sub.latest()
	first.errors <- connection.ErrConnLost

	rec.waitFor(t, time.Second, func(_, e int) bool { return e >= 1 })
	time.Sleep(50 * time.Millisecond)

	if n := sub.count(); n != 1 {
		t.Errorf("subscriptions = %d, want 1", n)
	}
	if first.closed.Load() != 1 {
		t.Errorf("dropped subscription closed %d times, want 1", first.closed.Load())
	}
}

func TestPushReconnectWithBackoff(t *testing.T) {
	sub := newFakeSubscriber()
	rec := newRecorder()

	cfg := testConfig(time.Hour)
	cfg.Reconnect = true
	cfg.ReconnectBaseDelay = 10 * time.Millisecond
	cfg.ReconnectMaxDelay = 20 * time.Millisecond

	s := New(cfg, nil, sub)
	h, _ := s.Start(context.Background(), temperature, rec.onUpdate, rec.onError)
	defer h.Stop()

	sub.waitSubscribed(t)
	sub.latest().errors <- connection.ErrConnLost
	sub.waitSubscribed(t)

	sub.latest().publish("30")
	rec.waitFor(t, time.Second, func(u, _ int) bool { return u >= 1 })
	if got := rec.last().Value.String(); got != "30" {
		t.Errorf("reading = %s, want 30", got)
	}
	if n := sub.count(); n != 2 {
		t.Errorf("subscriptions = %d, want 2", n)
	}
}

// A session that drops right after SUBACK must still wait out the backoff.
func TestPushReconnectBacksOffAfterImmediateDrop(t *testing.T) {
	sub := newFakeSubscriber()
	sub.dropped = true
	rec := newRecorder()

	cfg := testConfig(time.Hour)
	cfg.Reconnect = true
	cfg.ReconnectBaseDelay = 50 * time.Millisecond
	cfg.ReconnectMaxDelay = 200 * time.Millisecond

	s := New(cfg, nil, sub)
	h, _ := s.Start(context.Background(), temperature, rec.onUpdate, rec.onError)

	sub.waitSubscribed(t)
	time.Sleep(600 * time.Millisecond)
	h.Stop()

	n := sub.count()
	if n < 2 {
		t.Errorf("subscriptions = %d, want at least 2", n)
	}
	if n > 12 {
		t.Errorf("subscriptions = %d in 600ms, want backoff between attempts", n)
	}
	_, errCount := rec.counts()
	if errCount > n {
		t.Errorf("errors = %d, want at most one per subscription (%d)", errCount, n)
	}
	for i, fs := range sub.subs {
		if fs.closed.Load() != 1 {
			t.Errorf("subscription %d closed %d times, want 1", i, fs.closed.Load())
		}
	}
}

// blockingSubscriber stalls in Subscribe until ctx ends, like a broker that
// never answers CONNECT.
type blockingSubscriber struct {
	entered chan struct{}
	exited  chan error
}

func (b *blockingSubscriber) Subscribe(ctx context.Context, _ string, _ connection.MessageHandler) (connection.Subscription, error) {
	close(b.entered)
	<-ctx.Done()
	b.exited <- ctx.Err()
	return nil, ctx.Err()
}

func TestStopDuringPushConnect(t *testing.T) {
	for _, reconnect := range []bool{false, true} {
		t.Run(fmt.Sprintf("reconnect=%v", reconnect), func(t *testing.T) {
			sub := &blockingSubscriber{entered: make(chan struct{}), exited: make(chan error, 1)}
			rec := newRecorder()

			cfg := testConfig(time.Hour)
			cfg.Reconnect = reconnect
			s := New(cfg, nil, sub)
			h, _ := s.Start(context.Background(), temperature, rec.onUpdate, rec.onError)

			select {
			case <-sub.entered:
			case <-time.After(2 * time.Second):
				t.Fatal("timeout waiting for push subscribe")
			}

			stopped := make(chan struct{})
			go func() {
				h.Stop()
				close(stopped)
			}()

			select {
			case <-stopped:
			case <-time.After(2 * time.Second):
				t.Fatal("Stop did not return while push was connecting")
			}

			select {
			case err := <-sub.exited:
				if !errors.Is(err, context.Canceled) {
					t.Errorf("subscribe ctx error = %v, want context.Canceled", err)
				}
			default:
				t.Error("Subscribe still running after Stop returned")
			}
			if u, e := rec.counts(); u != 0 || e != 0 {
				t.Errorf("callbacks = %d updates, %d errors, want none", u, e)
			}
		})
	}
}

// A push handler stuck on a full event buffer must give up once Stop runs.
func TestStopReleasesBlockedPushHandler(t *testing.T) {
	sub := newFakeSubscriber()
	release := make(chan struct{})
	firstUpdate := make(chan struct{})
	var updates atomic.Int32

	onUpdate := func(model.Reading) {
		if updates.Add(1) == 1 {
			close(firstUpdate)
			<-release
		}
	}

	cfg := testConfig(time.Hour)
	cfg.EventBuffer = 4
	s := New(cfg, nil, sub)
	h, _ := s.Start(context.Background(), temperature, onUpdate, nil)

	sub.waitSubscribed(t)
	pushSub := sub.latest()

	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		for i := 0; i < 20; i++ {
			pushSub.publish(fmt.Sprintf("%d", i))
		}
	}()

	<-firstUpdate
	select {
	case <-delivered:
		t.Fatal("publisher finished while dispatch was blocked, want backpressure")
	case <-time.After(100 * time.Millisecond):
	}

	stopped := make(chan struct{})
	go func() {
		h.Stop()
		close(stopped)
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("push handler still blocked after Stop")
	}
	if got := updates.Load(); got >= 20 {
		t.Errorf("updates = %d, want delivery cut short by Stop", got)
	}
}

func TestStopSilencesCallbacks(t *testing.T) {
	interval := 50 * time.Millisecond
	fetcher := &scriptedFetcher{script: []fetchResponse{{value: "25"}}}
	sub := newFakeSubscriber()
	rec := newRecorder()

	s := New(testConfig(interval), fetcher, sub)
	h, _ := s.Start(context.Background(), temperature, rec.onUpdate, rec.onError)

	sub.waitSubscribed(t)
	rec.waitFor(t, time.Second, func(u, _ int) bool { return u >= 1 })
	pushSub := sub.latest()

	h.Stop()
	updates, errCount := rec.counts()
	calls := fetcher.calls.Load()

	// Late push traffic and a full timer interval must produce nothing.
	pushSub.publish("99")
	pushSub.publish("garbage")
	time.Sleep(3 * interval)

	u, e := rec.counts()
	if u != updates || e != errCount {
		t.Errorf("callbacks after Stop: updates %d -> %d, errors %d -> %d", updates, u, errCount, e)
	}
	if got := fetcher.calls.Load(); got != calls {
		t.Errorf("fetches after Stop: %d -> %d", calls, got)
	}
	if pushSub.closed.Load() != 1 {
		t.Errorf("push subscription closed %d times, want 1", pushSub.closed.Load())
	}

	// Second Stop is a no-op.
	h.Stop()
	if pushSub.closed.Load() != 1 {
		t.Errorf("push subscription closed %d times after second Stop, want 1", pushSub.closed.Load())
	}
}

func TestStopDiscardsInFlightPull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	fetcher := fetchFunc(func(ctx context.Context, _ string) (model.Value, error) {
		close(started)
		<-release
		return model.MustValue("25"), nil
	})
	rec := newRecorder()

	s := New(testConfig(time.Hour), fetcher, nil)
	h, _ := s.Start(context.Background(), temperature, rec.onUpdate, rec.onError)

	<-started
	stopped := make(chan struct{})
	go func() {
		h.Stop()
		close(stopped)
	}()

	// Let Stop cancel, then let the request complete.
	time.Sleep(20 * time.Millisecond)
	close(release)
	<-stopped

	if u, e := rec.counts(); u != 0 || e != 0 {
		t.Errorf("callbacks = %d updates, %d errors, want none", u, e)
	}
}

func TestConcurrentStop(t *testing.T) {
	s := New(testConfig(10*time.Millisecond), &scriptedFetcher{script: []fetchResponse{{value: "1"}}}, newFakeSubscriber())
	h, _ := s.Start(context.Background(), temperature, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Stop()
		}()
	}
	wg.Wait()
}

type fetchFunc func(ctx context.Context, feedKey string) (model.Value, error)

func (f fetchFunc) Fetch(ctx context.Context, feedKey string) (model.Value, error) {
	return f(ctx, feedKey)
}

func TestErrorFormatting(t *testing.T) {
	err := &Error{Kind: KindConnection, Channel: model.ChannelPush, SourceKey: "yolo-light", Err: errors.New("eof")}
	if got, want := err.Error(), "push yolo-light: connection error: eof"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if KindMalformedPayload.String() != "malformed_payload" {
		t.Errorf("Kind.String() = %q", KindMalformedPayload.String())
	}
}
