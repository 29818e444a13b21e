package connection

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"
)

// fakeTransport is an in-memory Transport for driving the Manager's state
// machine without sockets.
type fakeTransport struct {
	mu         sync.Mutex
	sent       [][]byte
	connectErr error
	sendErr    error
	closed     bool

	messages chan TimestampedMessage
	errors   chan error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		messages: make(chan TimestampedMessage, 64),
		errors:   make(chan error, 1),
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error { return f.connectErr }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeTransport) Messages() <-chan TimestampedMessage { return f.messages }
func (f *fakeTransport) Errors() <-chan error                { return f.errors }

func (f *fakeTransport) inject(raw string) {
	f.messages <- TimestampedMessage{Data: []byte(raw), ReceivedAt: time.Now()}
}

func (f *fakeTransport) fail(err error) {
	f.errors <- err
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) sentFrames() []OutboundFrame {
	f.mu.Lock()
	defer f.mu.Unlock()

	frames := make([]OutboundFrame, 0, len(f.sent))
	for _, data := range f.sent {
		var frame OutboundFrame
		if err := json.Unmarshal(data, &frame); err == nil {
			frames = append(frames, frame)
		}
	}
	return frames
}

func (f *fakeTransport) pingCount() int {
	count := 0
	for _, frame := range f.sentFrames() {
		if frame.Type == TypePing {
			count++
		}
	}
	return count
}

// fakeDialer hands out fake transports and records every dial.
type fakeDialer struct {
	mu          sync.Mutex
	failNext    int   // number of upcoming dials that should fail to connect
	sendErrNext error // send error for the next created transport only
	created     []*fakeTransport
}

func (d *fakeDialer) dial(cfg TransportConfig, logger *slog.Logger) Transport {
	d.mu.Lock()
	defer d.mu.Unlock()

	ft := newFakeTransport()
	if d.failNext > 0 {
		ft.connectErr = errors.New("dial refused")
		d.failNext--
	}
	if d.sendErrNext != nil {
		ft.sendErr = d.sendErrNext
		d.sendErrNext = nil
	}
	d.created = append(d.created, ft)
	return ft
}

// failSends makes every Send on the next dialed transport fail.
func (d *fakeDialer) failSends(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sendErrNext = err
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.created)
}

func (d *fakeDialer) transport(i int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.created) {
		return nil
	}
	return d.created[i]
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.created) == 0 {
		return nil
	}
	return d.created[len(d.created)-1]
}

func testConfig() ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.URL = "ws://test.invalid/stream"
	cfg.ReconnectBaseDelay = 10 * time.Millisecond
	cfg.ReconnectMaxDelay = 40 * time.Millisecond
	cfg.MaxReconnectAttempts = 5
	cfg.HeartbeatEnabled = false // heartbeat tests opt back in
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.HeartbeatTimeout = 40 * time.Millisecond
	return cfg
}

func startManager(t *testing.T, cfg ManagerConfig, dialer *fakeDialer) Manager {
	t.Helper()

	mgr := NewManager(cfg, dialer.dial, nil, nil)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		mgr.Stop(ctx)
	})
	return mgr
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestManager_ConnectTransitionsToOpen(t *testing.T) {
	dialer := &fakeDialer{}
	mgr := startManager(t, testConfig(), dialer)

	if s := mgr.Stats(); s.State != StateIdle {
		t.Fatalf("initial state = %v, want %v", s.State, StateIdle)
	}

	mgr.Connect()
	waitFor(t, "open state", func() bool { return mgr.Stats().Connected })

	if s := mgr.Stats(); s.State != StateOpen || s.Attempts != 0 {
		t.Errorf("stats = %+v, want Open with 0 attempts", s)
	}
	if dialer.count() != 1 {
		t.Errorf("dial count = %d, want 1", dialer.count())
	}

	// Connecting again while open must not create a second connection.
	mgr.Connect()
	time.Sleep(30 * time.Millisecond)
	if dialer.count() != 1 {
		t.Errorf("dial count after redundant connect = %d, want 1", dialer.count())
	}
}

func TestManager_FullSubscriptionSetIsFirstFrame(t *testing.T) {
	cfg := testConfig()
	dialer := &fakeDialer{}
	mgr := startManager(t, cfg, dialer)

	mgr.Subscribe("indices", "heatmap", "pulse")
	waitFor(t, "subscriptions registered", func() bool {
		return len(mgr.Stats().Subscriptions) == 3
	})

	mgr.Connect()
	waitFor(t, "open state", func() bool { return mgr.Stats().Connected })

	frames := dialer.last().sentFrames()
	if len(frames) == 0 {
		t.Fatal("no frames sent after open")
	}

	first := frames[0]
	if first.Type != TypeSubscribe {
		t.Fatalf("first frame type = %q, want %q", first.Type, TypeSubscribe)
	}

	got := append([]string(nil), first.Subscriptions...)
	sort.Strings(got)
	want := []string{"heatmap", "indices", "pulse"}
	if len(got) != len(want) {
		t.Fatalf("subscriptions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("subscriptions = %v, want %v", got, want)
		}
	}
}

func TestManager_OfflineSendsFlushFIFO(t *testing.T) {
	dialer := &fakeDialer{}
	mgr := startManager(t, testConfig(), dialer)

	types := []string{"note_a", "note_b", "note_c"}
	for i, typ := range types {
		depth := mgr.Send(NewFrame(typ))
		if depth != i+1 {
			t.Errorf("Send(%q) reported depth %d, want %d", typ, depth, i+1)
		}
	}

	if s := mgr.Stats(); s.QueueDepth != 3 {
		t.Fatalf("queue depth = %d, want 3", s.QueueDepth)
	}

	mgr.Connect()
	waitFor(t, "queue flushed", func() bool { return mgr.Stats().QueueDepth == 0 })

	frames := dialer.last().sentFrames()
	if len(frames) != 3 {
		t.Fatalf("sent %d frames, want 3", len(frames))
	}
	for i, typ := range types {
		if frames[i].Type != typ {
			t.Errorf("frame %d type = %q, want %q (FIFO order)", i, frames[i].Type, typ)
		}
	}
}

func TestManager_FlushFailureRequeuesRemainder(t *testing.T) {
	dialer := &fakeDialer{}
	mgr := startManager(t, testConfig(), dialer)

	types := []string{"note_a", "note_b", "note_c"}
	for _, typ := range types {
		mgr.Send(NewFrame(typ))
	}

	// First connection accepts the handshake but rejects every write: the
	// flush must put all three frames back, not lose the tail.
	dialer.failSends(errors.New("broken pipe"))
	mgr.Connect()

	waitFor(t, "frames re-queued after failed flush", func() bool {
		s := mgr.Stats()
		return s.Connected && s.QueueDepth == 3
	})
	if dropped := mgr.Stats().QueueDropped; dropped != 0 {
		t.Errorf("QueueDropped = %d, want 0 (re-queue is not a drop)", dropped)
	}

	// A healthy connection then delivers them in the original order.
	dialer.last().fail(errors.New("connection reset"))
	waitFor(t, "queue flushed on reconnect", func() bool {
		return dialer.count() == 2 && mgr.Stats().QueueDepth == 0
	})

	frames := dialer.last().sentFrames()
	if len(frames) != 3 {
		t.Fatalf("sent %d frames after reconnect, want 3", len(frames))
	}
	for i, typ := range types {
		if frames[i].Type != typ {
			t.Errorf("frame %d type = %q, want %q (FIFO order preserved)", i, frames[i].Type, typ)
		}
	}
}

func TestManager_SendWhileOpenGoesDirect(t *testing.T) {
	dialer := &fakeDialer{}
	mgr := startManager(t, testConfig(), dialer)

	mgr.Connect()
	waitFor(t, "open state", func() bool { return mgr.Stats().Connected })

	if depth := mgr.Send(NewFrame("direct")); depth != 0 {
		t.Errorf("Send while open reported depth %d, want 0", depth)
	}

	waitFor(t, "frame on wire", func() bool {
		frames := dialer.last().sentFrames()
		return len(frames) == 1 && frames[0].Type == "direct"
	})
}

func TestManager_QueueDisabledDropsOfflineSends(t *testing.T) {
	cfg := testConfig()
	cfg.QueueEnabled = false
	dialer := &fakeDialer{}
	mgr := startManager(t, cfg, dialer)

	if depth := mgr.Send(NewFrame("lost")); depth != 0 {
		t.Errorf("Send reported depth %d, want 0", depth)
	}

	waitFor(t, "drop recorded", func() bool { return mgr.Stats().QueueDropped == 1 })
}

func TestManager_ReconnectsAfterTransportError(t *testing.T) {
	dialer := &fakeDialer{}
	mgr := startManager(t, testConfig(), dialer)

	mgr.Connect()
	waitFor(t, "open state", func() bool { return mgr.Stats().Connected })

	first := dialer.last()
	first.fail(errors.New("connection reset"))

	waitFor(t, "reconnected", func() bool {
		return dialer.count() == 2 && mgr.Stats().Connected
	})

	if !first.isClosed() {
		t.Error("failed transport was not closed")
	}
	if s := mgr.Stats(); s.Attempts != 0 {
		t.Errorf("attempts after reopen = %d, want 0", s.Attempts)
	}
}

func TestManager_SubscriptionsSurviveReconnect(t *testing.T) {
	cfg := testConfig()
	cfg.Subscriptions = []string{"indices"}
	dialer := &fakeDialer{}
	mgr := startManager(t, cfg, dialer)

	mgr.Connect()
	waitFor(t, "open state", func() bool { return mgr.Stats().Connected })

	mgr.Subscribe("heatmap")
	waitFor(t, "incremental subscribe sent", func() bool {
		frames := dialer.last().sentFrames()
		return len(frames) == 2
	})

	dialer.last().fail(errors.New("gone"))
	waitFor(t, "reconnected", func() bool {
		return dialer.count() == 2 && mgr.Stats().Connected
	})

	frames := dialer.last().sentFrames()
	if len(frames) == 0 || frames[0].Type != TypeSubscribe {
		t.Fatalf("first frame after reconnect = %+v, want full subscribe", frames)
	}

	got := append([]string(nil), frames[0].Subscriptions...)
	sort.Strings(got)
	if len(got) != 2 || got[0] != "heatmap" || got[1] != "indices" {
		t.Errorf("re-announced set = %v, want [heatmap indices]", got)
	}
}

func TestManager_HeartbeatPongKeepsConnectionAlive(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatEnabled = true
	dialer := &fakeDialer{}
	mgr := startManager(t, cfg, dialer)

	mgr.Connect()
	waitFor(t, "open state", func() bool { return mgr.Stats().Connected })

	ft := dialer.last()

	// Answer every ping with a pong.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		answered := 0
		for {
			select {
			case <-stop:
				return
			case <-time.After(2 * time.Millisecond):
			}
			for answered < ft.pingCount() {
				ft.inject(`{"type":"pong","timestamp":"2026-01-05T10:00:00Z"}`)
				answered++
			}
		}
	}()

	// Several heartbeat cycles must pass without a forced reset.
	time.Sleep(6 * cfg.HeartbeatInterval)

	if !mgr.Stats().Connected {
		t.Fatal("connection dropped despite pongs")
	}
	if dialer.count() != 1 {
		t.Errorf("dial count = %d, want 1", dialer.count())
	}
	if mgr.Stats().LastHeartbeatAt.IsZero() {
		t.Error("LastHeartbeatAt never recorded")
	}
	if ft.pingCount() < 2 {
		t.Errorf("ping count = %d, want >= 2", ft.pingCount())
	}
}

func TestManager_HeartbeatTimeoutForcesReconnect(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatEnabled = true
	dialer := &fakeDialer{}
	mgr := startManager(t, cfg, dialer)

	mgr.Connect()
	waitFor(t, "open state", func() bool { return mgr.Stats().Connected })

	first := dialer.last()

	// No pong ever arrives: the watchdog must force a reset and reconnect.
	waitFor(t, "forced reconnect", func() bool { return dialer.count() >= 2 })

	if !first.isClosed() {
		t.Error("stale transport was not closed")
	}
	if first.pingCount() == 0 {
		t.Error("no ping was ever sent")
	}
}

func TestManager_DisconnectCancelsReconnectCountdown(t *testing.T) {
	dialer := &fakeDialer{failNext: 1000}
	mgr := startManager(t, testConfig(), dialer)

	mgr.Connect()
	waitFor(t, "first dial failure", func() bool { return dialer.count() >= 1 })

	mgr.Disconnect()
	waitFor(t, "idle state", func() bool { return mgr.Stats().State == StateIdle })

	count := dialer.count()
	time.Sleep(150 * time.Millisecond)

	if dialer.count() != count {
		t.Errorf("dial count grew from %d to %d after disconnect", count, dialer.count())
	}
}

func TestManager_RetryExhaustionIsTerminal(t *testing.T) {
	cfg := testConfig()
	cfg.MaxReconnectAttempts = 2
	dialer := &fakeDialer{failNext: 1000}
	mgr := startManager(t, cfg, dialer)

	mgr.Connect()

	select {
	case err := <-mgr.Errors():
		if !errors.Is(err, ErrRetriesExhausted) {
			t.Fatalf("terminal error = %v, want %v", err, ErrRetriesExhausted)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for exhaustion error")
	}

	// Initial dial plus two retries.
	if dialer.count() != 3 {
		t.Errorf("dial count = %d, want 3", dialer.count())
	}

	count := dialer.count()
	time.Sleep(150 * time.Millisecond)
	if dialer.count() != count {
		t.Error("retries continued after exhaustion")
	}
	if s := mgr.Stats(); s.State != StateClosed {
		t.Errorf("state = %v, want %v", s.State, StateClosed)
	}

	// An explicit reconnect starts a fresh retry budget.
	mgr.Connect()
	waitFor(t, "fresh dial", func() bool { return dialer.count() > count })
}

func TestManager_MalformedInboundIsIsolated(t *testing.T) {
	dialer := &fakeDialer{}
	mgr := startManager(t, testConfig(), dialer)

	mgr.Connect()
	waitFor(t, "open state", func() bool { return mgr.Stats().Connected })

	ft := dialer.last()
	ft.inject(`{{{not json`)
	ft.inject(`{"type":"indices_delta","timestamp":"2026-01-05T10:00:00Z","data":[{"symbol":"SPX"}]}`)

	select {
	case msg := <-mgr.Inbound():
		if msg.Type != TypeIndicesDelta {
			t.Errorf("inbound type = %q, want %q", msg.Type, TypeIndicesDelta)
		}
		if msg.ReceivedAt.IsZero() {
			t.Error("ReceivedAt not set")
		}
	case <-time.After(time.Second):
		t.Fatal("valid message never delivered after malformed one")
	}

	if !mgr.Stats().Connected {
		t.Error("parse failure must not close the connection")
	}
	if dialer.count() != 1 {
		t.Errorf("dial count = %d, want 1", dialer.count())
	}
}

func TestManager_PongIsConsumedInternally(t *testing.T) {
	dialer := &fakeDialer{}
	mgr := startManager(t, testConfig(), dialer)

	mgr.Connect()
	waitFor(t, "open state", func() bool { return mgr.Stats().Connected })

	dialer.last().inject(`{"type":"pong","timestamp":"2026-01-05T10:00:00Z"}`)

	waitFor(t, "heartbeat recorded", func() bool {
		return !mgr.Stats().LastHeartbeatAt.IsZero()
	})

	select {
	case msg := <-mgr.Inbound():
		t.Errorf("pong leaked to consumers: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManager_StopClosesChannelsAfterLoopExit(t *testing.T) {
	dialer := &fakeDialer{}
	mgr := NewManager(testConfig(), dialer.dial, nil, nil)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	mgr.Connect()
	waitFor(t, "open state", func() bool { return mgr.Stats().Connected })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := mgr.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// A completed Stop means every producer goroutine has exited, so the
	// consumer channels must be closed, not left dangling.
	select {
	case _, ok := <-mgr.Inbound():
		if ok {
			t.Error("inbound delivered a message after Stop")
		}
	case <-time.After(time.Second):
		t.Fatal("inbound channel not closed after Stop")
	}
	select {
	case _, ok := <-mgr.StatsUpdates():
		if ok {
			// A final stats snapshot may still be buffered; the channel must
			// still be closed behind it.
			if _, ok := <-mgr.StatsUpdates(); ok {
				t.Error("stats channel still open after Stop")
			}
		}
	case <-time.After(time.Second):
		t.Fatal("stats channel not closed after Stop")
	}
}

func TestManager_SendAfterDisconnectQueues(t *testing.T) {
	dialer := &fakeDialer{}
	mgr := startManager(t, testConfig(), dialer)

	mgr.Connect()
	waitFor(t, "open state", func() bool { return mgr.Stats().Connected })

	mgr.Disconnect()
	waitFor(t, "idle state", func() bool { return mgr.Stats().State == StateIdle })

	if depth := mgr.Send(NewFrame("later")); depth != 1 {
		t.Errorf("Send after disconnect reported depth %d, want 1", depth)
	}
}
