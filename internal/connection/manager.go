package connection

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marketintel/dashboard-sync/internal/metrics"
)

// Manager owns the single stream connection, its lifecycle, and the
// components that keep it healthy across drops.
type Manager interface {
	// Start launches the event loop. It does not connect.
	Start(ctx context.Context) error

	// Stop disconnects cleanly and shuts the loop down.
	Stop(ctx context.Context) error

	// Connect requests a connection. Returns immediately; completion is
	// observable via Stats/StatsUpdates.
	Connect()

	// Disconnect closes the transport with a clean-shutdown code and cancels
	// all pending reconnect and heartbeat timers.
	Disconnect()

	// Send transmits a frame if the connection is open, otherwise queues it.
	// Never fails; the return value is the queue depth after the call
	// (0 when the frame went straight to the wire).
	Send(frame OutboundFrame) int

	// Subscribe adds topics to the registry and announces them when online.
	Subscribe(topics ...string)

	// Unsubscribe removes topics from the registry and announces the removal
	// when online.
	Unsubscribe(topics ...string)

	// Stats returns the current observable connection state.
	Stats() Stats

	// StatsUpdates returns a latest-wins channel of stats snapshots.
	StatsUpdates() <-chan Stats

	// Inbound returns parsed data messages for the merge coordinator.
	// Pong frames are consumed internally.
	Inbound() <-chan StreamMessage

	// Errors returns terminal errors (reconnect exhaustion).
	Errors() <-chan error
}

type eventKind int

const (
	evConnect eventKind = iota
	evDisconnect
	evSend
	evSubscribe
	evUnsubscribe
	evDialResult
	evInbound
	evTransportError
	evHeartbeatTick
	evHeartbeatExpire
	evRetryTimer
)

// event is the single currency of the Manager's loop. Generation-scoped
// events (gen != 0) are ignored when they outlive their connection.
type event struct {
	kind      eventKind
	gen       uint64
	transport Transport
	err       error
	data      []byte
	msg       TimestampedMessage
	topics    []string
	reply     chan int
}

// manager implements the Manager interface.
type manager struct {
	cfg     ManagerConfig
	dial    Dialer
	logger  *slog.Logger
	metrics *metrics.Metrics

	events  chan event
	inbound chan StreamMessage
	errs    chan error
	statsCh chan Stats

	started atomic.Bool
	stats   atomic.Pointer[Stats]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Loop-owned state. Only handle() and its helpers touch these.
	state           State
	transport       Transport
	gen             uint64
	attempts        int
	queue           *outboundQueue
	subs            *subscriptionSet
	backoff         backoff
	lastMessageAt   time.Time
	lastHeartbeatAt time.Time
	parseErrors     int64
	offlineDrops    int64

	pingTimer  *time.Timer
	pongTimer  *time.Timer
	retryTimer *time.Timer
}

// NewManager creates a connection Manager. A nil dialer selects the real
// WebSocket transport; tests inject fakes.
func NewManager(cfg ManagerConfig, dial Dialer, m *metrics.Metrics, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if dial == nil {
		dial = NewTransport
	}

	mgr := &manager{
		cfg:     cfg,
		dial:    dial,
		logger:  logger,
		metrics: m,
		events:  make(chan event, 256),
		inbound: make(chan StreamMessage, cfg.InboundBufferSize),
		errs:    make(chan error, 1),
		statsCh: make(chan Stats, 1),
		state:   StateIdle,
		queue:   newOutboundQueue(cfg.QueueLimit),
		subs:    newSubscriptionSet(cfg.Subscriptions),
		backoff: backoff{base: cfg.ReconnectBaseDelay, max: cfg.ReconnectMaxDelay},
	}
	mgr.stats.Store(&Stats{State: StateIdle, Subscriptions: mgr.subs.all()})
	return mgr
}

// Start launches the event loop.
func (m *manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.started.Store(true)

	m.wg.Add(1)
	go m.run()

	m.logger.Info("connection manager started",
		"url", m.cfg.URL,
		"heartbeat", m.cfg.HeartbeatEnabled,
		"queue_limit", m.cfg.QueueLimit,
		"subscriptions", m.subs.len(),
	)

	return nil
}

// Stop disconnects and shuts down the loop.
func (m *manager) Stop(ctx context.Context) error {
	m.logger.Info("stopping connection manager")

	m.post(event{kind: evDisconnect})
	if m.cancel != nil {
		m.cancel()
	}
	m.started.Store(false)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// Every goroutine that writes these channels has exited.
		close(m.inbound)
		close(m.statsCh)
	case <-ctx.Done():
		// Leave the channels open: a straggling goroutine could still write.
		m.logger.Warn("shutdown timeout, forcing stop")
		return ctx.Err()
	}

	m.logger.Info("connection manager stopped")
	return nil
}

func (m *manager) Connect()    { m.post(event{kind: evConnect}) }
func (m *manager) Disconnect() { m.post(event{kind: evDisconnect}) }

// Send marshals and dispatches a frame. Queue depth after the call is
// returned so callers can surface backlog to users.
func (m *manager) Send(frame OutboundFrame) int {
	data, _ := json.Marshal(frame)

	reply := make(chan int, 1)
	if !m.post(event{kind: evSend, data: data, reply: reply}) {
		return 0
	}
	select {
	case depth := <-reply:
		return depth
	case <-m.ctx.Done():
		return 0
	}
}

func (m *manager) Subscribe(topics ...string) {
	m.post(event{kind: evSubscribe, topics: topics})
}

func (m *manager) Unsubscribe(topics ...string) {
	m.post(event{kind: evUnsubscribe, topics: topics})
}

// Stats returns the latest published snapshot.
func (m *manager) Stats() Stats {
	return *m.stats.Load()
}

func (m *manager) StatsUpdates() <-chan Stats     { return m.statsCh }
func (m *manager) Inbound() <-chan StreamMessage  { return m.inbound }
func (m *manager) Errors() <-chan error           { return m.errs }

// post delivers an event to the loop. Returns false if the manager is not
// running; events are never delivered to a stopped loop.
func (m *manager) post(ev event) bool {
	if !m.started.Load() || m.ctx == nil {
		return false
	}
	select {
	case m.events <- ev:
		return true
	case <-m.ctx.Done():
		return false
	}
}

// run is the event loop. All lifecycle state lives on this goroutine.
func (m *manager) run() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			m.teardown()
			return
		case ev := <-m.events:
			m.handle(ev)
		}
	}
}

// handle is the single entry point for every state transition.
func (m *manager) handle(ev event) {
	// Generation-scoped events from a previous connection are stale.
	if ev.gen != 0 && ev.gen != m.gen {
		if ev.kind == evDialResult && ev.err == nil && ev.transport != nil {
			ev.transport.Close()
		}
		return
	}

	switch ev.kind {
	case evConnect:
		m.handleConnect()
	case evDisconnect:
		m.handleDisconnect()
	case evSend:
		m.handleSend(ev)
	case evSubscribe:
		m.handleSubscribe(ev.topics)
	case evUnsubscribe:
		m.handleUnsubscribe(ev.topics)
	case evDialResult:
		m.handleDialResult(ev)
	case evInbound:
		m.handleInbound(ev.msg)
	case evTransportError:
		m.logger.Warn("transport error", "error", ev.err)
		m.toClosed()
		m.scheduleRetry()
	case evHeartbeatTick:
		m.handleHeartbeatTick()
	case evHeartbeatExpire:
		m.handleHeartbeatExpire()
	case evRetryTimer:
		if m.state == StateClosed {
			m.startDial()
		}
	}
}

// handleConnect begins dialing unless a connection already exists.
func (m *manager) handleConnect() {
	switch m.state {
	case StateOpen, StateConnecting:
		m.logger.Debug("connect ignored, connection already in progress", "state", m.state)
		return
	}

	// An explicit connect starts a fresh retry budget.
	m.attempts = 0
	m.startDial()
}

// startDial transitions to Connecting and dials asynchronously.
func (m *manager) startDial() {
	m.state = StateConnecting
	m.gen++
	gen := m.gen
	m.publishStats()

	tr := m.dial(TransportConfig{
		URL:          m.cfg.URL,
		WriteTimeout: m.cfg.WriteTimeout,
		BufferSize:   m.cfg.BufferSize,
	}, m.logger)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		err := tr.Connect(m.ctx)
		m.post(event{kind: evDialResult, gen: gen, transport: tr, err: err})
	}()
}

// handleDialResult completes or fails the Connecting state.
func (m *manager) handleDialResult(ev event) {
	if m.state != StateConnecting {
		if ev.err == nil && ev.transport != nil {
			ev.transport.Close()
		}
		return
	}

	if ev.err != nil {
		m.logger.Warn("connect failed", "error", ev.err, "attempt", m.attempts)
		m.state = StateClosed
		m.publishStats()
		m.scheduleRetry()
		return
	}

	m.transport = ev.transport
	m.onOpen()
}

// onOpen applies the Connecting→Open side effects: reset the attempt counter,
// re-announce the full subscription set, flush the outbound queue in order,
// and start the heartbeat.
func (m *manager) onOpen() {
	m.state = StateOpen
	m.attempts = 0
	m.lastHeartbeatAt = time.Now()
	m.metrics.SetConnected(true)

	m.logger.Info("stream connected", "url", m.cfg.URL)

	// The full subscription set is the first frame on every connection; this
	// is what makes subscriptions durable across drops.
	if m.subs.len() > 0 {
		frame := NewFrame(TypeSubscribe)
		frame.Subscriptions = m.subs.all()
		m.transportSend(frame)
	}

	// Flush queued frames strictly in insertion order. A send error interrupts
	// the flush; the failed frame and the unsent tail go back on the queue so
	// the reconnect this error triggers can flush them.
	pending := m.queue.drain()
	flushed := 0
	for i, f := range pending {
		if err := m.transport.Send(f.Data); err != nil {
			m.logger.Warn("flush interrupted, re-queueing remaining frames",
				"frame_id", f.ID,
				"remaining", len(pending)-i,
				"error", err,
			)
			m.queue.requeue(pending[i:])
			break
		}
		flushed++
	}
	if flushed > 0 {
		m.logger.Info("outbound queue flushed", "frames", flushed)
	}
	m.metrics.SetQueueDepth(m.queue.len())

	m.startPump()
	m.startHeartbeat()
	m.publishStats()
}

// startPump forwards transport messages and errors into the loop.
func (m *manager) startPump() {
	gen := m.gen
	tr := m.transport

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-m.ctx.Done():
				return
			case err := <-tr.Errors():
				m.post(event{kind: evTransportError, gen: gen, err: err})
				return
			case msg, ok := <-tr.Messages():
				if !ok {
					return
				}
				m.post(event{kind: evInbound, gen: gen, msg: msg})
			}
		}
	}()
}

// handleInbound parses a raw message, consumes pongs, and forwards data
// messages to the merge coordinator. Parse failures are isolated: logged,
// counted, dropped.
func (m *manager) handleInbound(msg TimestampedMessage) {
	m.lastMessageAt = msg.ReceivedAt

	var env inboundEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil || env.Type == "" {
		m.parseErrors++
		m.metrics.RecordParseError()
		m.logger.Warn("dropping malformed inbound message", "error", err)
		return
	}

	m.metrics.RecordInbound(env.Type)

	if env.Type == TypePong {
		m.lastHeartbeatAt = time.Now()
		if m.pongTimer != nil {
			m.pongTimer.Stop()
			m.pongTimer = nil
		}
		m.publishStats()
		return
	}

	ts, _ := time.Parse(time.RFC3339, env.Timestamp)
	out := StreamMessage{
		Type:       env.Type,
		Timestamp:  ts,
		Data:       env.Data,
		ReceivedAt: msg.ReceivedAt,
	}

	select {
	case m.inbound <- out:
	default:
		m.logger.Warn("inbound consumer behind, dropping message", "type", env.Type)
	}
	m.publishStats()
}

// handleSend transmits immediately when Open, otherwise queues.
func (m *manager) handleSend(ev event) {
	depth := 0

	switch {
	case m.state == StateOpen && m.transport != nil:
		if err := m.transport.Send(ev.data); err != nil {
			// The transport will surface its own error event; keep the frame.
			m.logger.Warn("send failed, queueing frame", "error", err)
			depth = m.enqueue(ev.data)
		}
	case m.cfg.QueueEnabled:
		depth = m.enqueue(ev.data)
	default:
		m.offlineDrops++
		m.logger.Debug("queueing disabled, dropping offline frame")
	}

	if ev.reply != nil {
		ev.reply <- depth
	}
	m.publishStats()
}

// enqueue pushes a frame onto the bounded queue, accounting for evictions.
func (m *manager) enqueue(data []byte) int {
	evicted, dropped := m.queue.push(data)
	if dropped {
		m.metrics.RecordQueueDrop()
		m.logger.Warn("outbound queue full, dropped oldest frame",
			"frame_id", evicted,
			"limit", m.cfg.QueueLimit,
		)
	}
	m.metrics.SetQueueDepth(m.queue.len())
	return m.queue.len()
}

// handleSubscribe records topics and announces additions when online.
// Offline changes are not queued frame-by-frame: the full-set re-announcement
// on the next open supersedes them.
func (m *manager) handleSubscribe(topics []string) {
	added := m.subs.add(topics)
	if len(added) == 0 {
		return
	}

	m.logger.Debug("subscribed", "topics", added, "total", m.subs.len())

	if m.state == StateOpen && m.transport != nil {
		frame := NewFrame(TypeSubscribe)
		frame.Subscriptions = added
		m.transportSend(frame)
	}
	m.publishStats()
}

// handleUnsubscribe records removals and announces them when online.
func (m *manager) handleUnsubscribe(topics []string) {
	removed := m.subs.remove(topics)
	if len(removed) == 0 {
		return
	}

	m.logger.Debug("unsubscribed", "topics", removed, "total", m.subs.len())

	if m.state == StateOpen && m.transport != nil {
		frame := NewFrame(TypeUnsubscribe)
		frame.Unsubscriptions = removed
		m.transportSend(frame)
	}
	m.publishStats()
}

// handleDisconnect is the clean local shutdown: cancel every pending timer,
// close the transport with the normal-closure code, and settle in Idle so no
// automatic reconnection fires.
func (m *manager) handleDisconnect() {
	m.cancelRetry()
	m.stopHeartbeat()

	// Invalidate in-flight dial results and pump events.
	m.gen++

	if m.transport != nil {
		m.state = StateClosing
		m.transport.Close()
		m.transport = nil
	}

	m.state = StateIdle
	m.attempts = 0
	m.metrics.SetConnected(false)
	m.publishStats()

	m.logger.Info("disconnected")
}

// handleHeartbeatTick sends a liveness probe and arms the pong watchdog.
func (m *manager) handleHeartbeatTick() {
	if m.state != StateOpen || m.transport == nil {
		return
	}

	data, _ := json.Marshal(NewFrame(TypePing))
	if err := m.transport.Send(data); err != nil {
		m.logger.Warn("heartbeat send failed", "error", err)
		m.toClosed()
		m.scheduleRetry()
		return
	}

	// Arm the watchdog unless a previous ping is still unanswered.
	if m.pongTimer == nil {
		gen := m.gen
		m.pongTimer = time.AfterFunc(m.cfg.HeartbeatTimeout, func() {
			m.post(event{kind: evHeartbeatExpire, gen: gen})
		})
	}

	m.armPingTimer()
}

// handleHeartbeatExpire treats a missing pong as a dead connection.
func (m *manager) handleHeartbeatExpire() {
	if m.state != StateOpen {
		return
	}

	m.logger.Warn("heartbeat timeout, forcing reconnect",
		"last_heartbeat", m.lastHeartbeatAt,
		"timeout", m.cfg.HeartbeatTimeout,
	)
	m.metrics.RecordHeartbeatTimeout()

	// Indistinguishable from a network-induced closure from here on.
	m.toClosed()
	m.scheduleRetry()
}

// startHeartbeat arms the ping interval timer for the current connection.
func (m *manager) startHeartbeat() {
	if !m.cfg.HeartbeatEnabled {
		return
	}
	m.armPingTimer()
}

func (m *manager) armPingTimer() {
	if !m.cfg.HeartbeatEnabled {
		return
	}
	gen := m.gen
	m.pingTimer = time.AfterFunc(m.cfg.HeartbeatInterval, func() {
		m.post(event{kind: evHeartbeatTick, gen: gen})
	})
}

// stopHeartbeat cancels both heartbeat timers so nothing acts on a stale
// transport.
func (m *manager) stopHeartbeat() {
	if m.pingTimer != nil {
		m.pingTimer.Stop()
		m.pingTimer = nil
	}
	if m.pongTimer != nil {
		m.pongTimer.Stop()
		m.pongTimer = nil
	}
}

// toClosed tears down the current connection after an error or forced reset.
func (m *manager) toClosed() {
	m.stopHeartbeat()
	m.gen++

	if m.transport != nil {
		m.transport.Close()
		m.transport = nil
	}

	m.state = StateClosed
	m.metrics.SetConnected(false)
	m.publishStats()
}

// scheduleRetry arms the reconnect timer, or surfaces a terminal error once
// the attempt ceiling is exceeded.
func (m *manager) scheduleRetry() {
	m.attempts++
	m.metrics.RecordReconnectAttempt()

	if m.attempts > m.cfg.MaxReconnectAttempts {
		m.logger.Error("reconnect attempts exhausted",
			"attempts", m.attempts-1,
			"max", m.cfg.MaxReconnectAttempts,
		)
		select {
		case m.errs <- ErrRetriesExhausted:
		default:
		}
		m.publishStats()
		return
	}

	delay := m.backoff.delay(m.attempts)
	m.logger.Info("scheduling reconnect",
		"attempt", m.attempts,
		"delay", delay,
	)

	gen := m.gen
	m.retryTimer = time.AfterFunc(delay, func() {
		m.post(event{kind: evRetryTimer, gen: gen})
	})
	m.publishStats()
}

// cancelRetry stops a pending reconnect countdown.
func (m *manager) cancelRetry() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

// transportSend marshals and writes a frame, leaving error handling to the
// transport's own error path.
func (m *manager) transportSend(frame OutboundFrame) {
	data, _ := json.Marshal(frame)
	if err := m.transport.Send(data); err != nil {
		m.logger.Warn("send failed", "type", frame.Type, "error", err)
	}
}

// publishStats rebuilds the observable snapshot and pushes it latest-wins.
func (m *manager) publishStats() {
	s := Stats{
		Connected:       m.state == StateOpen,
		State:           m.state,
		LastMessageAt:   m.lastMessageAt,
		LastHeartbeatAt: m.lastHeartbeatAt,
		Attempts:        m.attempts,
		QueueDepth:      m.queue.len(),
		QueueDropped:    m.queue.droppedTotal() + m.offlineDrops,
		Subscriptions:   m.subs.all(),
	}
	m.stats.Store(&s)

	// Latest-wins: displace a stale unconsumed snapshot.
	select {
	case m.statsCh <- s:
	default:
		select {
		case <-m.statsCh:
		default:
		}
		select {
		case m.statsCh <- s:
		default:
		}
	}
}

// teardown runs when the loop exits.
func (m *manager) teardown() {
	m.cancelRetry()
	m.stopHeartbeat()
	if m.transport != nil {
		m.transport.Close()
		m.transport = nil
	}
	m.state = StateClosed
}
