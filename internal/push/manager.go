package push

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/OxyHQ/mention-sync/internal/clock"
	"github.com/OxyHQ/mention-sync/internal/config"
	"github.com/OxyHQ/mention-sync/internal/ops"
)

// Status is the manager's connection state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// ErrNotConnected is returned by Emit while no connection is up.
var ErrNotConnected = errors.New("push: not connected")

// Handler receives every inbound frame.
type Handler func(Frame)

// Manager owns the socket connection: dialing, exponential backoff
// with jitter, heartbeat staleness checks, and teardown. Frames and
// status transitions are delivered through registered callbacks; the
// manager itself knows nothing about feeds.
type Manager struct {
	cfg       *config.Config
	transport Transport
	clk       clock.Clock
	log       *ops.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	randFloat func() float64

	mu                  sync.Mutex
	status              Status
	conn                Conn
	connSeq             uint64
	attempts            int
	healthReconnect     bool
	consecutiveFailures int
	lastPong            time.Time
	manual              bool
	reconnectPending    bool
	reconnectTimer      *clock.Timer
	handler             Handler
	statusFn            func(Status)
	flushFn             func()
}

// NewManager creates a disconnected manager.
func NewManager(cfg *config.Config, transport Transport, clk clock.Clock, log *ops.Logger) *Manager {
	if transport == nil {
		transport = WebsocketTransport{}
	}
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = ops.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:       cfg,
		transport: transport,
		clk:       clk,
		log:       log.WithComponent("push"),
		ctx:       ctx,
		cancel:    cancel,
		randFloat: rand.Float64,
		status:    StatusDisconnected,
	}
}

// OnFrame registers the inbound frame handler.
func (m *Manager) OnFrame(h Handler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

// OnStatus registers the status transition handler.
func (m *Manager) OnStatus(fn func(Status)) {
	m.mu.Lock()
	m.statusFn = fn
	m.mu.Unlock()
}

// SetFlushHook registers the callback Disconnect runs before tearing
// the connection down, so buffered updates land while the session
// state is still coherent.
func (m *Manager) SetFlushHook(fn func()) {
	m.mu.Lock()
	m.flushFn = fn
	m.mu.Unlock()
}

// Status returns the current connection state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Attempts returns the current reconnect attempt counter.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// LastPong returns when the connection last proved alive.
func (m *Manager) LastPong() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPong
}

// Connect establishes the connection. Already connecting or connected
// is a no-op. A dial failure does not surface as an error; the manager
// schedules a backoff retry instead, matching how a transient network
// drop is handled.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.status != StatusDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.manual = false
	m.status = StatusConnecting
	m.mu.Unlock()
	m.notifyStatus(StatusConnecting)

	m.dial(ctx)
	return nil
}

func (m *Manager) dial(ctx context.Context) {
	header := http.Header{}
	if m.cfg.Session.Token != "" {
		header.Set("Authorization", "Bearer "+m.cfg.Session.Token)
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.Socket.HandshakeTimeout())
	conn, err := m.transport.Dial(dialCtx, m.cfg.Socket.URL, header)
	cancel()
	if err != nil {
		m.mu.Lock()
		attempt := m.attempts
		m.mu.Unlock()
		m.log.LogSocketState("dial failed", attempt, err)
		m.scheduleReconnect()
		return
	}

	m.mu.Lock()
	if m.manual {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.conn = conn
	m.connSeq++
	seq := m.connSeq
	m.status = StatusConnected
	if m.healthReconnect {
		// One shot: a connection re-established after a failed health
		// check keeps the attempt counter, so another degraded cycle
		// continues up the backoff schedule instead of starting over.
		m.healthReconnect = false
	} else {
		m.attempts = 0
	}
	m.consecutiveFailures = 0
	m.lastPong = m.clk.Now()
	m.mu.Unlock()

	m.log.LogSocketState("connected", 0, nil)
	m.notifyStatus(StatusConnected)

	m.wg.Add(2)
	go m.readLoop(seq, conn)
	go m.healthLoop(seq)
}

// Disconnect tears the connection down and cancels any pending
// reconnect. The flush hook runs first so queued updates are applied
// before the session goes quiet.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	flush := m.flushFn
	m.mu.Unlock()
	if flush != nil {
		flush()
	}

	m.mu.Lock()
	m.manual = true
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.reconnectPending = false
	m.attempts = 0
	m.healthReconnect = false
	m.consecutiveFailures = 0
	conn := m.conn
	m.conn = nil
	changed := m.status != StatusDisconnected
	m.status = StatusDisconnected
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if changed {
		m.log.LogSocketState("disconnected", 0, nil)
		m.notifyStatus(StatusDisconnected)
	}
}

// Close disconnects and stops all manager goroutines.
func (m *Manager) Close() {
	m.Disconnect()
	m.cancel()
	m.wg.Wait()
}

// OnAppForeground re-establishes a dropped connection when the
// application returns to the foreground. The attempt counter starts
// fresh; an exhausted backoff schedule does not outlive the time in
// background.
func (m *Manager) OnAppForeground() {
	m.mu.Lock()
	if m.status != StatusDisconnected || m.reconnectPending {
		m.mu.Unlock()
		return
	}
	m.attempts = 0
	m.mu.Unlock()

	m.Connect(m.ctx)
}

// Emit sends one frame. Returns ErrNotConnected while the socket is
// down; callers decide whether to drop or queue.
func (m *Manager) Emit(ctx context.Context, event string, data any) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.status == StatusConnected
	m.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	f := Frame{Event: event}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		f.Data = b
	}
	return conn.WriteFrame(ctx, f)
}

func (m *Manager) readLoop(seq uint64, conn Conn) {
	defer m.wg.Done()
	for {
		data, err := conn.Read(m.ctx)
		if err != nil {
			m.connLost(seq, err)
			return
		}

		m.mu.Lock()
		if seq != m.connSeq {
			m.mu.Unlock()
			return
		}
		m.lastPong = m.clk.Now()
		handler := m.handler
		m.mu.Unlock()

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			m.log.Debug("dropping malformed frame", "bytes", len(data))
			continue
		}
		if handler != nil {
			handler(frame)
		}
	}
}

func (m *Manager) connLost(seq uint64, err error) {
	m.mu.Lock()
	if seq != m.connSeq || m.status != StatusConnected {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.conn = nil
	m.status = StatusDisconnected
	manual := m.manual
	attempt := m.attempts
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	m.log.LogSocketState("connection lost", attempt, err)
	m.notifyStatus(StatusDisconnected)
	if !manual {
		m.scheduleReconnect()
	}
}

func (m *Manager) healthLoop(seq uint64) {
	defer m.wg.Done()
	ticker := m.clk.NewTicker(m.cfg.Heartbeat.CheckInterval())
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		if seq != m.connSeq || m.status != StatusConnected {
			m.mu.Unlock()
			return
		}
		conn := m.conn
		m.mu.Unlock()

		pingCtx, cancel := context.WithTimeout(m.ctx, m.cfg.Socket.HandshakeTimeout())
		pingErr := conn.Ping(pingCtx)
		cancel()

		m.mu.Lock()
		if seq != m.connSeq || m.status != StatusConnected {
			m.mu.Unlock()
			return
		}
		if pingErr == nil {
			m.lastPong = m.clk.Now()
		}
		sincePong := m.clk.Now().Sub(m.lastPong)
		if sincePong > m.cfg.Heartbeat.StaleAfter() {
			m.consecutiveFailures++
		} else {
			m.consecutiveFailures = 0
		}
		failures := m.consecutiveFailures
		forcing := failures >= m.cfg.Heartbeat.FailureThreshold
		if forcing {
			m.healthReconnect = true
		}
		m.mu.Unlock()

		m.log.LogHealthCheck(sincePong, failures, forcing)
		if forcing {
			m.forceReconnect(seq)
			return
		}
	}
}

func (m *Manager) forceReconnect(seq uint64) {
	m.mu.Lock()
	if seq != m.connSeq || m.status != StatusConnected {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.conn = nil
	m.status = StatusDisconnected
	m.consecutiveFailures = 0
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	m.notifyStatus(StatusDisconnected)
	m.scheduleReconnect()
}

func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.manual || m.reconnectPending {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.cfg.Reconnect.MaxAttempts {
		changed := m.status != StatusDisconnected
		m.status = StatusDisconnected
		m.mu.Unlock()
		m.log.LogSocketState("retries exhausted", m.cfg.Reconnect.MaxAttempts, nil)
		if changed {
			m.notifyStatus(StatusDisconnected)
		}
		return
	}
	m.attempts++
	attempt := m.attempts
	healthTriggered := m.healthReconnect
	delay := reconnectDelay(
		m.cfg.Reconnect.BaseDelay(),
		m.cfg.Reconnect.MaxDelay(),
		m.cfg.Reconnect.Jitter,
		attempt,
		m.randFloat(),
	)
	m.reconnectPending = true
	notify := m.status == StatusDisconnected
	m.status = StatusConnecting
	m.reconnectTimer = m.clk.AfterFunc(delay, func() {
		m.mu.Lock()
		m.reconnectPending = false
		m.reconnectTimer = nil
		manual := m.manual
		m.mu.Unlock()
		if manual {
			return
		}
		m.dial(m.ctx)
	})
	m.mu.Unlock()

	m.log.LogReconnectScheduled(attempt, delay, healthTriggered)
	if notify {
		m.notifyStatus(StatusConnecting)
	}
}

func (m *Manager) notifyStatus(s Status) {
	m.mu.Lock()
	fn := m.statusFn
	m.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// reconnectDelay computes the backoff for the given attempt, starting
// at attempt 1: base doubled per attempt, scaled by up to jitter
// fraction of itself, capped at max. r is uniform in [0, 1).
func reconnectDelay(base, max time.Duration, jitter float64, attempt int, r float64) time.Duration {
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)) * (1 + r*jitter))
	if d > max {
		d = max
	}
	return d
}
