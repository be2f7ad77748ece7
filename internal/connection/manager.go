package connection

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/consultly/mobile-core/internal/identity"
	"github.com/consultly/mobile-core/internal/models"
	"github.com/consultly/mobile-core/internal/transport"
	"github.com/consultly/mobile-core/internal/utils"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config tunes reconnection and liveness. Zero values take defaults.
type Config struct {
	HeartbeatInterval time.Duration
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	MaxAttempts       int
	ConnectTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 3 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 15 * time.Second
	}
	return c
}

// EventHandler receives the raw payload of a named server push. Kept
// as an unnamed func type on the API so narrower consumer interfaces
// can be satisfied structurally.
type EventHandler = func(payload json.RawMessage)

// Manager owns the single live connection per authenticated identity:
// it connects when an identity appears, recovers from drops with capped
// exponential backoff, runs the heartbeat, and fans server pushes out
// to subscribers. Subscribers own their unsubscribe funcs; the manager
// does not deduplicate deliveries across reconnects.
type Manager struct {
	cfg Config
	tr  transport.Transport
	ids identity.Provider
	log *logrus.Entry

	mu              sync.Mutex
	state           State
	attempt         int
	lastHeartbeatAt time.Time
	stopped         bool

	reconnectTimer *time.Timer
	hbStop         chan struct{}

	subs      map[string]map[int]EventHandler
	stateSubs map[int]func(State)
	nextSub   int

	unsubIdentity func()
}

func NewManager(cfg Config, tr transport.Transport, ids identity.Provider, log *logrus.Entry) *Manager {
	m := &Manager{
		cfg:       cfg.withDefaults(),
		tr:        tr,
		ids:       ids,
		log:       log,
		state:     StateDisconnected,
		stopped:   true,
		subs:      make(map[string]map[int]EventHandler),
		stateSubs: make(map[int]func(State)),
	}

	tr.SetHandlers(transport.Handlers{
		OnEvent:      m.dispatchEvent,
		OnDisconnect: m.handleDrop,
		OnPing:       m.touchHeartbeat,
	})

	m.unsubIdentity = ids.Subscribe(func(id models.Identity, present bool) {
		if present {
			m.Initialize()
		} else {
			m.teardown(StateDisconnected)
		}
	})
	return m
}

// Initialize starts (or restarts) the connection lifecycle. Safe to
// call from any state, including failed; it begins a fresh attempt
// budget.
func (m *Manager) Initialize() {
	m.mu.Lock()
	id, ok := m.ids.Current()
	if !ok || !id.Valid() {
		m.mu.Unlock()
		m.log.Warn("initialize without valid identity")
		return
	}
	if m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return
	}
	m.stopped = false
	m.attempt = 0
	m.cancelReconnectLocked()
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	go m.connect(id)
}

// Stop tears the connection down permanently; no retry follows. A later
// Initialize starts over.
func (m *Manager) Stop() {
	m.teardown(StateDisconnected)
}

// Teardown releases everything including the identity subscription;
// for component unmount rather than logout.
func (m *Manager) Teardown() {
	if m.unsubIdentity != nil {
		m.unsubIdentity()
	}
	m.teardown(StateDisconnected)
}

func (m *Manager) teardown(final State) {
	m.mu.Lock()
	m.stopped = true
	m.cancelReconnectLocked()
	m.stopHeartbeatLocked()
	m.setStateLocked(final)
	m.mu.Unlock()
	_ = m.tr.Close()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempt returns the consecutive reconnect attempts since the last
// successful connect.
func (m *Manager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// LastHeartbeatAt is the time of the last confirmed liveness signal.
func (m *Manager) LastHeartbeatAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeartbeatAt
}

// On subscribes handler to a named server push and returns its
// unsubscribe func. Callers must unsubscribe on their own teardown or
// they will receive duplicate deliveries across reconnects.
func (m *Manager) On(event string, handler EventHandler) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	if m.subs[event] == nil {
		m.subs[event] = make(map[int]EventHandler)
	}
	m.subs[event][id] = handler
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		if hs, ok := m.subs[event]; ok {
			delete(hs, id)
		}
		m.mu.Unlock()
	}
}

// OnStateChange subscribes to lifecycle state transitions.
func (m *Manager) OnStateChange(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.stateSubs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.stateSubs, id)
		m.mu.Unlock()
	}
}

// Emit sends an outbound request; ack, when non-nil, receives the
// server's acknowledgment or an error.
func (m *Manager) Emit(event string, payload any, ack transport.Ack) error {
	const op = "Manager.Emit"
	m.mu.Lock()
	st := m.state
	m.mu.Unlock()
	if st != StateConnected {
		return utils.E(utils.CodeUnavailable, op, "not connected", nil)
	}
	return m.tr.Emit(event, payload, ack)
}

// HandleAppStateChange reacts to the host app moving between background
// and foreground. Foregrounding while not connected skips the backoff
// timer and reconnects immediately: the network path likely changed.
func (m *Manager) HandleAppStateChange(active bool) {
	if !active {
		return
	}
	m.mu.Lock()
	id, ok := m.ids.Current()
	st := m.state
	m.mu.Unlock()
	if !ok || !id.Valid() || st == StateConnected || st == StateConnecting {
		return
	}
	m.log.Info("app foregrounded while not connected, reconnecting")
	m.mu.Lock()
	m.cancelReconnectLocked()
	m.stopped = false
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()
	go m.connect(id)
}

func (m *Manager) connect(id models.Identity) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	defer cancel()

	err := m.tr.Connect(ctx, id)

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		if err == nil {
			_ = m.tr.Close()
		}
		return
	}
	if err != nil {
		m.mu.Unlock()
		m.log.WithError(err).Warn("connect failed")
		m.scheduleReconnect()
		return
	}
	m.attempt = 0
	m.lastHeartbeatAt = time.Now()
	m.setStateLocked(StateConnected)
	m.startHeartbeatLocked()
	m.mu.Unlock()
	m.log.Info("connected")
}

// handleDrop reacts to a transport-level disconnect (network drop,
// server-initiated close, read timeout). Local Stop never reaches here.
func (m *Manager) handleDrop(reason string) {
	m.mu.Lock()
	if m.stopped || m.state == StateDisconnected || m.state == StateFailed {
		m.mu.Unlock()
		return
	}
	m.stopHeartbeatLocked()
	m.mu.Unlock()
	m.log.WithField("reason", reason).Warn("connection dropped")
	m.scheduleReconnect()
}

func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.attempt++
	if m.attempt > m.cfg.MaxAttempts {
		m.cancelReconnectLocked()
		m.stopHeartbeatLocked()
		m.setStateLocked(StateFailed)
		attempts := m.attempt
		m.mu.Unlock()
		m.log.WithField("attempts", attempts).Error("reconnect attempts exhausted")
		return
	}
	m.setStateLocked(StateReconnecting)
	delay := backoffDelay(m.attempt, m.cfg.BackoffBase, m.cfg.BackoffCap)
	m.cancelReconnectLocked()
	m.reconnectTimer = time.AfterFunc(delay, m.retry)
	attempt := m.attempt
	m.mu.Unlock()
	m.log.WithFields(logrus.Fields{"attempt": attempt, "delay": delay.String()}).Info("reconnect scheduled")
}

func (m *Manager) retry() {
	m.mu.Lock()
	if m.stopped || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	id, ok := m.ids.Current()
	if !ok || !id.Valid() {
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		return
	}
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()
	m.connect(id)
}

func (m *Manager) startHeartbeatLocked() {
	m.stopHeartbeatLocked()
	stop := make(chan struct{})
	m.hbStop = stop
	go m.heartbeatLoop(stop)
}

func (m *Manager) stopHeartbeatLocked() {
	if m.hbStop != nil {
		close(m.hbStop)
		m.hbStop = nil
	}
}

// heartbeatLoop emits a self-initiated liveness signal on a fixed
// interval. A transport that reports itself not connected at emit time
// counts as a missed heartbeat and triggers an immediate reconnect;
// transport-level disconnect detection can lag real link loss.
func (m *Manager) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !m.tr.IsConnected() {
				m.log.Warn("heartbeat missed, transport not connected")
				m.mu.Lock()
				alive := m.hbStop == stop && !m.stopped
				if alive {
					m.stopHeartbeatLocked()
				}
				m.mu.Unlock()
				if alive {
					m.scheduleReconnect()
				}
				return
			}
			if err := m.tr.Emit(models.EventHeartbeat, map[string]int64{"ts": time.Now().Unix()}, nil); err != nil {
				m.log.WithError(err).Warn("heartbeat emit failed")
				continue
			}
			m.touchHeartbeat()
		}
	}
}

func (m *Manager) touchHeartbeat() {
	m.mu.Lock()
	m.lastHeartbeatAt = time.Now()
	m.mu.Unlock()
}

func (m *Manager) dispatchEvent(event string, payload json.RawMessage) {
	m.mu.Lock()
	hs := m.subs[event]
	handlers := make([]EventHandler, 0, len(hs))
	for _, h := range hs {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	subs := make([]func(State), 0, len(m.stateSubs))
	for _, fn := range m.stateSubs {
		subs = append(subs, fn)
	}
	go func() {
		for _, fn := range subs {
			fn(s)
		}
	}()
}

func (m *Manager) cancelReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}
