package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/consultly/mobile-core/internal/models"
	"github.com/consultly/mobile-core/internal/utils"
)

const (
	writeTimeout = 10 * time.Second
	readTimeout  = 60 * time.Second
	ackTimeout   = 10 * time.Second
)

// envelope is the wire format: every frame is one JSON envelope. A
// frame with Event=="ack" answers a prior emit carrying the same AckID.
type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	AckID   string          `json:"ack_id,omitempty"`
}

// WSTransport implements Transport over a gorilla/websocket client
// connection. Writes are serialized through a mutex; reads run on a
// single goroutine per connection.
type WSTransport struct {
	url string
	log *logrus.Entry

	handlers Handlers

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closing   bool
	gen       int // bumped per connection so a stale read loop cannot report

	ackMu sync.Mutex
	acks  map[string]*pendingAck
}

type pendingAck struct {
	fn    Ack
	timer *time.Timer
}

func NewWSTransport(url string, log *logrus.Entry) *WSTransport {
	return &WSTransport{
		url:  url,
		log:  log,
		acks: make(map[string]*pendingAck),
	}
}

func (t *WSTransport) SetHandlers(h Handlers) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = h
}

func (t *WSTransport) Connect(ctx context.Context, id models.Identity) error {
	const op = "WSTransport.Connect"

	if !id.Valid() {
		return utils.E(utils.CodeInvalidArgument, op, "identity is required", nil)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+id.Credential)
	header.Set("X-User-ID", id.UserID)
	if id.Role != "" {
		header.Set("X-Role", id.Role)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, t.url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return utils.E(utils.CodeUnauthorized, op, "server rejected credentials", err)
		}
		return utils.E(utils.CodeUnavailable, op, "dial failed", err)
	}

	t.mu.Lock()
	if t.conn != nil {
		_ = t.conn.Close()
	}
	t.conn = conn
	t.connected = true
	t.closing = false
	t.gen++
	gen := t.gen
	handlers := t.handlers
	t.mu.Unlock()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		if handlers.OnPing != nil {
			handlers.OnPing()
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.conn != conn {
			return nil
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})

	go t.readLoop(conn, gen, handlers)
	return nil
}

func (t *WSTransport) readLoop(conn *websocket.Conn, gen int, handlers Handlers) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.handleReadError(conn, gen, handlers, err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.log.WithError(err).Warn("dropping malformed frame")
			continue
		}

		if env.Event == "ack" {
			t.resolveAck(env.AckID, env.Payload, nil)
			continue
		}
		if handlers.OnEvent != nil {
			handlers.OnEvent(env.Event, env.Payload)
		}
	}
}

func (t *WSTransport) handleReadError(conn *websocket.Conn, gen int, handlers Handlers, err error) {
	t.mu.Lock()
	stale := t.gen != gen
	local := t.closing
	if !stale {
		t.connected = false
		t.conn = nil
	}
	t.mu.Unlock()
	_ = conn.Close()

	t.failAllAcks(utils.E(utils.CodeUnavailable, "WSTransport", "connection dropped", err))

	if stale || local {
		return
	}
	reason := err.Error()
	if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseServiceRestart) {
		reason = "server-initiated disconnect"
	}
	t.log.WithField("reason", reason).Debug("transport disconnected")
	if handlers.OnDisconnect != nil {
		handlers.OnDisconnect(reason)
	}
}

func (t *WSTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *WSTransport) Emit(event string, payload any, ack Ack) error {
	const op = "WSTransport.Emit"

	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return utils.E(utils.CodeInvalidArgument, op, "unencodable payload", err)
		}
		raw = b
	}

	env := envelope{Event: event, Payload: raw}
	if ack != nil {
		env.AckID = uuid.NewString()
		t.registerAck(env.AckID, ack)
	}

	b, err := json.Marshal(env)
	if err != nil {
		return utils.E(utils.CodeInternal, op, "encode envelope", err)
	}

	t.mu.Lock()
	conn, connected := t.conn, t.connected
	t.mu.Unlock()
	if !connected || conn == nil {
		t.resolveAck(env.AckID, nil, utils.E(utils.CodeUnavailable, op, "not connected", nil))
		return utils.E(utils.CodeUnavailable, op, "not connected", nil)
	}

	t.mu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	werr := conn.WriteMessage(websocket.TextMessage, b)
	t.mu.Unlock()
	if werr != nil {
		t.resolveAck(env.AckID, nil, utils.E(utils.CodeUnavailable, op, "write failed", werr))
		return utils.E(utils.CodeUnavailable, op, "write failed", werr)
	}
	return nil
}

func (t *WSTransport) Close() error {
	t.mu.Lock()
	t.closing = true
	t.connected = false
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	t.failAllAcks(utils.E(utils.CodeUnavailable, "WSTransport.Close", "transport closed", nil))

	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return conn.Close()
}

func (t *WSTransport) registerAck(id string, fn Ack) {
	t.ackMu.Lock()
	defer t.ackMu.Unlock()
	p := &pendingAck{fn: fn}
	p.timer = time.AfterFunc(ackTimeout, func() {
		t.resolveAck(id, nil, utils.E(utils.CodeTimeout, "WSTransport.Emit", "ack timed out", nil))
	})
	t.acks[id] = p
}

func (t *WSTransport) resolveAck(id string, payload json.RawMessage, err error) {
	if id == "" {
		return
	}
	t.ackMu.Lock()
	p, ok := t.acks[id]
	if ok {
		delete(t.acks, id)
	}
	t.ackMu.Unlock()
	if !ok {
		return
	}
	p.timer.Stop()
	p.fn(payload, err)
}

func (t *WSTransport) failAllAcks(err error) {
	t.ackMu.Lock()
	pending := t.acks
	t.acks = make(map[string]*pendingAck)
	t.ackMu.Unlock()
	for _, p := range pending {
		p.timer.Stop()
		p.fn(nil, err)
	}
}
