package transport

import (
	"context"
	"encoding/json"

	"github.com/consultly/mobile-core/internal/models"
)

// Ack receives the server's acknowledgment payload for an emit, or an
// error if the ack never arrived.
type Ack func(payload json.RawMessage, err error)

// Handlers are the callbacks a transport owner installs before Connect.
// They are invoked from the transport's read goroutine.
type Handlers struct {
	// OnEvent delivers a named server push.
	OnEvent func(event string, payload json.RawMessage)
	// OnDisconnect reports the link dropping, with the transport-level
	// reason. Not called for a local Close.
	OnDisconnect func(reason string)
	// OnPing fires when the server probes liveness.
	OnPing func()
}

// Transport is the bidirectional event channel to the coordination
// server. Implementations must tolerate Emit racing a disconnect.
type Transport interface {
	Connect(ctx context.Context, id models.Identity) error
	Close() error
	IsConnected() bool
	Emit(event string, payload any, ack Ack) error
	SetHandlers(h Handlers)
}
