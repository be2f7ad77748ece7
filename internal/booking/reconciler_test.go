package booking

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultly/mobile-core/internal/logger"
	"github.com/consultly/mobile-core/internal/models"
	"github.com/consultly/mobile-core/internal/transport"
)

type fakeConn struct {
	mu       sync.Mutex
	handlers map[string][]func(json.RawMessage)
	emitted  []emitCall
	// pendingAnswer, when set, is delivered as the ack payload of a
	// get_pending_bookings emit
	pendingAnswer []models.PendingBooking
	emitErr       error
}

type emitCall struct {
	event   string
	payload any
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: map[string][]func(json.RawMessage){}}
}

func (c *fakeConn) On(event string, handler func(json.RawMessage)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], handler)
	return func() {}
}

func (c *fakeConn) Emit(event string, payload any, ack transport.Ack) error {
	c.mu.Lock()
	c.emitted = append(c.emitted, emitCall{event: event, payload: payload})
	err := c.emitErr
	answer := c.pendingAnswer
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if ack != nil && event == models.EventPendingBookings {
		b, _ := json.Marshal(answer)
		ack(b, nil)
	}
	return nil
}

func (c *fakeConn) push(event string, v any) {
	b, _ := json.Marshal(v)
	c.mu.Lock()
	hs := append([]func(json.RawMessage){}, c.handlers[event]...)
	c.mu.Unlock()
	for _, h := range hs {
		h(b)
	}
}

func (c *fakeConn) emits(event string) []emitCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []emitCall
	for _, e := range c.emitted {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type fakeRoster struct {
	cached    map[string]models.Astrologer
	lookup    map[string]models.Astrologer
	lookupErr error
}

func (r *fakeRoster) Cached(id string) (models.Astrologer, bool) {
	a, ok := r.cached[id]
	return a, ok
}

func (r *fakeRoster) Lookup(_ context.Context, id string) (models.Astrologer, error) {
	if r.lookupErr != nil {
		return models.Astrologer{}, r.lookupErr
	}
	a, ok := r.lookup[id]
	if !ok {
		return models.Astrologer{}, errors.New("no such astrologer")
	}
	return a, nil
}

func newTestReconciler(t *testing.T, conn *fakeConn, roster Roster) *Reconciler {
	t.Helper()
	r := NewReconciler(conn, roster, logger.Component(logger.New(), "test"))
	r.Start()
	t.Cleanup(r.Stop)
	return r
}

func TestRefreshReplacesList(t *testing.T) {
	conn := newFakeConn()
	conn.pendingAnswer = []models.PendingBooking{
		{BookingID: "b1", AstrologerID: "a1", Type: models.ConsultationChat, Status: models.BookingPending},
		{BookingID: "b2", AstrologerID: "a2", Type: models.ConsultationVoice, Status: models.BookingExpired},
	}
	r := newTestReconciler(t, conn, nil)

	require.NoError(t, r.Refresh(context.Background()))
	active := r.Active()
	require.Len(t, active, 1, "terminal entries filtered from the pull answer")
	assert.Equal(t, "b1", active[0].BookingID)
}

func TestAcceptedPushAssignsSession(t *testing.T) {
	conn := newFakeConn()
	conn.pendingAnswer = []models.PendingBooking{
		{BookingID: "b1", AstrologerID: "a1", Type: models.ConsultationChat, Status: models.BookingPending},
	}
	r := newTestReconciler(t, conn, nil)
	require.NoError(t, r.Refresh(context.Background()))

	conn.push(models.EventBookingStatus, models.BookingStatusPush{
		BookingID:      "b1",
		Status:         models.BookingAccepted,
		SessionID:      "sess1",
		AstrologerName: "X",
	})

	active := r.Active()
	require.Len(t, active, 1)
	assert.Equal(t, models.BookingAccepted, active[0].Status)
	assert.Equal(t, "sess1", active[0].SessionID)
	assert.Equal(t, "X", active[0].Astrologer.Name)

	sessionID, err := r.Join("b1")
	require.NoError(t, err)
	assert.Equal(t, "sess1", sessionID)
}

func TestTerminalPushRemovesEntry(t *testing.T) {
	conn := newFakeConn()
	conn.pendingAnswer = []models.PendingBooking{
		{BookingID: "b1", AstrologerID: "a1", Type: models.ConsultationChat, Status: models.BookingPending},
	}
	r := newTestReconciler(t, conn, nil)
	require.NoError(t, r.Refresh(context.Background()))

	conn.push(models.EventBookingStatus, models.BookingStatusPush{BookingID: "b1", Status: models.BookingRejected})
	assert.Empty(t, r.Active())

	// redelivery after reconnect must be harmless
	conn.push(models.EventBookingStatus, models.BookingStatusPush{BookingID: "b1", Status: models.BookingRejected})
	assert.Empty(t, r.Active())
}

func TestTerminalRemovalIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	conn.pendingAnswer = []models.PendingBooking{
		{BookingID: "b1", AstrologerID: "a1", Status: models.BookingPending},
		{BookingID: "b2", AstrologerID: "a2", Status: models.BookingPending},
	}
	r := newTestReconciler(t, conn, nil)
	require.NoError(t, r.Refresh(context.Background()))

	push := models.BookingStatusPush{BookingID: "b2", Status: models.BookingCancelled}
	conn.push(models.EventBookingStatus, push)
	once := r.Active()
	conn.push(models.EventBookingStatus, push)
	twice := r.Active()

	assert.Equal(t, once, twice)
	require.Len(t, twice, 1)
	assert.Equal(t, "b1", twice[0].BookingID)
}

func TestVoiceAcceptanceHasNoSession(t *testing.T) {
	conn := newFakeConn()
	conn.pendingAnswer = []models.PendingBooking{
		{BookingID: "b1", AstrologerID: "a1", Type: models.ConsultationVoice, Status: models.BookingPending},
	}
	r := newTestReconciler(t, conn, nil)

	var notified []models.PendingBooking
	r.OnVoiceAccepted = func(b models.PendingBooking) { notified = append(notified, b) }

	require.NoError(t, r.Refresh(context.Background()))
	conn.push(models.EventBookingStatus, models.BookingStatusPush{
		BookingID:      "b1",
		Status:         models.BookingAccepted,
		SessionID:      "should-be-ignored",
		AstrologerName: "Y",
	})

	active := r.Active()
	require.Len(t, active, 1)
	assert.Equal(t, models.BookingAccepted, active[0].Status)
	assert.Empty(t, active[0].SessionID, "voice bookings never get a session id")
	require.Len(t, notified, 1)

	_, err := r.Join("b1")
	assert.Error(t, err, "voice bookings are not joinable")
}

func TestSnapshotFallbackChain(t *testing.T) {
	tests := []struct {
		name     string
		roster   Roster
		push     models.BookingStatusPush
		wantName string
	}{
		{
			name:     "loaded roster wins",
			roster:   &fakeRoster{cached: map[string]models.Astrologer{"a1": {ID: "a1", Name: "Cached Name"}}},
			push:     models.BookingStatusPush{BookingID: "b1", Status: models.BookingAccepted, AstrologerID: "a1", AstrologerName: "Pushed"},
			wantName: "Cached Name",
		},
		{
			name:     "targeted lookup second",
			roster:   &fakeRoster{lookup: map[string]models.Astrologer{"a1": {ID: "a1", Name: "Fetched Name"}}},
			push:     models.BookingStatusPush{BookingID: "b1", Status: models.BookingAccepted, AstrologerID: "a1", AstrologerName: "Pushed"},
			wantName: "Fetched Name",
		},
		{
			name:     "pushed name third",
			roster:   &fakeRoster{lookupErr: errors.New("roster down")},
			push:     models.BookingStatusPush{BookingID: "b1", Status: models.BookingAccepted, AstrologerID: "a1", AstrologerName: "Pushed"},
			wantName: "Pushed",
		},
		{
			name:     "placeholder last",
			roster:   &fakeRoster{lookupErr: errors.New("roster down")},
			push:     models.BookingStatusPush{BookingID: "b1", Status: models.BookingAccepted, AstrologerID: "a1"},
			wantName: PlaceholderAstrologerName,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newFakeConn()
			conn.pendingAnswer = []models.PendingBooking{
				{BookingID: "b1", AstrologerID: "a1", Type: models.ConsultationChat, Status: models.BookingPending},
			}
			r := newTestReconciler(t, conn, tt.roster)
			require.NoError(t, r.Refresh(context.Background()))

			conn.push(models.EventBookingStatus, tt.push)
			active := r.Active()
			require.Len(t, active, 1)
			assert.Equal(t, tt.wantName, active[0].Astrologer.Name)
		})
	}
}

func TestCancelIsOptimistic(t *testing.T) {
	conn := newFakeConn()
	conn.pendingAnswer = []models.PendingBooking{
		{BookingID: "b1", AstrologerID: "a1", Type: models.ConsultationChat, Status: models.BookingPending},
	}
	r := newTestReconciler(t, conn, nil)
	require.NoError(t, r.Refresh(context.Background()))

	// even with the connection down, the local removal stands
	conn.mu.Lock()
	conn.emitErr = errors.New("not connected")
	conn.mu.Unlock()

	require.NoError(t, r.Cancel("b1"))
	assert.Empty(t, r.Active())
	require.Len(t, conn.emits(models.EventCancelBooking), 1)
}

func TestCancelRefusedWithoutIdentifyingFields(t *testing.T) {
	conn := newFakeConn()
	conn.pendingAnswer = []models.PendingBooking{
		{BookingID: "b1", Type: models.ConsultationChat, Status: models.BookingPending}, // no astrologer id
	}
	r := newTestReconciler(t, conn, nil)
	require.NoError(t, r.Refresh(context.Background()))

	err := r.Cancel("b1")
	assert.Error(t, err)
	assert.Len(t, r.Active(), 1, "refused cancel leaves the entry alone")
	assert.Empty(t, conn.emits(models.EventCancelBooking))

	assert.Error(t, r.Cancel("missing"))
}

func TestSessionEndRemovesByEitherID(t *testing.T) {
	conn := newFakeConn()
	conn.pendingAnswer = []models.PendingBooking{
		{BookingID: "b1", AstrologerID: "a1", Status: models.BookingAccepted, SessionID: "sess1", Type: models.ConsultationChat},
		{BookingID: "b2", AstrologerID: "a2", Status: models.BookingPending, Type: models.ConsultationChat},
	}
	r := newTestReconciler(t, conn, nil)
	require.NoError(t, r.Refresh(context.Background()))

	conn.push(models.EventSessionEnd, models.SessionEndPush{SessionID: "sess1"})
	active := r.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "b2", active[0].BookingID)

	conn.push(models.EventSessionEnd, models.SessionEndPush{BookingID: "b2"})
	assert.Empty(t, r.Active())

	// an end push identifying nothing is ignored
	conn.push(models.EventSessionEnd, models.SessionEndPush{})
	assert.Empty(t, r.Active())
}

func TestMalformedPushIsDropped(t *testing.T) {
	conn := newFakeConn()
	conn.pendingAnswer = []models.PendingBooking{
		{BookingID: "b1", AstrologerID: "a1", Status: models.BookingPending},
	}
	r := newTestReconciler(t, conn, nil)
	require.NoError(t, r.Refresh(context.Background()))

	conn.mu.Lock()
	hs := conn.handlers[models.EventBookingStatus]
	conn.mu.Unlock()
	for _, h := range hs {
		h(json.RawMessage(`{not json`))
		h(json.RawMessage(`{"status":"accepted"}`)) // no booking id
	}

	assert.Len(t, r.Active(), 1, "malformed pushes leave state untouched")
}
