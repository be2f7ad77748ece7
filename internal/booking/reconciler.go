package booking

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/consultly/mobile-core/internal/models"
	"github.com/consultly/mobile-core/internal/transport"
	"github.com/consultly/mobile-core/internal/utils"
)

// PlaceholderAstrologerName is the display fallback when no roster
// entry, lookup result, or pushed name is available.
const PlaceholderAstrologerName = "Astrologer"

// Connection is the slice of the connection manager the reconciler
// needs: named push subscription and outbound emits.
type Connection interface {
	On(event string, handler func(payload json.RawMessage)) func()
	Emit(event string, payload any, ack transport.Ack) error
}

// Roster resolves astrologer display data. Cached consults the already
// loaded roster; Lookup is the targeted remote fallback.
type Roster interface {
	Cached(astrologerID string) (models.Astrologer, bool)
	Lookup(ctx context.Context, astrologerID string) (models.Astrologer, error)
}

// Reconciler is the single source of truth for "bookings the user can
// act on right now". Server pushes and user actions race here; every
// list mutation is expressed as filter-out-by-id then optionally
// re-insert, so redelivered events are idempotent.
type Reconciler struct {
	conn   Connection
	roster Roster
	log    *logrus.Entry

	mu     sync.Mutex
	active []models.PendingBooking

	// OnVoiceAccepted, when set, is invoked for accepted voice bookings
	// instead of a session assignment; call delivery is out of band.
	OnVoiceAccepted func(models.PendingBooking)

	unsubs []func()
}

func NewReconciler(conn Connection, roster Roster, log *logrus.Entry) *Reconciler {
	return &Reconciler{conn: conn, roster: roster, log: log}
}

// Start subscribes to the authoritative push events. Stop releases the
// subscriptions.
func (r *Reconciler) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.unsubs) > 0 {
		return
	}
	r.unsubs = append(r.unsubs,
		r.conn.On(models.EventBookingStatus, r.handleBookingStatus),
		r.conn.On(models.EventSessionEnd, r.handleSessionEnd),
	)
}

func (r *Reconciler) Stop() {
	r.mu.Lock()
	unsubs := r.unsubs
	r.unsubs = nil
	r.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

// Refresh pulls the authoritative pending list and replaces local state
// wholesale with the server's answer.
func (r *Reconciler) Refresh(ctx context.Context) error {
	const op = "Reconciler.Refresh"

	done := make(chan error, 1)
	err := r.conn.Emit(models.EventPendingBookings, nil, func(payload json.RawMessage, err error) {
		if err != nil {
			done <- err
			return
		}
		var list []models.PendingBooking
		if uerr := json.Unmarshal(payload, &list); uerr != nil {
			done <- utils.E(utils.CodeInternal, op, "malformed pending bookings payload", uerr)
			return
		}
		actionable := list[:0]
		for _, b := range list {
			if !b.Status.Terminal() {
				actionable = append(actionable, b)
			}
		}
		r.mu.Lock()
		r.active = actionable
		r.mu.Unlock()
		done <- nil
	})
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return utils.E(utils.CodeTimeout, op, "refresh cancelled", ctx.Err())
	}
}

// Active returns the actionable bookings.
func (r *Reconciler) Active() []models.PendingBooking {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.PendingBooking, len(r.active))
	copy(out, r.active)
	return out
}

// Cancel removes the booking locally first, then notifies the server.
// It does not wait for the server: a small divergence risk, corrected
// by the next authoritative push or pull. Refused locally when the
// identifying fields cannot be resolved.
func (r *Reconciler) Cancel(bookingID string) error {
	const op = "Reconciler.Cancel"

	r.mu.Lock()
	var entry *models.PendingBooking
	for i := range r.active {
		if r.active[i].BookingID == bookingID {
			entry = &r.active[i]
			break
		}
	}
	if entry == nil {
		r.mu.Unlock()
		return utils.E(utils.CodeNotFound, op, "booking not found", nil)
	}
	if entry.BookingID == "" || entry.AstrologerID == "" {
		r.mu.Unlock()
		return utils.E(utils.CodeInvalidArgument, op, "booking is missing identifying fields", nil)
	}
	req := models.CancelBookingRequest{BookingID: entry.BookingID, AstrologerID: entry.AstrologerID}
	r.active = removeByID(r.active, bookingID, "")
	r.mu.Unlock()

	if err := r.conn.Emit(models.EventCancelBooking, req, nil); err != nil {
		r.log.WithError(err).WithField("booking_id", bookingID).Warn("cancel emit failed, local removal stands")
	}
	return nil
}

// Join returns the session id of an accepted chat/video booking.
func (r *Reconciler) Join(bookingID string) (string, error) {
	const op = "Reconciler.Join"
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.active {
		if b.BookingID != bookingID {
			continue
		}
		if b.Status != models.BookingAccepted {
			return "", utils.E(utils.CodeConflict, op, "booking not accepted yet", nil)
		}
		if b.SessionID == "" {
			return "", utils.E(utils.CodeConflict, op, "booking has no joinable session", nil)
		}
		return b.SessionID, nil
	}
	return "", utils.E(utils.CodeNotFound, op, "booking not found", nil)
}

func (r *Reconciler) handleBookingStatus(payload json.RawMessage) {
	var push models.BookingStatusPush
	if err := json.Unmarshal(payload, &push); err != nil {
		r.log.WithError(err).Warn("dropping malformed booking status push")
		return
	}
	if push.BookingID == "" {
		r.log.Warn("dropping booking status push without booking id")
		return
	}

	if push.Status.Terminal() {
		r.mu.Lock()
		r.active = removeByID(r.active, push.BookingID, "")
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	existing, ok := findByID(r.active, push.BookingID)
	r.mu.Unlock()

	updated := existing
	if !ok {
		updated = models.PendingBooking{BookingID: push.BookingID}
	}
	updated.Status = push.Status
	if push.Type != "" {
		updated.Type = push.Type
	}
	if push.AstrologerID != "" {
		updated.AstrologerID = push.AstrologerID
	}

	if push.Status == models.BookingAccepted {
		updated.Astrologer = r.resolveSnapshot(push, existing)
		if updated.Type == models.ConsultationVoice {
			// no session for voice; the call arrives out of band
			updated.SessionID = ""
		} else if push.SessionID != "" {
			updated.SessionID = push.SessionID
		}
	}

	r.mu.Lock()
	r.active = append(removeByID(r.active, push.BookingID, ""), updated)
	r.mu.Unlock()

	if push.Status == models.BookingAccepted && updated.Type == models.ConsultationVoice && r.OnVoiceAccepted != nil {
		r.OnVoiceAccepted(updated)
	}
}

// handleSessionEnd treats an explicit end event as a terminal-status
// signal even without a status field.
func (r *Reconciler) handleSessionEnd(payload json.RawMessage) {
	var push models.SessionEndPush
	if err := json.Unmarshal(payload, &push); err != nil {
		r.log.WithError(err).Warn("dropping malformed session end push")
		return
	}
	if push.BookingID == "" && push.SessionID == "" {
		return
	}
	r.mu.Lock()
	r.active = removeByID(r.active, push.BookingID, push.SessionID)
	r.mu.Unlock()
}

// resolveSnapshot always yields usable display data: loaded roster,
// then targeted lookup, then the name carried in the push, then a
// placeholder. A failed lookup never blocks the status transition.
func (r *Reconciler) resolveSnapshot(push models.BookingStatusPush, existing models.PendingBooking) models.AstrologerSnapshot {
	if r.roster != nil && push.AstrologerID != "" {
		if a, ok := r.roster.Cached(push.AstrologerID); ok {
			return models.AstrologerSnapshot{Name: a.Name, ImageURL: a.ImageURL}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		a, err := r.roster.Lookup(ctx, push.AstrologerID)
		cancel()
		if err == nil && a.Name != "" {
			return models.AstrologerSnapshot{Name: a.Name, ImageURL: a.ImageURL}
		}
		if err != nil {
			r.log.WithError(err).WithField("astrologer_id", push.AstrologerID).Debug("roster lookup failed")
		}
	}
	if push.AstrologerName != "" {
		return models.AstrologerSnapshot{Name: push.AstrologerName, ImageURL: push.AstrologerImage}
	}
	if existing.Astrologer.Name != "" {
		return existing.Astrologer
	}
	return models.AstrologerSnapshot{Name: PlaceholderAstrologerName}
}

func findByID(list []models.PendingBooking, bookingID string) (models.PendingBooking, bool) {
	for _, b := range list {
		if b.BookingID == bookingID {
			return b, true
		}
	}
	return models.PendingBooking{}, false
}

// removeByID filters out entries matching the booking id or, when
// sessionID is non-empty, the session id.
func removeByID(list []models.PendingBooking, bookingID, sessionID string) []models.PendingBooking {
	out := list[:0]
	for _, b := range list {
		if bookingID != "" && b.BookingID == bookingID {
			continue
		}
		if sessionID != "" && b.SessionID == sessionID {
			continue
		}
		out = append(out, b)
	}
	return out
}
