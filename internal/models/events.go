package models

// Event names on the coordination-server connection. Inbound events are
// server pushes; outbound ones are client requests.
const (
	EventHeartbeat       = "heartbeat"
	EventChatMessage     = "message"
	EventTyping          = "typing"
	EventTimer           = "timer"
	EventBookingStatus   = "booking_status"
	EventSessionEnd      = "session_end"
	EventPendingBookings = "get_pending_bookings"
	EventCancelBooking   = "cancel_booking"
)

// BookingStatusPush announces a booking status change. Astrologer
// fields are optional; consumers fall back through roster lookup,
// the pushed name, then a placeholder.
type BookingStatusPush struct {
	BookingID       string           `json:"booking_id"`
	Status          BookingStatus    `json:"status"`
	Type            ConsultationType `json:"type,omitempty"`
	SessionID       string           `json:"session_id,omitempty"`
	AstrologerID    string           `json:"astrologer_id,omitempty"`
	AstrologerName  string           `json:"astrologer_name,omitempty"`
	AstrologerImage string           `json:"astrologer_image,omitempty"`
}

// SessionEndPush signals a consultation ended; it may identify the
// thread by booking id, session id, or both.
type SessionEndPush struct {
	BookingID string `json:"booking_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatMessagePush delivers one message into a session.
type ChatMessagePush struct {
	SessionID string  `json:"session_id"`
	Message   Message `json:"message"`
}

// TypingPush toggles the remote-typing indicator of a session.
type TypingPush struct {
	SessionID string `json:"session_id"`
	Typing    bool   `json:"typing"`
}

// TimerPush carries an authoritative timer tick for a session.
type TimerPush struct {
	SessionID       string `json:"session_id"`
	ElapsedSeconds  int64  `json:"elapsed_seconds"`
	DurationSeconds int64  `json:"duration_seconds"`
	IsActive        bool   `json:"is_active"`
}

// CancelBookingRequest is the outbound payload for a user cancel.
type CancelBookingRequest struct {
	BookingID    string `json:"booking_id"`
	AstrologerID string `json:"astrologer_id"`
}
