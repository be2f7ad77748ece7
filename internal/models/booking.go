package models

type ConsultationType string

const (
	ConsultationChat  ConsultationType = "chat"
	ConsultationVoice ConsultationType = "voice"
	ConsultationVideo ConsultationType = "video"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingAccepted  BookingStatus = "accepted"
	BookingRejected  BookingStatus = "rejected"
	BookingCancelled BookingStatus = "cancelled"
	BookingExpired   BookingStatus = "expired"
)

// Terminal reports whether the status removes a booking from the
// actionable list.
func (s BookingStatus) Terminal() bool {
	switch s {
	case BookingRejected, BookingCancelled, BookingExpired:
		return true
	}
	return false
}

// Astrologer is a roster entry for a consultation provider.
type Astrologer struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"image_url,omitempty"`
}

// AstrologerSnapshot is display data captured at acceptance time; the
// originating astrologer record may not be locally cached by then.
type AstrologerSnapshot struct {
	Name     string `json:"name"`
	ImageURL string `json:"image_url,omitempty"`
}

// PendingBooking is a booking request the user can still act on.
// SessionID is assigned only once a chat/video booking is accepted.
type PendingBooking struct {
	BookingID    string             `json:"booking_id"`
	AstrologerID string             `json:"astrologer_id"`
	Type         ConsultationType   `json:"type"`
	Status       BookingStatus      `json:"status"`
	SessionID    string             `json:"session_id,omitempty"`
	Astrologer   AstrologerSnapshot `json:"astrologer"`
}
