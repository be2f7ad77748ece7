package models

import "time"

type MessageStatus string

const (
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
)

// Message is a single chat message inside a consultation session.
// Immutable once appended; only Status may change afterwards.
type Message struct {
	ID        string        `json:"id"`
	SenderID  string        `json:"sender_id"`
	Content   string        `json:"content"`
	Timestamp time.Time     `json:"timestamp"`
	Status    MessageStatus `json:"status,omitempty"`
}

// MessagePatch carries the only mutation allowed on an appended message.
type MessagePatch struct {
	Status *MessageStatus `json:"status,omitempty"`
}

// DuplicateWindow is the span within which two messages from the same
// sender with identical content are treated as one.
const DuplicateWindow = time.Second

// IsDuplicateOf reports whether m duplicates other: same id, or same
// (sender, content) pair with timestamps closer than DuplicateWindow.
func (m Message) IsDuplicateOf(other Message) bool {
	if m.ID == other.ID {
		return true
	}
	if m.SenderID != other.SenderID || m.Content != other.Content {
		return false
	}
	d := m.Timestamp.Sub(other.Timestamp)
	if d < 0 {
		d = -d
	}
	return d < DuplicateWindow
}
