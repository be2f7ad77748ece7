package models

// TimerData tracks the billing/consultation timer of a session.
type TimerData struct {
	ElapsedSeconds  int64 `json:"elapsed_seconds"`
	DurationSeconds int64 `json:"duration_seconds"`
	IsActive        bool  `json:"is_active"`
}

// SessionFlags holds per-session lifecycle and presence bits.
type SessionFlags struct {
	Initialized  bool `json:"initialized"`
	CacheLoaded  bool `json:"cache_loaded"`
	RemoteTyping bool `json:"remote_typing"`
	Connected    bool `json:"connected"`
}

// SessionRecord is one consultation thread: its message history, timer
// and flags, keyed by an opaque session id.
type SessionRecord struct {
	SessionID string       `json:"session_id"`
	Messages  []Message    `json:"messages"`
	Timer     TimerData    `json:"timer"`
	Flags     SessionFlags `json:"flags"`
}

// SessionStatusPatch shallow-merges into a session's flags.
type SessionStatusPatch struct {
	RemoteTyping *bool `json:"remote_typing,omitempty"`
	Connected    *bool `json:"connected,omitempty"`
}

// TimerPatch shallow-merges into a session's timer.
type TimerPatch struct {
	ElapsedSeconds  *int64 `json:"elapsed_seconds,omitempty"`
	DurationSeconds *int64 `json:"duration_seconds,omitempty"`
	IsActive        *bool  `json:"is_active,omitempty"`
}
