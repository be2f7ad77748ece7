package store

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/consultly/mobile-core/internal/cache"
	"github.com/consultly/mobile-core/internal/models"
	"github.com/consultly/mobile-core/internal/utils"
)

// action types funneled through the reducer. Every mutation of the
// session map is one of these, applied serially under the store lock.
const (
	actionInitSession   = "init_session"
	actionHydrate       = "hydrate"
	actionAddMessage    = "add_message"
	actionSetMessages   = "set_messages"
	actionUpdateMessage = "update_message"
	actionSetStatus     = "set_status"
	actionSetTimer      = "set_timer"
	actionClearSession  = "clear_session"
)

type action struct {
	typ       string
	sessionID string

	message     *models.Message
	messages    []models.Message
	messageID   string
	msgPatch    *models.MessagePatch
	statusPatch *models.SessionStatusPatch
	timerPatch  *models.TimerPatch

	// set by the reducer: whether the action changed anything
	applied bool
}

// SessionStore keeps every active consultation session's message list
// deduplicated, time-ordered, and merged with the local cache. All
// state transitions go through a single serialized reducer, so two
// actions issued in sequence always compose against the latest state.
type SessionStore struct {
	cache cache.MessageCache
	log   *logrus.Entry

	mu       sync.Mutex
	sessions map[string]*models.SessionRecord
	current  string

	debounce         *time.Timer
	debounceInterval time.Duration
}

func NewSessionStore(c cache.MessageCache, log *logrus.Entry, debounce time.Duration) *SessionStore {
	if debounce <= 0 {
		debounce = time.Second
	}
	return &SessionStore{
		cache:            c,
		log:              log,
		sessions:         make(map[string]*models.SessionRecord),
		debounceInterval: debounce,
	}
}

// dispatch applies one action under the lock. Malformed or unknown
// actions are logged and ignored; one bad action must never touch
// unrelated session data.
func (s *SessionStore) dispatch(a action) action {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.sessionID == "" {
		s.log.WithField("action", a.typ).Warn("dropping action without session id")
		return a
	}
	switch a.typ {
	case actionInitSession:
		if _, ok := s.sessions[a.sessionID]; !ok {
			s.sessions[a.sessionID] = &models.SessionRecord{SessionID: a.sessionID}
		}
		s.sessions[a.sessionID].Flags.Initialized = true
		a.applied = true

	case actionHydrate:
		rec, ok := s.sessions[a.sessionID]
		if !ok {
			return a
		}
		// cached data is canonical at hydration time
		if len(a.messages) > 0 {
			rec.Messages = a.messages
		}
		rec.Flags.CacheLoaded = true
		a.applied = true

	case actionAddMessage:
		rec, ok := s.sessions[a.sessionID]
		if !ok || a.message == nil {
			return a
		}
		for _, existing := range rec.Messages {
			if a.message.IsDuplicateOf(existing) {
				return a
			}
		}
		rec.Messages = append(rec.Messages, *a.message)
		a.applied = true

	case actionSetMessages:
		rec, ok := s.sessions[a.sessionID]
		if !ok {
			return a
		}
		rec.Messages = a.messages
		a.applied = true

	case actionUpdateMessage:
		rec, ok := s.sessions[a.sessionID]
		if !ok || a.msgPatch == nil {
			return a
		}
		for i := range rec.Messages {
			if rec.Messages[i].ID == a.messageID {
				if a.msgPatch.Status != nil {
					rec.Messages[i].Status = *a.msgPatch.Status
				}
				a.applied = true
				return a
			}
		}

	case actionSetStatus:
		rec, ok := s.sessions[a.sessionID]
		if !ok || a.statusPatch == nil {
			return a
		}
		if a.statusPatch.RemoteTyping != nil {
			rec.Flags.RemoteTyping = *a.statusPatch.RemoteTyping
		}
		if a.statusPatch.Connected != nil {
			rec.Flags.Connected = *a.statusPatch.Connected
		}
		a.applied = true

	case actionSetTimer:
		rec, ok := s.sessions[a.sessionID]
		if !ok || a.timerPatch == nil {
			return a
		}
		if a.timerPatch.ElapsedSeconds != nil {
			rec.Timer.ElapsedSeconds = *a.timerPatch.ElapsedSeconds
		}
		if a.timerPatch.DurationSeconds != nil {
			rec.Timer.DurationSeconds = *a.timerPatch.DurationSeconds
		}
		if a.timerPatch.IsActive != nil {
			rec.Timer.IsActive = *a.timerPatch.IsActive
		}
		a.applied = true

	case actionClearSession:
		if _, ok := s.sessions[a.sessionID]; !ok {
			return a
		}
		delete(s.sessions, a.sessionID)
		if s.current == a.sessionID {
			s.current = ""
		}
		a.applied = true

	default:
		s.log.WithField("action", a.typ).Warn("ignoring unknown action")
	}
	return a
}

// InitializeSession creates the session record if absent, preserving
// any in-memory data already there, then hydrates messages from the
// cache. Cache failures are logged and swallowed; CacheLoaded is set
// either way so dependents never hang in a loading state.
func (s *SessionStore) InitializeSession(ctx context.Context, sessionID string) error {
	const op = "SessionStore.InitializeSession"
	if sessionID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}
	s.dispatch(action{typ: actionInitSession, sessionID: sessionID})

	cached, err := s.cache.LoadMessages(ctx, sessionID)
	if err != nil {
		s.log.WithError(err).WithField("session_id", sessionID).Warn("cache load failed, proceeding empty")
		cached = nil
	}
	s.dispatch(action{typ: actionHydrate, sessionID: sessionID, messages: cached})
	s.scheduleSweep()
	return nil
}

// AddMessage appends msg unless it duplicates an existing entry (same
// id, or same sender/content within the duplicate window). A suppressed
// duplicate is not an error. The in-memory append is write-through: the
// cache persist runs afterwards and its failure does not roll back.
func (s *SessionStore) AddMessage(ctx context.Context, sessionID string, msg models.Message) error {
	const op = "SessionStore.AddMessage"
	if sessionID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}
	if msg.ID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "message id is required", nil)
	}

	out := s.dispatch(action{typ: actionAddMessage, sessionID: sessionID, message: &msg})
	if !out.applied {
		s.mu.Lock()
		_, exists := s.sessions[sessionID]
		s.mu.Unlock()
		if !exists {
			return utils.E(utils.CodeNotFound, op, "session not initialized", nil)
		}
		// duplicate suppressed
		return nil
	}

	if _, err := s.cache.AddMessage(ctx, sessionID, msg); err != nil {
		s.log.WithError(err).WithField("session_id", sessionID).Warn("message persist failed")
	}
	s.scheduleSweep()
	return nil
}

// MergeBackendMessages reconciles an authoritative server list against
// the cache, preferring the adapter's own merge; if that fails it falls
// back to an in-memory filter-new-append-sort. Returns the merged list.
func (s *SessionStore) MergeBackendMessages(ctx context.Context, sessionID string, serverMsgs []models.Message) ([]models.Message, error) {
	const op = "SessionStore.MergeBackendMessages"
	if sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}
	s.dispatch(action{typ: actionInitSession, sessionID: sessionID})

	merged, err := s.cache.MergeMessages(ctx, sessionID, serverMsgs)
	if err != nil {
		s.log.WithError(err).WithField("session_id", sessionID).Warn("adapter merge unavailable, merging locally")
		merged = cache.MergeLists(s.GetMessages(sessionID), serverMsgs)
		if serr := s.cache.SaveMessages(ctx, sessionID, merged); serr != nil {
			s.log.WithError(serr).WithField("session_id", sessionID).Warn("merged list persist failed")
		}
	} else {
		// the adapter merged against cache truth; fold in any in-memory
		// appends the cache has not seen yet
		merged = cache.MergeLists(merged, s.GetMessages(sessionID))
	}

	s.dispatch(action{typ: actionSetMessages, sessionID: sessionID, messages: merged})
	s.scheduleSweep()

	out := make([]models.Message, len(merged))
	copy(out, merged)
	return out, nil
}

// UpdateMessage shallow-merges patch into the message with messageID;
// no-op if the message is absent.
func (s *SessionStore) UpdateMessage(sessionID, messageID string, patch models.MessagePatch) {
	s.dispatch(action{typ: actionUpdateMessage, sessionID: sessionID, messageID: messageID, msgPatch: &patch})
	s.scheduleSweep()
}

// SetSessionStatus shallow-merges patch into the session's flags.
func (s *SessionStore) SetSessionStatus(sessionID string, patch models.SessionStatusPatch) {
	s.dispatch(action{typ: actionSetStatus, sessionID: sessionID, statusPatch: &patch})
}

// SetTimerData shallow-merges patch into the session's timer.
func (s *SessionStore) SetTimerData(sessionID string, patch models.TimerPatch) {
	s.dispatch(action{typ: actionSetTimer, sessionID: sessionID, timerPatch: &patch})
}

// ClearSession drops the session from memory and instructs the cache to
// forget it. Resets the current-session pointer when it pointed here.
func (s *SessionStore) ClearSession(ctx context.Context, sessionID string) error {
	const op = "SessionStore.ClearSession"
	if sessionID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}
	s.dispatch(action{typ: actionClearSession, sessionID: sessionID})
	if err := s.cache.ClearMessages(ctx, sessionID); err != nil {
		s.log.WithError(err).WithField("session_id", sessionID).Warn("cache clear failed")
	}
	return nil
}

// GetMessages returns a copy of the session's message list.
func (s *SessionStore) GetMessages(sessionID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]models.Message, len(rec.Messages))
	copy(out, rec.Messages)
	return out
}

// Session returns a copy of the full session record.
func (s *SessionStore) Session(sessionID string) (models.SessionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return models.SessionRecord{}, false
	}
	cp := *rec
	cp.Messages = make([]models.Message, len(rec.Messages))
	copy(cp.Messages, rec.Messages)
	return cp, true
}

// Sessions returns a snapshot of all session records.
func (s *SessionStore) Sessions() map[string]models.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]models.SessionRecord, len(s.sessions))
	for id, rec := range s.sessions {
		cp := *rec
		cp.Messages = make([]models.Message, len(rec.Messages))
		copy(cp.Messages, rec.Messages)
		out[id] = cp
	}
	return out
}

// SetCurrentSession points the store at the session the user is viewing.
func (s *SessionStore) SetCurrentSession(sessionID string) {
	s.mu.Lock()
	s.current = sessionID
	s.mu.Unlock()
}

// CurrentSession returns the current-session pointer.
func (s *SessionStore) CurrentSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// scheduleSweep (re)arms the debounced persistence sweep. The previous
// pending timer is cancelled, so re-triggering cannot leave two
// competing timers alive.
func (s *SessionStore) scheduleSweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(s.debounceInterval, s.sweep)
}

// sweep writes every hydrated, non-empty session's full message list to
// the cache. Redundant with per-append persists; a safety net against a
// merge racing a concurrent append. It re-reads the session map rather
// than any captured reference.
func (s *SessionStore) sweep() {
	s.mu.Lock()
	type job struct {
		id   string
		msgs []models.Message
	}
	var jobs []job
	for id, rec := range s.sessions {
		if !rec.Flags.CacheLoaded || len(rec.Messages) == 0 {
			continue
		}
		cp := make([]models.Message, len(rec.Messages))
		copy(cp, rec.Messages)
		jobs = append(jobs, job{id: id, msgs: cp})
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, j := range jobs {
		if err := s.cache.SaveMessages(ctx, j.id, j.msgs); err != nil {
			s.log.WithError(err).WithField("session_id", j.id).Warn("sweep persist failed")
		}
	}
}

// Flush cancels any pending sweep timer and persists immediately; for
// shutdown paths.
func (s *SessionStore) Flush() {
	s.mu.Lock()
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	s.mu.Unlock()
	s.sweep()
}
