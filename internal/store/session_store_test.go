package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultly/mobile-core/internal/cache"
	"github.com/consultly/mobile-core/internal/logger"
	"github.com/consultly/mobile-core/internal/models"
)

func newTestStore(t *testing.T) (*SessionStore, *cache.MemoryCache) {
	t.Helper()
	mc := cache.NewMemoryCache()
	s := NewSessionStore(mc, logger.Component(logger.New(), "test"), 20*time.Millisecond)
	return s, mc
}

func msg(id, sender, content string, at time.Time) models.Message {
	return models.Message{ID: id, SenderID: sender, Content: content, Timestamp: at}
}

func TestInitializeThenAdd(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InitializeSession(ctx, "s1"))
	m1 := msg("a", "u1", "hello", time.Now())
	require.NoError(t, s.AddMessage(ctx, "s1", m1))

	got := s.GetMessages("s1")
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)

	rec, ok := s.Session("s1")
	require.True(t, ok)
	assert.True(t, rec.Flags.Initialized)
	assert.True(t, rec.Flags.CacheLoaded)
}

func TestInitializeIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InitializeSession(ctx, "s1"))
	require.NoError(t, s.AddMessage(ctx, "s1", msg("a", "u1", "hi", time.Now())))
	require.NoError(t, s.InitializeSession(ctx, "s1"))

	// re-init hydrates from cache, which already holds the message
	assert.Len(t, s.GetMessages("s1"), 1)
}

func TestInitializeHydratesFromCache(t *testing.T) {
	s, mc := newTestStore(t)
	ctx := context.Background()

	cached := []models.Message{
		msg("x", "u2", "cached one", time.Now().Add(-time.Hour)),
		msg("y", "u2", "cached two", time.Now().Add(-59*time.Minute)),
	}
	require.NoError(t, mc.SaveMessages(ctx, "s1", cached))

	require.NoError(t, s.InitializeSession(ctx, "s1"))
	got := s.GetMessages("s1")
	require.Len(t, got, 2)
	assert.Equal(t, "x", got[0].ID)
}

func TestDuplicateSuppression(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InitializeSession(ctx, "s1"))

	now := time.Now()
	m1 := msg("a", "u1", "same words", now)
	require.NoError(t, s.AddMessage(ctx, "s1", m1))

	// same id
	require.NoError(t, s.AddMessage(ctx, "s1", m1))
	assert.Len(t, s.GetMessages("s1"), 1)

	// different id, same sender/content inside the window
	dup := msg("b", "u1", "same words", now.Add(200*time.Millisecond))
	require.NoError(t, s.AddMessage(ctx, "s1", dup))
	assert.Len(t, s.GetMessages("s1"), 1)

	// same sender/content outside the window is a real message
	later := msg("c", "u1", "same words", now.Add(1500*time.Millisecond))
	require.NoError(t, s.AddMessage(ctx, "s1", later))
	assert.Len(t, s.GetMessages("s1"), 2)
}

func TestAddMessagePreconditions(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	assert.Error(t, s.AddMessage(ctx, "", msg("a", "u", "x", time.Now())))
	assert.Error(t, s.AddMessage(ctx, "s1", models.Message{SenderID: "u"}))
	assert.Error(t, s.AddMessage(ctx, "uninitialized", msg("a", "u", "x", time.Now())))
}

func TestMergeBackendMessages(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InitializeSession(ctx, "s1"))

	base := time.Unix(1000, 0)
	m1 := msg("m1", "astro", "first", base.Add(10*time.Second))
	require.NoError(t, s.AddMessage(ctx, "s1", m1))

	m2 := msg("m2", "astro", "earlier", base.Add(5*time.Second))
	merged, err := s.MergeBackendMessages(ctx, "s1", []models.Message{m1, m2})
	require.NoError(t, err)

	require.Len(t, merged, 2)
	assert.Equal(t, "m2", merged[0].ID, "merged list sorted by timestamp ascending")
	assert.Equal(t, "m1", merged[1].ID)
	assert.Equal(t, merged, s.GetMessages("s1"))
}

type brokenMergeCache struct {
	*cache.MemoryCache
}

func (c *brokenMergeCache) MergeMessages(context.Context, string, []models.Message) ([]models.Message, error) {
	return nil, errors.New("merge unsupported")
}

func TestMergeFallsBackWhenAdapterMergeUnavailable(t *testing.T) {
	mc := &brokenMergeCache{cache.NewMemoryCache()}
	s := NewSessionStore(mc, logger.Component(logger.New(), "test"), 20*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, s.InitializeSession(ctx, "s1"))

	base := time.Unix(2000, 0)
	require.NoError(t, s.AddMessage(ctx, "s1", msg("m1", "a", "one", base.Add(10*time.Second))))

	merged, err := s.MergeBackendMessages(ctx, "s1", []models.Message{
		msg("m1", "a", "one", base.Add(10*time.Second)),
		msg("m2", "a", "two", base.Add(5*time.Second)),
	})
	require.NoError(t, err)
	require.Len(t, merged, 2)
	assert.Equal(t, "m2", merged[0].ID)
}

type failingCache struct{}

func (failingCache) LoadMessages(context.Context, string) ([]models.Message, error) {
	return nil, errors.New("cache down")
}
func (failingCache) SaveMessages(context.Context, string, []models.Message) error {
	return errors.New("cache down")
}
func (failingCache) AddMessage(context.Context, string, models.Message) ([]models.Message, error) {
	return nil, errors.New("cache down")
}
func (failingCache) MergeMessages(context.Context, string, []models.Message) ([]models.Message, error) {
	return nil, errors.New("cache down")
}
func (failingCache) ClearMessages(context.Context, string) error { return errors.New("cache down") }
func (failingCache) Stats(context.Context) (cache.Stats, error) {
	return cache.Stats{}, errors.New("cache down")
}

func TestCacheFailuresNeverBlockMemoryPath(t *testing.T) {
	s := NewSessionStore(failingCache{}, logger.Component(logger.New(), "test"), 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, s.InitializeSession(ctx, "s1"))
	rec, ok := s.Session("s1")
	require.True(t, ok)
	assert.True(t, rec.Flags.CacheLoaded, "cache failure still marks cacheLoaded")

	require.NoError(t, s.AddMessage(ctx, "s1", msg("a", "u", "survives", time.Now())))
	assert.Len(t, s.GetMessages("s1"), 1)

	require.NoError(t, s.ClearSession(ctx, "s1"))
	_, ok = s.Session("s1")
	assert.False(t, ok)
}

func TestUpdateMessage(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InitializeSession(ctx, "s1"))
	require.NoError(t, s.AddMessage(ctx, "s1", msg("a", "u", "hi", time.Now())))

	read := models.MessageRead
	s.UpdateMessage("s1", "a", models.MessagePatch{Status: &read})
	assert.Equal(t, models.MessageRead, s.GetMessages("s1")[0].Status)

	// unknown message id is a no-op
	s.UpdateMessage("s1", "nope", models.MessagePatch{Status: &read})
	assert.Len(t, s.GetMessages("s1"), 1)
}

func TestStatusAndTimerPatches(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InitializeSession(ctx, "s1"))

	typing := true
	s.SetSessionStatus("s1", models.SessionStatusPatch{RemoteTyping: &typing})

	elapsed := int64(42)
	active := true
	s.SetTimerData("s1", models.TimerPatch{ElapsedSeconds: &elapsed, IsActive: &active})

	rec, ok := s.Session("s1")
	require.True(t, ok)
	assert.True(t, rec.Flags.RemoteTyping)
	assert.Equal(t, int64(42), rec.Timer.ElapsedSeconds)
	assert.True(t, rec.Timer.IsActive)
	assert.Equal(t, int64(0), rec.Timer.DurationSeconds, "unpatched field untouched")
}

func TestClearSessionResetsCurrentPointer(t *testing.T) {
	s, mc := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InitializeSession(ctx, "s1"))
	require.NoError(t, s.AddMessage(ctx, "s1", msg("a", "u", "hi", time.Now())))
	s.SetCurrentSession("s1")

	require.NoError(t, s.ClearSession(ctx, "s1"))
	assert.Equal(t, "", s.CurrentSession())

	cached, err := mc.LoadMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, cached, "cached copy dropped")
}

func TestUnknownActionLeavesStateUnchanged(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InitializeSession(ctx, "s1"))
	require.NoError(t, s.AddMessage(ctx, "s1", msg("a", "u", "hi", time.Now())))

	s.mu.Lock()
	before := s.sessions["s1"]
	s.mu.Unlock()

	s.dispatch(action{typ: "definitely_not_an_action", sessionID: "s1"})
	s.dispatch(action{typ: actionAddMessage}) // missing session id

	s.mu.Lock()
	after := s.sessions["s1"]
	count := len(s.sessions)
	s.mu.Unlock()

	assert.Same(t, before, after, "record reference unchanged")
	assert.Equal(t, 1, count)
	assert.Len(t, s.GetMessages("s1"), 1)
}

func TestDebouncedSweepPersists(t *testing.T) {
	s, mc := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InitializeSession(ctx, "s1"))
	require.NoError(t, s.AddMessage(ctx, "s1", msg("a", "u", "hi", time.Now())))

	require.Eventually(t, func() bool {
		st, err := mc.Stats(ctx)
		return err == nil && st.Messages >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFlushPersistsImmediately(t *testing.T) {
	mc := cache.NewMemoryCache()
	s := NewSessionStore(mc, logger.Component(logger.New(), "test"), time.Hour)
	ctx := context.Background()
	require.NoError(t, s.InitializeSession(ctx, "s1"))
	require.NoError(t, s.AddMessage(ctx, "s1", msg("a", "u", "hi", time.Now())))

	s.Flush()
	cached, err := mc.LoadMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, cached, 1)
}
