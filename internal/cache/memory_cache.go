package cache

import (
	"context"
	"sync"

	"github.com/consultly/mobile-core/internal/models"
)

// MemoryCache is a process-local MessageCache, used as the default when
// no persistent backend is configured and as the test double.
type MemoryCache struct {
	mu       sync.Mutex
	sessions map[string][]models.Message
	hits     int64
	misses   int64
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{sessions: make(map[string][]models.Message)}
}

func (c *MemoryCache) LoadMessages(_ context.Context, sessionID string) ([]models.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs, ok := c.sessions[sessionID]
	if !ok || len(msgs) == 0 {
		c.misses++
		return nil, nil
	}
	c.hits++
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (c *MemoryCache) SaveMessages(_ context.Context, sessionID string, msgs []models.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]models.Message, len(msgs))
	copy(cp, msgs)
	c.sessions[sessionID] = cp
	return nil
}

func (c *MemoryCache) AddMessage(_ context.Context, sessionID string, msg models.Message) ([]models.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	merged := MergeLists(c.sessions[sessionID], []models.Message{msg})
	c.sessions[sessionID] = merged
	out := make([]models.Message, len(merged))
	copy(out, merged)
	return out, nil
}

func (c *MemoryCache) MergeMessages(_ context.Context, sessionID string, incoming []models.Message) ([]models.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	merged := MergeLists(c.sessions[sessionID], incoming)
	c.sessions[sessionID] = merged
	out := make([]models.Message, len(merged))
	copy(out, merged)
	return out, nil
}

func (c *MemoryCache) ClearMessages(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
	return nil
}

func (c *MemoryCache) Stats(_ context.Context) (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Stats{Sessions: len(c.sessions), Hits: c.hits, Misses: c.misses}
	for _, msgs := range c.sessions {
		st.Messages += len(msgs)
	}
	return st, nil
}
