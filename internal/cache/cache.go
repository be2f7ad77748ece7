package cache

import (
	"context"
	"sort"

	"github.com/consultly/mobile-core/internal/models"
)

// Stats is a debug snapshot of the cache's contents and traffic.
type Stats struct {
	Sessions int   `json:"sessions"`
	Messages int   `json:"messages"`
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
}

// MessageCache is the local persistent store for per-session message
// lists. All methods must be safe to call before a prior call on the
// same session resolves; implementations resolve concurrent writes of
// the same session last-write-wins.
type MessageCache interface {
	LoadMessages(ctx context.Context, sessionID string) ([]models.Message, error)
	SaveMessages(ctx context.Context, sessionID string, msgs []models.Message) error
	AddMessage(ctx context.Context, sessionID string, msg models.Message) ([]models.Message, error)
	MergeMessages(ctx context.Context, sessionID string, incoming []models.Message) ([]models.Message, error)
	ClearMessages(ctx context.Context, sessionID string) error
	Stats(ctx context.Context) (Stats, error)
}

// MergeLists produces the deduplicated, timestamp-ascending union of an
// existing list and an incoming one. Existing entries win on id clash.
func MergeLists(existing, incoming []models.Message) []models.Message {
	seen := make(map[string]struct{}, len(existing))
	out := make([]models.Message, 0, len(existing)+len(incoming))
	for _, m := range existing {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	for _, m := range incoming {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
