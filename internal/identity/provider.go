package identity

import (
	"sync"

	"github.com/consultly/mobile-core/internal/models"
)

// Provider supplies the authenticated identity and signals when it
// changes or is cleared (logout). Token acquisition lives elsewhere.
type Provider interface {
	Current() (models.Identity, bool)
	// Subscribe registers fn for identity changes. fn receives the new
	// identity and whether one is present. The returned func removes
	// the subscription.
	Subscribe(fn func(models.Identity, bool)) func()
}

// Static is an in-process Provider fed by Set/Clear calls.
type Static struct {
	mu      sync.Mutex
	id      models.Identity
	present bool
	subs    map[int]func(models.Identity, bool)
	nextSub int
}

func NewStatic() *Static {
	return &Static{subs: make(map[int]func(models.Identity, bool))}
}

func (s *Static) Current() (models.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.present
}

func (s *Static) Subscribe(fn func(models.Identity, bool)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Set installs a new identity and notifies subscribers.
func (s *Static) Set(id models.Identity) {
	s.mu.Lock()
	s.id = id
	s.present = id.Valid()
	subs := snapshot(s.subs)
	present := s.present
	s.mu.Unlock()
	for _, fn := range subs {
		fn(id, present)
	}
}

// Clear drops the identity (logout) and notifies subscribers.
func (s *Static) Clear() {
	s.mu.Lock()
	s.id = models.Identity{}
	s.present = false
	subs := snapshot(s.subs)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(models.Identity{}, false)
	}
}

func snapshot(m map[int]func(models.Identity, bool)) []func(models.Identity, bool) {
	out := make([]func(models.Identity, bool), 0, len(m))
	for _, fn := range m {
		out = append(out, fn)
	}
	return out
}
