package session

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend is an in-process Backend for tests and single-node setups.
type MemoryBackend struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sessions: make(map[string]*Session)}
}

func (b *MemoryBackend) Insert(ctx context.Context, s *Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[s.ID] = cloneSession(s)
	return nil
}

func (b *MemoryBackend) Get(ctx context.Context, id string) (*Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	if !ok {
		return nil, nil
	}
	return cloneSession(s), nil
}

func (b *MemoryBackend) Update(ctx context.Context, s *Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[s.ID]; !ok {
		return ErrNotFound
	}
	b.sessions[s.ID] = cloneSession(s)
	return nil
}

func (b *MemoryBackend) Delete(ctx context.Context, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.sessions[id]
	delete(b.sessions, id)
	return ok, nil
}

func (b *MemoryBackend) ListByUser(ctx context.Context, userID string) ([]*Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Session
	for _, s := range b.sessions {
		if s.UserID == userID {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (b *MemoryBackend) List(ctx context.Context, limit int) ([]*Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		out = append(out, cloneSession(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (b *MemoryBackend) Close() {}

func cloneSession(s *Session) *Session {
	cp := *s
	if s.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(s.Metadata))
		for k, v := range s.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
