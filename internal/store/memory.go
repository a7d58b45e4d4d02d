package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mohammad-safakhou/orderdesk/internal/conversation"
)

// MemoryStore keeps everything in process memory. Values are copied on the
// way in and out so callers never alias stored state.
type MemoryStore struct {
	mu      sync.RWMutex
	states  map[string]*conversation.State
	history map[string][]conversation.Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:  make(map[string]*conversation.State),
		history: make(map[string][]conversation.Message),
	}
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context, id string) (*conversation.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[id]
	if !ok {
		return nil, nil
	}
	return st.Clone(), nil
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, id string, state *conversation.State) error {
	cp := state.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[id] = cp
	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, id)
	delete(s.history, id)
	return nil
}

// History implements Store.
func (s *MemoryStore) History(ctx context.Context, id string) ([]conversation.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[id]
	out := make([]conversation.Message, len(h))
	copy(out, h)
	return out, nil
}

// AppendHistory implements Store.
func (s *MemoryStore) AppendHistory(ctx context.Context, id, role, content string, maxTurns int) error {
	msg := conversation.Message{Role: role, Content: content, Timestamp: time.Now().UTC()}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[id] = conversation.AppendCapped(s.history[id], msg, maxTurns)
	return nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
