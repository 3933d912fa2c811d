package transcript

import (
	"sync"
)

// Store is the transcript sink consumed by the conductor.
type Store interface {
	// AppendOrUpdate inserts the message or replaces the stored copy
	// with the same id.
	AppendOrUpdate(agentID string, msg *Message) error
	// Messages returns the agent's transcript in append order.
	Messages(agentID string) ([]*Message, error)
	// Clear drops the agent's transcript.
	Clear(agentID string) error
}

// MemoryStore is an in-memory Store, used by tests and one-shot runs.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]map[string]*Message
	order  map[string][]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]map[string]*Message),
		order: make(map[string][]string),
	}
}

// AppendOrUpdate implements Store.
func (s *MemoryStore) AppendOrUpdate(agentID string, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.byID[agentID]
	if msgs == nil {
		msgs = make(map[string]*Message)
		s.byID[agentID] = msgs
	}
	if _, exists := msgs[msg.ID]; !exists {
		s.order[agentID] = append(s.order[agentID], msg.ID)
	}
	msgs[msg.ID] = msg.Clone()
	return nil
}

// Messages implements Store.
func (s *MemoryStore) Messages(agentID string) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.order[agentID]
	out := make([]*Message, 0, len(ids))
	for _, id := range ids {
		if msg, ok := s.byID[agentID][id]; ok {
			out = append(out, msg.Clone())
		}
	}
	return out, nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, agentID)
	delete(s.order, agentID)
	return nil
}
