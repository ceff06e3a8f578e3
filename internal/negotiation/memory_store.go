package negotiation

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory message store for demo/development mode.
type MemoryStore struct {
	messages map[string][]*Message // transactionID -> ordered log
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory message store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string][]*Message),
	}
}

func (m *MemoryStore) Append(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *msg
	m.messages[msg.TransactionID] = append(m.messages[msg.TransactionID], &cp)
	return nil
}

func (m *MemoryStore) ListByTransaction(ctx context.Context, transactionID string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.messages[transactionID]
	result := make([]*Message, 0, len(stored))
	for _, msg := range stored {
		cp := *msg
		result = append(result, &cp)
	}
	return result, nil
}
