package conversation

import (
	"context"
	"sync"

	"periodpal/internal/domain"
)

// MemoryBackend keeps conversations in process memory with the same
// versioning rules as the DynamoDB repository.
type MemoryBackend struct {
	mu    sync.Mutex
	slots map[string]domain.ConversationState
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{slots: make(map[string]domain.ConversationState)}
}

func (m *MemoryBackend) LoadConversation(_ context.Context, deviceID string) (domain.ConversationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.slots[deviceID]
	if !ok {
		return domain.ConversationState{}, domain.ErrNotFound
	}
	return state.Clone(), nil
}

func (m *MemoryBackend) SaveConversation(_ context.Context, deviceID string, state domain.ConversationState, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current := m.slots[deviceID]; current.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	stored := state.Clone()
	stored.Version = expectedVersion + 1
	m.slots[deviceID] = stored
	return nil
}
