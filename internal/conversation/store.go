// Package conversation owns the per-device conversation slot: loading it,
// persisting completed turns, replacing the language and resetting it.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"periodpal/internal/domain"
)

// Backend is the storage port behind a Store. Production uses the DynamoDB
// repository; tests use MemoryBackend.
type Backend interface {
	LoadConversation(ctx context.Context, deviceID string) (domain.ConversationState, error)
	SaveConversation(ctx context.Context, deviceID string, state domain.ConversationState, expectedVersion int64) error
}

// Snapshot is a loaded conversation. Readable is false when the backend could
// not be reached; such a snapshot must not be written back.
type Snapshot struct {
	State    domain.ConversationState
	Readable bool
}

type Store struct {
	backend Backend
	logger  *slog.Logger
}

func NewStore(backend Backend, logger *slog.Logger) (*Store, error) {
	if backend == nil {
		return nil, errors.New("conversation: backend must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: backend, logger: logger}, nil
}

// Load never fails. A missing record yields an empty conversation in
// defaultLanguage. A corrupt record yields an empty conversation that keeps
// the stored version so the next save replaces it.
func (s *Store) Load(ctx context.Context, deviceID, defaultLanguage string) Snapshot {
	state, err := s.backend.LoadConversation(ctx, deviceID)
	switch {
	case err == nil:
		if strings.TrimSpace(state.Language) == "" {
			state.Language = defaultLanguage
		}
		return Snapshot{State: state, Readable: true}
	case errors.Is(err, domain.ErrNotFound):
		return Snapshot{State: domain.ConversationState{Language: defaultLanguage}, Readable: true}
	case errors.Is(err, domain.ErrCorruptState):
		s.logger.WarnContext(ctx, "conversation state discarded",
			slog.String("reason", "state_corrupt"),
			slog.Int64("version", state.Version),
			slog.Any("err", err),
		)
		return Snapshot{State: domain.ConversationState{Language: defaultLanguage, Version: state.Version}, Readable: true}
	default:
		s.logger.WarnContext(ctx, "conversation state unavailable",
			slog.String("reason", "state_load_failed"),
			slog.Any("err", err),
		)
		return Snapshot{State: domain.ConversationState{Language: defaultLanguage}}
	}
}

// Save persists state conditionally on state.Version. It returns the state as
// stored (version bumped) and whether the write happened. The only error it
// returns wraps domain.ErrVersionConflict; every other failure is logged and
// swallowed.
func (s *Store) Save(ctx context.Context, deviceID string, state domain.ConversationState) (domain.ConversationState, bool, error) {
	err := s.backend.SaveConversation(ctx, deviceID, state, state.Version)
	if err == nil {
		state.Version++
		return state, true, nil
	}
	if errors.Is(err, domain.ErrVersionConflict) {
		return state, false, fmt.Errorf("conversation: save: %w", err)
	}
	s.logger.WarnContext(ctx, "conversation state not persisted",
		slog.String("reason", "state_save_failed"),
		slog.Int("messages", len(state.Messages)),
		slog.Any("err", err),
	)
	return state, false, nil
}

// SetLanguage replaces the language of the next interaction. Existing
// messages keep the language they were authored in.
func (s *Store) SetLanguage(ctx context.Context, deviceID, lang, defaultLanguage string) (domain.ConversationState, error) {
	snap := s.Load(ctx, deviceID, defaultLanguage)
	state := snap.State.Clone()
	state.Language = lang
	return s.commit(ctx, deviceID, snap, state)
}

// Reset clears the message history and keeps the language.
func (s *Store) Reset(ctx context.Context, deviceID, defaultLanguage string) (domain.ConversationState, error) {
	snap := s.Load(ctx, deviceID, defaultLanguage)
	state := snap.State.Clone()
	state.Messages = state.Messages[:0]
	return s.commit(ctx, deviceID, snap, state)
}

func (s *Store) commit(ctx context.Context, deviceID string, snap Snapshot, state domain.ConversationState) (domain.ConversationState, error) {
	if !snap.Readable {
		return state, nil
	}
	saved, _, err := s.Save(ctx, deviceID, state)
	return saved, err
}
