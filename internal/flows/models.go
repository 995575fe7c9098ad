// Package flows holds the prompt-driven capabilities backed by the hosted
// model: question answering and text translation.
package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"periodpal/internal/domain"
	"periodpal/internal/integrations/openai"
)

const (
	answerModelParam      = "/config/openai_model"
	translationModelParam = "/config/translation_model"
)

// ChatClient is the chat-completion capability the flows are built on.
type ChatClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage, format *openai.ResponseFormat) (string, error)
}

// ParamLookup reads several parameters at once, reporting the ones that do
// not exist instead of failing.
type ParamLookup interface {
	Lookup(ctx context.Context, names ...string) (values map[string]string, missing []string, err error)
}

// ModelConfig names the model used by each flow.
type ModelConfig struct {
	Answer      string
	Translation string
}

// Models loads the model names from the parameter store on first use and
// caches them. A failed load is retried on the next call.
type Models struct {
	params ParamLookup

	mu     sync.RWMutex
	loaded bool
	cfg    ModelConfig
}

func NewModels(params ParamLookup) (*Models, error) {
	if params == nil {
		return nil, errors.New("flows: param getter must not be nil")
	}
	return &Models{params: params}, nil
}

// StaticModels returns a Models that never touches the parameter store.
func StaticModels(cfg ModelConfig) *Models {
	return &Models{loaded: true, cfg: cfg}
}

func (m *Models) Get(ctx context.Context) (ModelConfig, error) {
	m.mu.RLock()
	if m.loaded {
		cfg := m.cfg
		m.mu.RUnlock()
		return cfg, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded {
		return m.cfg, nil
	}

	// The translation model is optional and falls back to the answer model.
	vals, _, err := m.params.Lookup(ctx, answerModelParam, translationModelParam)
	if err != nil {
		return ModelConfig{}, fmt.Errorf("flows: load model config: %w", err)
	}
	cfg := ModelConfig{
		Answer:      strings.TrimSpace(vals[answerModelParam]),
		Translation: strings.TrimSpace(vals[translationModelParam]),
	}
	if cfg.Answer == "" {
		return ModelConfig{}, errors.New("flows: answer model is empty")
	}
	if cfg.Translation == "" {
		cfg.Translation = cfg.Answer
	}

	m.cfg = cfg
	m.loaded = true
	return cfg, nil
}
