package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"periodpal/internal/catalog"
	"periodpal/internal/translation"
)

// NeedsTranslation reports whether text in language must be translated before
// it reaches the question-answering capability.
func NeedsTranslation(language string) bool {
	return !translation.IsWorking(language)
}

// FAQPrompt is a canned question. Display is shown to the user and used for
// the optimistic user turn; Canonical is the English form submitted as the
// normalized utterance.
type FAQPrompt struct {
	Display   string `json:"display"`
	Canonical string `json:"canonical"`
}

type FAQList struct {
	Region     string      `json:"region"`
	Language   string      `json:"language"`
	Translated bool        `json:"translated"`
	Prompts    []FAQPrompt `json:"prompts"`
}

// BatchTranslator translates several texts from one language to another.
type BatchTranslator interface {
	TranslateAll(ctx context.Context, texts []string, source, target string) ([]string, error)
}

type FAQService struct {
	catalog    *catalog.Catalog
	translator BatchTranslator
	logger     *slog.Logger
}

func NewFAQService(c *catalog.Catalog, t BatchTranslator, logger *slog.Logger) (*FAQService, error) {
	if c == nil {
		return nil, errors.New("usecase: catalog must not be nil")
	}
	if t == nil {
		return nil, errors.New("usecase: translator must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FAQService{catalog: c, translator: t, logger: logger}, nil
}

// Prompts returns the FAQ prompts of region for display in language. When
// translation is needed and any of it fails, the English list is returned.
func (s *FAQService) Prompts(ctx context.Context, region, language string) (FAQList, error) {
	r, ok := s.catalog.Region(strings.TrimSpace(region))
	if !ok {
		return FAQList{}, newError(ErrorInvalidInput, "unknown_region", nil)
	}
	list := FAQList{Region: r.Key, Language: language, Prompts: make([]FAQPrompt, len(r.FAQs))}
	for i, q := range r.FAQs {
		list.Prompts[i] = FAQPrompt{Display: q, Canonical: q}
	}
	if !NeedsTranslation(language) || len(r.FAQs) == 0 {
		list.Language = s.catalog.WorkingLanguage
		return list, nil
	}

	translated, err := s.translator.TranslateAll(ctx, r.FAQs, s.catalog.WorkingLanguage, language)
	if err != nil {
		s.logger.WarnContext(ctx, "faq prompts shown untranslated",
			slog.String("reason", "faq_translation_failed"),
			slog.String("region", r.Key),
			slog.String("language", language),
			slog.Any("err", err),
		)
		list.Language = s.catalog.WorkingLanguage
		return list, nil
	}
	for i := range list.Prompts {
		list.Prompts[i].Display = translated[i]
	}
	list.Translated = true
	return list, nil
}
