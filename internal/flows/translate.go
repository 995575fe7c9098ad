package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"periodpal/internal/domain"
	"periodpal/internal/integrations/openai"
)

var translateFormat = openai.JSONSchemaFormat("translated_text", `{
	"type":"object",
	"additionalProperties":false,
	"properties":{"translatedText":{"type":"string"}},
	"required":["translatedText"]
}`)

type translateResponse struct {
	TranslatedText string `json:"translatedText"`
}

// Translator translates text with the hosted model. It performs exactly one
// model call per invocation and never short-circuits.
type Translator struct {
	llm    ChatClient
	models *Models
}

func NewTranslator(llm ChatClient, models *Models) (*Translator, error) {
	if llm == nil {
		return nil, errors.New("flows: chat client must not be nil")
	}
	if models == nil {
		return nil, errors.New("flows: models must not be nil")
	}
	return &Translator{llm: llm, models: models}, nil
}

func (t *Translator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	cfg, err := t.models.Get(ctx)
	if err != nil {
		return "", err
	}
	raw, err := t.llm.Chat(ctx, cfg.Translation, []domain.ChatMessage{
		{Role: "system", Content: translatePrompt(sourceLang, targetLang)},
		{Role: "user", Content: text},
	}, translateFormat)
	if err != nil {
		return "", fmt.Errorf("flows: translate: %w", err)
	}

	var out translateResponse
	if err := decodeStrict(raw, &out); err != nil {
		return "", fmt.Errorf("flows: translate %w", err)
	}
	return out.TranslatedText, nil
}

func translatePrompt(sourceLang, targetLang string) string {
	return fmt.Sprintf("Translate the user's text from %s to %s.\n"+
		"Only output the translated text in translatedText, with no additional commentary or explanation.",
		languageName(sourceLang), languageName(targetLang))
}

// languageName renders a tag as e.g. "Hindi (hi)". Unknown tags are returned
// as given.
func languageName(tag string) string {
	tag = strings.TrimSpace(tag)
	t, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	name := display.English.Languages().Name(t)
	if name == "" {
		return tag
	}
	return fmt.Sprintf("%s (%s)", name, tag)
}
