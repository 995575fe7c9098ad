package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"periodpal/internal/domain"
	"periodpal/internal/integrations/openai"
)

// RefusalMessage is the fixed English reply for out-of-scope or unclear
// questions.
const RefusalMessage = "I’m here to help! Sorry, I didn’t understand that. Try rephrasing or check our offline FAQ."

const maxSuggestions = 3

var answerFormat = openai.JSONSchemaFormat("menstrual_health_answer", `{
	"type":"object",
	"additionalProperties":false,
	"properties":{
		"answer":{"type":"string"},
		"suggestedQuestions":{"type":"array","items":{"type":"string"}}
	},
	"required":["answer","suggestedQuestions"]
}`)

// Answerer answers menstrual-health questions in English.
type Answerer struct {
	llm    ChatClient
	models *Models
}

func NewAnswerer(llm ChatClient, models *Models) (*Answerer, error) {
	if llm == nil {
		return nil, errors.New("flows: chat client must not be nil")
	}
	if models == nil {
		return nil, errors.New("flows: models must not be nil")
	}
	return &Answerer{llm: llm, models: models}, nil
}

// Answer sends the question with its English history and returns the answer
// and up to three follow-up questions.
func (a *Answerer) Answer(ctx context.Context, req domain.QARequest) (domain.QAResult, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return domain.QAResult{}, errors.New("flows: question must not be empty")
	}
	cfg, err := a.models.Get(ctx)
	if err != nil {
		return domain.QAResult{}, err
	}

	raw, err := a.llm.Chat(ctx, cfg.Answer, buildAnswerMessages(question, req.History, req.Region), answerFormat)
	if err != nil {
		return domain.QAResult{}, fmt.Errorf("flows: answer: %w", err)
	}
	return parseAnswer(raw)
}

func buildAnswerMessages(question string, history []domain.HistoryEntry, region string) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(history)+2)
	messages = append(messages, domain.ChatMessage{Role: "system", Content: buildSystemPrompt(region)})
	for _, h := range history {
		content := strings.TrimSpace(h.Content)
		if content == "" {
			continue
		}
		role := "user"
		if h.Role == domain.RoleModel {
			role = "assistant"
		}
		messages = append(messages, domain.ChatMessage{Role: role, Content: content})
	}
	return append(messages, domain.ChatMessage{Role: "user", Content: question})
}

func buildSystemPrompt(region string) string {
	lines := []string{
		"You are an AI chatbot named PeriodPal. You answer questions about menstrual health with empathy, accuracy, and care.",
		"Your tone is friendly, reassuring, and supportive. Keep answers concise and easy to read; use bullet points only when they are needed for clarity.",
		"",
		"Topics:",
		topicList(),
		"",
		fmt.Sprintf("If a question is outside these topics, or you do not understand it, answer exactly: %q", RefusalMessage),
		"Always prioritize safety and advise the user to consult a doctor for medical concerns.",
	}
	if r := strings.TrimSpace(region); r != "" {
		lines = append(lines, "",
			fmt.Sprintf("The user is from the %q region. Adapt tone, examples, and cultural references to be respectful and relevant to this region without making assumptions.", r))
	}
	lines = append(lines, "", "Output Contract:", outputContract())
	return strings.Join(lines, "\n")
}

func topicList() string {
	return strings.Join([]string{
		"- Managing period cramps (e.g. \"How to manage cramps?\")",
		"- First period advice (e.g. \"I got my first period, what should I do?\")",
		"- Finding emergency products (e.g. \"I don’t have pads\")",
		"- Reusable vs. disposable products (e.g. \"What is better, reusable or disposable pads?\")",
		"- Hygiene tips (e.g. \"How to stay clean during periods?\")",
	}, "\n")
}

func outputContract() string {
	return "Return JSON only with keys answer (string) and suggestedQuestions (array of strings). " +
		"After answering, suggest 2-3 follow-up questions the user might ask next. " +
		"When answering with the fixed out-of-scope reply, return an empty suggestedQuestions array."
}

func parseAnswer(raw string) (domain.QAResult, error) {
	var out domain.QAResult
	if err := decodeStrict(raw, &out); err != nil {
		return domain.QAResult{}, fmt.Errorf("flows: answer %w", err)
	}
	out.Answer = strings.TrimSpace(out.Answer)
	if out.Answer == "" {
		return domain.QAResult{}, errors.New("flows: answer is empty")
	}

	suggestions := make([]string, 0, len(out.SuggestedQuestions))
	for _, s := range out.SuggestedQuestions {
		if s = strings.TrimSpace(s); s != "" {
			suggestions = append(suggestions, s)
		}
		if len(suggestions) == maxSuggestions {
			break
		}
	}
	out.SuggestedQuestions = suggestions
	return out, nil
}
