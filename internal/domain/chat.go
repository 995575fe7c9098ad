package domain

// ChatMessage is the provider-agnostic chat message shape used by the LLM
// integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History roles understood by the question-answering flow.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// HistoryEntry is one prior message, already normalized to the working
// language, handed to the question-answering capability.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// QARequest is the input of the question-answering capability. Question and
// every History entry must be in the working language.
type QARequest struct {
	Question string
	History  []HistoryEntry
	Region   string
}

// QAResult is the output of the question-answering capability.
type QAResult struct {
	Answer             string   `json:"answer"`
	SuggestedQuestions []string `json:"suggestedQuestions"`
}
