package domain

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by stores when no record exists for a key.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned when a conditional save lost against a
	// newer accepted turn.
	ErrVersionConflict = errors.New("conversation version conflict")
	// ErrCorruptState is returned when a persisted blob cannot be decoded.
	ErrCorruptState = errors.New("corrupt conversation state")
)

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message is a single chat message. Messages are never edited once appended;
// English is a derived rendition of Text in the working language, filled at
// most once so later turns do not retranslate it.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Language  string    `json:"language,omitempty"`
	English   string    `json:"en,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ConversationState is the ordered message history of one device plus the
// language of the next expected interaction. Version increases by one on
// every accepted save.
type ConversationState struct {
	Messages []Message `json:"messages"`
	Language string    `json:"language"`
	Version  int64     `json:"version"`
}

// Clone returns a copy whose message slice can be appended to without
// affecting the receiver.
func (s ConversationState) Clone() ConversationState {
	out := s
	out.Messages = make([]Message, len(s.Messages), len(s.Messages)+2)
	copy(out.Messages, s.Messages)
	return out
}

// Append returns a copy of the state with msg added at the end.
func (s ConversationState) Append(msg Message) ConversationState {
	out := s.Clone()
	out.Messages = append(out.Messages, msg)
	return out
}
