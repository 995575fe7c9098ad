package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"periodpal/internal/catalog"
	"periodpal/internal/conversation"
	"periodpal/internal/domain"
	"periodpal/internal/translation"
)

const (
	defaultMaxUtterance = 500
	defaultMaxHistory   = 40
)

// Phase is the orchestrator state of an in-flight submission.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingTranslationIn
	PhaseAwaitingAnswer
	PhaseAwaitingTranslationOut
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingTranslationIn:
		return "awaiting_translation_in"
	case PhaseAwaitingAnswer:
		return "awaiting_answer"
	case PhaseAwaitingTranslationOut:
		return "awaiting_translation_out"
	default:
		return "unknown"
	}
}

// Outcome says how the assistant turn of a submission was produced.
type Outcome string

const (
	OutcomeAnswered           Outcome = "answered"
	OutcomeAnswerUntranslated Outcome = "answer_untranslated"
	OutcomeNotUnderstood      Outcome = "not_understood"
	OutcomeApology            Outcome = "apology"
	OutcomeRefused            Outcome = "refused"
	OutcomeSuperseded         Outcome = "superseded"
)

type Gate interface {
	CanSubmit() bool
}

type Translator interface {
	BatchTranslator
	Translate(ctx context.Context, text, target string) (string, error)
	TranslateFrom(ctx context.Context, text, source, target string) (string, error)
}

type Answerer interface {
	Answer(ctx context.Context, req domain.QARequest) (domain.QAResult, error)
}

type Moderator interface {
	Moderate(ctx context.Context, input string) (bool, error)
}

type ConversationStore interface {
	Load(ctx context.Context, deviceID, defaultLanguage string) conversation.Snapshot
	Save(ctx context.Context, deviceID string, state domain.ConversationState) (domain.ConversationState, bool, error)
	SetLanguage(ctx context.Context, deviceID, lang, defaultLanguage string) (domain.ConversationState, error)
	Reset(ctx context.Context, deviceID, defaultLanguage string) (domain.ConversationState, error)
}

type SettingsResolver interface {
	Get(ctx context.Context, deviceID string) domain.Settings
}

// ChatDeps are the collaborators of a ChatService. Moderator and Logger are
// optional.
type ChatDeps struct {
	Gate       Gate
	Translator Translator
	Answerer   Answerer
	Moderator  Moderator
	Store      ConversationStore
	Settings   SettingsResolver
	Catalog    *catalog.Catalog
	Logger     *slog.Logger
}

type ChatOption func(*ChatService)

// WithMaxUtteranceLength bounds an utterance, counted in characters.
func WithMaxUtteranceLength(n int) ChatOption {
	return func(s *ChatService) {
		if n > 0 {
			s.maxUtterance = n
		}
	}
}

// WithMaxHistoryMessages bounds how many prior messages are sent as context.
func WithMaxHistoryMessages(n int) ChatOption {
	return func(s *ChatService) {
		if n > 0 {
			s.maxHistory = n
		}
	}
}

// WithPhaseObserver registers fn to be told about every phase transition.
func WithPhaseObserver(fn func(deviceID string, p Phase)) ChatOption {
	return func(s *ChatService) {
		s.observe = fn
	}
}

type ChatService struct {
	gate       Gate
	translator Translator
	answerer   Answerer
	moderator  Moderator
	store      ConversationStore
	settings   SettingsResolver
	catalog    *catalog.Catalog
	logger     *slog.Logger

	maxUtterance int
	maxHistory   int
	observe      func(deviceID string, p Phase)
	now          func() time.Time
}

func NewChatService(d ChatDeps, opts ...ChatOption) (*ChatService, error) {
	switch {
	case d.Gate == nil:
		return nil, errors.New("usecase: gate must not be nil")
	case d.Translator == nil:
		return nil, errors.New("usecase: translator must not be nil")
	case d.Answerer == nil:
		return nil, errors.New("usecase: answerer must not be nil")
	case d.Store == nil:
		return nil, errors.New("usecase: conversation store must not be nil")
	case d.Settings == nil:
		return nil, errors.New("usecase: settings resolver must not be nil")
	case d.Catalog == nil:
		return nil, errors.New("usecase: catalog must not be nil")
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &ChatService{
		gate:         d.Gate,
		translator:   d.Translator,
		answerer:     d.Answerer,
		moderator:    d.Moderator,
		store:        d.Store,
		settings:     d.Settings,
		catalog:      d.Catalog,
		logger:       logger,
		maxUtterance: defaultMaxUtterance,
		maxHistory:   defaultMaxHistory,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SubmitInput is one user utterance. Canonical, when set, is the known
// English form of Utterance (an FAQ shortcut) and skips inbound translation.
// Language replaces the stored conversation language for this and later
// turns. Region overrides the device region for this turn only; the device
// region itself changes through the settings service. ExpectedVersion, when
// set, must match the stored conversation version.
type SubmitInput struct {
	DeviceID        string
	Utterance       string
	Canonical       string
	Language        string
	Region          string
	ExpectedVersion *int64
}

// Turn is the result of an accepted submission. A superseded turn keeps the
// user message but has no Assistant message; Notice explains why.
type Turn struct {
	User               domain.Message
	Assistant          domain.Message
	SuggestedQuestions []string
	Outcome            Outcome
	Notice             *Notice
	State              domain.ConversationState
	Persisted          bool
}

type reply struct {
	text        string
	english     string
	language    string
	suggestions []string
	outcome     Outcome
}

// Submit runs one turn. Only INVALID_INPUT, OFFLINE and CONFLICT errors are
// returned; every upstream failure degrades into an assistant message.
func (s *ChatService) Submit(ctx context.Context, in SubmitInput) (Turn, error) {
	deviceID := strings.TrimSpace(in.DeviceID)
	if deviceID == "" {
		return Turn{}, newError(ErrorInvalidInput, "missing_device_id", nil)
	}
	utterance := norm.NFC.String(strings.TrimSpace(in.Utterance))
	if utterance == "" {
		return Turn{}, newError(ErrorInvalidInput, "empty_utterance", nil)
	}
	if utf8.RuneCountInString(utterance) > s.maxUtterance {
		return Turn{}, newError(ErrorInvalidInput, "utterance_too_long", nil)
	}
	canonical := strings.TrimSpace(in.Canonical)
	if utf8.RuneCountInString(canonical) > s.maxUtterance {
		return Turn{}, newError(ErrorInvalidInput, "canonical_too_long", nil)
	}
	requested, err := s.requestedLanguage(in.Language)
	if err != nil {
		return Turn{}, err
	}

	settings := s.settings.Get(ctx, deviceID)
	region := settings.Region
	if r := strings.TrimSpace(in.Region); r != "" {
		if _, ok := s.catalog.Region(r); !ok {
			return Turn{}, newError(ErrorInvalidInput, "unknown_region", nil)
		}
		region = r
	}

	if !s.gate.CanSubmit() {
		lang := requested
		if lang == "" {
			lang = settings.Language
		}
		notices, _ := s.catalog.Notice(lang)
		e := newError(ErrorOffline, "offline", nil)
		e.Notice = &Notice{Title: notices.OfflineTitle, Message: notices.OfflineMessage}
		return Turn{}, e
	}

	snap := s.store.Load(ctx, deviceID, settings.Language)
	state := snap.State
	if in.ExpectedVersion != nil && *in.ExpectedVersion != state.Version {
		return Turn{}, newError(ErrorConflict, "stale_version", nil)
	}
	if requested != "" && requested != state.Language {
		state = state.Clone()
		state.Language = requested
	}
	lang := state.Language

	prior := len(state.Messages)
	state = state.Append(domain.Message{
		ID:        newMessageID(),
		Text:      utterance,
		Sender:    domain.SenderUser,
		Language:  lang,
		CreatedAt: s.now().UTC(),
	})

	s.enter(ctx, deviceID, PhaseAwaitingTranslationIn)
	var r reply
	english, err := s.toEnglish(ctx, utterance, canonical, lang)
	if err != nil {
		s.degrade(ctx, newError(ErrorUpstream, "translation_in_failed", err))
		r = s.notice(ctx, lang, OutcomeNotUnderstood)
	} else {
		if english != utterance {
			state.Messages[prior].English = english
		}
		r = s.answer(ctx, deviceID, &state, prior, english, lang, region)
	}

	assistant := domain.Message{
		ID:        newMessageID(),
		Text:      r.text,
		Sender:    domain.SenderAssistant,
		Language:  r.language,
		English:   r.english,
		CreatedAt: s.now().UTC(),
	}
	state = state.Append(assistant)
	turn := Turn{
		User:               state.Messages[prior],
		Assistant:          assistant,
		SuggestedQuestions: r.suggestions,
		Outcome:            r.outcome,
	}

	if snap.Readable {
		saved, persisted, err := s.store.Save(ctx, deviceID, state)
		if err != nil {
			superseded, err := s.supersede(ctx, deviceID, settings.Language, turn.User, lang, err)
			s.enter(ctx, deviceID, PhaseIdle)
			return superseded, err
		}
		state, turn.Persisted = saved, persisted
	}
	s.enter(ctx, deviceID, PhaseIdle)
	turn.State = state
	return turn, nil
}

// supersede handles a turn that lost its conditional save to a newer turn.
// The late reply is discarded; the user message is appended to the latest
// stored conversation so it is never lost. A second lost race, or an
// unreadable latest state, yields CONFLICT with a localized notice.
func (s *ChatService) supersede(ctx context.Context, deviceID, defaultLang string, user domain.Message, lang string, cause error) (Turn, error) {
	s.logger.InfoContext(ctx, "late reply discarded",
		slog.String("reason", "superseded_turn"),
		slog.Any("err", cause),
	)
	notices, _ := s.catalog.Notice(lang)
	notice := &Notice{Message: notices.Superseded}

	latest := s.store.Load(ctx, deviceID, defaultLang)
	if !latest.Readable {
		e := newError(ErrorConflict, "superseded_turn", cause)
		e.Notice = notice
		return Turn{}, e
	}
	state := latest.State.Append(user)
	saved, persisted, err := s.store.Save(ctx, deviceID, state)
	if err != nil {
		e := newError(ErrorConflict, "superseded_turn", err)
		e.Notice = notice
		return Turn{}, e
	}
	return Turn{
		User:      user,
		Outcome:   OutcomeSuperseded,
		Notice:    notice,
		State:     saved,
		Persisted: persisted,
	}, nil
}

// Conversation returns the stored conversation of a device.
func (s *ChatService) Conversation(ctx context.Context, deviceID string) (domain.ConversationState, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return domain.ConversationState{}, newError(ErrorInvalidInput, "missing_device_id", nil)
	}
	settings := s.settings.Get(ctx, deviceID)
	return s.store.Load(ctx, deviceID, settings.Language).State, nil
}

// SetLanguage replaces the conversation language without touching history.
func (s *ChatService) SetLanguage(ctx context.Context, deviceID, language string) (domain.ConversationState, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return domain.ConversationState{}, newError(ErrorInvalidInput, "missing_device_id", nil)
	}
	lang, err := s.requestedLanguage(language)
	if err != nil {
		return domain.ConversationState{}, err
	}
	if lang == "" {
		return domain.ConversationState{}, newError(ErrorInvalidInput, "missing_language", nil)
	}
	settings := s.settings.Get(ctx, deviceID)
	state, err := s.store.SetLanguage(ctx, deviceID, lang, settings.Language)
	if err != nil {
		return domain.ConversationState{}, newError(ErrorConflict, "superseded_language_change", err)
	}
	return state, nil
}

// Reset clears the conversation history of a device.
func (s *ChatService) Reset(ctx context.Context, deviceID string) (domain.ConversationState, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return domain.ConversationState{}, newError(ErrorInvalidInput, "missing_device_id", nil)
	}
	settings := s.settings.Get(ctx, deviceID)
	state, err := s.store.Reset(ctx, deviceID, settings.Language)
	if err != nil {
		return domain.ConversationState{}, newError(ErrorConflict, "superseded_reset", err)
	}
	return state, nil
}

func (s *ChatService) requestedLanguage(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	lang, err := translation.Normalize(raw)
	if err != nil {
		return "", newError(ErrorInvalidInput, "invalid_language", err)
	}
	if !s.catalog.KnownLanguage(lang) {
		return "", newError(ErrorInvalidInput, "unsupported_language", nil)
	}
	return lang, nil
}

func (s *ChatService) toEnglish(ctx context.Context, utterance, canonical, lang string) (string, error) {
	if canonical != "" {
		return canonical, nil
	}
	if !NeedsTranslation(lang) {
		return utterance, nil
	}
	return s.translator.TranslateFrom(ctx, utterance, lang, translation.WorkingLanguage)
}

func (s *ChatService) answer(ctx context.Context, deviceID string, state *domain.ConversationState, prior int, english, lang, region string) reply {
	history := s.englishHistory(ctx, state, prior)

	s.enter(ctx, deviceID, PhaseAwaitingAnswer)
	if s.moderator != nil {
		flagged, err := s.moderator.Moderate(ctx, english)
		if err != nil {
			s.degrade(ctx, classifyUpstream("moderation", err))
			return s.notice(ctx, lang, OutcomeApology)
		}
		if flagged {
			s.logger.InfoContext(ctx, "utterance refused", slog.String("reason", "moderation_flagged"))
			return s.notice(ctx, lang, OutcomeRefused)
		}
	}

	regionName := region
	if r, ok := s.catalog.Region(region); ok {
		regionName = r.Name
	}
	res, err := s.answerer.Answer(ctx, domain.QARequest{Question: english, History: history, Region: regionName})
	if err != nil {
		s.degrade(ctx, classifyUpstream("qa", err))
		return s.notice(ctx, lang, OutcomeApology)
	}

	s.enter(ctx, deviceID, PhaseAwaitingTranslationOut)
	return s.localize(ctx, res, lang)
}

// englishHistory returns up to maxHistory messages preceding index prior,
// in order and in English. Missing English renditions are translated once and
// cached on the messages; messages that cannot be translated are left out.
func (s *ChatService) englishHistory(ctx context.Context, state *domain.ConversationState, prior int) []domain.HistoryEntry {
	start := max(0, prior-s.maxHistory)

	pending := make(map[string][]int)
	for i := start; i < prior; i++ {
		m := state.Messages[i]
		if m.English != "" || isWorkingText(m) || strings.TrimSpace(m.Text) == "" {
			continue
		}
		pending[m.Language] = append(pending[m.Language], i)
	}

	dropped := make(map[int]bool)
	var mu sync.Mutex
	var g errgroup.Group
	for source, idxs := range pending {
		g.Go(func() error {
			texts := make([]string, len(idxs))
			for j, idx := range idxs {
				texts[j] = state.Messages[idx].Text
			}
			out, err := s.translator.TranslateAll(ctx, texts, source, translation.WorkingLanguage)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.degrade(ctx, newError(ErrorUpstream, "translation_history_failed", err))
				for _, idx := range idxs {
					dropped[idx] = true
				}
				return nil
			}
			for j, idx := range idxs {
				state.Messages[idx].English = out[j]
			}
			return nil
		})
	}
	_ = g.Wait()

	history := make([]domain.HistoryEntry, 0, prior-start)
	for i := start; i < prior; i++ {
		if dropped[i] {
			continue
		}
		m := state.Messages[i]
		content := m.English
		if content == "" {
			content = m.Text
		}
		role := domain.RoleUser
		if m.Sender == domain.SenderAssistant {
			role = domain.RoleModel
		}
		history = append(history, domain.HistoryEntry{Role: role, Content: content})
	}
	return history
}

func isWorkingText(m domain.Message) bool {
	return strings.TrimSpace(m.Language) == "" || !NeedsTranslation(m.Language)
}

// localize translates the answer and the suggestions into lang
// independently. An untranslated answer falls back to English; untranslated
// suggestions are omitted.
func (s *ChatService) localize(ctx context.Context, res domain.QAResult, lang string) reply {
	if !NeedsTranslation(lang) {
		return reply{
			text:        res.Answer,
			language:    translation.WorkingLanguage,
			suggestions: res.SuggestedQuestions,
			outcome:     OutcomeAnswered,
		}
	}

	var (
		g           errgroup.Group
		answer      string
		answerErr   error
		suggestions []string
	)
	g.Go(func() error {
		answer, answerErr = s.translator.Translate(ctx, res.Answer, lang)
		return nil
	})
	if len(res.SuggestedQuestions) > 0 {
		g.Go(func() error {
			out, err := s.translator.TranslateAll(ctx, res.SuggestedQuestions, translation.WorkingLanguage, lang)
			if err != nil {
				s.degrade(ctx, newError(ErrorUpstream, "translation_suggestions_failed", err))
				return nil
			}
			suggestions = out
			return nil
		})
	}
	_ = g.Wait()

	if answerErr != nil {
		s.degrade(ctx, newError(ErrorUpstream, "translation_out_failed", answerErr))
		return reply{
			text:        res.Answer,
			language:    translation.WorkingLanguage,
			suggestions: suggestions,
			outcome:     OutcomeAnswerUntranslated,
		}
	}
	return reply{
		text:        answer,
		english:     res.Answer,
		language:    lang,
		suggestions: suggestions,
		outcome:     OutcomeAnswered,
	}
}

// notice builds a fixed fallback reply in lang. The catalog copy is used when
// present; otherwise the English copy is translated best-effort.
func (s *ChatService) notice(ctx context.Context, lang string, outcome Outcome) reply {
	pick := func(n catalog.Notices) string {
		if outcome == OutcomeApology {
			return n.Apology
		}
		return n.NotUnderstood
	}
	working, _ := s.catalog.Notice(translation.WorkingLanguage)
	english := pick(working)
	fallback := reply{text: english, language: translation.WorkingLanguage, outcome: outcome}
	if !NeedsTranslation(lang) {
		return fallback
	}
	if local, ok := s.catalog.Notice(lang); ok {
		return reply{text: pick(local), english: english, language: lang, outcome: outcome}
	}
	translated, err := s.translator.Translate(ctx, english, lang)
	if err != nil {
		s.degrade(ctx, newError(ErrorUpstream, "translation_notice_failed", err))
		return fallback
	}
	return reply{text: translated, english: english, language: lang, outcome: outcome}
}

func (s *ChatService) degrade(ctx context.Context, e *Error) {
	s.logger.WarnContext(ctx, "chat turn degraded",
		slog.String("code", string(e.Code)),
		slog.String("reason", e.Reason),
		slog.Any("err", e.Err),
	)
}

func (s *ChatService) enter(ctx context.Context, deviceID string, p Phase) {
	s.logger.DebugContext(ctx, "chat phase",
		slog.String("deviceId", deviceID),
		slog.String("phase", p.String()),
	)
	if s.observe != nil {
		s.observe(deviceID, p)
	}
}

// newMessageID returns a time-ordered identifier so IDs sort in insertion
// order.
var newMessageID = func() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
