// Package handler adapts API Gateway proxy events to the chat, FAQ, settings
// and directory services.
package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"periodpal/internal/catalog"
	"periodpal/internal/domain"
	"periodpal/internal/translation"
	"periodpal/internal/usecase"
)

const (
	headerCorrelationID = "X-Correlation-Id"
	headerDeviceID      = "X-Device-Id"

	errorNotFound = "NOT_FOUND"
)

type ChatService interface {
	Submit(ctx context.Context, in usecase.SubmitInput) (usecase.Turn, error)
	Conversation(ctx context.Context, deviceID string) (domain.ConversationState, error)
	SetLanguage(ctx context.Context, deviceID, language string) (domain.ConversationState, error)
	Reset(ctx context.Context, deviceID string) (domain.ConversationState, error)
}

type FAQService interface {
	Prompts(ctx context.Context, region, language string) (usecase.FAQList, error)
}

type SettingsService interface {
	Get(ctx context.Context, deviceID string) domain.Settings
	Update(ctx context.Context, deviceID string, u usecase.SettingsUpdate) (domain.Settings, error)
}

// Directory is the read-only reference content served by /regions, /myths
// and /locations.
type Directory interface {
	RegionKeys() []string
	Region(key string) (catalog.Region, bool)
	DefaultLanguage(region string) string
	FilterLocations(f catalog.LocationFilter) []catalog.Location
}

type Deps struct {
	Chat      ChatService
	FAQs      FAQService
	Settings  SettingsService
	Directory Directory
	Logger    *slog.Logger
}

type Handler struct {
	chat      ChatService
	faqs      FAQService
	settings  SettingsService
	directory Directory
	logger    *slog.Logger
	routes    map[string]routeFunc
}

type request struct {
	event         events.APIGatewayProxyRequest
	deviceID      string
	correlationID string
}

type routeFunc func(ctx context.Context, r request) (int, any, error)

func NewHandler(d Deps) (*Handler, error) {
	switch {
	case d.Chat == nil:
		return nil, errors.New("handler: chat service must not be nil")
	case d.FAQs == nil:
		return nil, errors.New("handler: faq service must not be nil")
	case d.Settings == nil:
		return nil, errors.New("handler: settings service must not be nil")
	case d.Directory == nil:
		return nil, errors.New("handler: directory must not be nil")
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		chat:      d.Chat,
		faqs:      d.FAQs,
		settings:  d.Settings,
		directory: d.Directory,
		logger:    logger,
	}
	h.routes = map[string]routeFunc{
		"POST /chat":         h.submit,
		"GET /chat":          h.conversation,
		"DELETE /chat":       h.reset,
		"PUT /chat/language": h.setLanguage,
		"GET /faqs":          h.faqPrompts,
		"GET /settings":      h.getSettings,
		"PUT /settings":      h.updateSettings,
		"GET /regions":       h.regions,
		"GET /myths":         h.myths,
		"GET /locations":     h.locations,
	}
	return h, nil
}

// Handle serves one API Gateway proxy request. Failures are always rendered
// as an error response; the returned error is reserved for the runtime and is
// nil in practice.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	r := request{
		event:         event,
		deviceID:      headerValue(event.Headers, headerDeviceID),
		correlationID: headerValue(event.Headers, headerCorrelationID),
	}
	if r.correlationID == "" {
		r.correlationID = uuid.NewString()
	}
	if r.deviceID == "" {
		r.deviceID = uuid.NewString()
	}
	logger := h.logger.With(
		slog.String("correlationId", r.correlationID),
		slog.String("method", event.HTTPMethod),
		slog.String("path", event.Path),
	)

	route, ok := h.routes[routeKey(event.HTTPMethod, event.Path)]
	if !ok {
		logger.InfoContext(ctx, "route not found")
		return h.respond(r, http.StatusNotFound, errorResponse{Error: errorNotFound}), nil
	}

	status, body, err := route(ctx, r)
	if err != nil {
		var resp errorResponse
		status, resp = mapError(err)
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
			level = slog.LevelError
		}
		logger.Log(ctx, level, "request failed",
			slog.Int("status", status),
			slog.String("code", resp.Error),
			slog.String("reason", resp.Reason),
			slog.Any("err", err),
		)
		return h.respond(r, status, resp), nil
	}
	logger.DebugContext(ctx, "request served", slog.Int("status", status))
	return h.respond(r, status, body), nil
}

type chatRequest struct {
	Message         string `json:"message"`
	Canonical       string `json:"canonical,omitempty"`
	Language        string `json:"language,omitempty"`
	Region          string `json:"region,omitempty"`
	ExpectedVersion *int64 `json:"expectedVersion,omitempty"`
}

type chatResponse struct {
	User               domain.Message  `json:"user"`
	Assistant          *domain.Message `json:"assistant,omitempty"`
	SuggestedQuestions []string        `json:"suggestedQuestions"`
	Outcome            usecase.Outcome `json:"outcome"`
	Notice             *usecase.Notice `json:"notice,omitempty"`
	Language           string          `json:"language"`
	Version            int64           `json:"version"`
	Persisted          bool            `json:"persisted"`
}

type conversationResponse struct {
	Messages []domain.Message `json:"messages"`
	Language string           `json:"language"`
	Version  int64            `json:"version"`
}

type languageRequest struct {
	Language string `json:"language"`
}

type settingsRequest struct {
	Region   string `json:"region,omitempty"`
	Language string `json:"language,omitempty"`
}

type regionSummary struct {
	Key       string            `json:"key"`
	Name      string            `json:"name"`
	Languages []string          `json:"languages"`
	UI        map[string]string `json:"ui"`
}

type regionsResponse struct {
	Current string          `json:"current"`
	Regions []regionSummary `json:"regions"`
}

type mythsResponse struct {
	Region string         `json:"region"`
	Name   string         `json:"name"`
	Myths  []catalog.Myth `json:"myths"`
}

type locationsResponse struct {
	Locations []catalog.Location `json:"locations"`
}

type errorResponse struct {
	Error  string          `json:"error"`
	Reason string          `json:"reason,omitempty"`
	Notice *usecase.Notice `json:"notice,omitempty"`
}

func (h *Handler) submit(ctx context.Context, r request) (int, any, error) {
	var req chatRequest
	if err := decodeBody(r.event, &req); err != nil {
		return 0, nil, err
	}
	turn, err := h.chat.Submit(ctx, usecase.SubmitInput{
		DeviceID:        r.deviceID,
		Utterance:       req.Message,
		Canonical:       req.Canonical,
		Language:        req.Language,
		Region:          req.Region,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		return 0, nil, err
	}
	suggestions := turn.SuggestedQuestions
	if suggestions == nil {
		suggestions = []string{}
	}
	resp := chatResponse{
		User:               turn.User,
		SuggestedQuestions: suggestions,
		Outcome:            turn.Outcome,
		Notice:             turn.Notice,
		Language:           turn.State.Language,
		Version:            turn.State.Version,
		Persisted:          turn.Persisted,
	}
	if turn.Assistant.ID != "" {
		assistant := turn.Assistant
		resp.Assistant = &assistant
	}
	return http.StatusOK, resp, nil
}

func (h *Handler) conversation(ctx context.Context, r request) (int, any, error) {
	state, err := h.chat.Conversation(ctx, r.deviceID)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, toConversation(state), nil
}

func (h *Handler) setLanguage(ctx context.Context, r request) (int, any, error) {
	var req languageRequest
	if err := decodeBody(r.event, &req); err != nil {
		return 0, nil, err
	}
	state, err := h.chat.SetLanguage(ctx, r.deviceID, req.Language)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, toConversation(state), nil
}

func (h *Handler) reset(ctx context.Context, r request) (int, any, error) {
	state, err := h.chat.Reset(ctx, r.deviceID)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, toConversation(state), nil
}

func (h *Handler) faqPrompts(ctx context.Context, r request) (int, any, error) {
	settings := h.settings.Get(ctx, r.deviceID)
	region, language := settings.Region, settings.Language
	if q := strings.TrimSpace(r.event.QueryStringParameters["region"]); q != "" && q != region {
		region = q
		language = h.directory.DefaultLanguage(q)
	}
	if q := strings.TrimSpace(r.event.QueryStringParameters["language"]); q != "" {
		lang, err := translation.Normalize(q)
		if err != nil {
			return 0, nil, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_language", Err: err}
		}
		language = lang
	}
	list, err := h.faqs.Prompts(ctx, region, language)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, list, nil
}

func (h *Handler) getSettings(ctx context.Context, r request) (int, any, error) {
	return http.StatusOK, h.settings.Get(ctx, r.deviceID), nil
}

func (h *Handler) updateSettings(ctx context.Context, r request) (int, any, error) {
	var req settingsRequest
	if err := decodeBody(r.event, &req); err != nil {
		return 0, nil, err
	}
	s, err := h.settings.Update(ctx, r.deviceID, usecase.SettingsUpdate{Region: req.Region, Language: req.Language})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, s, nil
}

// regions lists the selectable regions with their languages and home-screen
// strings, marking the device's current selection.
func (h *Handler) regions(ctx context.Context, r request) (int, any, error) {
	keys := h.directory.RegionKeys()
	out := regionsResponse{
		Current: h.settings.Get(ctx, r.deviceID).Region,
		Regions: make([]regionSummary, 0, len(keys)),
	}
	for _, k := range keys {
		region, ok := h.directory.Region(k)
		if !ok {
			continue
		}
		ui := region.UI
		if ui == nil {
			ui = map[string]string{}
		}
		out.Regions = append(out.Regions, regionSummary{Key: region.Key, Name: region.Name, Languages: region.Languages, UI: ui})
	}
	return http.StatusOK, out, nil
}

func (h *Handler) myths(ctx context.Context, r request) (int, any, error) {
	key := strings.TrimSpace(r.event.QueryStringParameters["region"])
	if key == "" {
		key = h.settings.Get(ctx, r.deviceID).Region
	}
	region, ok := h.directory.Region(key)
	if !ok {
		return 0, nil, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "unknown_region"}
	}
	myths := region.Myths
	if myths == nil {
		myths = []catalog.Myth{}
	}
	return http.StatusOK, mythsResponse{Region: region.Key, Name: region.Name, Myths: myths}, nil
}

func (h *Handler) locations(_ context.Context, r request) (int, any, error) {
	q := r.event.QueryStringParameters
	filter := catalog.LocationFilter{Search: q["q"]}

	if raw := strings.TrimSpace(q["accessible"]); raw != "" {
		accessible, err := strconv.ParseBool(raw)
		if err != nil {
			return 0, nil, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_accessible", Err: err}
		}
		filter.AccessibleOnly = accessible
	}

	products := r.event.MultiValueQueryStringParameters["product"]
	if len(products) == 0 && q["product"] != "" {
		products = []string{q["product"]}
	}
	for _, p := range products {
		for _, name := range strings.Split(p, ",") {
			if name = strings.TrimSpace(name); name != "" {
				filter.Products = append(filter.Products, name)
			}
		}
	}

	return http.StatusOK, locationsResponse{Locations: h.directory.FilterLocations(filter)}, nil
}

func toConversation(s domain.ConversationState) conversationResponse {
	msgs := s.Messages
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return conversationResponse{Messages: msgs, Language: s.Language, Version: s.Version}
}

func (h *Handler) respond(r request, status int, body any) events.APIGatewayProxyResponse {
	headers := map[string]string{
		"Content-Type":      "application/json",
		headerCorrelationID: r.correlationID,
		headerDeviceID:      r.deviceID,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		raw = []byte(`{"error":"` + string(usecase.ErrorInternal) + `"}`)
	}
	return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers, Body: string(raw)}
}

func mapError(err error) (int, errorResponse) {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)}
	}
	resp := errorResponse{Error: string(ue.Code), Reason: ue.Reason, Notice: ue.Notice}
	switch ue.Code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, resp
	case usecase.ErrorOffline:
		return http.StatusServiceUnavailable, resp
	case usecase.ErrorConflict:
		return http.StatusConflict, resp
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests, resp
	case usecase.ErrorUpstream:
		return http.StatusBadGateway, resp
	default:
		return http.StatusInternalServerError, resp
	}
}

// decodeBody strictly decodes a JSON object body: unknown fields and
// trailing data are rejected.
func decodeBody(event events.APIGatewayProxyRequest, out any) error {
	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return invalidBody(err)
		}
		body = decoded
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return invalidBody(errors.New("empty body"))
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return invalidBody(err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return invalidBody(errors.New("unexpected trailing data"))
	}
	return nil
}

func invalidBody(err error) error {
	return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err}
}

func routeKey(method, path string) string {
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		path = "/"
	}
	return strings.ToUpper(method) + " " + path
}

func headerValue(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
