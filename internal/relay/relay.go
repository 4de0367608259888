package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"chatd/internal/store"
	"chatd/pkg/types"
)

// Generation defaults applied when the request leaves them unset.
const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 512
)

// Routes is the slice of the coordinator the relay reads: where chat
// traffic goes right now. The port is resolved once per request, so a
// hot swap mid-stream does not redirect an in-flight generation.
type Routes interface {
	ActiveTarget() (port int, ok bool)
	ActiveModel() string
}

// Relay bridges client chat requests to the active backend's
// chat-completions endpoint and records both sides of the exchange.
type Relay struct {
	store  store.Store
	routes Routes
	host   string
	// Timeout must stay zero: generations run arbitrarily long and are
	// bounded by the caller's context instead.
	client *http.Client
	log    zerolog.Logger
}

// New constructs a Relay dialing backends on host.
func New(st store.Store, routes Routes, host string, log zerolog.Logger) *Relay {
	if host == "" {
		host = "127.0.0.1"
	}
	return &Relay{
		store:  st,
		routes: routes,
		host:   host,
		client: &http.Client{Timeout: 0},
		log:    log.With().Str("component", "relay").Logger(),
	}
}

// prepared carries the per-request state resolved before dialing the backend.
type prepared struct {
	session types.Session
	history []types.ChatMessage
	baseURL string
}

// prepare resolves the session (creating one on demand), persists the new
// user turns, and builds the full message history for the backend.
func (r *Relay) prepare(ctx context.Context, req types.ChatRequest) (prepared, error) {
	port, ok := r.routes.ActiveTarget()
	if !ok {
		return prepared{}, backendUnavailableError{}
	}

	var sess types.Session
	var err error
	if req.SessionID != "" {
		sess, err = r.store.GetSession(ctx, req.SessionID)
	} else {
		title := firstUserLine(req.Messages)
		sess, err = r.store.CreateSession(ctx, title, req.Model, req.System)
	}
	if err != nil {
		return prepared{}, err
	}

	for _, m := range req.Messages {
		if m.Role != "user" {
			continue
		}
		if _, err := r.store.AppendMessage(ctx, sess.ID, "user", m.Content); err != nil {
			return prepared{}, fmt.Errorf("recording user turn: %w", err)
		}
	}

	stored, err := r.store.ListMessages(ctx, sess.ID)
	if err != nil {
		return prepared{}, err
	}
	history := make([]types.ChatMessage, 0, len(stored)+1)
	if sess.System != "" {
		history = append(history, types.ChatMessage{Role: "system", Content: sess.System})
	}
	for _, m := range stored {
		history = append(history, types.ChatMessage{Role: m.Role, Content: m.Content})
	}

	return prepared{
		session: sess,
		history: history,
		baseURL: fmt.Sprintf("http://%s:%d", r.host, port),
	}, nil
}

func (r *Relay) buildRequest(req types.ChatRequest, p prepared, stream bool) chatCompletionRequest {
	model := req.Model
	if model == "" {
		model = r.routes.ActiveModel()
	}
	out := chatCompletionRequest{
		Model:       model,
		Messages:    p.history,
		Stream:      stream,
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	}
	// Explicit values win, including zero: temperature 0 is greedy decoding,
	// not "use the default".
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}
	return out
}

func (r *Relay) postChat(ctx context.Context, baseURL string, body chatCompletionRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return r.client.Do(httpReq)
}

// Stream relays a chat request as a sequence of events handed to emit.
// The assistant turn is persisted only when the backend finishes the
// generation; cancellation or an upstream error leaves no partial turn in
// the store. Emit errors abort the relay (the client went away).
func (r *Relay) Stream(ctx context.Context, req types.ChatRequest, emit func(types.StreamEvent) error) error {
	p, err := r.prepare(ctx, req)
	if err != nil {
		return err
	}

	resp, err := r.postChat(ctx, p.baseURL, r.buildRequest(req, p, true))
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		r.log.Error().Err(err).Str("session", p.session.ID).Msg("backend dial failed")
		return emit(types.StreamEvent{Type: types.EventError, Error: "backend unreachable"})
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		r.log.Error().Int("status", resp.StatusCode).Str("session", p.session.ID).
			Str("body", string(msg)).Msg("backend rejected chat request")
		return emit(types.StreamEvent{Type: types.EventError,
			Error: fmt.Sprintf("backend returned %d", resp.StatusCode)})
	}

	var assistant strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return r.finishStream(ctx, p.session.ID, assistant.String(), emit)
		}
		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// a malformed chunk is the backend's problem, not the stream's
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			assistant.WriteString(choice.Delta.Content)
			if err := emit(types.StreamEvent{Type: types.EventToken, Token: choice.Delta.Content}); err != nil {
				return nil
			}
		}
		if len(choice.Delta.ToolCalls) > 0 {
			if err := emit(types.StreamEvent{Type: types.EventTool, Tool: choice.Delta.ToolCalls}); err != nil {
				return nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			// client cancelled; the partial turn is dropped
			return nil
		}
		r.log.Error().Err(err).Str("session", p.session.ID).Msg("backend stream broke")
		return emit(types.StreamEvent{Type: types.EventError, Error: "backend stream interrupted"})
	}
	// stream ended without [DONE]; treat a clean EOF like completion
	return r.finishStream(ctx, p.session.ID, assistant.String(), emit)
}

func (r *Relay) finishStream(ctx context.Context, sessionID, reply string, emit func(types.StreamEvent) error) error {
	if reply != "" {
		if _, err := r.store.AppendMessage(ctx, sessionID, "assistant", reply); err != nil {
			r.log.Error().Err(err).Str("session", sessionID).Msg("persisting assistant turn failed")
			return emit(types.StreamEvent{Type: types.EventError, Error: "failed to record reply"})
		}
	}
	return emit(types.StreamEvent{Type: types.EventDone})
}

// Complete relays a chat request without streaming and returns the full
// reply. The same persistence rules as Stream apply.
func (r *Relay) Complete(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error) {
	p, err := r.prepare(ctx, req)
	if err != nil {
		return types.ChatResponse{}, err
	}

	resp, err := r.postChat(ctx, p.baseURL, r.buildRequest(req, p, false))
	if err != nil {
		return types.ChatResponse{}, fmt.Errorf("dialing backend: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return types.ChatResponse{}, fmt.Errorf("backend returned %d: %s", resp.StatusCode, msg)
	}

	var parsed chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return types.ChatResponse{}, fmt.Errorf("decoding backend reply: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return types.ChatResponse{}, fmt.Errorf("backend returned no choices")
	}
	reply := parsed.Choices[0].Message.Content

	if reply != "" {
		if _, err := r.store.AppendMessage(ctx, p.session.ID, "assistant", reply); err != nil {
			return types.ChatResponse{}, fmt.Errorf("recording assistant turn: %w", err)
		}
	}
	return types.ChatResponse{Reply: reply, SessionID: p.session.ID}, nil
}

// ListOnline asks the active backend which models it serves. An empty list
// with no error when no backend is up keeps GET /api/models/list usable
// during cold start.
func (r *Relay) ListOnline(ctx context.Context) ([]types.OnlineModel, error) {
	port, ok := r.routes.ActiveTarget()
	if !ok {
		return []types.OnlineModel{}, nil
	}
	url := fmt.Sprintf("http://%s:%d/v1/models", r.host, port)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("dialing backend: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend returned %d", resp.StatusCode)
	}
	var parsed modelsListResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding models list: %w", err)
	}
	out := make([]types.OnlineModel, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		out = append(out, types.OnlineModel{ID: m.ID})
	}
	return out, nil
}

// firstUserLine derives a session title from the opening user message.
func firstUserLine(msgs []types.ChatMessage) string {
	for _, m := range msgs {
		if m.Role != "user" || m.Content == "" {
			continue
		}
		line := m.Content
		if i := strings.IndexByte(line, '\n'); i >= 0 {
			line = line[:i]
		}
		if len(line) > 60 {
			line = line[:60]
		}
		return line
	}
	return "untitled"
}
