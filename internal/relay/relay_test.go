package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"chatd/internal/store"
	"chatd/pkg/types"
)

type fakeRoutes struct {
	port  int
	model string
}

func (f *fakeRoutes) ActiveTarget() (int, bool) { return f.port, f.port != 0 }
func (f *fakeRoutes) ActiveModel() string       { return f.model }

// testBackend is an httptest stand-in for the OpenAI-compatible server.
type testBackend struct {
	t  *testing.T
	mu sync.Mutex
	// requests seen on /v1/chat/completions
	requests []chatCompletionRequest
	// scripted SSE data lines for streaming responses
	streamLines []string
	// non-streaming reply text
	reply  string
	status int
	// when set, the handler blocks after the first line until release closes
	release chan struct{}

	srv *httptest.Server
}

func newTestBackend(t *testing.T) *testBackend {
	b := &testBackend{t: t, status: http.StatusOK}
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *testBackend) hostPort(t *testing.T) (string, int) {
	t.Helper()
	u, err := url.Parse(b.srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return u.Hostname(), port
}

func (b *testBackend) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/v1/models" {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"id": "org/model"}},
		})
		return
	}

	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	b.requests = append(b.requests, req)
	status := b.status
	lines := b.streamLines
	reply := b.reply
	release := b.release
	b.mu.Unlock()

	if status != http.StatusOK {
		http.Error(w, "backend exploded", status)
		return
	}
	if !req.Stream {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{
				"role": "assistant", "content": reply,
			}}},
		})
		return
	}

	// With no scripted lines, stream the reply text in small pieces so the
	// same backend state serves both transports.
	if len(lines) == 0 && reply != "" {
		for _, piece := range splitChunks(reply, 4) {
			lines = append(lines, tokenChunk(piece))
		}
		lines = append(lines, "[DONE]")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)
	for i, line := range lines {
		fmt.Fprintf(w, "data: %s\n\n", line)
		flusher.Flush()
		if release != nil && i == 0 {
			<-release
		}
	}
}

func (b *testBackend) lastRequest(t *testing.T) chatCompletionRequest {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.requests)
	return b.requests[len(b.requests)-1]
}

func tokenChunk(text string) string {
	return fmt.Sprintf(`{"choices":[{"delta":{"content":%s}}]}`, strconv.Quote(text))
}

func splitChunks(s string, n int) []string {
	var out []string
	for len(s) > n {
		out = append(out, s[:n])
		s = s[n:]
	}
	return append(out, s)
}

func newTestRelay(t *testing.T, backend *testBackend) (*Relay, store.Store) {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "chat.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	host, port := backend.hostPort(t)
	r := New(st, &fakeRoutes{port: port, model: "org/model"}, host, zerolog.Nop())
	return r, st
}

func collectEvents(t *testing.T, r *Relay, ctx context.Context, req types.ChatRequest) []types.StreamEvent {
	t.Helper()
	var events []types.StreamEvent
	err := r.Stream(ctx, req, func(e types.StreamEvent) error {
		events = append(events, e)
		return nil
	})
	require.NoError(t, err)
	return events
}

func TestStreamTokensAndPersist(t *testing.T) {
	backend := newTestBackend(t)
	backend.streamLines = []string{
		tokenChunk("Hel"), tokenChunk("lo"), tokenChunk("!"),
		`{"choices":[{"delta":{"tool_calls":[{"id":"call_1","function":{"name":"search"}}]}}]}`,
		"[DONE]",
	}
	r, st := newTestRelay(t, backend)

	events := collectEvents(t, r, context.Background(), types.ChatRequest{
		Messages: []types.ChatMessage{{Role: "user", Content: "say hello"}},
	})

	require.Len(t, events, 5)
	require.Equal(t, types.EventToken, events[0].Type)
	require.Equal(t, "Hel", events[0].Token)
	require.Equal(t, types.EventTool, events[3].Type)
	require.NotEmpty(t, events[3].Tool)
	require.Equal(t, types.EventDone, events[4].Type)

	sessions, err := st.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "say hello", sessions[0].Title)

	msgs, err := st.ListMessages(context.Background(), sessions[0].ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "user", msgs[0].Role)
	require.Equal(t, "assistant", msgs[1].Role)
	require.Equal(t, "Hello!", msgs[1].Content)
}

func TestStreamSkipsMalformedChunks(t *testing.T) {
	backend := newTestBackend(t)
	backend.streamLines = []string{"not json{", tokenChunk("ok"), "[DONE]"}
	r, _ := newTestRelay(t, backend)

	events := collectEvents(t, r, context.Background(), types.ChatRequest{
		Messages: []types.ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.Len(t, events, 2)
	require.Equal(t, "ok", events[0].Token)
	require.Equal(t, types.EventDone, events[1].Type)
}

func TestStreamBackendErrorEmitsSingleErrorEvent(t *testing.T) {
	backend := newTestBackend(t)
	backend.status = http.StatusInternalServerError
	r, st := newTestRelay(t, backend)

	events := collectEvents(t, r, context.Background(), types.ChatRequest{
		Messages: []types.ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.Len(t, events, 1)
	require.Equal(t, types.EventError, events[0].Type)
	require.Contains(t, events[0].Error, "500")

	// the user turn is recorded, the assistant turn is not
	sessions, err := st.ListSessions(context.Background())
	require.NoError(t, err)
	msgs, err := st.ListMessages(context.Background(), sessions[0].ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "user", msgs[0].Role)
}

func TestStreamCancellationDropsPartialTurn(t *testing.T) {
	backend := newTestBackend(t)
	backend.release = make(chan struct{})
	defer close(backend.release)
	backend.streamLines = []string{tokenChunk("partial"), tokenChunk("never sent"), "[DONE]"}
	r, st := newTestRelay(t, backend)

	ctx, cancel := context.WithCancel(context.Background())
	var events []types.StreamEvent
	err := r.Stream(ctx, types.ChatRequest{
		Messages: []types.ChatMessage{{Role: "user", Content: "hi"}},
	}, func(e types.StreamEvent) error {
		events = append(events, e)
		cancel()
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, events)
	for _, e := range events {
		require.NotEqual(t, types.EventDone, e.Type)
	}

	sessions, err := st.ListSessions(context.Background())
	require.NoError(t, err)
	msgs, err := st.ListMessages(context.Background(), sessions[0].ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "partial assistant turn must not be stored")
}

func TestStreamWithoutBackend(t *testing.T) {
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "chat.db"), zerolog.Nop())
	require.NoError(t, err)
	defer st.Close()
	r := New(st, &fakeRoutes{}, "127.0.0.1", zerolog.Nop())

	err = r.Stream(context.Background(), types.ChatRequest{
		Messages: []types.ChatMessage{{Role: "user", Content: "hi"}},
	}, func(types.StreamEvent) error { return nil })
	require.True(t, IsBackendUnavailable(err))

	// nothing is persisted when no backend is up
	sessions, err := st.ListSessions(context.Background())
	require.NoError(t, err)
	require.Empty(t, sessions)
}

func TestStreamUnknownSession(t *testing.T) {
	backend := newTestBackend(t)
	r, _ := newTestRelay(t, backend)
	err := r.Stream(context.Background(), types.ChatRequest{
		SessionID: "missing",
		Messages:  []types.ChatMessage{{Role: "user", Content: "hi"}},
	}, func(types.StreamEvent) error { return nil })
	require.True(t, store.IsNotFound(err))
}

func TestCompleteDefaultsAndPersistence(t *testing.T) {
	backend := newTestBackend(t)
	backend.reply = "full reply"
	r, st := newTestRelay(t, backend)

	resp, err := r.Complete(context.Background(), types.ChatRequest{
		System:   "be terse",
		Messages: []types.ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "full reply", resp.Reply)
	require.NotEmpty(t, resp.SessionID)

	sent := backend.lastRequest(t)
	require.False(t, sent.Stream)
	require.Equal(t, "org/model", sent.Model)
	require.InDelta(t, 0.7, sent.Temperature, 1e-9)
	require.Equal(t, 512, sent.MaxTokens)
	require.Equal(t, "system", sent.Messages[0].Role)
	require.Equal(t, "be terse", sent.Messages[0].Content)

	msgs, err := st.ListMessages(context.Background(), resp.SessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "full reply", msgs[1].Content)
}

func TestStreamAndCompleteProduceSameReply(t *testing.T) {
	backend := newTestBackend(t)
	backend.reply = "streaming and blocking must agree"
	r, _ := newTestRelay(t, backend)

	events := collectEvents(t, r, context.Background(), types.ChatRequest{
		Messages: []types.ChatMessage{{Role: "user", Content: "hi"}},
	})
	var streamed strings.Builder
	for _, e := range events {
		if e.Type == types.EventToken {
			streamed.WriteString(e.Token)
		}
	}
	require.Equal(t, types.EventDone, events[len(events)-1].Type)

	resp, err := r.Complete(context.Background(), types.ChatRequest{
		Messages: []types.ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, resp.Reply, streamed.String())
}

func TestExplicitSamplingValuesForwarded(t *testing.T) {
	backend := newTestBackend(t)
	backend.reply = "greedy"
	r, _ := newTestRelay(t, backend)

	temp := 0.0
	maxTokens := 16
	_, err := r.Complete(context.Background(), types.ChatRequest{
		Messages:    []types.ChatMessage{{Role: "user", Content: "hi"}},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	require.NoError(t, err)

	sent := backend.lastRequest(t)
	require.Zero(t, sent.Temperature, "temperature 0 means greedy, not default")
	require.Equal(t, 16, sent.MaxTokens)
}

func TestModelOverrideForwarded(t *testing.T) {
	backend := newTestBackend(t)
	backend.reply = "ok"
	r, _ := newTestRelay(t, backend)

	_, err := r.Complete(context.Background(), types.ChatRequest{
		Model:    "org/other",
		Messages: []types.ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "org/other", backend.lastRequest(t).Model)
}

func TestSessionHistoryReplayed(t *testing.T) {
	backend := newTestBackend(t)
	backend.reply = "first"
	r, _ := newTestRelay(t, backend)

	resp, err := r.Complete(context.Background(), types.ChatRequest{
		Messages: []types.ChatMessage{{Role: "user", Content: "one"}},
	})
	require.NoError(t, err)

	backend.reply = "second"
	_, err = r.Complete(context.Background(), types.ChatRequest{
		SessionID: resp.SessionID,
		Messages:  []types.ChatMessage{{Role: "user", Content: "two"}},
	})
	require.NoError(t, err)

	sent := backend.lastRequest(t)
	// full transcript goes back to the backend: one, first, two
	require.Len(t, sent.Messages, 3)
	require.Equal(t, "one", sent.Messages[0].Content)
	require.Equal(t, "first", sent.Messages[1].Content)
	require.Equal(t, "two", sent.Messages[2].Content)
}

func TestListOnline(t *testing.T) {
	backend := newTestBackend(t)
	r, _ := newTestRelay(t, backend)

	models, err := r.ListOnline(context.Background())
	require.NoError(t, err)
	require.Equal(t, []types.OnlineModel{{ID: "org/model"}}, models)
}

func TestListOnlineWithoutBackend(t *testing.T) {
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "chat.db"), zerolog.Nop())
	require.NoError(t, err)
	defer st.Close()
	r := New(st, &fakeRoutes{}, "127.0.0.1", zerolog.Nop())

	models, err := r.ListOnline(context.Background())
	require.NoError(t, err)
	require.Empty(t, models)
}
