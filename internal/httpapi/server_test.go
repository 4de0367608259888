package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"chatd/internal/manager"
	"chatd/internal/relay"
	"chatd/internal/store"
	"chatd/pkg/types"
)

type mockCoordinator struct {
	reloadPort  int
	reloadErr   error
	reloadModel string
	status      types.StatusResponse
	ready       bool
}

func (m *mockCoordinator) Reload(ctx context.Context, model, revision string) (int, error) {
	m.reloadModel = model
	if m.reloadErr != nil {
		return 0, m.reloadErr
	}
	return m.reloadPort, nil
}
func (m *mockCoordinator) Status() types.StatusResponse { return m.status }
func (m *mockCoordinator) Ready() bool                  { return m.ready }

type mockModelStore struct {
	local      []types.LocalModel
	deleteErr  error
	deleted    string
	downloaded string
	saved      string
}

func (m *mockModelStore) ListLocal() ([]types.LocalModel, error) { return m.local, nil }
func (m *mockModelStore) Delete(id string) error {
	m.deleted = id
	return m.deleteErr
}
func (m *mockModelStore) Download(ctx context.Context, repoID, revision string) (string, error) {
	m.downloaded = repoID
	return strings.ReplaceAll(repoID, "/", "--"), nil
}
func (m *mockModelStore) SaveArchive(name, filename string, r io.Reader) error {
	m.saved = name + ":" + filename
	io.Copy(io.Discard, r)
	return nil
}
func (m *mockModelStore) Resolve(id string) string { return id }

type mockRelay struct {
	events      []types.StreamEvent
	streamErr   error
	completeErr error
	reply       types.ChatResponse
	online      []types.OnlineModel
	onlineErr   error
}

func (m *mockRelay) Stream(ctx context.Context, req types.ChatRequest, emit func(types.StreamEvent) error) error {
	if m.streamErr != nil {
		return m.streamErr
	}
	for _, e := range m.events {
		if err := emit(e); err != nil {
			return nil
		}
	}
	return nil
}
func (m *mockRelay) Complete(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error) {
	return m.reply, m.completeErr
}
func (m *mockRelay) ListOnline(ctx context.Context) ([]types.OnlineModel, error) {
	return m.online, m.onlineErr
}

type testEnv struct {
	srv    *Server
	mux    http.Handler
	store  store.Store
	coord  *mockCoordinator
	models *mockModelStore
	relay  *mockRelay
	opts   Options
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "chat.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	env := &testEnv{
		store:  st,
		coord:  &mockCoordinator{ready: true, reloadPort: 4322},
		models: &mockModelStore{},
		relay:  &mockRelay{},
		opts:   opts,
	}
	env.srv = NewServer(st, env.models, env.coord, env.relay, opts, zerolog.Nop())
	env.mux = env.srv.NewMux()
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	env.mux.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return out
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, Options{})

	w := env.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	env.coord.ready = false
	w = env.do(t, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.coord.status = types.StatusResponse{ActivePort: 4321, ActiveModel: "org/model"}

	w := env.do(t, http.MethodGet, "/status", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decodeBody[types.StatusResponse](t, w)
	require.Equal(t, 4321, st.ActivePort)
	require.Equal(t, "org/model", st.ActiveModel)
}

func TestSessionRoutes(t *testing.T) {
	env := newTestEnv(t, Options{})

	w := env.do(t, http.MethodPost, "/api/sessions",
		types.CreateSessionRequest{Title: "t", Model: "m"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	created := decodeBody[types.CreatedResponse](t, w)
	require.NotEmpty(t, created.ID)

	w = env.do(t, http.MethodGet, "/api/sessions", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	sessions := decodeBody[[]types.Session](t, w)
	require.Len(t, sessions, 1)

	w = env.do(t, http.MethodPost, "/api/sessions/"+created.ID+"/rename",
		types.RenameSessionRequest{Title: "renamed"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/sessions/"+created.ID+"/messages", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, decodeBody[[]types.Message](t, w))

	w = env.do(t, http.MethodGet, "/api/sessions/nope/messages", nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodDelete, "/api/sessions/"+created.ID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodDelete, "/api/sessions/"+created.ID, nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRenameRequiresTitle(t *testing.T) {
	env := newTestEnv(t, Options{})
	w := env.do(t, http.MethodPost, "/api/sessions/x/rename",
		types.RenameSessionRequest{Title: "  "}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTemplateRoutes(t *testing.T) {
	env := newTestEnv(t, Options{})

	w := env.do(t, http.MethodPost, "/api/templates",
		types.CreateTemplateRequest{Name: "sum", Prompt: "Summarize:"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	created := decodeBody[types.CreatedResponse](t, w)

	w = env.do(t, http.MethodGet, "/api/templates", nil, nil)
	tpls := decodeBody[[]types.Template](t, w)
	require.Len(t, tpls, 1)
	require.Equal(t, "sum", tpls[0].Name)

	w = env.do(t, http.MethodDelete, "/api/templates/"+created.ID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodDelete, "/api/templates/"+created.ID, nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportImportRoutes(t *testing.T) {
	env := newTestEnv(t, Options{})

	sess, err := env.store.CreateSession(context.Background(), "trip", "m", "")
	require.NoError(t, err)
	_, err = env.store.AppendMessage(context.Background(), sess.ID, "user", "hi")
	require.NoError(t, err)

	w := env.do(t, http.MethodGet, "/api/sessions/"+sess.ID+"/export", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	export := decodeBody[types.SessionExport](t, w)
	require.Equal(t, sess.ID, export.Session.ID)
	require.Len(t, export.Messages, 1)

	// round-trip through the multipart import route
	require.NoError(t, env.store.DeleteSession(context.Background(), sess.ID))

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile("file", "session.json")
	require.NoError(t, err)
	require.NoError(t, json.NewEncoder(fw).Encode(export))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/import", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	msgs, err := env.store.ListMessages(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestAdminGateOpenMode(t *testing.T) {
	env := newTestEnv(t, Options{})
	w := env.do(t, http.MethodPost, "/api/models/reload",
		types.ReloadRequest{Model: "org/model"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAdminGateEnforced(t *testing.T) {
	env := newTestEnv(t, Options{AdminToken: "s3cret"})

	w := env.do(t, http.MethodPost, "/api/models/reload",
		types.ReloadRequest{Model: "m"}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/api/models/reload",
		types.ReloadRequest{Model: "m"}, map[string]string{"Authorization": "Bearer wrong"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/api/models/reload",
		types.ReloadRequest{Model: "m"}, map[string]string{"Authorization": "Bearer s3cret"})
	require.Equal(t, http.StatusOK, w.Code)

	// non-admin routes stay open
	w = env.do(t, http.MethodGet, "/api/sessions", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestReloadResponseAndErrorMapping(t *testing.T) {
	env := newTestEnv(t, Options{})

	w := env.do(t, http.MethodPost, "/api/models/reload",
		types.ReloadRequest{Model: "org/model"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[types.ReloadResponse](t, w)
	require.True(t, resp.OK)
	require.Equal(t, 4322, resp.ActivePort)

	env.coord.reloadErr = manager.ErrReloadInProgress()
	w = env.do(t, http.MethodPost, "/api/models/reload",
		types.ReloadRequest{Model: "org/model"}, nil)
	require.Equal(t, http.StatusConflict, w.Code)

	env.coord.reloadErr = manager.ErrReloadFailed(errors.New("backend never became ready"))
	w = env.do(t, http.MethodPost, "/api/models/reload",
		types.ReloadRequest{Model: "org/model"}, nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	w = env.do(t, http.MethodPost, "/api/models/reload",
		types.ReloadRequest{Model: " "}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestModelRoutes(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.models.local = []types.LocalModel{{ID: "m1", Path: "/models/m1"}}
	env.relay.online = []types.OnlineModel{{ID: "org/model"}}

	w := env.do(t, http.MethodGet, "/api/models/list", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeBody[types.ModelsListResponse](t, w)
	require.Len(t, list.Local, 1)
	require.Len(t, list.Online, 1)

	// backend listing failure degrades to an empty online list
	env.relay.onlineErr = errors.New("backend down")
	w = env.do(t, http.MethodGet, "/api/models/list", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list = decodeBody[types.ModelsListResponse](t, w)
	require.Empty(t, list.Online)

	w = env.do(t, http.MethodPost, "/api/models/download",
		types.DownloadRequest{RepoID: "org/model"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "org/model", env.models.downloaded)

	w = env.do(t, http.MethodPost, "/api/models/delete",
		types.DeleteModelRequest{Model: "m1"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "m1", env.models.deleted)
}

func TestUploadRoute(t *testing.T) {
	env := newTestEnv(t, Options{})

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	require.NoError(t, mw.WriteField("name", "uploaded"))
	fw, err := mw.CreateFormFile("file", "model.zip")
	require.NoError(t, err)
	fw.Write([]byte("zipbytes"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/models/upload", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	env.mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "uploaded:model.zip", env.models.saved)
}

func TestChatRoute(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.relay.reply = types.ChatResponse{Reply: "hello", SessionID: "abc"}

	w := env.do(t, http.MethodPost, "/api/chat",
		types.ChatRequest{Messages: []types.ChatMessage{{Role: "user", Content: "hi"}}}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[types.ChatResponse](t, w)
	require.Equal(t, "hello", resp.Reply)

	w = env.do(t, http.MethodPost, "/api/chat", types.ChatRequest{}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	env.relay.completeErr = relay.ErrBackendUnavailable()
	w = env.do(t, http.MethodPost, "/api/chat",
		types.ChatRequest{Messages: []types.ChatMessage{{Role: "user", Content: "hi"}}}, nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestChatStreamSSEShape(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.relay.events = []types.StreamEvent{
		{Type: types.EventToken, Token: "he"},
		{Type: types.EventToken, Token: "y"},
		{Type: types.EventDone},
	}

	w := env.do(t, http.MethodPost, "/api/chat/stream",
		types.ChatRequest{Messages: []types.ChatMessage{{Role: "user", Content: "hi"}}}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	var events []types.StreamEvent
	scanner := bufio.NewScanner(w.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var e types.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e))
		events = append(events, e)
	}
	require.Len(t, events, 3)
	require.Equal(t, "he", events[0].Token)
	require.Equal(t, types.EventDone, events[2].Type)
}

func TestChatStreamSetupErrorIsJSON(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.relay.streamErr = relay.ErrBackendUnavailable()

	w := env.do(t, http.MethodPost, "/api/chat/stream",
		types.ChatRequest{Messages: []types.ChatMessage{{Role: "user", Content: "hi"}}}, nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decodeBody[types.ErrorResponse](t, w)
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestLogTail(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "backend.log")
	env := newTestEnv(t, Options{LogPath: logPath})

	// missing file tails as empty
	w := env.do(t, http.MethodGet, "/api/log", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, w.Body.String())

	var lines []string
	for i := 1; i <= 10; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	require.NoError(t, os.WriteFile(logPath, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	w = env.do(t, http.MethodGet, "/api/log?lines=3", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "line 8\nline 9\nline 10\n", w.Body.String())

	w = env.do(t, http.MethodGet, "/api/log", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 10, strings.Count(w.Body.String(), "\n"))

	w = env.do(t, http.MethodGet, "/api/log?lines=-1", nil, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInvalidJSONBody(t *testing.T) {
	env := newTestEnv(t, Options{})
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader("{broken"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
