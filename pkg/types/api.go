package types

import "encoding/json"

// ChatMessage is one conversation turn on the wire, both inbound from
// clients and outbound to the backend's chat-completions endpoint.
type ChatMessage struct {
	// One of "system", "user", "assistant".
	// example: user
	Role string `json:"role" example:"user"`
	// Message text.
	Content string `json:"content"`
}

// ChatRequest is the payload for POST /api/chat and /api/chat/stream.
type ChatRequest struct {
	// Session to append to. Empty creates a new session.
	// example: 3f9c2a1b7d40
	SessionID string `json:"session_id,omitempty" example:"3f9c2a1b7d40"`
	// Optional model override; defaults to the active backend's model.
	Model string `json:"model,omitempty"`
	// Optional system prompt for a newly created session.
	System string `json:"system,omitempty"`
	// New input messages. Only user-role entries are persisted and fed to
	// the backend; the full stored history is replayed on every request.
	Messages []ChatMessage `json:"messages"`
	// Sampling temperature. An explicit 0 requests greedy decoding; nil
	// falls back to the server default of 0.7.
	// example: 0.7
	Temperature *float64 `json:"temperature,omitempty" example:"0.7"`
	// Maximum number of new tokens to generate. Nil falls back to the
	// server default of 512.
	// example: 512
	MaxTokens *int `json:"max_tokens,omitempty" example:"512"`
}

// ChatResponse is the non-streaming reply for POST /api/chat.
type ChatResponse struct {
	// Full assistant reply text.
	Reply string `json:"reply"`
	// Session the exchange was recorded under.
	// example: 3f9c2a1b7d40
	SessionID string `json:"session_id" example:"3f9c2a1b7d40"`
}

// Stream event types emitted by POST /api/chat/stream.
const (
	EventToken = "token"
	EventTool  = "tool"
	EventError = "error"
	EventDone  = "done"
)

// StreamEvent is one outward record of the chat stream. Exactly one of the
// optional fields is set, according to Type.
type StreamEvent struct {
	// One of "token", "tool", "error", "done".
	// example: token
	Type string `json:"type" example:"token"`
	// Incremental text for token events.
	Token string `json:"token,omitempty"`
	// Raw tool-call delta from the backend for tool events.
	Tool json.RawMessage `json:"tool,omitempty"`
	// Human-readable message for error events.
	Error string `json:"error,omitempty"`
}

// CreateSessionRequest is the payload for POST /api/sessions.
type CreateSessionRequest struct {
	Title  string `json:"title,omitempty" example:"New chat"`
	Model  string `json:"model,omitempty"`
	System string `json:"system,omitempty"`
}

// CreatedResponse reports the id of a newly created entity.
type CreatedResponse struct {
	ID string `json:"id" example:"3f9c2a1b7d40"`
}

// RenameSessionRequest is the payload for POST /api/sessions/{id}/rename.
type RenameSessionRequest struct {
	Title string `json:"title" example:"Kubernetes debugging"`
}

// CreateTemplateRequest is the payload for POST /api/templates.
type CreateTemplateRequest struct {
	Name   string `json:"name" example:"summarize"`
	Prompt string `json:"prompt"`
}

// ReloadRequest asks the coordinator to hot-swap the active backend.
type ReloadRequest struct {
	// Model reference: a hub id or a local artifact path.
	Model string `json:"model" example:"ByteDance-Seed/Seed-OSS-36B-Instruct"`
	// Optional revision pin.
	Revision string `json:"revision,omitempty"`
}

// ReloadResponse reports the outcome of a successful hot-swap.
type ReloadResponse struct {
	OK bool `json:"ok" example:"true"`
	// Port the new active backend is bound to.
	// example: 4322
	ActivePort int `json:"active_port" example:"4322"`
}

// DownloadRequest asks for a model artifact to be fetched from the hub.
type DownloadRequest struct {
	RepoID   string `json:"repo_id" example:"ByteDance-Seed/Seed-OSS-36B-Instruct"`
	Revision string `json:"revision,omitempty"`
}

// DownloadResponse reports where a fetched artifact landed.
type DownloadResponse struct {
	OK        bool   `json:"ok" example:"true"`
	LocalPath string `json:"local_path"`
}

// DeleteModelRequest names a local artifact to remove.
type DeleteModelRequest struct {
	Model string `json:"model" example:"ByteDance-Seed_Seed-OSS-36B-Instruct"`
}

// OKResponse is the generic success payload for mutating endpoints.
type OKResponse struct {
	OK bool `json:"ok" example:"true"`
}

// ModelsListResponse combines local artifacts with the active backend's
// own model listing.
type ModelsListResponse struct {
	Local  []LocalModel  `json:"local"`
	Online []OnlineModel `json:"online"`
}

// ProcessStatus describes one supervised backend process for /status.
type ProcessStatus struct {
	// TCP port the backend is bound to.
	// example: 4321
	Port int `json:"port" example:"4321"`
	// OS process id.
	// example: 12345
	PID int `json:"pid" example:"12345"`
	// Model the process was started with.
	Model string `json:"model"`
	// Revision pin, if any.
	Revision string `json:"revision,omitempty"`
	// Lifecycle state: starting, ready, draining, stopped.
	// example: ready
	State string `json:"state" example:"ready"`
	// Start time in unix seconds.
	StartedUnix int64 `json:"started_unix"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Port chat traffic is currently routed to; 0 when no backend is up.
	// example: 4321
	ActivePort int `json:"active_port" example:"4321"`
	// Model served by the active backend.
	ActiveModel string `json:"active_model"`
	// Revision of the active model, if pinned.
	ActiveRevision string `json:"active_revision,omitempty"`
	// All supervised backend processes.
	Processes []ProcessStatus `json:"processes"`
	// Whether a reload is currently in flight.
	Reloading bool `json:"reloading"`
	// Completed successful reloads since boot.
	ReloadsTotal uint64 `json:"reloads_total"`
	// Failed reload attempts since boot.
	ReloadFailuresTotal uint64 `json:"reload_failures_total"`
	// Last reload or supervision error, if any.
	LastError string `json:"last_error,omitempty"`
	// Uptime of the control plane in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	ServerTimeUnix int64 `json:"server_time_unix"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
