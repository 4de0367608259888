package types

// Session is one persisted conversation.
type Session struct {
	// Stable identifier for the session.
	// example: 3f9c2a1b7d40
	ID string `json:"id" example:"3f9c2a1b7d40"`
	// Human-friendly title.
	// example: New chat
	Title string `json:"title" example:"New chat"`
	// Model identifier the session was created against. The model may no
	// longer be running; sessions outlive backend processes.
	// example: ByteDance-Seed/Seed-OSS-36B-Instruct
	Model string `json:"model" example:"ByteDance-Seed/Seed-OSS-36B-Instruct"`
	// Optional system prompt applied to every request in this session.
	System string `json:"system"`
	// Creation time in unix seconds.
	// example: 1700000000
	CreatedAt int64 `json:"created_at" example:"1700000000"`
}

// Message is one persisted turn within a session. Messages are append-only
// and ordered by ID within their session.
type Message struct {
	// Store-assigned monotonic identifier.
	// example: 42
	ID int64 `json:"id,omitempty" example:"42"`
	// Either "user" or "assistant".
	// example: user
	Role string `json:"role" example:"user"`
	// Message text.
	Content string `json:"content"`
	// Append time in unix seconds.
	// example: 1700000000
	TS int64 `json:"ts" example:"1700000000"`
}

// Template is a reusable prompt, independent of any session.
type Template struct {
	// Stable identifier for the template.
	// example: a1b2c3d4e5
	ID string `json:"id" example:"a1b2c3d4e5"`
	// Display name.
	// example: summarize
	Name string `json:"name" example:"summarize"`
	// Prompt text inserted into the composer when applied.
	Prompt string `json:"prompt"`
	// Creation time in unix seconds.
	// example: 1700000000
	CreatedAt int64 `json:"created_at" example:"1700000000"`
}

// SessionExport is the download/upload format for a full session.
type SessionExport struct {
	Session  Session   `json:"session"`
	Messages []Message `json:"messages"`
}

// LocalModel describes a model artifact present on local disk.
type LocalModel struct {
	// Directory name under the models dir.
	// example: ByteDance-Seed_Seed-OSS-36B-Instruct
	ID string `json:"id" example:"ByteDance-Seed_Seed-OSS-36B-Instruct"`
	// Absolute path of the artifact directory.
	Path string `json:"path"`
}

// OnlineModel is one entry reported by the active backend's model listing.
type OnlineModel struct {
	// Model identifier as served by the backend.
	// example: ByteDance-Seed/Seed-OSS-36B-Instruct
	ID string `json:"id" example:"ByteDance-Seed/Seed-OSS-36B-Instruct"`
}
