package store

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"chatd/pkg/types"
)

// Store persists conversation state: sessions, their messages, and reusable
// prompt templates. Implementations must be safe for concurrent use.
type Store interface {
	CreateSession(ctx context.Context, title, model, system string) (types.Session, error)
	GetSession(ctx context.Context, id string) (types.Session, error)
	ListSessions(ctx context.Context) ([]types.Session, error)
	RenameSession(ctx context.Context, id, title string) error
	// DeleteSession removes the session and all its messages.
	DeleteSession(ctx context.Context, id string) error

	AppendMessage(ctx context.Context, sessionID, role, content string) (types.Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]types.Message, error)

	CreateTemplate(ctx context.Context, name, prompt string) (types.Template, error)
	ListTemplates(ctx context.Context) ([]types.Template, error)
	DeleteTemplate(ctx context.Context, id string) error

	ExportSession(ctx context.Context, id string) (types.SessionExport, error)
	// ImportSession upserts the session row and replaces its messages.
	ImportSession(ctx context.Context, export types.SessionExport) error

	Close() error
}

// Short hex identifiers; long enough to not collide within one database,
// short enough to paste into a terminal.
func newSessionID() string  { return hexID(12) }
func newTemplateID() string { return hexID(10) }

func hexID(n int) string {
	s := strings.ReplaceAll(uuid.NewString(), "-", "")
	return s[:n]
}
