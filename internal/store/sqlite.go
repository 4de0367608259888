package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"chatd/internal/common/fsutil"
	"chatd/pkg/types"
)

// SQLite implements Store on a single database file using modernc.org/sqlite.
// The schema is created on open; parent directories are created if needed.
type SQLite struct {
	db  *sql.DB
	log zerolog.Logger
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string, log zerolog.Logger) (*SQLite, error) {
	if err := fsutil.EnsureParentDir(path); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// Pragmas go in the DSN: database/sql pools connections, and a pragma
	// issued with Exec would bind to whichever single connection ran it.
	// WAL keeps readers unblocked while the relay persists turns.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLite{db: db, log: log.With().Str("component", "store").Logger()}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	s.log.Info().Str("path", path).Msg("sqlite store initialized")
	return s, nil
}

func (s *SQLite) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL,
			model      TEXT NOT NULL,
			system     TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			ts         INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);

		CREATE TABLE IF NOT EXISTS templates (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			prompt     TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	s.log.Info().Msg("closing sqlite store")
	return s.db.Close()
}

func (s *SQLite) CreateSession(ctx context.Context, title, model, system string) (types.Session, error) {
	sess := types.Session{
		ID:        newSessionID(),
		Title:     title,
		Model:     model,
		System:    system,
		CreatedAt: time.Now().Unix(),
	}
	if sess.Title == "" {
		sess.Title = "untitled"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, model, system, created_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.Title, sess.Model, sess.System, sess.CreatedAt,
	)
	if err != nil {
		return types.Session{}, fmt.Errorf("inserting session: %w", err)
	}
	s.log.Debug().Str("id", sess.ID).Str("model", sess.Model).Msg("created session")
	return sess, nil
}

func (s *SQLite) GetSession(ctx context.Context, id string) (types.Session, error) {
	var sess types.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, model, system, created_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.Title, &sess.Model, &sess.System, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return types.Session{}, notFoundError{kind: "session", id: id}
	}
	if err != nil {
		return types.Session{}, fmt.Errorf("querying session: %w", err)
	}
	return sess, nil
}

func (s *SQLite) ListSessions(ctx context.Context) ([]types.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, model, system, created_at FROM sessions ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	sessions := []types.Session{}
	for rows.Next() {
		var sess types.Session
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.Model, &sess.System, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return sessions, nil
}

func (s *SQLite) RenameSession(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return fmt.Errorf("renaming session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return notFoundError{kind: "session", id: id}
	}
	return nil
}

// DeleteSession removes the messages and then the session row in one
// transaction, so the cascade holds regardless of connection state.
func (s *SQLite) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return notFoundError{kind: "session", id: id}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	s.log.Debug().Str("id", id).Msg("deleted session")
	return nil
}

func (s *SQLite) AppendMessage(ctx context.Context, sessionID, role, content string) (types.Message, error) {
	msg := types.Message{Role: role, Content: content, TS: time.Now().Unix()}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, ts) VALUES (?, ?, ?, ?)`,
		sessionID, msg.Role, msg.Content, msg.TS,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return types.Message{}, notFoundError{kind: "session", id: sessionID}
		}
		return types.Message{}, fmt.Errorf("inserting message: %w", err)
	}
	msg.ID, err = res.LastInsertId()
	if err != nil {
		return types.Message{}, fmt.Errorf("getting message id: %w", err)
	}
	return msg, nil
}

func (s *SQLite) ListMessages(ctx context.Context, sessionID string) ([]types.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, ts FROM messages WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	msgs := []types.Message{}
	for rows.Next() {
		var m types.Message
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.TS); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return msgs, nil
}

func (s *SQLite) CreateTemplate(ctx context.Context, name, prompt string) (types.Template, error) {
	tpl := types.Template{
		ID:        newTemplateID(),
		Name:      name,
		Prompt:    prompt,
		CreatedAt: time.Now().Unix(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO templates (id, name, prompt, created_at) VALUES (?, ?, ?, ?)`,
		tpl.ID, tpl.Name, tpl.Prompt, tpl.CreatedAt,
	)
	if err != nil {
		return types.Template{}, fmt.Errorf("inserting template: %w", err)
	}
	return tpl, nil
}

func (s *SQLite) ListTemplates(ctx context.Context) ([]types.Template, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, prompt, created_at FROM templates ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("querying templates: %w", err)
	}
	defer rows.Close()

	tpls := []types.Template{}
	for rows.Next() {
		var t types.Template
		if err := rows.Scan(&t.ID, &t.Name, &t.Prompt, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning template row: %w", err)
		}
		tpls = append(tpls, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating template rows: %w", err)
	}
	return tpls, nil
}

func (s *SQLite) DeleteTemplate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting template: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return notFoundError{kind: "template", id: id}
	}
	return nil
}

func (s *SQLite) ExportSession(ctx context.Context, id string) (types.SessionExport, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return types.SessionExport{}, err
	}
	msgs, err := s.ListMessages(ctx, id)
	if err != nil {
		return types.SessionExport{}, err
	}
	return types.SessionExport{Session: sess, Messages: msgs}, nil
}

func (s *SQLite) ImportSession(ctx context.Context, export types.SessionExport) error {
	if export.Session.ID == "" {
		return fmt.Errorf("import: session id is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning import tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions (id, title, model, system, created_at) VALUES (?, ?, ?, ?, ?)`,
		export.Session.ID, export.Session.Title, export.Session.Model,
		export.Session.System, export.Session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}

	// Replace, not merge: the export is the authoritative transcript.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id = ?`, export.Session.ID); err != nil {
		return fmt.Errorf("clearing messages: %w", err)
	}
	for _, m := range export.Messages {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (session_id, role, content, ts) VALUES (?, ?, ?, ?)`,
			export.Session.ID, m.Role, m.Content, m.TS,
		); err != nil {
			return fmt.Errorf("inserting imported message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing import: %w", err)
	}
	s.log.Info().Str("id", export.Session.ID).Int("messages", len(export.Messages)).Msg("imported session")
	return nil
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
