package transcript

import (
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/bazelment/agentdeck/protocol"
)

// SQLiteStore persists transcripts so the desktop client can reopen a
// conversation after a restart.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the transcript database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("transcript db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS transcript_messages (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			token_usage TEXT NOT NULL DEFAULT '{}',
			tool_usages TEXT NOT NULL DEFAULT '[]',
			stop_reason TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			is_interruption INTEGER NOT NULL DEFAULT 0,
			created_at_utc TEXT NOT NULL,
			updated_at_utc TEXT NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_transcript_agent ON transcript_messages(agent_id, created_at_utc);",
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// AppendOrUpdate implements Store via upsert on the message id.
func (s *SQLiteStore) AppendOrUpdate(agentID string, msg *Message) error {
	usageJSON, err := json.Marshal(msg.TokenUsage)
	if err != nil {
		return err
	}
	toolsJSON, err := json.Marshal(msg.ToolUsages)
	if err != nil {
		return err
	}
	interrupted := 0
	if msg.IsInterruptionMarker {
		interrupted = 1
	}

	_, err = s.db.Exec(
		`INSERT INTO transcript_messages
			(id, agent_id, role, content, token_usage, tool_usages, stop_reason, error, is_interruption, created_at_utc, updated_at_utc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content=excluded.content,
			token_usage=excluded.token_usage,
			tool_usages=excluded.tool_usages,
			stop_reason=excluded.stop_reason,
			error=excluded.error,
			updated_at_utc=excluded.updated_at_utc`,
		msg.ID, agentID, string(msg.Role), msg.Content, string(usageJSON), string(toolsJSON),
		msg.StopReason, msg.Error, interrupted,
		msg.CreatedAt.UTC().Format(time.RFC3339Nano), msg.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Messages implements Store.
func (s *SQLiteStore) Messages(agentID string) ([]*Message, error) {
	rows, err := s.db.Query(
		`SELECT id, role, content, token_usage, tool_usages, stop_reason, error, is_interruption, created_at_utc, updated_at_utc
		FROM transcript_messages
		WHERE agent_id=?
		ORDER BY created_at_utc ASC, rowid ASC`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*Message, 0)
	for rows.Next() {
		var (
			msg         Message
			role        string
			usageJSON   string
			toolsJSON   string
			interrupted int
			created     string
			updated     string
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &usageJSON, &toolsJSON,
			&msg.StopReason, &msg.Error, &interrupted, &created, &updated); err != nil {
			return nil, err
		}
		msg.Role = Role(role)
		msg.IsInterruptionMarker = interrupted != 0
		var usage protocol.Usage
		if err := json.Unmarshal([]byte(usageJSON), &usage); err == nil {
			msg.TokenUsage = usage
		}
		var tools []ToolUsage
		if err := json.Unmarshal([]byte(toolsJSON), &tools); err == nil {
			msg.ToolUsages = tools
		}
		msg.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		msg.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Clear implements Store.
func (s *SQLiteStore) Clear(agentID string) error {
	_, err := s.db.Exec("DELETE FROM transcript_messages WHERE agent_id=?", agentID)
	return err
}
