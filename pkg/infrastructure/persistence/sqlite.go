package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sipeed/wagate/pkg/domain"
	"github.com/sipeed/wagate/pkg/logs"
)

// ArchivedMessage is one message kept in the archive.
type ArchivedMessage struct {
	ID        int64            `json:"id"`
	MessageID string           `json:"messageId,omitempty"`
	Peer      string           `json:"peer"`
	PushName  string           `json:"pushName,omitempty"`
	Direction domain.Direction `json:"direction"`
	Text      string           `json:"text"`
	Timestamp time.Time        `json:"timestamp"`
}

// SQLiteStore keeps the operator log history and the message archive in one
// sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS logs (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		message   TEXT NOT NULL,
		level     TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL DEFAULT '',
		peer       TEXT NOT NULL,
		push_name  TEXT NOT NULL DEFAULT '',
		direction  TEXT NOT NULL,
		text       TEXT NOT NULL,
		timestamp  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_peer ON messages(peer, timestamp);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// logs.Store
// ---------------------------------------------------------------------------

func (s *SQLiteStore) AppendLog(ctx context.Context, e logs.Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO logs (message, level, timestamp) VALUES (?, ?, ?)`,
		e.Message, string(e.Level), e.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// RecentLogs returns up to limit entries, oldest first.
func (s *SQLiteStore) RecentLogs(ctx context.Context, limit int) ([]logs.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message, level, timestamp FROM (
			SELECT id, message, level, timestamp FROM logs ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent logs: %w", err)
	}
	defer rows.Close()

	var entries []logs.Entry
	for rows.Next() {
		var (
			e     logs.Entry
			level string
			ms    int64
		)
		if err := rows.Scan(&e.Message, &level, &ms); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		e.Level = logs.Level(level)
		e.Timestamp = time.UnixMilli(ms).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) ClearLogs(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM logs`); err != nil {
		return fmt.Errorf("clear logs: %w", err)
	}
	return nil
}

var _ logs.Store = (*SQLiteStore)(nil)

// ---------------------------------------------------------------------------
// Message archive
// ---------------------------------------------------------------------------

// ArchiveMessage stores m and returns its row id.
func (s *SQLiteStore) ArchiveMessage(ctx context.Context, m ArchivedMessage) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (message_id, peer, push_name, direction, text, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.MessageID, m.Peer, m.PushName, string(m.Direction), m.Text, m.Timestamp.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("archive message: %w", err)
	}
	return res.LastInsertId()
}

// RecentMessages returns up to limit messages, newest first. An empty peer
// matches every conversation.
func (s *SQLiteStore) RecentMessages(ctx context.Context, peer string, limit int) ([]ArchivedMessage, error) {
	query := `SELECT id, message_id, peer, push_name, direction, text, timestamp FROM messages`
	var args []interface{}
	if peer != "" {
		query += ` WHERE peer = ?`
		args = append(args, peer)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var out []ArchivedMessage
	for rows.Next() {
		var (
			m         ArchivedMessage
			direction string
			ms        int64
		)
		if err := rows.Scan(&m.ID, &m.MessageID, &m.Peer, &m.PushName, &direction, &m.Text, &ms); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Direction = domain.Direction(direction)
		m.Timestamp = time.UnixMilli(ms).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}
