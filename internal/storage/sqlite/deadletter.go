// Package sqlite persists dead letters in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nsridhar76/go-orderprojector/internal/domain"
	"github.com/nsridhar76/go-orderprojector/internal/messaging"
)

const schema = `
CREATE TABLE IF NOT EXISTS dead_letters (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	topic      TEXT    NOT NULL,
	message_id TEXT    NOT NULL,
	message_key TEXT   NOT NULL,
	body       BLOB    NOT NULL,
	attempts   INTEGER NOT NULL,
	kind       TEXT    NOT NULL,
	last_error TEXT    NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS dead_letters_topic_created ON dead_letters (topic, created_at);
`

// Store provides SQLite-backed dead-letter persistence.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the database at path, creating its directory and table.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dead-letter storage dir: %w", err)
		}
	}
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Record persists one dead letter.
func (s *Store) Record(ctx context.Context, letter messaging.DeadLetter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if !letter.Topic.Valid() {
		return fmt.Errorf("topic %q is not an event type", letter.Topic)
	}
	if letter.Kind == "" {
		letter.Kind = domain.KindHandlingFailure
	}
	if letter.CreatedAt.IsZero() {
		letter.CreatedAt = time.Now().UTC()
	}
	if letter.Body == nil {
		letter.Body = []byte{}
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO dead_letters (
	topic,
	message_id,
	message_key,
	body,
	attempts,
	kind,
	last_error,
	created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		letter.Topic.String(),
		strings.TrimSpace(letter.MessageID),
		letter.Key,
		letter.Body,
		letter.Attempts,
		string(letter.Kind),
		strings.TrimSpace(letter.LastError),
		letter.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record dead letter: %w", err)
	}
	return nil
}

// List returns the newest dead letters of topic, or of every topic when topic
// is empty.
func (s *Store) List(ctx context.Context, topic domain.EventType, limit int) ([]messaging.DeadLetter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT topic, message_id, message_key, body, attempts, kind, last_error, created_at
FROM dead_letters
WHERE ? = '' OR topic = ?
ORDER BY created_at DESC, id DESC
LIMIT ?
`, topic.String(), topic.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []messaging.DeadLetter
	for rows.Next() {
		var (
			letter    messaging.DeadLetter
			topicName string
			kind      string
			createdAt int64
		)
		if err := rows.Scan(&topicName, &letter.MessageID, &letter.Key, &letter.Body, &letter.Attempts, &kind, &letter.LastError, &createdAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		letter.Topic = domain.EventType(topicName)
		letter.Kind = domain.Kind(kind)
		letter.CreatedAt = time.UnixMilli(createdAt).UTC()
		letters = append(letters, letter)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	return letters, nil
}
