package stub

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrUserNotFound is returned when a username has no account.
var ErrUserNotFound = errors.New("user not found")

// Message is a stored chat message.
type Message struct {
	ID        string
	Username  string
	Role      string
	Content   string
	CreatedAt time.Time
}

// SQLiteStore keeps users and chat history in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at dsn and applies migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (username) REFERENCES users(username)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user ON messages(username, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertUser creates the user or replaces its password hash.
func (s *SQLiteStore) UpsertUser(ctx context.Context, username, passwordHash string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash) VALUES (?, ?)
		 ON CONFLICT(username) DO UPDATE SET password_hash = excluded.password_hash`,
		username, passwordHash)
	return err
}

// GetPasswordHash returns the stored hash for username.
func (s *SQLiteStore) GetPasswordHash(ctx context.Context, username string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT password_hash FROM users WHERE username = ?`, username).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

// CreateMessage stores a message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, username, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.Username, msg.Role, msg.Content, msg.CreatedAt.UnixMilli())
	return err
}

// ListMessages returns the user's history, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, username string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, username, role, content, created_at FROM messages
		 WHERE username = ? ORDER BY created_at ASC, rowid ASC`, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		var msg Message
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.Username, &msg.Role, &msg.Content, &createdAt); err != nil {
			return nil, err
		}
		msg.CreatedAt = time.UnixMilli(createdAt)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// CountMessagesSince counts the user's messages with the given role created at or after since.
func (s *SQLiteStore) CountMessagesSince(ctx context.Context, username, role string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE username = ? AND role = ? AND created_at >= ?`,
		username, role, since.UnixMilli()).Scan(&count)
	return count, err
}

// DeleteMessages removes the user's history and reports how many rows went.
func (s *SQLiteStore) DeleteMessages(ctx context.Context, username string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE username = ?`, username)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
