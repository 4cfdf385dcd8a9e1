// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides user/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeFormat is fixed width so lexical ORDER BY matches chronological order.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// busy_timeout is per connection, so it rides on the DSN to reach every
	// connection the pool opens
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id          TEXT PRIMARY KEY,
			full_name   TEXT NOT NULL,
			email       TEXT NOT NULL UNIQUE COLLATE NOCASE,
			profile_pic TEXT NOT NULL DEFAULT '',
			locked      INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id          TEXT PRIMARY KEY,
			sender_id   TEXT NOT NULL,
			receiver_id TEXT NOT NULL,
			text        TEXT NOT NULL DEFAULT '',
			image       TEXT NOT NULL DEFAULT '',
			seen        INTEGER NOT NULL DEFAULT 0,
			seen_at     TEXT,
			is_deleted  INTEGER NOT NULL DEFAULT 0,
			deleted_at  TEXT,
			created_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_pair_created
			ON messages(sender_id, receiver_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_messages_unseen
			ON messages(sender_id, receiver_id, seen);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB returns the underlying database connection
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// CreateUser stores a new user, assigning an ID if none is set.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	query := `
		INSERT INTO users (id, full_name, email, profile_pic, locked, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.FullName,
		user.Email,
		user.ProfilePic,
		boolToInt(user.Locked),
		formatTime(user.CreatedAt),
		formatTime(user.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: users.email") {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

const userColumns = `id, full_name, email, profile_pic, locked, created_at, updated_at`

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByEmail retrieves a user by email, case-insensitively.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

// ListUsers returns every user ordered by creation time.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*User, error) {
	return s.queryUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
}

// ListUsersExcept returns every user other than id ordered by creation time.
func (s *SQLiteStore) ListUsersExcept(ctx context.Context, id string) ([]*User, error) {
	return s.queryUsers(ctx, `SELECT `+userColumns+` FROM users WHERE id != ? ORDER BY created_at, id`, id)
}

func (s *SQLiteStore) queryUsers(ctx context.Context, query string, args ...any) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	users := []*User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

// UpdateProfilePic sets a user's avatar URL and returns the updated user.
func (s *SQLiteStore) UpdateProfilePic(ctx context.Context, id, url string) (*User, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET profile_pic = ?, updated_at = ? WHERE id = ?`,
		url, formatTime(time.Now().UTC()), id)
	if err != nil {
		return nil, fmt.Errorf("updating profile pic: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.GetUser(ctx, id)
}

// SetLocked locks or unlocks a user account.
func (s *SQLiteStore) SetLocked(ctx context.Context, id string, locked bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET locked = ?, updated_at = ? WHERE id = ?`,
		boolToInt(locked), formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("updating lock: %w", err)
	}
	return requireAffected(res)
}

// CreateMessage stores a new message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	msg.ID = uuid.New().String()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.Seen = false
	msg.SeenAt = nil
	msg.IsDeleted = false
	msg.DeletedAt = nil

	query := `
		INSERT INTO messages (id, sender_id, receiver_id, text, image, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.SenderID,
		msg.ReceiverID,
		msg.Text,
		msg.Image,
		formatTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("message created", "message_id", msg.ID, "sender_id", msg.SenderID, "receiver_id", msg.ReceiverID)
	return nil
}

const messageColumns = `id, sender_id, receiver_id, text, image, seen, seen_at, is_deleted, deleted_at, created_at`

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

// ListConversation returns messages between two users, oldest first.
func (s *SQLiteStore) ListConversation(ctx context.Context, userA, userB string) ([]*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, userA, userB, userB, userA)
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation: %w", err)
	}
	return messages, nil
}

// MarkSeen flips unseen senderID->receiverID messages to seen in one statement.
func (s *SQLiteStore) MarkSeen(ctx context.Context, senderID, receiverID string, seenAt time.Time) ([]SeenReceipt, error) {
	seenAt = seenAt.UTC()
	query := `
		UPDATE messages SET seen = 1, seen_at = ?
		WHERE sender_id = ? AND receiver_id = ? AND seen = 0
		RETURNING id
	`
	rows, err := s.db.QueryContext(ctx, query, formatTime(seenAt), senderID, receiverID)
	if err != nil {
		return nil, fmt.Errorf("marking seen: %w", err)
	}
	defer rows.Close()

	var receipts []SeenReceipt
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning seen id: %w", err)
		}
		receipts = append(receipts, SeenReceipt{MessageID: id, SeenAt: seenAt})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating seen ids: %w", err)
	}
	return receipts, nil
}

// MarkDeleted logically deletes a message owned by senderID.
func (s *SQLiteStore) MarkDeleted(ctx context.Context, id, senderID string, deletedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_deleted = 1, deleted_at = ?
		 WHERE id = ? AND sender_id = ? AND is_deleted = 0`,
		formatTime(deletedAt.UTC()), id, senderID)
	if err != nil {
		return fmt.Errorf("marking deleted: %w", err)
	}
	return requireAffected(res)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*User, error) {
	var u User
	var locked int
	var createdAt, updatedAt string
	err := row.Scan(&u.ID, &u.FullName, &u.Email, &u.ProfilePic, &locked, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	u.Locked = locked != 0
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func scanMessage(row scanner) (*Message, error) {
	var msg Message
	var seen, deleted int
	var seenAt, deletedAt sql.NullString
	var createdAt string
	err := row.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Text, &msg.Image,
		&seen, &seenAt, &deleted, &deletedAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}
	msg.Seen = seen != 0
	msg.IsDeleted = deleted != 0
	if msg.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if msg.SeenAt, err = parseNullTime(seenAt); err != nil {
		return nil, err
	}
	if msg.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, err
	}
	return &msg, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
