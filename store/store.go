package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"admissionchat/models"
)

var ErrUserNotFound = errors.New("user not found")

// Store defines the persistence operations the chat service consumes. The
// admission application owns the users table; the service only reads it.
type Store interface {
	CreateUser(ctx context.Context, name, password string) (int64, error)
	UserExists(ctx context.Context, userID int64) (bool, error)
	UserIDsExcept(ctx context.Context, userID int64) ([]int64, error)

	InsertMessage(ctx context.Context, msg models.Message) (int64, error)
	UnreadFor(ctx context.Context, userID int64) ([]models.Message, error)
	MarkRead(ctx context.Context, messageID int64) error
	History(ctx context.Context, userA, userB int64) ([]models.Message, error)

	UpsertStatus(ctx context.Context, userID int64, status string, at time.Time) error
	GetPresence(ctx context.Context, userID int64) (models.Presence, error)
	ResetAllOffline(ctx context.Context) error
}

// SQLStore is the sqlx-backed SQLite implementation of Store.
type SQLStore struct {
	db *sqlx.DB
}

// Open opens (and if necessary creates) the SQLite database at path.
func Open(path string) (*SQLStore, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	s := &SQLStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender_id INTEGER NOT NULL,
			receiver_id INTEGER NOT NULL,
			broadcast INTEGER NOT NULL DEFAULT 0,
			body TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			read INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS presence (
			user_id INTEGER PRIMARY KEY,
			status TEXT NOT NULL,
			last_active TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages(receiver_id, read, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, receiver_id, timestamp)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// CreateUser inserts a user row with a bcrypt-hashed password and returns the
// new numeric id. Registration itself lives in the admission app; this is the
// insert it (and the tests) use.
func (s *SQLStore) CreateUser(ctx context.Context, name, password string) (int64, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (name, password) VALUES (?, ?)",
		name, string(hashed),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLStore) UserExists(ctx context.Context, userID int64) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM users WHERE id = ?", userID)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// UserIDsExcept returns the ids of every known user other than userID. This is
// the broadcast fan-out recipient set.
func (s *SQLStore) UserIDsExcept(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids, "SELECT id FROM users WHERE id != ? ORDER BY id", userID)
	return ids, err
}

func (s *SQLStore) InsertMessage(ctx context.Context, msg models.Message) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (sender_id, receiver_id, broadcast, body, timestamp, read) VALUES (?, ?, ?, ?, ?, ?)",
		msg.SenderID, msg.ReceiverID, msg.Broadcast, msg.Body,
		msg.Timestamp.UTC().Format(time.RFC3339), msg.Read,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UnreadFor returns the backlog for a user: unread messages addressed to them,
// in ascending timestamp order.
func (s *SQLStore) UnreadFor(ctx context.Context, userID int64) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, receiver_id, broadcast, body, timestamp, read
		FROM messages
		WHERE receiver_id = ? AND read = 0
		ORDER BY timestamp ASC, id ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (s *SQLStore) MarkRead(ctx context.Context, messageID int64) error {
	_, err := s.db.ExecContext(ctx, "UPDATE messages SET read = 1 WHERE id = ?", messageID)
	return err
}

// History returns every message exchanged between two users in non-decreasing
// timestamp order.
func (s *SQLStore) History(ctx context.Context, userA, userB int64) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, receiver_id, broadcast, body, timestamp, read
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY timestamp ASC, id ASC
	`, userA, userB, userB, userA)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (s *SQLStore) UpsertStatus(ctx context.Context, userID int64, status string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO presence (user_id, status, last_active) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET status = excluded.status, last_active = excluded.last_active
	`, userID, status, at.UTC().Format(time.RFC3339))
	return err
}

func (s *SQLStore) GetPresence(ctx context.Context, userID int64) (models.Presence, error) {
	var p models.Presence
	var lastActive string
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, status, last_active FROM presence WHERE user_id = ?", userID,
	).Scan(&p.UserID, &p.Status, &lastActive)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Presence{}, ErrUserNotFound
	}
	if err != nil {
		return models.Presence{}, err
	}

	p.LastActive, _ = time.Parse(time.RFC3339, lastActive)
	return p, nil
}

// ResetAllOffline flips every presence row to offline. Run at server startup to
// repair rows left online by an unclean shutdown.
func (s *SQLStore) ResetAllOffline(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE presence SET status = ? WHERE status != ?",
		models.StatusOffline, models.StatusOffline,
	)
	return err
}

func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var timestamp string
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Broadcast, &m.Body, &timestamp, &m.Read); err != nil {
			return nil, err
		}

		ts, err := time.Parse(time.RFC3339, timestamp)
		if err != nil {
			return nil, err
		}
		m.Timestamp = ts

		messages = append(messages, m)
	}

	return messages, rows.Err()
}
