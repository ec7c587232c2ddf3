package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/greenhub/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/greenhub.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/greenhub.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS chats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		is_group INTEGER NOT NULL DEFAULT 0,
		title TEXT,
		created_by INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chat_participants (
		chat_id INTEGER NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL,
		PRIMARY KEY (chat_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id INTEGER NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('text', 'image', 'video', 'audio', 'file')),
		body TEXT,
		attachment_url TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		is_read INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chat_participants_user ON chat_participants(user_id);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_chat ON chat_messages(chat_id, created_at, id);
	CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertUser records a user's display name.
func (s *SQLiteStore) UpsertUser(ctx context.Context, id int64, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, updated_at = CURRENT_TIMESTAMP
	`, id, name)
	return err
}

// CreateChat creates a chat and its participant rows in one transaction.
func (s *SQLiteStore) CreateChat(ctx context.Context, creatorID int64, participantIDs []int64, title string) (*models.Chat, error) {
	defer observe("create_chat")()

	ids, err := normalizeParticipants(creatorID, participantIDs)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	isGroupInt := 0
	if title != "" {
		isGroupInt = 1
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO chats (is_group, title, created_by, created_at)
		VALUES (?, ?, ?, ?)
	`, isGroupInt, titlePtr(title), creatorID, now)
	if err != nil {
		return nil, err
	}
	chatID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chat_participants (chat_id, user_id) VALUES (?, ?)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, chatID, id); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &models.Chat{
		ID:        chatID,
		IsGroup:   title != "",
		Title:     titlePtr(title),
		CreatedBy: creatorID,
		CreatedAt: now,
	}, nil
}

// AssertParticipant returns ErrForbidden unless userID belongs to chatID.
func (s *SQLiteStore) AssertParticipant(ctx context.Context, chatID, userID int64) error {
	defer observe("assert_participant")()

	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM chat_participants WHERE chat_id = ? AND user_id = ?
	`, chatID, userID).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrForbidden
		}
		return err
	}
	return nil
}

// ListParticipants returns the user ids of a chat's participants.
func (s *SQLiteStore) ListParticipants(ctx context.Context, chatID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM chat_participants WHERE chat_id = ? ORDER BY user_id
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListChatsFor returns the newest chats the user participates in.
// Participant names are gathered in a second query and joined here, since
// SQLite's group_concat has no portable ordering.
func (s *SQLiteStore) ListChatsFor(ctx context.Context, userID int64) ([]models.ChatSummary, error) {
	defer observe("list_chats")()

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.is_group, c.title, c.created_at
		FROM chats c
		JOIN chat_participants p ON p.chat_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.created_at DESC, c.id DESC
		LIMIT ?
	`, userID, MaxChatList)
	if err != nil {
		return nil, err
	}

	chats := []models.ChatSummary{}
	index := make(map[int64]int)
	for rows.Next() {
		var c models.ChatSummary
		var isGroupInt int
		if err := rows.Scan(&c.ID, &isGroupInt, &c.Title, &c.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		c.IsGroup = isGroupInt == 1
		index[c.ID] = len(chats)
		chats = append(chats, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(chats) == 0 {
		return chats, nil
	}

	nameRows, err := s.db.QueryContext(ctx, `
		SELECT p.chat_id, p.user_id, COALESCE(u.name, '')
		FROM chat_participants p
		LEFT JOIN users u ON u.id = p.user_id
		WHERE p.chat_id IN (SELECT chat_id FROM chat_participants WHERE user_id = ?)
	`, userID)
	if err != nil {
		return nil, err
	}
	defer nameRows.Close()

	type member struct {
		userID int64
		name   string
	}
	members := make(map[int64][]member)
	for nameRows.Next() {
		var chatID int64
		var m member
		if err := nameRows.Scan(&chatID, &m.userID, &m.name); err != nil {
			return nil, err
		}
		if _, ok := index[chatID]; ok {
			members[chatID] = append(members[chatID], m)
		}
	}
	if err := nameRows.Err(); err != nil {
		return nil, err
	}

	for chatID, ms := range members {
		sort.Slice(ms, func(i, j int) bool {
			if ms[i].name != ms[j].name {
				return ms[i].name < ms[j].name
			}
			return ms[i].userID < ms[j].userID
		})
		names := make([]string, len(ms))
		for i, m := range ms {
			names[i] = m.name
		}
		chats[index[chatID]].Participants = strings.Join(names, ", ")
	}

	return chats, nil
}

// CountChats returns the total number of chats.
func (s *SQLiteStore) CountChats(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chats`).Scan(&count)
	return count, err
}

// CreateMessage inserts a message and returns its id.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *models.ChatMessage) (int64, error) {
	defer observe("create_message")()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (chat_id, user_id, type, body, attachment_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ChatID, msg.UserID, msg.Type, msg.Body, msg.AttachmentURL, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const sqliteMessageColumns = `
	m.id, m.chat_id, m.user_id, COALESCE(u.name, ''), m.type, m.body, m.attachment_url, m.created_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteMessage(row rowScanner, m *models.ChatMessage) error {
	return row.Scan(
		&m.ID,
		&m.ChatID,
		&m.UserID,
		&m.SenderName,
		&m.Type,
		&m.Body,
		&m.AttachmentURL,
		&m.CreatedAt,
	)
}

// GetMessage retrieves a message joined with its sender's name.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*models.ChatMessage, error) {
	msg := &models.ChatMessage{}
	err := scanSQLiteMessage(s.db.QueryRowContext(ctx, `
		SELECT `+sqliteMessageColumns+`
		FROM chat_messages m
		LEFT JOIN users u ON u.id = m.user_id
		WHERE m.id = ?
	`, id), msg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return msg, nil
}

// ListMessages returns a newest-first page of a chat's messages.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID int64, limit, offset int) ([]models.ChatMessage, error) {
	defer observe("list_messages")()

	limit, offset = clampPage(limit, offset)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteMessageColumns+`
		FROM chat_messages m
		LEFT JOIN users u ON u.id = m.user_id
		WHERE m.chat_id = ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ? OFFSET ?
	`, chatID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.ChatMessage{}
	for rows.Next() {
		var m models.ChatMessage
		if err := scanSQLiteMessage(rows, &m); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// CountMessages returns the total number of chat messages.
func (s *SQLiteStore) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_messages`).Scan(&count)
	return count, err
}

// CreateNotification stores a notification for a user.
func (s *SQLiteStore) CreateNotification(ctx context.Context, userID int64, title, body string) (*models.Notification, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (user_id, title, body, is_read, created_at)
		VALUES (?, ?, ?, 0, ?)
	`, userID, title, body, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.Notification{
		ID:        id,
		UserID:    userID,
		Title:     title,
		Body:      body,
		CreatedAt: now,
	}, nil
}

// ListNotifications returns a user's newest notifications.
func (s *SQLiteStore) ListNotifications(ctx context.Context, userID int64, limit int) ([]models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, body, is_read, created_at
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		var isReadInt int
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Body, &isReadInt, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.IsRead = isReadInt == 1
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkNotificationRead flags one of the user's notifications as read.
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, userID, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = 1 WHERE id = ? AND user_id = ?
	`, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
