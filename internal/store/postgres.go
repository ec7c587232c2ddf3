package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/greenhub/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// UpsertUser records a user's display name.
func (s *PostgresStore) UpsertUser(ctx context.Context, id int64, name string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, updated_at = NOW()
	`, id, name)
	return err
}

// CreateChat creates a chat and its participant rows in one transaction.
func (s *PostgresStore) CreateChat(ctx context.Context, creatorID int64, participantIDs []int64, title string) (*models.Chat, error) {
	defer observe("create_chat")()

	ids, err := normalizeParticipants(creatorID, participantIDs)
	if err != nil {
		return nil, err
	}

	chat := &models.Chat{}
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO chats (is_group, title, created_by)
			VALUES ($1, $2, $3)
			RETURNING id, is_group, title, created_by, created_at
		`, title != "", titlePtr(title), creatorID).Scan(
			&chat.ID,
			&chat.IsGroup,
			&chat.Title,
			&chat.CreatedBy,
			&chat.CreatedAt,
		)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO chat_participants (chat_id, user_id)
			SELECT $1, unnest($2::bigint[])
		`, chat.ID, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// AssertParticipant returns ErrForbidden unless userID belongs to chatID.
func (s *PostgresStore) AssertParticipant(ctx context.Context, chatID, userID int64) error {
	defer observe("assert_participant")()

	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM chat_participants WHERE chat_id = $1 AND user_id = $2)
	`, chatID, userID).Scan(&ok)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

// ListParticipants returns the user ids of a chat's participants.
func (s *PostgresStore) ListParticipants(ctx context.Context, chatID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id FROM chat_participants WHERE chat_id = $1 ORDER BY user_id
	`, chatID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// ListChatsFor returns the newest chats the user participates in.
func (s *PostgresStore) ListChatsFor(ctx context.Context, userID int64) ([]models.ChatSummary, error) {
	defer observe("list_chats")()

	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.is_group, c.title, c.created_at,
			COALESCE((
				SELECT string_agg(COALESCE(u.name, ''), ', ' ORDER BY COALESCE(u.name, '') COLLATE "C", p2.user_id)
				FROM chat_participants p2
				LEFT JOIN users u ON u.id = p2.user_id
				WHERE p2.chat_id = c.id
			), '') AS participants
		FROM chats c
		JOIN chat_participants p ON p.chat_id = c.id
		WHERE p.user_id = $1
		ORDER BY c.created_at DESC, c.id DESC
		LIMIT $2
	`, userID, MaxChatList)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chats := []models.ChatSummary{}
	for rows.Next() {
		var c models.ChatSummary
		if err := rows.Scan(&c.ID, &c.IsGroup, &c.Title, &c.CreatedAt, &c.Participants); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// CountChats returns the total number of chats.
func (s *PostgresStore) CountChats(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chats`).Scan(&count)
	return count, err
}

// CreateMessage inserts a message and returns its id.
func (s *PostgresStore) CreateMessage(ctx context.Context, msg *models.ChatMessage) (int64, error) {
	defer observe("create_message")()

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO chat_messages (chat_id, user_id, type, body, attachment_url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, msg.ChatID, msg.UserID, msg.Type, msg.Body, msg.AttachmentURL).Scan(&id)
	return id, err
}

const pgMessageColumns = `
	m.id, m.chat_id, m.user_id, COALESCE(u.name, ''), m.type, m.body, m.attachment_url, m.created_at
`

func scanPGMessage(row pgx.Row, m *models.ChatMessage) error {
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
func (s *PostgresStore) GetMessage(ctx context.Context, id int64) (*models.ChatMessage, error) {
	msg := &models.ChatMessage{}
	err := scanPGMessage(s.pool.QueryRow(ctx, `
		SELECT `+pgMessageColumns+`
		FROM chat_messages m
		LEFT JOIN users u ON u.id = m.user_id
		WHERE m.id = $1
	`, id), msg)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return msg, nil
}

// ListMessages returns a newest-first page of a chat's messages.
func (s *PostgresStore) ListMessages(ctx context.Context, chatID int64, limit, offset int) ([]models.ChatMessage, error) {
	defer observe("list_messages")()

	limit, offset = clampPage(limit, offset)
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgMessageColumns+`
		FROM chat_messages m
		LEFT JOIN users u ON u.id = m.user_id
		WHERE m.chat_id = $1
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $2 OFFSET $3
	`, chatID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.ChatMessage{}
	for rows.Next() {
		var m models.ChatMessage
		if err := scanPGMessage(rows, &m); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// CountMessages returns the total number of chat messages.
func (s *PostgresStore) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chat_messages`).Scan(&count)
	return count, err
}

// CreateNotification stores a notification for a user.
func (s *PostgresStore) CreateNotification(ctx context.Context, userID int64, title, body string) (*models.Notification, error) {
	n := &models.Notification{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO notifications (user_id, title, body)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, title, body, is_read, created_at
	`, userID, title, body).Scan(
		&n.ID,
		&n.UserID,
		&n.Title,
		&n.Body,
		&n.IsRead,
		&n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// ListNotifications returns a user's newest notifications.
func (s *PostgresStore) ListNotifications(ctx context.Context, userID int64, limit int) ([]models.Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, title, body, is_read, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Body, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkNotificationRead flags one of the user's notifications as read.
func (s *PostgresStore) MarkNotificationRead(ctx context.Context, userID, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
