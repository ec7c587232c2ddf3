package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/eldtechnologies/greenhub/internal/metrics"
	"github.com/eldtechnologies/greenhub/internal/models"
)

var (
	// ErrForbidden is returned when the user is not a participant of the chat.
	ErrForbidden = errors.New("not a participant of this chat")
	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when a row does not exist or is not visible to the caller.
	ErrNotFound = errors.New("not found")
)

const (
	// MaxChatList bounds ListChatsFor.
	MaxChatList = 200
	// DefaultMessagePage is the page size used when the caller gives none.
	DefaultMessagePage = 50
	// MaxMessagePage bounds ListMessages.
	MaxMessagePage = 200
)

// DataStore defines the interface for persistent storage of chats, messages
// and notifications. Both PostgresStore and SQLiteStore implement this interface.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User directory (owned by the account service; mirrored for display names)
	UpsertUser(ctx context.Context, id int64, name string) error

	// Chat operations
	CreateChat(ctx context.Context, creatorID int64, participantIDs []int64, title string) (*models.Chat, error)
	AssertParticipant(ctx context.Context, chatID, userID int64) error
	ListParticipants(ctx context.Context, chatID int64) ([]int64, error)
	ListChatsFor(ctx context.Context, userID int64) ([]models.ChatSummary, error)
	CountChats(ctx context.Context) (int64, error)

	// Message operations
	CreateMessage(ctx context.Context, msg *models.ChatMessage) (int64, error)
	GetMessage(ctx context.Context, id int64) (*models.ChatMessage, error)
	ListMessages(ctx context.Context, chatID int64, limit, offset int) ([]models.ChatMessage, error)
	CountMessages(ctx context.Context) (int64, error)

	// Notification operations
	CreateNotification(ctx context.Context, userID int64, title, body string) (*models.Notification, error)
	ListNotifications(ctx context.Context, userID int64, limit int) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id int64) error
}

// normalizeParticipants returns the sorted distinct ids of participantIDs
// plus the creator, or ErrValidation when fewer than two remain.
func normalizeParticipants(creatorID int64, participantIDs []int64) ([]int64, error) {
	seen := map[int64]bool{creatorID: true}
	ids := []int64{creatorID}
	for _, id := range participantIDs {
		if id <= 0 {
			return nil, fmt.Errorf("%w: invalid participant id %d", ErrValidation, id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}

	if len(ids) < 2 {
		return nil, fmt.Errorf("%w: a chat needs at least 2 distinct participants", ErrValidation)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// clampPage applies the message page defaults and bounds.
func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultMessagePage
	}
	if limit > MaxMessagePage {
		limit = MaxMessagePage
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// titlePtr maps an empty title to NULL.
func titlePtr(title string) *string {
	if title == "" {
		return nil
	}
	return &title
}

// observe records how long a store operation took.
func observe(op string) func() {
	start := time.Now()
	return func() {
		metrics.DatabaseLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
