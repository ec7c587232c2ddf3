package models

import "time"

// Message types accepted by the chat store.
const (
	MessageText  = "text"
	MessageImage = "image"
	MessageVideo = "video"
	MessageAudio = "audio"
	MessageFile  = "file"
)

// ChatMessage is a persisted chat message joined with its sender's name.
type ChatMessage struct {
	ID            int64     `json:"id"`
	ChatID        int64     `json:"chat_id"`
	UserID        int64     `json:"user_id"`
	SenderName    string    `json:"sender_name"`
	Type          string    `json:"type"`
	Body          *string   `json:"body"`
	AttachmentURL *string   `json:"attachment_url"`
	CreatedAt     time.Time `json:"created_at"`
}

// IsValidMessageType reports whether t is one of the supported message types.
func IsValidMessageType(t string) bool {
	switch t {
	case MessageText, MessageImage, MessageVideo, MessageAudio, MessageFile:
		return true
	}
	return false
}
