package models

import "time"

// Chat is a direct or group conversation.
type Chat struct {
	ID        int64     `json:"id"`
	IsGroup   bool      `json:"isGroup"`
	Title     *string   `json:"title"`
	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatSummary is a chat as listed for one participant.
type ChatSummary struct {
	ID           int64     `json:"id"`
	IsGroup      bool      `json:"isGroup"`
	Title        *string   `json:"title"`
	Participants string    `json:"participants"` // display names joined with ", "
	CreatedAt    time.Time `json:"created_at"`
}
