package models

import (
	"encoding/json"
	"time"
)

// Notification is a per-user notice pushed on the notifications channel.
type Notification struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"-"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// TelemetryReading is one IoT sample as pushed on the iot channel.
type TelemetryReading struct {
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
