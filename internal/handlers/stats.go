package handlers

import (
	"net/http"

	"github.com/eldtechnologies/greenhub/internal/realtime"
)

// ChannelStats represents live stream counts for one channel.
type ChannelStats struct {
	Principals int `json:"principals"`
	Streams    int `json:"streams"`
}

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	TotalChats    int64                   `json:"total_chats"`
	TotalMessages int64                   `json:"total_messages"`
	Channels      map[string]ChannelStats `json:"channels"`
}

// Stats returns live connection counts and store totals.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	totalChats, err := h.db.CountChats(ctx)
	if err != nil {
		h.internalError(w, r, err, "failed to count chats")
		return
	}

	totalMessages, err := h.db.CountMessages(ctx)
	if err != nil {
		h.internalError(w, r, err, "failed to count messages")
		return
	}

	channels := make(map[string]ChannelStats, len(realtime.Channels))
	for _, c := range realtime.Channels {
		channels[string(c)] = ChannelStats{
			Principals: h.registry.Len(c),
			Streams:    h.registry.Connections(c),
		}
	}

	h.JSON(w, http.StatusOK, StatsResponse{
		TotalChats:    totalChats,
		TotalMessages: totalMessages,
		Channels:      channels,
	})
}
