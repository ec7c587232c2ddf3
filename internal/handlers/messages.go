package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/eldtechnologies/greenhub/internal/api/middleware"
	"github.com/eldtechnologies/greenhub/internal/attachments"
	"github.com/eldtechnologies/greenhub/internal/metrics"
	"github.com/eldtechnologies/greenhub/internal/models"
	"github.com/eldtechnologies/greenhub/internal/realtime"
)

const (
	maxMessageBody     = 4000
	multipartMemory    = 8 << 20
	attachmentFormName = "attachment"
)

var (
	errMissingAttachment = errors.New("no attachment")
	errBodyTooLong       = fmt.Errorf("body too long (max %d characters)", maxMessageBody)
)

// PostMessageRequest is the JSON form of POST /chats/{chatID}/messages.
type PostMessageRequest struct {
	Type string `json:"type"`
	Body string `json:"body"`
}

// ChatEvent is pushed on the chat channel for every new message.
type ChatEvent struct {
	ChatID  int64               `json:"chat_id"`
	Message *models.ChatMessage `json:"message"`
}

// incomingMessage is a parsed message submission.
type incomingMessage struct {
	kind        string
	body        string
	file        io.ReadCloser
	fileName    string
	contentType string
}

// validate enforces the type/content coupling: text carries a body and no
// file, every other type carries a file and an optional caption. The body is
// stored exactly as sent.
func (m *incomingMessage) validate() error {
	if m.kind == "" {
		m.kind = models.MessageText
	}
	if !models.IsValidMessageType(m.kind) {
		return fmt.Errorf("type must be one of text, image, video, audio, file")
	}
	if !utf8.ValidString(m.body) {
		return fmt.Errorf("body must be valid UTF-8")
	}
	if utf8.RuneCountInString(m.body) > maxMessageBody {
		return errBodyTooLong
	}
	if m.kind == models.MessageText {
		if m.file != nil {
			return fmt.Errorf("text messages cannot carry an attachment")
		}
		if strings.TrimSpace(m.body) == "" {
			return fmt.Errorf("body is required for text messages")
		}
		return nil
	}
	if m.file == nil {
		return fmt.Errorf("%s messages require an attachment", m.kind)
	}
	return nil
}

// PostMessage handles POST /chats/{chatID}/messages.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipalFromContext(r.Context())
	if p == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	chatID, ok := idParam(r, "chatID")
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid chat ID")
		return
	}

	if !h.assertParticipant(w, r, chatID, p.ID) {
		return
	}

	in, status, err := h.parseMessage(r)
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	if err != nil {
		h.Error(w, status, err.Error())
		return
	}
	if in.file != nil {
		defer in.file.Close()
	}

	if err := in.validate(); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLong) {
			status = http.StatusUnprocessableEntity
		}
		h.Error(w, status, err.Error())
		return
	}

	msg := &models.ChatMessage{
		ChatID: chatID,
		UserID: p.ID,
		Type:   in.kind,
	}
	if strings.TrimSpace(in.body) != "" {
		msg.Body = &in.body
	}

	if in.file != nil {
		url, err := h.files.Save(r.Context(), in.fileName, in.contentType, in.file)
		if err != nil {
			if errors.Is(err, attachments.ErrTooLarge) {
				h.Error(w, http.StatusRequestEntityTooLarge, "attachment too large")
				return
			}
			h.internalError(w, r, err, "failed to store attachment")
			return
		}
		msg.AttachmentURL = &url
	}

	id, err := h.db.CreateMessage(r.Context(), msg)
	if err != nil {
		if msg.AttachmentURL != nil {
			if rmErr := h.files.Remove(context.WithoutCancel(r.Context()), *msg.AttachmentURL); rmErr != nil {
				h.logger.Warn().Err(rmErr).Str("url", *msg.AttachmentURL).Msg("failed to remove orphaned attachment")
			}
		}
		h.internalError(w, r, err, "failed to store message")
		return
	}

	// The row now references the attachment, so it is kept even if the re-read fails
	saved, err := h.db.GetMessage(r.Context(), id)
	if err != nil {
		h.internalError(w, r, err, "failed to load message")
		return
	}

	metrics.MessagesPosted.WithLabelValues(saved.Type).Inc()

	// Delivery is best effort and never changes the response
	participants, err := h.db.ListParticipants(r.Context(), chatID)
	if err != nil {
		h.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("could not load participants for broadcast")
	} else {
		h.broadcaster.BroadcastMany(realtime.ChannelChat, participants, ChatEvent{ChatID: chatID, Message: saved})
	}

	h.JSON(w, http.StatusCreated, saved)
}

// parseMessage reads a multipart or JSON submission.
func (h *Handler) parseMessage(r *http.Request) (*incomingMessage, int, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return nil, http.StatusRequestEntityTooLarge, errors.New("request body too large")
			}
			return nil, http.StatusBadRequest, errors.New("invalid multipart body")
		}

		in := &incomingMessage{
			kind: strings.TrimSpace(r.FormValue("type")),
			body: r.FormValue("body"),
		}

		file, header, err := r.FormFile(attachmentFormName)
		switch {
		case err == nil:
			if h.opts.MaxUploadBytes > 0 && header.Size > h.opts.MaxUploadBytes {
				file.Close()
				return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("attachment too large (max %d bytes)", h.opts.MaxUploadBytes)
			}
			in.file = file
			in.fileName = header.Filename
			in.contentType = header.Header.Get("Content-Type")
		case errors.Is(err, http.ErrMissingFile):
		default:
			return nil, http.StatusBadRequest, fmt.Errorf("invalid attachment: %w", errMissingAttachment)
		}
		return in, 0, nil
	}

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, http.StatusRequestEntityTooLarge, errors.New("request body too large")
		}
		return nil, http.StatusBadRequest, errors.New("invalid JSON body")
	}
	return &incomingMessage{
		kind: strings.TrimSpace(req.Type),
		body: req.Body,
	}, 0, nil
}
