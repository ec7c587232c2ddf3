// Package greenhub provides a client for the greenhub chat and event-stream API.
package greenhub

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Stream channels.
const (
	ChannelIoT           = "iot"
	ChannelNotifications = "notifications"
	ChannelChat          = "chat"
)

// Client is a greenhub API client.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	// StreamClient has no timeout; streams stay open until cancelled.
	StreamClient *http.Client
}

// NewClient creates a new client authenticating with token.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		BaseURL:      strings.TrimSuffix(baseURL, "/"),
		Token:        token,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		StreamClient: &http.Client{},
	}
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("greenhub error %d: %s", e.Status, e.Message)
}

// doRequest performs an HTTP request and decodes a JSON response into out.
func (c *Client) doRequest(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	return c.doRequest(ctx, method, path, "application/json", body, out)
}

// Chat is a chat as listed for the caller.
type Chat struct {
	ID           int64     `json:"id"`
	IsGroup      bool      `json:"isGroup"`
	Title        *string   `json:"title"`
	Participants string    `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
}

// Message is a chat message.
type Message struct {
	ID            int64     `json:"id"`
	ChatID        int64     `json:"chat_id"`
	UserID        int64     `json:"user_id"`
	SenderName    string    `json:"sender_name"`
	Type          string    `json:"type"`
	Body          *string   `json:"body"`
	AttachmentURL *string   `json:"attachment_url"`
	CreatedAt     time.Time `json:"created_at"`
}

// CreateChat creates a direct chat (empty title) or a group chat.
func (c *Client) CreateChat(ctx context.Context, participantIDs []int64, title string) (int64, error) {
	req := struct {
		ParticipantIDs []int64 `json:"participantIds"`
		Title          string  `json:"title,omitempty"`
	}{participantIDs, title}

	var resp struct {
		ID int64 `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/chats", req, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// ListChats lists the caller's chats, newest first.
func (c *Client) ListChats(ctx context.Context) ([]Chat, error) {
	var resp struct {
		Chats []Chat `json:"chats"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/chats", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Chats, nil
}

// GetMessages retrieves a newest-first page of a chat's messages.
func (c *Client) GetMessages(ctx context.Context, chatID int64, limit, offset int) ([]Message, error) {
	path := fmt.Sprintf("/chats/%d/messages?limit=%d&offset=%d", chatID, limit, offset)
	var resp struct {
		Messages []Message `json:"messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// SendText posts a text message.
func (c *Client) SendText(ctx context.Context, chatID int64, body string) (*Message, error) {
	req := struct {
		Type string `json:"type"`
		Body string `json:"body"`
	}{"text", body}

	var msg Message
	if err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/chats/%d/messages", chatID), req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendAttachment posts an image, video, audio or file message with an optional caption.
func (c *Client) SendAttachment(ctx context.Context, chatID int64, kind, caption, fileName string, r io.Reader) (*Message, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("type", kind)
	if caption != "" {
		mw.WriteField("body", caption)
	}
	fw, err := mw.CreateFormFile("attachment", fileName)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var msg Message
	path := fmt.Sprintf("/chats/%d/messages", chatID)
	if err := c.doRequest(ctx, http.MethodPost, path, mw.FormDataContentType(), &buf, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Signal relays a WebRTC signaling payload to the chat's other participants
// and returns how many open streams accepted it.
func (c *Client) Signal(ctx context.Context, chatID int64, payload any) (int, error) {
	var resp struct {
		Delivered int `json:"delivered"`
	}
	if err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/chats/%d/signal", chatID), payload, &resp); err != nil {
		return 0, err
	}
	return resp.Delivered, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Event is one server-sent event.
type Event struct {
	ID   string
	Name string // empty for default "message" events
	Data []byte
}

// Subscribe opens a stream on channel and calls fn for every event until ctx
// is cancelled, the server closes the stream, or fn returns an error.
func (c *Client) Subscribe(ctx context.Context, channel string, fn func(Event) error) error {
	path := "/channel/" + url.PathEscape(channel) + "?token=" + url.QueryEscape(c.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.StreamClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	err = ReadEvents(resp.Body, fn)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// ReadEvents parses a text/event-stream body. Comment lines are skipped.
func ReadEvents(r io.Reader, fn func(Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var ev Event
	var data [][]byte
	dispatch := func() error {
		if len(data) == 0 && ev.Name == "" {
			ev = Event{}
			return nil
		}
		ev.Data = bytes.Join(data, []byte("\n"))
		err := fn(ev)
		ev, data = Event{}, nil
		return err
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if err := dispatch(); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			ev.ID = value
		case "event":
			ev.Name = value
		case "data":
			data = append(data, []byte(value))
		}
	}
	return scanner.Err()
}
