package greenhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadEvents(t *testing.T) {
	stream := strings.Join([]string{
		"event: hello",
		`data: {"channel":"chat","user_id":2}`,
		"",
		": ping",
		"",
		"id: 01HZX",
		"data: line one",
		"data: line two",
		"",
		"data: tail",
	}, "\n") + "\n\n"

	var got []Event
	err := ReadEvents(strings.NewReader(stream), func(e Event) error {
		got = append(got, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "hello", got[0].Name)
	assert.JSONEq(t, `{"channel":"chat","user_id":2}`, string(got[0].Data))
	assert.Equal(t, "01HZX", got[1].ID)
	assert.Equal(t, "line one\nline two", string(got[1].Data))
	assert.Empty(t, got[2].Name)
	assert.Equal(t, "tail", string(got[2].Data))
}

func TestReadEventsStopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := ReadEvents(strings.NewReader("data: a\n\ndata: b\n\n"), func(Event) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestClientSendsBearerAndDecodesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"missing bearer token"}`)
			return
		}
		switch r.URL.Path {
		case "/chats":
			var req struct {
				ParticipantIDs []int64 `json:"participantIds"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			if len(req.ParticipantIDs) == 0 {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"error":"validation failed"}`)
				return
			}
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"id":42}`)
		case "/chats/42/signal":
			fmt.Fprint(w, `{"ok":true,"delivered":2}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c := NewClient(srv.URL, "tok")

	id, err := c.CreateChat(ctx, []int64{2}, "")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = c.CreateChat(ctx, nil, "")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "validation failed", apiErr.Message)

	n, err := c.Signal(ctx, 42, map[string]string{"type": "offer", "sdp": "v=0"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = NewClient(srv.URL, "").ListChats(ctx)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestSubscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"invalid token"}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: hello\ndata: {}\n\n: ping\n\ndata: {\"n\":1}\n\n")
	}))
	defer srv.Close()

	var names []string
	err := NewClient(srv.URL, "tok").Subscribe(context.Background(), ChannelIoT, func(e Event) error {
		names = append(names, e.Name)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", ""}, names)

	err = NewClient(srv.URL, "bad").Subscribe(context.Background(), ChannelIoT, func(Event) error { return nil })
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "invalid token", apiErr.Message)
}
