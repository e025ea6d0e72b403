package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/roach88/inbox/internal/model"
)

// recordedRequest is what the test server saw.
type recordedRequest struct {
	Method string
	Path   string
	Auth   string
	Body   map[string]any
}

func setupTestServer(t *testing.T, status int, response string) (*Client, *[]recordedRequest) {
	t.Helper()
	var seen []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{Method: r.Method, Path: r.URL.EscapedPath(), Auth: r.Header.Get("Authorization")}
		if b, _ := io.ReadAll(r.Body); len(b) > 0 {
			assert.NoError(t, json.Unmarshal(b, &rec.Body))
		}
		seen = append(seen, rec)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL+"/api/", WithToken("tok"), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return c, &seen
}

func TestNew_Validates(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)

	_, err = New("ftp://example.com")
	assert.Error(t, err)

	c, err := New("https://example.com/api", WithTimeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, time.Second, c.http.Timeout)
}

func TestListConversations(t *testing.T) {
	c, seen := setupTestServer(t, http.StatusOK, `[
		{"id": "c1", "participant_ids": ["u1", "o1"],
		 "participants": [{"id": "o1", "name": "Olga", "role": "owner", "avatarUrl": null}],
		 "unread_count": 2, "venue_id": "v1", "venue_name": "Quiet Room", "venue_type": "reading_room",
		 "last_message": {"id": "m1", "conversation_id": "c1", "sender_id": "o1", "receiver_id": "u1",
		                  "content": "hi", "timestamp": "2024-01-01T10:00:00", "read": false}}
	]`)

	recs, err := c.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "c1", recs[0].ID)
	assert.Equal(t, 2, recs[0].UnreadCount)
	require.NotNil(t, recs[0].LastMessage)
	assert.Equal(t, "hi", recs[0].LastMessage.Content)
	assert.Nil(t, recs[0].Participants[0].AvatarURL)

	require.Len(t, *seen, 1)
	assert.Equal(t, http.MethodGet, (*seen)[0].Method)
	assert.Equal(t, "/api/messages/conversations", (*seen)[0].Path)
	assert.Equal(t, "Bearer tok", (*seen)[0].Auth)
}

func TestListMessages_EscapesID(t *testing.T) {
	c, seen := setupTestServer(t, http.StatusOK, `[]`)

	recs, err := c.ListMessages(context.Background(), "a/b")
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, "/api/messages/conversations/a%2Fb/messages", (*seen)[0].Path)
}

func TestSendMessage(t *testing.T) {
	c, seen := setupTestServer(t, http.StatusOK,
		`{"id": "M100", "conversation_id": "C1", "sender_id": "u1", "receiver_id": "o1",
		  "content": "Hi", "timestamp": "2024-01-01T10:00:00.123456", "read": false, "venue_id": "v1"}`)

	rec, err := c.SendMessage(context.Background(), "o1", "Hi", "v1")
	require.NoError(t, err)
	assert.Equal(t, "M100", rec.ID)

	req := (*seen)[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/api/messages/send", req.Path)
	assert.Equal(t, map[string]any{"receiver_id": "o1", "content": "Hi", "venue_id": "v1"}, req.Body)
}

func TestSendMessage_OmitsEmptyVenue(t *testing.T) {
	c, seen := setupTestServer(t, http.StatusOK, `{}`)

	_, err := c.SendMessage(context.Background(), "o1", "Hi", "")
	require.NoError(t, err)
	assert.NotContains(t, (*seen)[0].Body, "venue_id")
}

func TestStartConversation(t *testing.T) {
	c, seen := setupTestServer(t, http.StatusOK, `{"id": "c9", "participant_ids": ["u1", "o2"], "participants": [], "unread_count": 0}`)

	rec, err := c.StartConversation(context.Background(), "o2", "v9", model.VenueTypeAccommodation)
	require.NoError(t, err)
	assert.Equal(t, "c9", rec.ID)

	req := (*seen)[0]
	assert.Equal(t, "/api/messages/conversations/start", req.Path)
	assert.Equal(t, map[string]any{"participant_id": "o2", "venue_id": "v9", "venue_type": "accommodation"}, req.Body)
}

func TestMarkConversationRead(t *testing.T) {
	c, seen := setupTestServer(t, http.StatusOK, `{"status": "success", "marked_read": 3}`)

	require.NoError(t, c.MarkConversationRead(context.Background(), "c1"))
	assert.Equal(t, http.MethodPut, (*seen)[0].Method)
	assert.Equal(t, "/api/messages/conversations/c1/read", (*seen)[0].Path)
}

func TestUnreadCount(t *testing.T) {
	c, _ := setupTestServer(t, http.StatusOK, `{"count": 7}`)

	n, err := c.UnreadCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestAPIError_Detail(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		detail string
	}{
		{"string detail", http.StatusNotFound, `{"detail": "Conversation not found"}`, "Conversation not found"},
		{"validation detail", http.StatusUnprocessableEntity, `{"detail": [{"msg": "field required"}, {"msg": "too long"}]}`, "field required; too long"},
		{"plain body", http.StatusBadGateway, `upstream down`, "upstream down"},
		{"empty body", http.StatusInternalServerError, ``, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := setupTestServer(t, tt.status, tt.body)

			_, err := c.ListConversations(context.Background())
			require.Error(t, err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.detail, apiErr.Detail)
			assert.Contains(t, err.Error(), "/messages/conversations")
		})
	}
}

func TestAPIError_Classifiers(t *testing.T) {
	c, _ := setupTestServer(t, http.StatusNotFound, `{"detail": "Conversation not found"}`)
	_, err := c.ListMessages(context.Background(), "c1")
	assert.True(t, IsNotFound(err))
	assert.False(t, IsUnauthorized(err))

	c, _ = setupTestServer(t, http.StatusUnauthorized, `{"detail": "Not authenticated"}`)
	_, err = c.UnreadCount(context.Background())
	assert.True(t, IsUnauthorized(err))

	assert.False(t, IsNotFound(errors.New("other")))
}

func TestDecodeFailure(t *testing.T) {
	c, _ := setupTestServer(t, http.StatusOK, `{not json`)

	_, err := c.ListConversations(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestContextCancelled(t *testing.T) {
	c, _ := setupTestServer(t, http.StatusOK, `[]`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ListConversations(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
