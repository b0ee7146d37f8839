// ABOUTME: Tests for the Supabase HTTP client against httptest servers
// ABOUTME: Verifies RPC bodies, older-page query filters, send payloads, headers, and error mapping

package supabase

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/resale-inbox/internal/auth"
	"github.com/2389/resale-inbox/internal/inbox"
)

var testSession = auth.Session{AccessToken: "user-token", UserID: "u1"}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Options{URL: srv.URL + "/", AnonKey: "anon-key"}, nil)
}

func assertAuthHeaders(t *testing.T, r *http.Request) {
	t.Helper()
	assert.Equal(t, "anon-key", r.Header.Get("apikey"))
	assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
}

func TestListConversations_CallsRPC(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/v1/rpc/get_user_conversations", r.URL.Path)
		assertAuthHeaders(t, r)

		var args map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&args))
		assert.Equal(t, float64(50), args["p_limit"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{
			"id":"c1","participant1_id":"u1","participant2_id":"u2",
			"product_id":"p1","created_at":"2024-01-01T10:00:00Z","unread_count":2,
			"participant2":{"id":"u2","username":"bob","avatar_url":null},
			"product":{"id":"p1","title":"Denim jacket","images":["a.jpg"],"price":42.5}
		}]`)
	})

	rows, err := client.ListConversations(t.Context(), testSession, 50)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "u2", rows[0].Participant2ID)
	require.NotNil(t, rows[0].Product)
	assert.Equal(t, "Denim jacket", rows[0].Product.Title)
	assert.Equal(t, 2, rows[0].UnreadCount)
}

func TestListMessages_CallsRPC(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/rpc/get_conversation_messages", r.URL.Path)

		var args map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&args))
		assert.Equal(t, "u2", args["p_other_user_id"])
		assert.Equal(t, float64(50), args["p_limit"])

		_, _ = io.WriteString(w, `[
			{"id":"m2","sender_id":"u2","content":"second","created_at":"2024-01-01T10:01:00Z"},
			{"id":"m1","sender_id":"u1","content":"first","created_at":"2024-01-01T10:00:00Z"}
		]`)
	})

	rows, err := client.ListMessages(t.Context(), testSession, "u2", 50)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "m2", rows[0].ID)
}

func TestListMessagesBefore_TimeCursor(t *testing.T) {
	before := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/rest/v1/messages", r.URL.Path)
		assertAuthHeaders(t, r)

		q := r.URL.Query()
		assert.Equal(t, "(and(sender_id.eq.u1,receiver_id.eq.u2),and(sender_id.eq.u2,receiver_id.eq.u1))", q.Get("or"))
		assert.Equal(t, "lt.2024-01-01T10:00:00Z", q.Get("created_at"))
		assert.Empty(t, q.Get("and"))
		assert.Equal(t, "created_at.desc,id.desc", q.Get("order"))
		assert.Equal(t, "20", q.Get("limit"))
		assert.Contains(t, q.Get("select"), "sender:profiles")

		_, _ = io.WriteString(w, `[]`)
	})

	rows, err := client.ListMessagesBefore(t.Context(), testSession, "u2", inbox.Before(before), 20)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestListMessagesBefore_KeysetCursor(t *testing.T) {
	at := time.Date(2024, 1, 1, 10, 0, 0, 500000000, time.UTC)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Empty(t, q.Get("created_at"))
		assert.Equal(t,
			"(or(created_at.lt.2024-01-01T10:00:00.5Z,and(created_at.eq.2024-01-01T10:00:00.5Z,id.lt.m7)))",
			q.Get("and"))
		_, _ = io.WriteString(w, `[]`)
	})

	_, err := client.ListMessagesBefore(t.Context(), testSession, "u2", inbox.Cursor{CreatedAt: at, ID: "m7"}, 20)
	require.NoError(t, err)
}

func TestSendMessage_PostsToFunction(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/functions/v1/send-message", r.URL.Path)
		assertAuthHeaders(t, r)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "u2", body["receiverId"])
		assert.Equal(t, "hello", body["content"])
		_, hasProduct := body["productId"]
		assert.False(t, hasProduct, "general conversations omit productId")

		_, _ = io.WriteString(w, `{"success":true}`)
	})

	ok, err := client.SendMessage(t.Context(), testSession, inbox.SendRequest{ReceiverID: "u2", Content: "hello"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSendMessage_SuccessFalse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":false,"error":"blocked"}`)
	})

	ok, err := client.SendMessage(t.Context(), testSession, inbox.SendRequest{ReceiverID: "u2", Content: "hello"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSendMessage_RateLimited(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":"rate limit exceeded"}`)
	})

	ok, err := client.SendMessage(t.Context(), testSession, inbox.SendRequest{ReceiverID: "u2", Content: "hello"})
	assert.False(t, ok)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Equal(t, "rate limit exceeded", apiErr.Message)
}

func TestDo_PostgRESTError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"code":"PGRST301","message":"JWT expired"}`)
	})

	_, err := client.ListConversations(t.Context(), testSession, 50)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "PGRST301", apiErr.Code)
	assert.Contains(t, err.Error(), "JWT expired")
}

func TestDo_PlainTextAndEmptyErrors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rest/v1/rpc/get_user_conversations" {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, "upstream down")
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.ListConversations(t.Context(), testSession, 50)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "upstream down", apiErr.Message)

	_, err = client.ListMessages(t.Context(), testSession, "u2", 50)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusText(http.StatusServiceUnavailable), apiErr.Message)
}

func TestDo_MalformedBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{not json`)
	})

	_, err := client.ListMessages(t.Context(), testSession, "u2", 50)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding response")
}

func TestCustomFunctionsPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/edge/send-message", r.URL.Path)
		_, _ = io.WriteString(w, `{"success":true}`)
	}))
	defer srv.Close()

	client := New(Options{URL: srv.URL, AnonKey: "anon-key", FunctionsPath: "edge/"}, nil)
	ok, err := client.SendMessage(t.Context(), testSession, inbox.SendRequest{ReceiverID: "u2", Content: "x"})
	require.NoError(t, err)
	assert.True(t, ok)
}
