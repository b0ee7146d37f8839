// ABOUTME: PostgREST and edge function client for conversations, messages, and sends
// ABOUTME: Implements the conversation backend and sender over plain HTTP

package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/2389/resale-inbox/internal/auth"
	"github.com/2389/resale-inbox/internal/inbox"
)

// Remote procedure and function names.
const (
	rpcUserConversations    = "get_user_conversations"
	rpcConversationMessages = "get_conversation_messages"
	fnSendMessage           = "send-message"

	// messageSelect embeds the sender profile in table queries.
	messageSelect = "*,sender:profiles!sender_id(id,username,avatar_url)"
	// timestampLayout is what PostgREST accepts in filters.
	timestampLayout = "2006-01-02T15:04:05.999999Z07:00"
)

// Options configures a Client.
type Options struct {
	URL           string
	AnonKey       string
	FunctionsPath string // defaults to /functions/v1
	Timeout       time.Duration
	HTTPClient    *http.Client
}

// Client talks to one Supabase project.
type Client struct {
	baseURL       string
	anonKey       string
	functionsPath string
	http          *http.Client
	logger        *slog.Logger
}

// New creates a client. Pass nil logger for default.
func New(opts Options, logger *slog.Logger) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	functionsPath := opts.FunctionsPath
	if functionsPath == "" {
		functionsPath = "/functions/v1"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:       strings.TrimSuffix(opts.URL, "/"),
		anonKey:       opts.AnonKey,
		functionsPath: "/" + strings.Trim(functionsPath, "/"),
		http:          httpClient,
		logger:        logger.With("component", "supabase"),
	}
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase: status %d: %s (%s)", e.Status, e.Message, e.Code)
	}
	return fmt.Sprintf("supabase: status %d: %s", e.Status, e.Message)
}

// ListConversations returns the caller's most recent conversations.
func (c *Client) ListConversations(ctx context.Context, sess auth.Session, limit int) ([]inbox.ConversationRow, error) {
	var rows []inbox.ConversationRow
	err := c.rpc(ctx, sess, rpcUserConversations, map[string]any{"p_limit": limit}, &rows)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return rows, nil
}

// ListMessages returns the newest messages between the caller and
// otherUserID, newest first.
func (c *Client) ListMessages(ctx context.Context, sess auth.Session, otherUserID string, limit int) ([]inbox.MessageRow, error) {
	var rows []inbox.MessageRow
	err := c.rpc(ctx, sess, rpcConversationMessages, map[string]any{
		"p_other_user_id": otherUserID,
		"p_limit":         limit,
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return rows, nil
}

// ListMessagesBefore returns messages between the caller and otherUserID
// strictly older than cursor, newest first.
func (c *Client) ListMessagesBefore(ctx context.Context, sess auth.Session, otherUserID string, cursor inbox.Cursor, limit int) ([]inbox.MessageRow, error) {
	me, other := sess.UserID, otherUserID
	q := url.Values{}
	q.Set("select", messageSelect)
	q.Set("or", fmt.Sprintf("(and(sender_id.eq.%s,receiver_id.eq.%s),and(sender_id.eq.%s,receiver_id.eq.%s))", me, other, other, me))

	ts := cursor.CreatedAt.UTC().Format(timestampLayout)
	if cursor.ID == "" {
		q.Set("created_at", "lt."+ts)
	} else {
		q.Set("and", fmt.Sprintf("(or(created_at.lt.%s,and(created_at.eq.%s,id.lt.%s)))", ts, ts, cursor.ID))
	}
	q.Set("order", "created_at.desc,id.desc")
	q.Set("limit", strconv.Itoa(limit))

	req, err := c.newRequest(ctx, sess, http.MethodGet, c.baseURL+"/rest/v1/messages?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("listing older messages: %w", err)
	}

	var rows []inbox.MessageRow
	if err := c.do(req, &rows); err != nil {
		return nil, fmt.Errorf("listing older messages: %w", err)
	}
	return rows, nil
}

type sendResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// SendMessage posts req to the send-message edge function. It reports
// whether the backend accepted the message.
func (c *Client) SendMessage(ctx context.Context, sess auth.Session, req inbox.SendRequest) (bool, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return false, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := c.newRequest(ctx, sess, http.MethodPost, c.baseURL+c.functionsPath+"/"+fnSendMessage, body)
	if err != nil {
		return false, fmt.Errorf("sending message: %w", err)
	}

	var resp sendResponse
	if err := c.do(httpReq, &resp); err != nil {
		return false, fmt.Errorf("sending message: %w", err)
	}
	if !resp.Success {
		c.logger.Warn("send rejected by backend", "receiver_id", req.ReceiverID, "error", resp.Error)
	}
	return resp.Success, nil
}

func (c *Client) rpc(ctx context.Context, sess auth.Session, fn string, args map[string]any, out any) error {
	body, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshaling %s args: %w", fn, err)
	}
	req, err := c.newRequest(ctx, sess, http.MethodPost, c.baseURL+"/rest/v1/rpc/"+fn, body)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, sess auth.Session, method, rawURL string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// decodeError builds an APIError from PostgREST ({code,message}) or edge
// function ({error}) error bodies.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	apiErr := &APIError{Status: resp.StatusCode}
	if json.Unmarshal(body, &payload) == nil {
		apiErr.Code = payload.Code
		apiErr.Message = payload.Message
		if apiErr.Message == "" {
			apiErr.Message = payload.Error
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
