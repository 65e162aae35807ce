// Package parley is the client-side state layer of the Parley chat
// service. It mirrors chats, messages, friends and invites in memory and
// keeps that mirror consistent across REST snapshots, push events and
// local optimistic actions.
//
// Example:
//
//	client := parley.NewClient(token, parley.WithBaseURL("https://chat.example.com/api"))
//	rt := parley.NewRealtimeClient("https://chat.example.com", &parley.RealtimeConfig{Token: token})
//
//	session, _ := parley.NewSession(parley.Options{
//		API:         client,
//		CurrentUser: parley.UserRef{ID: "42", Username: "alice"},
//		Emitter:     rt,
//	})
//	rt.OnEnvelope(parley.NewDispatcher(session).HandleEnvelope)
//	rt.OnReconnected(func() { session.Resync(ctx) })
//
//	_ = rt.Connect(ctx)
//	session.Initialize(ctx)
package parley

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "http://localhost:3001/api"
	DefaultTimeout = 30 * time.Second
)

// API is the REST surface the session depends on. *Client implements it.
type API interface {
	ListChats(ctx context.Context) ([]Chat, error)
	ListMessages(ctx context.Context, chatID ID, limit, offset int) (*MessagePage, error)
	SendMessage(ctx context.Context, chatID ID, content string, replyTo *ID) (*Message, error)
	EditMessage(ctx context.Context, messageID ID, content string) (*Message, error)
	DeleteMessage(ctx context.Context, messageID ID) (*Message, error)
	AddReaction(ctx context.Context, messageID ID, emoji string) error
	RemoveReaction(ctx context.Context, messageID ID, emoji string) error
	MarkRead(ctx context.Context, messageID ID) error
	PinMessage(ctx context.Context, chatID, messageID ID) (*Message, error)
	UnpinMessage(ctx context.Context, chatID, messageID ID) (*Message, error)
	ListPinned(ctx context.Context, chatID ID) ([]PinnedMessage, error)
	ForwardMessage(ctx context.Context, targetChatID, messageID ID) (*Message, error)
	SearchMessages(ctx context.Context, chatID ID, query string, limit, offset int) (*MessagePage, error)

	ListFriends(ctx context.Context) ([]Friend, error)
	SendInvite(ctx context.Context, username string) (*Invite, error)
	RemoveFriend(ctx context.Context, friendID ID) error
	SearchFriends(ctx context.Context, query string) ([]Friend, error)
	ListInvites(ctx context.Context) (*InviteList, error)
	AcceptInvite(ctx context.Context, inviteID ID) (*Friendship, error)
	RejectInvite(ctx context.Context, inviteID ID) (*Invite, error)
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

var _ API = (*Client)(nil)

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates a REST client authenticated with a bearer token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the bearer token, e.g. after a refresh.
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ============================================================================
// Internal request helper
// ============================================================================

type apiResponse struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Errors  []FieldError    `json:"errors"`
}

// doRequest performs one call and returns the data member of the response
// envelope, or an *APIError.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, query map[string]string) (json.RawMessage, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Kind: KindNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Kind: KindNetwork, Status: resp.StatusCode, Message: "read response", Err: err}
	}

	// Only object bodies carry the envelope; arrays pass through as data.
	var env apiResponse
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &env); err != nil && resp.StatusCode < 400 {
			return nil, &APIError{Kind: KindServer, Status: resp.StatusCode, Message: "malformed response", Err: err}
		}
	}

	if resp.StatusCode >= 400 || (env.Success != nil && !*env.Success) {
		apiErr := &APIError{
			Kind:    kindForStatus(resp.StatusCode),
			Status:  resp.StatusCode,
			Message: env.Message,
			Fields:  env.Errors,
		}
		if apiErr.Message == "" {
			apiErr.Message = env.Error
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		if len(apiErr.Fields) > 0 {
			apiErr.Kind = KindValidation
		}
		return nil, apiErr
	}

	if env.Data == nil {
		return raw, nil
	}
	return env.Data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &APIError{Kind: KindServer, Message: "failed to unmarshal response", Err: err}
	}
	return &result, nil
}

// decodeMessage accepts both a bare message and {"message": {...}}. A body
// without a message id yields nil.
func decodeMessage(data []byte) (*Message, error) {
	var wrapped struct {
		Message json.RawMessage `json:"message"`
	}
	if json.Unmarshal(data, &wrapped) == nil && len(wrapped.Message) > 0 && wrapped.Message[0] == '{' {
		data = wrapped.Message
	}
	if len(bytes.TrimSpace(data)) == 0 || string(bytes.TrimSpace(data)) == "null" {
		return nil, nil
	}
	m, err := decodeJSON[Message](data)
	if err != nil || m.ID.IsZero() {
		return nil, err
	}
	return m, nil
}

// decodeMessagePage accepts a bare array, {"messages": [...]} and
// {"items": [...]}.
func decodeMessagePage(data []byte) (*MessagePage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		msgs, err := decodeJSON[[]Message](trimmed)
		if err != nil {
			return nil, err
		}
		return &MessagePage{Messages: *msgs, Total: len(*msgs)}, nil
	}
	var page struct {
		MessagePage
		Items []Message `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, &APIError{Kind: KindServer, Message: "failed to unmarshal response", Err: err}
	}
	if page.Messages == nil {
		page.Messages = page.Items
	}
	return &page.MessagePage, nil
}

func paginationQuery(limit, offset int) map[string]string {
	q := map[string]string{}
	if limit > 0 {
		q["limit"] = strconv.Itoa(limit)
	}
	if offset > 0 {
		q["offset"] = strconv.Itoa(offset)
	}
	return q
}

func escape(id ID) string { return url.PathEscape(id.String()) }

// ============================================================================
// Chats
// ============================================================================

func (c *Client) ListChats(ctx context.Context) ([]Chat, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/chats", nil, nil)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		chats, err := decodeJSON[[]Chat](trimmed)
		if err != nil {
			return nil, err
		}
		return *chats, nil
	}
	resp, err := decodeJSON[struct {
		Chats []Chat `json:"chats"`
		Total int    `json:"total"`
	}](trimmed)
	if err != nil {
		return nil, err
	}
	return resp.Chats, nil
}

func (c *Client) PinMessage(ctx context.Context, chatID, messageID ID) (*Message, error) {
	data, err := c.doRequest(ctx, http.MethodPost, "/chats/"+escape(chatID)+"/pin/"+escape(messageID), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeMessage(data)
}

func (c *Client) UnpinMessage(ctx context.Context, chatID, messageID ID) (*Message, error) {
	data, err := c.doRequest(ctx, http.MethodDelete, "/chats/"+escape(chatID)+"/unpin/"+escape(messageID), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeMessage(data)
}

func (c *Client) ListPinned(ctx context.Context, chatID ID) ([]PinnedMessage, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/chats/"+escape(chatID)+"/pinned", nil, nil)
	if err != nil {
		return nil, err
	}
	resp, err := decodeJSON[struct {
		PinnedMessages []PinnedMessage `json:"pinnedMessages"`
	}](data)
	if err != nil {
		return nil, err
	}
	return resp.PinnedMessages, nil
}

// ============================================================================
// Messages
// ============================================================================

func (c *Client) ListMessages(ctx context.Context, chatID ID, limit, offset int) (*MessagePage, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/messages/"+escape(chatID), nil, paginationQuery(limit, offset))
	if err != nil {
		return nil, err
	}
	return decodeMessagePage(data)
}

func (c *Client) SendMessage(ctx context.Context, chatID ID, content string, replyTo *ID) (*Message, error) {
	payload := map[string]any{"content": content}
	if replyTo != nil {
		payload["replyToId"] = *replyTo
	}
	data, err := c.doRequest(ctx, http.MethodPost, "/messages/"+escape(chatID), payload, nil)
	if err != nil {
		return nil, err
	}
	return decodeMessage(data)
}

func (c *Client) EditMessage(ctx context.Context, messageID ID, content string) (*Message, error) {
	data, err := c.doRequest(ctx, http.MethodPatch, "/messages/"+escape(messageID), map[string]string{"content": content}, nil)
	if err != nil {
		return nil, err
	}
	return decodeMessage(data)
}

// DeleteMessage returns the soft-deleted projection when the backend sends
// one, or nil for a hard delete.
func (c *Client) DeleteMessage(ctx context.Context, messageID ID) (*Message, error) {
	data, err := c.doRequest(ctx, http.MethodDelete, "/messages/"+escape(messageID), nil, nil)
	if err != nil {
		return nil, err
	}
	m, err := decodeMessage(data)
	if err != nil {
		return nil, nil
	}
	return m, nil
}

func (c *Client) AddReaction(ctx context.Context, messageID ID, emoji string) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/messages/"+escape(messageID)+"/reactions", map[string]string{"emoji": emoji}, nil)
	return err
}

func (c *Client) RemoveReaction(ctx context.Context, messageID ID, emoji string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, "/messages/"+escape(messageID)+"/reactions/"+url.PathEscape(emoji), nil, nil)
	return err
}

func (c *Client) MarkRead(ctx context.Context, messageID ID) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/messages/"+escape(messageID)+"/read", nil, nil)
	return err
}

func (c *Client) ForwardMessage(ctx context.Context, targetChatID, messageID ID) (*Message, error) {
	data, err := c.doRequest(ctx, http.MethodPost, "/messages/"+escape(targetChatID)+"/forward", map[string]ID{"messageId": messageID}, nil)
	if err != nil {
		return nil, err
	}
	return decodeMessage(data)
}

func (c *Client) SearchMessages(ctx context.Context, chatID ID, query string, limit, offset int) (*MessagePage, error) {
	q := paginationQuery(limit, offset)
	q["query"] = query
	data, err := c.doRequest(ctx, http.MethodGet, "/messages/"+escape(chatID)+"/search", nil, q)
	if err != nil {
		return nil, err
	}
	return decodeMessagePage(data)
}

// ============================================================================
// Friends
// ============================================================================

type friendList struct {
	Friends []Friend `json:"friends"`
	Count   int      `json:"count"`
}

func (c *Client) ListFriends(ctx context.Context) ([]Friend, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/friends", nil, nil)
	if err != nil {
		return nil, err
	}
	resp, err := decodeJSON[friendList](data)
	if err != nil {
		return nil, err
	}
	return resp.Friends, nil
}

func (c *Client) SendInvite(ctx context.Context, username string) (*Invite, error) {
	data, err := c.doRequest(ctx, http.MethodPost, "/friends/invite", map[string]string{"username": username}, nil)
	if err != nil {
		return nil, err
	}
	var wrapped struct {
		Invite *Invite `json:"invite"`
	}
	if json.Unmarshal(data, &wrapped) == nil && wrapped.Invite != nil {
		return wrapped.Invite, nil
	}
	return decodeJSON[Invite](data)
}

func (c *Client) RemoveFriend(ctx context.Context, friendID ID) error {
	_, err := c.doRequest(ctx, http.MethodDelete, "/friends/"+escape(friendID), nil, nil)
	return err
}

func (c *Client) SearchFriends(ctx context.Context, query string) ([]Friend, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/friends/search", nil, map[string]string{"query": query})
	if err != nil {
		return nil, err
	}
	resp, err := decodeJSON[friendList](data)
	if err != nil {
		return nil, err
	}
	return resp.Friends, nil
}

func (c *Client) ListInvites(ctx context.Context) (*InviteList, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/friends/invites", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[InviteList](data)
}

func (c *Client) AcceptInvite(ctx context.Context, inviteID ID) (*Friendship, error) {
	data, err := c.doRequest(ctx, http.MethodPatch, "/friends/invites/"+escape(inviteID)+"/accept", nil, nil)
	if err != nil {
		return nil, err
	}
	resp, err := decodeJSON[struct {
		Friendship *Friendship `json:"friendship"`
	}](data)
	if err != nil {
		return nil, err
	}
	return resp.Friendship, nil
}

func (c *Client) RejectInvite(ctx context.Context, inviteID ID) (*Invite, error) {
	data, err := c.doRequest(ctx, http.MethodPatch, "/friends/invites/"+escape(inviteID)+"/reject", nil, nil)
	if err != nil {
		return nil, err
	}
	resp, err := decodeJSON[struct {
		Invite *Invite `json:"invite"`
	}](data)
	if err != nil {
		return nil, err
	}
	return resp.Invite, nil
}
