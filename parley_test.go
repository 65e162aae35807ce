package parley

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   map[string]any
}

// newTestServer serves routes keyed by "METHOD /path" and records every
// request it receives.
func newTestServer(t *testing.T, routes map[string]http.HandlerFunc) (*Client, func() []recordedRequest) {
	t.Helper()
	var (
		mu       sync.Mutex
		requests []recordedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{
			Method: r.Method,
			Path:   r.URL.EscapedPath(),
			Query:  r.URL.RawQuery,
			Auth:   r.Header.Get("Authorization"),
		}
		if b, _ := io.ReadAll(r.Body); len(b) > 0 {
			assert.NoError(t, json.Unmarshal(b, &rec.Body))
		}
		mu.Lock()
		requests = append(requests, rec)
		mu.Unlock()

		h, ok := routes[r.Method+" "+r.URL.EscapedPath()]
		if !ok {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)

	client := NewClient("tok", WithBaseURL(srv.URL+"/api/"), WithTimeout(5*time.Second))
	return client, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), requests...)
	}
}

func reply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func TestClientListChats(t *testing.T) {
	ctx := context.Background()

	t.Run("envelope with chats", func(t *testing.T) {
		client, reqs := newTestServer(t, map[string]http.HandlerFunc{
			"GET /api/chats": reply(200, `{"success":true,"data":{"chats":[{"id":1,"title":"Ops","isGroup":true},{"id":"2","otherUser":{"id":5,"username":"bob"}}],"total":2}}`),
		})

		chats, err := client.ListChats(ctx)
		require.NoError(t, err)
		require.Len(t, chats, 2)
		assert.Equal(t, ID("1"), chats[0].ID)
		assert.Equal(t, "Ops", chats[0].Name)
		assert.Equal(t, "bob", chats[1].Name)
		assert.Equal(t, ID("5"), chats[1].OtherUser.ID)
		assert.Equal(t, "Bearer tok", reqs()[0].Auth)
	})

	t.Run("bare array", func(t *testing.T) {
		client, _ := newTestServer(t, map[string]http.HandlerFunc{
			"GET /api/chats": reply(200, `[{"id":3}]`),
		})

		chats, err := client.ListChats(ctx)
		require.NoError(t, err)
		require.Len(t, chats, 1)
		assert.Equal(t, "Chat", chats[0].Name)
		assert.Equal(t, DefaultPageSize, chats[0].Ledger.Page.PageSize)
	})

	t.Run("bare message array", func(t *testing.T) {
		client, _ := newTestServer(t, map[string]http.HandlerFunc{
			"GET /api/messages/7": reply(200, "\n  [{\"id\":1,\"content\":\"a\"},{\"id\":2,\"content\":\"b\"}]"),
		})

		page, err := client.ListMessages(ctx, "7", 50, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, contents(page.Messages))
		assert.Equal(t, 2, page.Total)
	})
}

func TestClientErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("status with message", func(t *testing.T) {
		client, _ := newTestServer(t, map[string]http.HandlerFunc{
			"GET /api/friends": reply(401, `{"success":false,"message":"Invalid token"}`),
		})

		_, err := client.ListFriends(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnauthorized))
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, 401, apiErr.Status)
		assert.Equal(t, "Invalid token", apiErr.Message)
	})

	t.Run("field errors", func(t *testing.T) {
		client, _ := newTestServer(t, map[string]http.HandlerFunc{
			"POST /api/friends/invite": reply(409, `{"success":false,"errors":[{"field":"username","message":"already invited"}]}`),
		})

		_, err := client.SendInvite(ctx, "bob")
		assert.True(t, errors.Is(err, ErrValidation))
		assert.Equal(t, "username: already invited", ErrorMessage(err, "fallback"))
	})

	t.Run("success false with 200", func(t *testing.T) {
		client, _ := newTestServer(t, map[string]http.HandlerFunc{
			"GET /api/friends/invites": reply(200, `{"success":false,"error":"Try later"}`),
		})

		_, err := client.ListInvites(ctx)
		assert.Equal(t, "Try later", ErrorMessage(err, "fallback"))
	})

	t.Run("empty error body", func(t *testing.T) {
		client, _ := newTestServer(t, map[string]http.HandlerFunc{
			"GET /api/chats": reply(503, ``),
		})

		_, err := client.ListChats(ctx)
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, KindServer, apiErr.Kind)
		assert.Equal(t, "Service Unavailable", apiErr.Message)
	})

	t.Run("unreachable host", func(t *testing.T) {
		client := NewClient("tok", WithBaseURL("http://127.0.0.1:1"), WithTimeout(time.Second))
		_, err := client.ListChats(ctx)
		assert.True(t, errors.Is(err, ErrNetwork))
		assert.Equal(t, "Failed to load chats", ErrorMessage(err, "Failed to load chats"))
	})
}

func TestClientMessages(t *testing.T) {
	ctx := context.Background()
	client, reqs := newTestServer(t, map[string]http.HandlerFunc{
		"GET /api/messages/7":          reply(200, `{"data":{"messages":[{"id":1,"content":"a"}],"total":9,"hasMore":true}}`),
		"GET /api/messages/7/search":   reply(200, `{"data":{"items":[{"id":4,"content":"deploy"}],"total":1}}`),
		"POST /api/messages/7":         reply(201, `{"data":{"message":{"id":2,"chatId":7,"content":"hi","replyTo":{"id":1}}}}`),
		"PATCH /api/messages/2":        reply(200, `{"data":{"id":2,"content":"hi!","wasUpdated":true,"updatedAt":"t1"}}`),
		"DELETE /api/messages/2":       reply(200, `{"success":true}`),
		"DELETE /api/messages/3":       reply(200, `{"data":{"id":3,"isDeleted":true,"content":"This message was deleted"}}`),
		"POST /api/messages/8/forward": reply(201, `{"data":{"id":9,"chatId":8,"content":"a","forwardedFrom":{"messageId":1}}}`),
	})

	page, err := client.ListMessages(ctx, "7", 50, 0)
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	assert.Equal(t, 9, page.Total)
	assert.Equal(t, "limit=50", reqs()[0].Query)

	results, err := client.SearchMessages(ctx, "7", "deploy", 20, 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"deploy"}, contents(results.Messages))
	assert.Equal(t, "limit=20&offset=20&query=deploy", reqs()[1].Query)

	sent, err := client.SendMessage(ctx, "7", "hi", ID("1").Ptr())
	require.NoError(t, err)
	require.NotNil(t, sent.ReplyTo)
	assert.Equal(t, ID("1"), *sent.ReplyTo)
	assert.Equal(t, map[string]any{"content": "hi", "replyToId": "1"}, reqs()[2].Body)

	edited, err := client.EditMessage(ctx, "2", "hi!")
	require.NoError(t, err)
	assert.True(t, edited.Edited)
	assert.Equal(t, "t1", edited.EditedAt)

	gone, err := client.DeleteMessage(ctx, "2")
	require.NoError(t, err)
	assert.Nil(t, gone, "hard delete has no projection")

	tomb, err := client.DeleteMessage(ctx, "3")
	require.NoError(t, err)
	require.NotNil(t, tomb)
	assert.True(t, tomb.IsDeleted)

	fwd, err := client.ForwardMessage(ctx, "8", "1")
	require.NoError(t, err)
	assert.Equal(t, ID("1"), fwd.ForwardedFrom.MessageID)
	assert.Equal(t, map[string]any{"messageId": "1"}, reqs()[6].Body)
}

func TestClientReactionsPinsReads(t *testing.T) {
	ctx := context.Background()
	client, reqs := newTestServer(t, map[string]http.HandlerFunc{
		"POST /api/messages/5/reactions":                reply(201, `{"success":true}`),
		"DELETE /api/messages/5/reactions/%F0%9F%91%8D": reply(200, `{"success":true}`),
		"POST /api/messages/5/read":                     reply(200, `{"success":true}`),
		"POST /api/chats/1/pin/5":                       reply(200, `{"data":{"message":{"id":5,"isPinned":true,"pinnedAt":"t"}}}`),
		"DELETE /api/chats/1/unpin/5":                   reply(200, `{"success":true}`),
		"GET /api/chats/1/pinned":                       reply(200, `{"data":{"pinnedMessages":[{"message":{"id":5},"pinnedBy":{"id":2,"username":"bob"},"pinnedAt":"t"}]}}`),
	})

	require.NoError(t, client.AddReaction(ctx, "5", "👍"))
	assert.Equal(t, map[string]any{"emoji": "👍"}, reqs()[0].Body)
	require.NoError(t, client.RemoveReaction(ctx, "5", "👍"))
	require.NoError(t, client.MarkRead(ctx, "5"))

	pinned, err := client.PinMessage(ctx, "1", "5")
	require.NoError(t, err)
	assert.True(t, pinned.IsPinned)

	unpinned, err := client.UnpinMessage(ctx, "1", "5")
	require.NoError(t, err)
	assert.Nil(t, unpinned)

	pins, err := client.ListPinned(ctx, "1")
	require.NoError(t, err)
	require.Len(t, pins, 1)
	assert.Equal(t, "bob", pins[0].PinnedBy.Username)
}

func TestClientFriends(t *testing.T) {
	ctx := context.Background()
	client, reqs := newTestServer(t, map[string]http.HandlerFunc{
		"GET /api/friends":                     reply(200, `{"data":{"friends":[{"id":2,"username":"bob","isOnline":true}],"count":1}}`),
		"GET /api/friends/search":              reply(200, `{"data":{"friends":[{"id":9,"username":"dave"}]}}`),
		"POST /api/friends/invite":             reply(201, `{"data":{"invite":{"id":70,"status":"PENDING"}}}`),
		"DELETE /api/friends/2":                reply(200, `{"success":true}`),
		"GET /api/friends/invites":             reply(200, `{"data":{"sentInvites":[],"receivedInvites":[{"id":50,"status":"PENDING","sender":{"id":2,"username":"bob"}}],"totalPending":1}}`),
		"PATCH /api/friends/invites/50/accept": reply(200, `{"data":{"friendship":{"requester":{"id":2,"username":"bob"},"addressee":{"id":1,"username":"alice"}}}}`),
		"PATCH /api/friends/invites/51/reject": reply(200, `{"data":{"invite":{"id":51,"status":"REJECTED"}}}`),
	})

	friends, err := client.ListFriends(ctx)
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.True(t, friends[0].IsOnline)

	found, err := client.SearchFriends(ctx, "da")
	require.NoError(t, err)
	assert.Equal(t, "dave", found[0].Username)
	assert.Equal(t, "query=da", reqs()[1].Query)

	invite, err := client.SendInvite(ctx, "dave")
	require.NoError(t, err)
	assert.Equal(t, ID("70"), invite.ID)

	require.NoError(t, client.RemoveFriend(ctx, "2"))

	list, err := client.ListInvites(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, list.TotalPending)
	assert.Equal(t, "bob", list.Received[0].Sender.Username)

	friendship, err := client.AcceptInvite(ctx, "50")
	require.NoError(t, err)
	assert.Equal(t, ID("2"), friendship.Requester.ID)

	rejected, err := client.RejectInvite(ctx, "51")
	require.NoError(t, err)
	assert.Equal(t, InviteRejected, rejected.Status)
}

func TestClientSetToken(t *testing.T) {
	client, reqs := newTestServer(t, map[string]http.HandlerFunc{
		"POST /api/messages/1/read": reply(200, `{}`),
	})
	client.SetToken("fresh")
	require.NoError(t, client.MarkRead(context.Background(), "1"))
	assert.Equal(t, "Bearer fresh", reqs()[0].Auth)
}
