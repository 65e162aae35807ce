package parley

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func historyPage(chatID ID, from, to int) *MessagePage {
	page := &MessagePage{}
	for i := from; i <= to; i++ {
		id := ID(strconv.Itoa(i))
		page.Messages = append(page.Messages, textMessage(id, chatID, bob, "m"+id.String()))
	}
	return page
}

func TestFetchMessagesPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed([]Chat{directChat("10", bob)}, nil)
	f.selectSilently("10")

	f.api.On("ListMessages", mock.Anything, ID("10"), DefaultPageSize, 0).Return(historyPage("10", 1, 50), nil).Once()
	f.api.On("ListMessages", mock.Anything, ID("10"), DefaultPageSize, 50).Return(historyPage("10", 50, 51), nil).Once()

	require.NoError(t, f.s.FetchMessages(ctx, "10", false))
	page, _ := f.s.PageState("10")
	assert.True(t, page.HasMore)
	assert.Equal(t, 50, page.Offset)

	require.NoError(t, f.s.LoadMore(ctx))
	msgs := f.s.Messages("10")
	assert.Len(t, msgs, 51, "overlapping pages merge")
	assert.Equal(t, ID("51"), msgs[50].ID)

	page, _ = f.s.PageState("10")
	assert.False(t, page.HasMore)
	assert.Equal(t, 51, page.Offset)

	// Exhausted history makes no further requests.
	require.NoError(t, f.s.LoadMore(ctx))
}

func TestFetchMessagesErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown chat", func(t *testing.T) {
		f := newFixture(t)
		err := f.s.FetchMessages(ctx, "404", false)
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("request failure", func(t *testing.T) {
		f := newFixture(t)
		f.seed([]Chat{directChat("10", bob)}, nil)
		f.api.On("ListMessages", mock.Anything, ID("10"), DefaultPageSize, 0).Return(nil, errors.New("boom")).Once()

		require.Error(t, f.s.FetchMessages(ctx, "10", false))

		page, _ := f.s.PageState("10")
		assert.False(t, page.Loading)
		assert.Equal(t, "Failed to load messages", page.Error)
		assert.Equal(t, "Failed to load messages", f.s.Err(FeatureMessages))
		assert.Equal(t, []recordedToast{{Kind: ToastError, Message: "Failed to load messages"}}, f.notifier.Toasts())
	})
}

func TestSendMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts the created message and ends typing", func(t *testing.T) {
		f := newFixture(t)
		f.seed([]Chat{directChat("10", bob)}, nil)
		f.selectSilently("10")
		changes := f.record()

		created := textMessage("100", "", alice, "hello")
		f.api.On("SendMessage", mock.Anything, ID("10"), "hello", (*ID)(nil)).Return(&created, nil).Once()

		f.s.TypingInput(ctx, "10")
		require.NoError(t, f.s.SendMessage(ctx, "10", "  hello  ", nil))

		assert.Equal(t, []string{"hello"}, contents(f.s.Messages("10")))
		assert.Equal(t, ID("10"), f.message(t, "10", "100").ChatID)
		assert.True(t, hasChange(*changes, ChangeScrollToLatest, "10"))
		assert.Equal(t, []emitted{
			{Event: EventTypingStart, ChatID: "10"},
			{Event: EventTypingStop, ChatID: "10"},
		}, f.emitter.Events())

		// The push echo of the same message is a no-op.
		NewDispatcher(f.s).Dispatch(MessageNew{ChatID: "10", Message: textMessage("100", "10", alice, "hello")})
		assert.Len(t, f.s.Messages("10"), 1)
	})

	t.Run("reply", func(t *testing.T) {
		f := newFixture(t)
		f.seed([]Chat{directChat("10", bob)}, map[ID][]Message{"10": {textMessage("5", "10", bob, "question")}})

		reply := textMessage("6", "10", alice, "answer")
		reply.ReplyTo = ID("5").Ptr()
		f.api.On("SendMessage", mock.Anything, ID("10"), "answer", ID("5").Ptr()).Return(&reply, nil).Once()

		require.NoError(t, f.s.SendMessage(ctx, "10", "answer", ID("5").Ptr()))
		m := f.message(t, "10", "6")
		require.NotNil(t, m.ReplyTo)
		assert.Equal(t, ID("5"), *m.ReplyTo)
	})

	t.Run("blank content is ignored", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.s.SendMessage(ctx, "10", "   ", nil))
	})

	t.Run("failure", func(t *testing.T) {
		f := newFixture(t)
		f.seed([]Chat{directChat("10", bob)}, nil)
		f.api.On("SendMessage", mock.Anything, ID("10"), "hello", (*ID)(nil)).Return(nil, errors.New("offline")).Once()

		require.Error(t, f.s.SendMessage(ctx, "10", "hello", nil))
		assert.Empty(t, f.s.Messages("10"))
		assert.Equal(t, "Failed to send message", f.s.Err(FeatureSend))
	})
}

func TestEditMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("local fallback when the response has no body", func(t *testing.T) {
		f := newFixture(t)
		f.seed([]Chat{directChat("10", bob)}, map[ID][]Message{"10": {textMessage("1", "10", alice, "helo")}})
		f.api.On("EditMessage", mock.Anything, ID("1"), "hello").Return(nil, nil).Once()

		require.NoError(t, f.s.EditMessage(ctx, "10", "1", "hello"))

		m := f.message(t, "10", "1")
		assert.Equal(t, "hello", m.Content)
		assert.True(t, m.Edited)
		assert.Equal(t, "2024-05-01T12:00:00Z", m.EditedAt)
		assert.Equal(t, "hello", f.chat(t, "10").LastMessage.Content)
	})

	t.Run("server response wins", func(t *testing.T) {
		f := newFixture(t)
		f.seed([]Chat{directChat("10", bob)}, map[ID][]Message{"10": {textMessage("1", "10", alice, "helo")}})
		updated := textMessage("1", "10", alice, "hello")
		updated.Edited = true
		updated.EditedAt = "2024-05-01T12:00:03Z"
		f.api.On("EditMessage", mock.Anything, ID("1"), "hello").Return(&updated, nil).Once()

		require.NoError(t, f.s.EditMessage(ctx, "10", "1", "hello"))
		assert.Equal(t, "2024-05-01T12:00:03Z", f.message(t, "10", "1").EditedAt)
	})

	t.Run("unchanged content makes no request", func(t *testing.T) {
		f := newFixture(t)
		f.seed([]Chat{directChat("10", bob)}, map[ID][]Message{"10": {textMessage("1", "10", alice, "same")}})
		require.NoError(t, f.s.EditMessage(ctx, "10", "1", " same "))
	})

	t.Run("unknown message", func(t *testing.T) {
		f := newFixture(t)
		f.seed([]Chat{directChat("10", bob)}, nil)
		err := f.s.EditMessage(ctx, "10", "1", "x")
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestDeleteMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("hard delete", func(t *testing.T) {
		f := newFixture(t)
		f.seed([]Chat{directChat("10", bob)}, map[ID][]Message{"10": {
			textMessage("1", "10", bob, "a"),
			textMessage("2", "10", alice, "b"),
		}})
		f.api.On("DeleteMessage", mock.Anything, ID("2")).Return(nil, nil).Once()

		require.NoError(t, f.s.DeleteMessage(ctx, "10", "2"))
		assert.Equal(t, []string{"a"}, contents(f.s.Messages("10")))
		assert.Equal(t, ID("1"), f.chat(t, "10").LastMessage.ID)
	})

	t.Run("soft delete", func(t *testing.T) {
		f := newFixture(t)
		f.seed([]Chat{directChat("10", bob)}, map[ID][]Message{"10": {textMessage("1", "10", alice, "oops")}})
		tomb := Message{ID: "1", ChatID: "10", SenderID: alice.ID, Content: "This message was deleted"}
		f.api.On("DeleteMessage", mock.Anything, ID("1")).Return(&tomb, nil).Once()

		require.NoError(t, f.s.DeleteMessage(ctx, "10", "1"))
		m := f.message(t, "10", "1")
		assert.True(t, m.IsDeleted)
		assert.Equal(t, "This message was deleted", m.Content)
		assert.Nil(t, f.chat(t, "10").LastMessage)
	})

	t.Run("failure", func(t *testing.T) {
		f := newFixture(t)
		f.seed([]Chat{directChat("10", bob)}, map[ID][]Message{"10": {textMessage("1", "10", alice, "a")}})
		f.api.On("DeleteMessage", mock.Anything, ID("1")).
			Return(nil, &APIError{Kind: KindUnauthorized, Status: 403, Message: "Not your message"}).Once()

		require.Error(t, f.s.DeleteMessage(ctx, "10", "1"))
		assert.Len(t, f.s.Messages("10"), 1)
		assert.Equal(t, "Not your message", f.s.Err(FeatureDelete))
	})
}

func TestForwardMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		f := newFixture(t)
		f.seed([]Chat{directChat("10", bob), directChat("20", carol)}, map[ID][]Message{"10": {textMessage("1", "10", bob, "news")}})
		fwd := textMessage("7", "", alice, "news")
		fwd.ForwardedFrom = &ForwardInfo{MessageID: "1", ChatID: "10", SenderID: bob.ID}
		f.api.On("ForwardMessage", mock.Anything, ID("20"), ID("1")).Return(&fwd, nil).Once()

		require.NoError(t, f.s.ForwardMessage(ctx, "20", "1"))
		m := f.message(t, "20", "7")
		require.NotNil(t, m.ForwardedFrom)
		assert.Equal(t, ID("1"), m.ForwardedFrom.MessageID)
		assert.Equal(t, []recordedToast{{Kind: ToastSuccess, Message: "Message forwarded"}}, f.notifier.Toasts())
	})

	t.Run("failure is returned", func(t *testing.T) {
		f := newFixture(t)
		f.api.On("ForwardMessage", mock.Anything, ID("20"), ID("1")).Return(nil, errors.New("nope")).Once()

		err := f.s.ForwardMessage(ctx, "20", "1")
		require.Error(t, err)
		assert.Equal(t, []recordedToast{{Kind: ToastError, Message: "Failed to forward message"}}, f.notifier.Toasts())
	})
}

func TestSearchMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.api.On("SearchMessages", mock.Anything, ID("10"), "deploy", DefaultSearchPageSize, 0).Return(&MessagePage{
		Messages: []Message{textMessage("9", "10", bob, "deploy done")},
		Total:    3,
		HasMore:  true,
	}, nil).Once()
	f.api.On("SearchMessages", mock.Anything, ID("10"), "deploy", DefaultSearchPageSize, 1).Return(&MessagePage{
		Messages: []Message{textMessage("5", "10", bob, "deploy soon"), textMessage("2", "10", alice, "deploy?")},
		Total:    3,
	}, nil).Once()

	require.NoError(t, f.s.SearchMessages(ctx, "10", " deploy "))
	st := f.s.SearchResults()
	assert.Equal(t, "deploy", st.Query)
	assert.Len(t, st.Results, 1)
	assert.True(t, st.HasMore)

	require.NoError(t, f.s.LoadMoreSearch(ctx))
	st = f.s.SearchResults()
	assert.Equal(t, []string{"deploy done", "deploy soon", "deploy?"}, contents(st.Results))
	assert.Equal(t, 3, st.Total)
	assert.False(t, st.HasMore)

	require.NoError(t, f.s.LoadMoreSearch(ctx))

	require.NoError(t, f.s.SearchMessages(ctx, "10", ""))
	assert.Equal(t, SearchState{}, f.s.SearchResults())
}

func TestSearchMessagesFailure(t *testing.T) {
	f := newFixture(t)
	f.api.On("SearchMessages", mock.Anything, ID("10"), "x", DefaultSearchPageSize, 0).
		Return(nil, &APIError{Kind: KindServer, Status: 500, Message: "Search unavailable"}).Once()

	require.Error(t, f.s.SearchMessages(context.Background(), "10", "x"))
	st := f.s.SearchResults()
	assert.False(t, st.Loading)
	assert.Equal(t, "Search unavailable", st.Error)
	assert.Equal(t, "Search unavailable", f.s.Err(FeatureSearch))
}
