package parley

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestFriendStoreFilter(t *testing.T) {
	fs := friendStore{items: []Friend{
		{ID: "2", Username: "bob", Email: "bob@example.com"},
		{ID: "3", Username: "carol", Email: "c@corp.io"},
	}}

	fs.filter = " CORP "
	assert.Equal(t, []ID{"3"}, friendIDs(fs.filtered()))

	fs.filter = "b"
	assert.Equal(t, []ID{"2"}, friendIDs(fs.filtered()))

	fs.filter = ""
	assert.Len(t, fs.filtered(), 2)

	assert.False(t, fs.add(Friend{ID: "2"}))
	assert.False(t, fs.add(Friend{}))
	assert.True(t, fs.remove("2"))
	assert.False(t, fs.remove("2"))
}

func friendIDs(friends []Friend) []ID {
	out := make([]ID, len(friends))
	for i, f := range friends {
		out[i] = f.ID
	}
	return out
}

func TestFetchFriendsAppliesPresence(t *testing.T) {
	f := newFixture(t)
	f.seed([]Chat{directChat("10", bob), groupChat("7", "Team", alice, carol)}, nil)
	f.api.On("ListFriends", mock.Anything).Return([]Friend{
		{ID: bob.ID, Username: "bob", IsOnline: true},
		{ID: carol.ID, Username: "carol", LastSeen: "2024-04-30T08:00:00Z"},
	}, nil).Once()

	require.NoError(t, f.s.FetchFriends(context.Background()))

	assert.Len(t, f.s.Friends(), 2)
	assert.True(t, f.chat(t, "10").HasOnlineMembers)
	assert.False(t, f.chat(t, "7").HasOnlineMembers)

	f.s.SetFriendFilter("car")
	assert.Equal(t, []ID{carol.ID}, friendIDs(f.s.FilteredFriends()))
}

func TestAddFriend(t *testing.T) {
	ctx := context.Background()

	t.Run("blank username", func(t *testing.T) {
		f := newFixture(t)
		require.Error(t, f.s.AddFriend(ctx, "  "))
		assert.Equal(t, []recordedToast{{Kind: ToastError, Message: "Please provide a username"}}, f.notifier.Toasts())
	})

	t.Run("records the sent invite", func(t *testing.T) {
		f := newFixture(t)
		invite := &Invite{ID: "70", Status: InvitePending, Receiver: &InviteUser{ID: "9", Username: "dave"}}
		f.api.On("SendInvite", mock.Anything, "dave").Return(invite, nil).Once()

		require.NoError(t, f.s.AddFriend(ctx, "dave"))

		inv := f.s.Invites()
		require.Len(t, inv.Sent, 1)
		assert.Equal(t, 1, inv.TotalSent)
		assert.Equal(t, 1, f.s.PendingInvites(), "a pending sent invite counts toward the total")
		assert.Equal(t, []recordedToast{{Kind: ToastSuccess, Message: "Invite sent to dave"}}, f.notifier.Toasts())
	})

	t.Run("backend rejection", func(t *testing.T) {
		f := newFixture(t)
		f.api.On("SendInvite", mock.Anything, "ghost").
			Return(nil, &APIError{Kind: KindNotFound, Status: 404, Message: "User not found"}).Once()

		require.Error(t, f.s.AddFriend(ctx, "ghost"))
		assert.Equal(t, "User not found", f.s.Err(FeatureFriends))
	})
}

func TestRemoveFriend(t *testing.T) {
	ctx := context.Background()

	t.Run("removes and reloads", func(t *testing.T) {
		f := newFixture(t)
		f.s.update(func() { f.s.friends.items = []Friend{{ID: bob.ID, Username: "bob"}, {ID: carol.ID, Username: "carol"}} })
		f.api.On("RemoveFriend", mock.Anything, bob.ID).Return(nil).Once()
		f.api.On("ListFriends", mock.Anything).Return([]Friend{{ID: carol.ID, Username: "carol"}}, nil).Once()

		require.NoError(t, f.s.RemoveFriend(ctx, bob.ID))
		assert.Equal(t, []ID{carol.ID}, friendIDs(f.s.Friends()))
		assert.Equal(t, []recordedToast{{Kind: ToastSuccess, Message: "bob removed from friends"}}, f.notifier.Toasts())
	})

	t.Run("unknown friend", func(t *testing.T) {
		f := newFixture(t)
		err := f.s.RemoveFriend(ctx, "404")
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.Equal(t, "Friend not found", f.s.Err(FeatureFriends))
	})
}

func TestSearchFriends(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.api.On("SearchFriends", mock.Anything, "da").Return([]Friend{{ID: "9", Username: "dave"}}, nil).Once()

	got, err := f.s.SearchFriends(ctx, " da ")
	require.NoError(t, err)
	assert.Equal(t, []ID{"9"}, friendIDs(got))
	assert.Equal(t, got, f.s.FriendSearchResults())

	got, err = f.s.SearchFriends(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, f.s.FriendSearchResults())
}
