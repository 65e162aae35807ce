package parley

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/parley-chat/parley-go/internal/logger/sl"
)

type friendStore struct {
	items   []Friend
	filter  string
	results []Friend
	loading bool
}

func (fs *friendStore) add(f Friend) bool {
	if f.ID.IsZero() || FindIndexByID(fs.items, f.ID) >= 0 {
		return false
	}
	fs.items = append(slices.Clone(fs.items), f)
	return true
}

func (fs *friendStore) remove(id ID) bool {
	i := FindIndexByID(fs.items, id)
	if i < 0 {
		return false
	}
	fs.items = slices.Delete(slices.Clone(fs.items), i, i+1)
	return true
}

func (fs *friendStore) setStatus(id ID, online bool, lastSeen string) bool {
	i := FindIndexByID(fs.items, id)
	if i < 0 {
		return false
	}
	f := fs.items[i]
	if f.IsOnline == online && (lastSeen == "" || f.LastSeen == lastSeen) {
		return false
	}
	f.IsOnline = online
	if lastSeen != "" {
		f.LastSeen = lastSeen
	}
	fs.items = slices.Clone(fs.items)
	fs.items[i] = f
	return true
}

func (fs *friendStore) filtered() []Friend {
	q := strings.ToLower(strings.TrimSpace(fs.filter))
	if q == "" {
		return slices.Clone(fs.items)
	}
	var out []Friend
	for _, f := range fs.items {
		if strings.Contains(strings.ToLower(f.Username), q) || strings.Contains(strings.ToLower(f.Email), q) {
			out = append(out, f)
		}
	}
	return out
}

// ============================================================================
// Session: friends
// ============================================================================

func (s *Session) FetchFriends(ctx context.Context) error {
	const op = "parley.Session.FetchFriends"
	log := s.log.With(slog.String("op", op))

	s.update(func() {
		s.friends.loading = true
		delete(s.errs, FeatureFriends)
	})

	friends, err := s.api.ListFriends(ctx)

	s.update(func() {
		s.friends.loading = false
		if err == nil {
			s.friends.items = friends
			for _, f := range friends {
				s.applyPresenceLocked(f.ID, f.IsOnline, f.LastSeen)
			}
			s.changed(ChangeFriends, "", "")
		}
	})
	if err != nil {
		log.Error("failed to fetch friends", sl.Err(err))
		s.fail(FeatureFriends, err, "Failed to load friends")
		return err
	}
	return nil
}

// AddFriend sends a friend invite to username.
func (s *Session) AddFriend(ctx context.Context, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		err := &APIError{Kind: KindValidation, Message: "Please provide a username"}
		s.fail(FeatureFriends, err, err.Message)
		return err
	}

	invite, err := s.api.SendInvite(ctx, username)
	if err != nil {
		s.fail(FeatureFriends, err, "Failed to send invite")
		return err
	}
	s.update(func() {
		if invite != nil && s.invites.addSent(*invite) {
			s.changed(ChangeInvites, "", "")
		}
	})
	s.notify(ToastSuccess, "Invite sent to "+username)
	return nil
}

// RemoveFriend deletes a friendship and reloads the friend list.
func (s *Session) RemoveFriend(ctx context.Context, friendID ID) error {
	var name string
	s.mu.Lock()
	if f, ok := FindByID(s.friends.items, friendID); ok {
		name = f.Username
	}
	s.mu.Unlock()
	if name == "" {
		err := unknownFriend(friendID)
		s.fail(FeatureFriends, err, "Friend not found")
		return err
	}

	if err := s.api.RemoveFriend(ctx, friendID); err != nil {
		s.fail(FeatureFriends, err, "Failed to remove friend")
		return err
	}
	s.update(func() {
		if s.friends.remove(friendID) {
			s.changed(ChangeFriends, "", "")
		}
	})
	s.notify(ToastSuccess, name+" removed from friends")
	return s.FetchFriends(ctx)
}

// SearchFriends queries the backend for users matching query.
func (s *Session) SearchFriends(ctx context.Context, query string) ([]Friend, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		s.update(func() {
			s.friends.results = nil
			s.changed(ChangeFriends, "", "")
		})
		return nil, nil
	}
	results, err := s.api.SearchFriends(ctx, query)
	if err != nil {
		s.fail(FeatureFriends, err, "Failed to search friends")
		return nil, err
	}
	s.update(func() {
		s.friends.results = results
		s.changed(ChangeFriends, "", "")
	})
	return slices.Clone(results), nil
}

// SetFriendFilter narrows FilteredFriends to usernames or emails
// containing q.
func (s *Session) SetFriendFilter(q string) {
	s.update(func() {
		s.friends.filter = q
		s.changed(ChangeFriends, "", "")
	})
}

func (s *Session) Friends() []Friend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.friends.items)
}

func (s *Session) FilteredFriends() []Friend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.friends.filtered()
}

func (s *Session) FriendSearchResults() []Friend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.friends.results)
}

// ============================================================================
// Presence
// ============================================================================

// applyPresenceLocked propagates a user's online state to the friend list
// and to every chat the user appears in.
func (s *Session) applyPresenceLocked(userID ID, online bool, lastSeen string) {
	if s.friends.setStatus(userID, online, lastSeen) {
		s.changed(ChangeFriends, "", "")
	}
	for _, c := range s.chats.items {
		touched := false
		if c.OtherUser != nil && c.OtherUser.ID == userID {
			u := *c.OtherUser
			u.IsOnline = online
			if lastSeen != "" {
				u.LastSeen = lastSeen
			}
			c.OtherUser = &u
			touched = true
		}
		if i := FindIndexByID(c.Members, userID); i >= 0 {
			c.Members = slices.Clone(c.Members)
			c.Members[i].IsOnline = online
			if lastSeen != "" {
				c.Members[i].LastSeen = lastSeen
			}
			touched = true
		}
		if touched {
			c.HasOnlineMembers = hasOnlineMembers(c, s.self.ID)
			s.changed(ChangeChats, c.ID, "")
		}
	}
}
