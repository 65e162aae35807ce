package parley

import (
	"context"
	"slices"
)

// inviteStore keeps the sent and received invites and the pending total
// used for badges. The total covers both sides and only drops on a
// transition out of PENDING.
type inviteStore struct {
	list    InviteList
	loading bool
}

func (is *inviteStore) replace(list InviteList) {
	is.list = list
	is.list.TotalPending = max(is.list.TotalPending, 0)
}

func (is *inviteStore) addReceived(inv Invite) bool {
	if FindIndexByID(is.list.Received, inv.ID) >= 0 {
		return false
	}
	is.list.Received = append(slices.Clone(is.list.Received), inv)
	is.list.TotalReceived++
	if inv.Status == InvitePending || inv.Status == "" {
		is.list.TotalPending++
	}
	return true
}

func (is *inviteStore) addSent(inv Invite) bool {
	if inv.ID.IsZero() || FindIndexByID(is.list.Sent, inv.ID) >= 0 {
		return false
	}
	is.list.Sent = append(slices.Clone(is.list.Sent), inv)
	is.list.TotalSent++
	if inv.Status == InvitePending || inv.Status == "" {
		is.list.TotalPending++
	}
	return true
}

func (is *inviteStore) decrementPending() {
	is.list.TotalPending = max(is.list.TotalPending-1, 0)
}

// remove drops an invite from whichever side holds it.
func (is *inviteStore) remove(id ID) bool {
	removed := false
	if i := FindIndexByID(is.list.Received, id); i >= 0 {
		inv := is.list.Received[i]
		is.list.Received = slices.Delete(slices.Clone(is.list.Received), i, i+1)
		is.list.TotalReceived = max(is.list.TotalReceived-1, 0)
		if inv.Status == InvitePending {
			is.decrementPending()
		}
		removed = true
	}
	if i := FindIndexByID(is.list.Sent, id); i >= 0 {
		inv := is.list.Sent[i]
		is.list.Sent = slices.Delete(slices.Clone(is.list.Sent), i, i+1)
		is.list.TotalSent = max(is.list.TotalSent-1, 0)
		if inv.Status == InvitePending {
			is.decrementPending()
		}
		removed = true
	}
	return removed
}

// updateStatus sets the status of an invite. An invite leaving PENDING
// decrements the pending total once; repeating the update does not.
func (is *inviteStore) updateStatus(id ID, status InviteStatus) bool {
	changed := false
	if i := FindIndexByID(is.list.Received, id); i >= 0 && is.list.Received[i].Status != status {
		if is.list.Received[i].Status == InvitePending {
			is.decrementPending()
		}
		is.list.Received = slices.Clone(is.list.Received)
		is.list.Received[i].Status = status
		changed = true
	}
	if i := FindIndexByID(is.list.Sent, id); i >= 0 && is.list.Sent[i].Status != status {
		if is.list.Sent[i].Status == InvitePending {
			is.decrementPending()
		}
		is.list.Sent = slices.Clone(is.list.Sent)
		is.list.Sent[i].Status = status
		changed = true
	}
	return changed
}

// removeByUserIDs drops every invite exchanged with any of userIDs.
func (is *inviteStore) removeByUserIDs(userIDs ...ID) bool {
	involves := func(inv Invite) bool {
		return (inv.Sender != nil && slices.Contains(userIDs, inv.Sender.ID)) ||
			(inv.Receiver != nil && slices.Contains(userIDs, inv.Receiver.ID))
	}
	var ids []ID
	for _, inv := range is.list.Received {
		if involves(inv) {
			ids = append(ids, inv.ID)
		}
	}
	for _, inv := range is.list.Sent {
		if involves(inv) {
			ids = append(ids, inv.ID)
		}
	}
	changed := false
	for _, id := range ids {
		if is.remove(id) {
			changed = true
		}
	}
	return changed
}

func (is *inviteStore) snapshot() InviteList {
	out := is.list
	out.Sent = slices.Clone(is.list.Sent)
	out.Received = slices.Clone(is.list.Received)
	return out
}

// ============================================================================
// Session: invites
// ============================================================================

func (s *Session) FetchInvites(ctx context.Context) error {
	s.update(func() {
		s.invites.loading = true
		delete(s.errs, FeatureInvites)
	})

	list, err := s.api.ListInvites(ctx)

	s.update(func() {
		s.invites.loading = false
		if err == nil && list != nil {
			s.invites.replace(*list)
			s.changed(ChangeInvites, "", "")
		}
	})
	if err != nil {
		s.fail(FeatureInvites, err, "Failed to load invites")
		return err
	}
	return nil
}

// AcceptInvite accepts a received invite; the inviter becomes a friend.
func (s *Session) AcceptInvite(ctx context.Context, inviteID ID) error {
	friendship, err := s.api.AcceptInvite(ctx, inviteID)
	if err != nil {
		s.fail(FeatureInvites, err, "Failed to accept invite")
		return err
	}
	s.update(func() {
		if s.invites.updateStatus(inviteID, InviteAccepted) {
			s.changed(ChangeInvites, "", "")
		}
		if s.invites.remove(inviteID) {
			s.changed(ChangeInvites, "", "")
		}
		if friendship != nil && s.addFriendshipLocked(*friendship) {
			s.changed(ChangeFriends, "", "")
		}
	})
	s.notify(ToastSuccess, "Invite accepted")
	return s.FetchFriends(ctx)
}

// RejectInvite rejects a received invite.
func (s *Session) RejectInvite(ctx context.Context, inviteID ID) error {
	if _, err := s.api.RejectInvite(ctx, inviteID); err != nil {
		s.fail(FeatureInvites, err, "Failed to reject invite")
		return err
	}
	s.update(func() {
		changed := s.invites.updateStatus(inviteID, InviteRejected)
		if s.invites.remove(inviteID) || changed {
			s.changed(ChangeInvites, "", "")
		}
	})
	s.notify(ToastInfo, "Invite rejected")
	return nil
}

// addFriendshipLocked adds the party of a friendship that is not the local
// user and drops the invites that led to it.
func (s *Session) addFriendshipLocked(f Friendship) bool {
	other := f.Requester
	if other.ID == s.self.ID {
		other = f.Addressee
	}
	changed := s.friends.add(other)
	if s.invites.removeByUserIDs(other.ID) {
		s.changed(ChangeInvites, "", "")
	}
	return changed
}

func (s *Session) Invites() InviteList {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invites.snapshot()
}

// PendingInvites is the number of invites, sent or received, awaiting an
// answer.
func (s *Session) PendingInvites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invites.list.TotalPending
}
