package parley

import (
	"context"
	"log/slog"
	"slices"

	"github.com/parley-chat/parley-go/internal/logger/sl"
)

// ============================================================================
// Reaction primitives
// ============================================================================

// AddReaction records userID under emoji. Adding an already present user
// is a no-op. It reports whether the reactions changed.
func (m *Message) AddReaction(emoji string, userID ID, username string) bool {
	if emoji == "" || userID.IsZero() {
		return false
	}
	reactions := m.clone().Reactions
	i := slices.IndexFunc(reactions, func(r Reaction) bool { return r.Emoji == emoji })
	if i < 0 {
		m.Reactions = append(reactions, Reaction{Emoji: emoji, UserIDs: []ID{userID}, Username: username})
		return true
	}
	if slices.Contains(reactions[i].UserIDs, userID) {
		return false
	}
	reactions[i].UserIDs = append(reactions[i].UserIDs, userID)
	m.Reactions = reactions
	return true
}

// RemoveReaction drops userID from emoji and prunes the emoji once no
// users remain. It reports whether the reactions changed.
func (m *Message) RemoveReaction(emoji string, userID ID) bool {
	reactions := m.clone().Reactions
	i := slices.IndexFunc(reactions, func(r Reaction) bool { return r.Emoji == emoji })
	if i < 0 {
		return false
	}
	j := slices.Index(reactions[i].UserIDs, userID)
	if j < 0 {
		return false
	}
	reactions[i].UserIDs = slices.Delete(reactions[i].UserIDs, j, j+1)
	if len(reactions[i].UserIDs) == 0 {
		reactions = slices.Delete(reactions, i, i+1)
	}
	m.Reactions = reactions
	return true
}

// ToggleReaction removes the reaction when userID already holds it and adds
// it otherwise. It reports whether the reaction is now present.
func (m *Message) ToggleReaction(emoji string, userID ID, username string) bool {
	if m.HasReacted(emoji, userID) {
		m.RemoveReaction(emoji, userID)
		return false
	}
	return m.AddReaction(emoji, userID, username)
}

func (m Message) HasReacted(emoji string, userID ID) bool {
	for _, r := range m.Reactions {
		if r.Emoji == emoji {
			return slices.Contains(r.UserIDs, userID)
		}
	}
	return false
}

// ReactionsBy lists the emojis userID currently holds on the message.
func (m Message) ReactionsBy(userID ID) []string {
	var out []string
	for _, r := range m.Reactions {
		if slices.Contains(r.UserIDs, userID) {
			out = append(out, r.Emoji)
		}
	}
	return out
}

// ============================================================================
// Local reaction policy
// ============================================================================

type reactionStep struct {
	emoji string
	add   bool
}

// ToggleReaction applies the local one-reaction-per-user policy: the same
// emoji is removed, a different one replaces the emoji the user already
// holds. Each remote step is applied optimistically and undone on failure.
// A toggle on a message with a reaction request in flight is ignored.
func (s *Session) ToggleReaction(ctx context.Context, chatID, messageID ID, emoji string) error {
	const op = "parley.Session.ToggleReaction"
	log := s.log.With(slog.String("op", op))

	var steps []reactionStep
	var err error
	s.update(func() {
		if s.reacting[messageID] {
			return
		}
		chat := s.chats.find(chatID)
		if chat == nil {
			err = unknownChat(chatID)
			return
		}
		m := chat.Ledger.find(messageID)
		if m == nil {
			err = unknownMessage(messageID)
			return
		}
		if m.HasReacted(emoji, s.self.ID) {
			steps = []reactionStep{{emoji: emoji}}
		} else {
			for _, held := range m.ReactionsBy(s.self.ID) {
				steps = append(steps, reactionStep{emoji: held})
			}
			steps = append(steps, reactionStep{emoji: emoji, add: true})
		}
		s.reacting[messageID] = true
	})
	if err != nil || len(steps) == 0 {
		return err
	}
	defer s.update(func() { delete(s.reacting, messageID) })

	for _, step := range steps {
		s.applyReaction(chatID, messageID, step.emoji, s.self.ID, s.self.Username, step.add)

		var callErr error
		if step.add {
			callErr = s.api.AddReaction(ctx, messageID, step.emoji)
		} else {
			callErr = s.api.RemoveReaction(ctx, messageID, step.emoji)
		}
		if callErr != nil {
			s.applyReaction(chatID, messageID, step.emoji, s.self.ID, s.self.Username, !step.add)
			log.Warn("reaction request failed", slog.String("emoji", step.emoji), sl.Err(callErr))
			s.fail(FeatureReaction, callErr, "Failed to update reaction")
			return callErr
		}
	}
	return nil
}

// applyReaction mutates one reaction under the session lock. Redelivered
// events are no-ops.
func (s *Session) applyReaction(chatID, messageID ID, emoji string, userID ID, username string, add bool) bool {
	changed := false
	s.update(func() {
		chat := s.chats.find(chatID)
		if chat == nil {
			return
		}
		changed = chat.mutateMessage(messageID, func(m *Message) bool {
			if add {
				return m.AddReaction(emoji, userID, username)
			}
			return m.RemoveReaction(emoji, userID)
		})
		if changed {
			s.changed(ChangeMessages, chatID, messageID)
		}
	})
	return changed
}
