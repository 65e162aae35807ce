package parley

import (
	"context"
	"strings"
)

// DefaultSearchPageSize is the page size of message search.
const DefaultSearchPageSize = 20

// SearchState is the current message search of one chat.
type SearchState struct {
	ChatID  ID        `json:"chatId"`
	Query   string    `json:"query"`
	Results []Message `json:"results"`
	Total   int       `json:"total"`
	HasMore bool      `json:"hasMore"`
	Offset  int       `json:"offset"`
	Loading bool      `json:"loading"`
	Error   string    `json:"error,omitempty"`
}

// SearchMessages starts a new search in chatID. A blank query clears the
// results.
func (s *Session) SearchMessages(ctx context.Context, chatID ID, query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		s.ClearSearch()
		return nil
	}
	return s.search(ctx, chatID, query, true)
}

// LoadMoreSearch appends the next page of the current search.
func (s *Session) LoadMoreSearch(ctx context.Context) error {
	s.mu.Lock()
	st := s.searchState
	s.mu.Unlock()
	if st.Query == "" || !st.HasMore || st.Loading {
		return nil
	}
	return s.search(ctx, st.ChatID, st.Query, false)
}

func (s *Session) search(ctx context.Context, chatID ID, query string, reset bool) error {
	var offset int
	s.update(func() {
		if reset {
			s.searchState = SearchState{ChatID: chatID, Query: query}
		}
		s.searchState.Loading = true
		s.searchState.Error = ""
		offset = s.searchState.Offset
		s.changed(ChangeSearch, chatID, "")
	})

	page, err := s.api.SearchMessages(ctx, chatID, query, DefaultSearchPageSize, offset)

	stale := false
	s.update(func() {
		// A newer search replaced this one while the request was out.
		if s.searchState.ChatID != chatID || s.searchState.Query != query {
			stale = true
			return
		}
		s.searchState.Loading = false
		if err != nil {
			s.searchState.Error = ErrorMessage(err, "Failed to search messages")
		} else if page != nil {
			if reset {
				s.searchState.Results = cloneMessages(page.Messages)
			} else {
				s.searchState.Results = append(s.searchState.Results, cloneMessages(page.Messages)...)
			}
			s.searchState.Total = page.Total
			s.searchState.HasMore = page.HasMore
			s.searchState.Offset = len(s.searchState.Results)
		}
		s.changed(ChangeSearch, chatID, "")
	})
	if err != nil && !stale {
		s.fail(FeatureSearch, err, "Failed to search messages")
		return err
	}
	return nil
}

// ClearSearch drops the current search.
func (s *Session) ClearSearch() {
	s.update(func() {
		chatID := s.searchState.ChatID
		s.searchState = SearchState{}
		s.changed(ChangeSearch, chatID, "")
	})
}

func (s *Session) SearchResults() SearchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.searchState
	st.Results = cloneMessages(st.Results)
	return st
}
