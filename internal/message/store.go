package message

import (
	"sort"
	"sync"

	"github.com/sells-group/affiliate-outreach/internal/model"
)

// Entry is one message belonging to an affiliate.
type Entry struct {
	Email   string `json:"email"`
	Message string `json:"message"`
}

// Store is a concurrency-safe message map with per-affiliate queries.
type Store struct {
	mu   sync.RWMutex
	msgs Messages
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{msgs: make(Messages)}
}

// Set stores text under key. Invalid text removes the key instead, so an
// empty message is never reported as present.
func (s *Store) Set(key Key, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !Valid(text) {
		delete(s.msgs, key)
		return
	}
	s.msgs[key] = text
}

// Get returns the message for key.
func (s *Store) Get(key Key) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, ok := s.msgs[key]
	return text, ok
}

// Delete removes key.
func (s *Store) Delete(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.msgs, key)
}

// Snapshot returns a copy of every stored message.
func (s *Store) Snapshot() Messages {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Messages, len(s.msgs))
	for k, v := range s.msgs {
		out[k] = v
	}
	return out
}

// Replace swaps the whole map, used after a reload.
func (s *Store) Replace(msgs Messages) {
	next := make(Messages, len(msgs))
	for k, v := range msgs {
		if Valid(v) {
			next[k] = v
		}
	}
	s.mu.Lock()
	s.msgs = next
	s.mu.Unlock()
}

// Reload merges freshly loaded records with whatever is in memory and
// replaces the store contents with the result.
func (s *Store) Reload(records []model.AffiliateRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = Merge(Load(records), s.msgs)
}

// HasAny reports whether any non-empty message exists for the affiliate.
func (s *Store) HasAny(affiliateID int64) bool {
	return s.Count(affiliateID) > 0
}

// Count returns the number of non-empty messages for the affiliate.
func (s *Store) Count(affiliateID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k, v := range s.msgs {
		if k.AffiliateID == affiliateID && Valid(v) {
			n++
		}
	}
	return n
}

// AllFor returns the affiliate's messages, bare key first, then by email.
func (s *Store) AllFor(affiliateID int64) []Entry {
	s.mu.RLock()
	var out []Entry
	for k, v := range s.msgs {
		if k.AffiliateID == affiliateID && Valid(v) {
			out = append(out, Entry{Email: k.Email, Message: v})
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}
