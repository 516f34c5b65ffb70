package generation

import (
	"sort"
	"sync"
	"time"

	"github.com/sells-group/affiliate-outreach/internal/message"
)

// InFlightSet gates submission: a key may be submitted only by the caller
// that added it. TryAcquire is an atomic check-then-add.
type InFlightSet struct {
	mu   sync.Mutex
	keys map[message.Key]struct{}
}

// NewInFlightSet creates an empty set.
func NewInFlightSet() *InFlightSet {
	return &InFlightSet{keys: make(map[message.Key]struct{})}
}

// TryAcquire adds key and reports true, or reports false when key is
// already present.
func (s *InFlightSet) TryAcquire(key message.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

// Release removes key.
func (s *InFlightSet) Release(key message.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
}

// Contains reports whether key is being submitted.
func (s *InFlightSet) Contains(key message.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok
}

// Len returns the number of keys being submitted.
func (s *InFlightSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// VisibleStatus is the "generating" indicator shown to users. It follows
// InFlightSet except after a 409, when it stays set until reconciliation
// confirms the remote generation is over.
type VisibleStatus struct {
	mu   sync.RWMutex
	keys map[message.Key]struct{}
}

// NewVisibleStatus creates an empty status set.
func NewVisibleStatus() *VisibleStatus {
	return &VisibleStatus{keys: make(map[message.Key]struct{})}
}

// Add marks key as generating.
func (v *VisibleStatus) Add(key message.Key) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.keys[key] = struct{}{}
}

// Remove clears key.
func (v *VisibleStatus) Remove(key message.Key) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.keys, key)
}

// Contains reports whether key is shown as generating.
func (v *VisibleStatus) Contains(key message.Key) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.keys[key]
	return ok
}

// Affiliate reports whether any key of the affiliate is shown as generating.
func (v *VisibleStatus) Affiliate(affiliateID int64) bool {
	return len(v.For(affiliateID)) > 0
}

// For returns the affiliate's generating keys.
func (v *VisibleStatus) For(affiliateID int64) []message.Key {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var out []message.Key
	for k := range v.keys {
		if k.AffiliateID == affiliateID {
			out = append(out, k)
		}
	}
	return out
}

// Keys returns every generating key in canonical order.
func (v *VisibleStatus) Keys() []message.Key {
	v.mu.RLock()
	out := make([]message.Key, 0, len(v.keys))
	for k := range v.keys {
		out = append(out, k)
	}
	v.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Failures records the reason and time of each key's last failed generation.
type Failures struct {
	mu      sync.RWMutex
	entries map[message.Key]failure
}

type failure struct {
	reason Reason
	at     time.Time
}

// NewFailures creates an empty failure set.
func NewFailures() *Failures {
	return &Failures{entries: make(map[message.Key]failure)}
}

// Set records a failure for key at the given time.
func (f *Failures) Set(key message.Key, reason Reason, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = failure{reason: reason, at: at}
}

// Clear removes key's failure marker.
func (f *Failures) Clear(key message.Key) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, key)
}

// Get returns key's failure reason.
func (f *Failures) Get(key message.Key) (Reason, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.entries[key]
	return e.reason, ok
}

// FailedSince reports whether any key of affiliateID failed at or after t.
func (f *Failures) FailedSince(affiliateID int64, t time.Time) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for k, e := range f.entries {
		if k.AffiliateID == affiliateID && !e.at.Before(t) {
			return true
		}
	}
	return false
}

// Len returns the number of failed keys.
func (f *Failures) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}
