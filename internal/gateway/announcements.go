package gateway

import (
	"sync"

	"github.com/voicegrid/voicegrid/internal/types"
)

// AnnouncementStore holds operator announcements in memory for the
// gateway process lifetime. Expired announcements are filtered on read
// and pruned by the housekeeping job.
type AnnouncementStore struct {
	mu    sync.RWMutex
	items []types.Announcement
}

// NewAnnouncementStore creates an empty store.
func NewAnnouncementStore() *AnnouncementStore {
	return &AnnouncementStore{}
}

// Add stores an announcement, assigning an id and creation timestamp when
// the caller left them empty. Returns the stored record.
func (s *AnnouncementStore) Add(a types.Announcement) types.Announcement {
	if a.ID == "" {
		a.ID = types.NewID()
	}
	if a.CreatedAt == 0 {
		a.CreatedAt = types.Now()
	}
	if a.Type == "" {
		a.Type = types.AnnouncementInfo
	}

	s.mu.Lock()
	s.items = append(s.items, a)
	s.mu.Unlock()
	return a
}

// Active returns the announcements that have not expired, oldest first.
func (s *AnnouncementStore) Active() []types.Announcement {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Announcement
	for i := range s.items {
		if !s.items[i].IsExpired() {
			out = append(out, s.items[i])
		}
	}
	return out
}

// Remove deletes an announcement by id. Removing an unknown id is a no-op.
func (s *AnnouncementStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.items[:0]
	for _, a := range s.items {
		if a.ID != id {
			kept = append(kept, a)
		}
	}
	s.items = kept
}

// Prune drops expired announcements. Run periodically so the slice does
// not grow unbounded on a long-lived gateway.
func (s *AnnouncementStore) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.items[:0]
	for _, a := range s.items {
		if !a.IsExpired() {
			kept = append(kept, a)
		}
	}
	pruned := len(s.items) - len(kept)
	s.items = kept
	return pruned
}
