package registry

import (
	"sync"

	"github.com/unclebandit/reminder-mailer/internal/model"
)

// ScheduledSet is the frozen snapshot of recipients committed to one dispatch
// run. Entries leave it when cancelled or once sent.
type ScheduledSet struct {
	mu    sync.Mutex
	items []model.Recipient
}

func NewScheduledSet(recipients []model.Recipient) *ScheduledSet {
	return &ScheduledSet{items: clone(recipients)}
}

func (s *ScheduledSet) Remove(index int) (model.Recipient, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeAt(&s.items, index)
}

// Front returns the next recipient without removing it.
func (s *ScheduledSet) Front() (model.Recipient, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return model.Recipient{}, false
	}
	return s.items[0], true
}

// PopFront removes the first entry if it is still rec.
func (s *ScheduledSet) PopFront(rec model.Recipient) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 || s.items[0] != rec {
		return false
	}
	s.items = s.items[1:]
	return true
}

func (s *ScheduledSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *ScheduledSet) Items() []model.Recipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.items)
}

func (s *ScheduledSet) Options() []string {
	return labels(s.Items())
}

func (s *ScheduledSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
}
