// Package session keeps per-browser operator state in memory.
package session

import (
	"sync"
	"time"

	"github.com/unclebandit/reminder-mailer/internal/dispatch"
	"github.com/unclebandit/reminder-mailer/internal/model"
	"github.com/unclebandit/reminder-mailer/internal/registry"
)

// Session is one operator's login flag, recipient registry, current dispatch
// run and pending flash messages.
type Session struct {
	ID        string
	CreatedAt time.Time
	Registry  *registry.Registry

	mu       sync.Mutex
	loggedIn bool
	run      *dispatch.Run
	flashes  []model.Notification
	lastSeen time.Time
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		ID:        id,
		CreatedAt: now,
		Registry:  registry.New(),
		lastSeen:  now,
	}
}

func (s *Session) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

func (s *Session) SetLoggedIn(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedIn = v
}

// Run is the most recent dispatch run, finished or not.
func (s *Session) Run() *dispatch.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run
}

// StartRun installs the run returned by start unless another run is still
// active, in which case it returns false without calling start.
func (s *Session) StartRun(start func() *dispatch.Run) (*dispatch.Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != nil && s.run.Active() {
		return s.run, false
	}
	s.run = start()
	return s.run, true
}

// Busy reports whether a dispatch run is still in progress.
func (s *Session) Busy() bool {
	r := s.Run()
	return r != nil && r.Active()
}

func (s *Session) AddFlash(level model.NotificationLevel, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flashes = append(s.flashes, model.Notification{Level: level, Text: text, At: time.Now()})
}

// PopFlashes returns and clears the pending flash messages.
func (s *Session) PopFlashes() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.flashes
	s.flashes = nil
	return out
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = now
}

func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}
