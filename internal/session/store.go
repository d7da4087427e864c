package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/unclebandit/reminder-mailer/internal/metrics"
	"github.com/unclebandit/reminder-mailer/internal/scheduler"
)

const CookieName = "reminder_session"

type ctxKey struct{}

// Store holds live sessions. Sessions idle for longer than TTL are pruned
// unless a dispatch run is still in progress.
type Store struct {
	TTL time.Duration
	Now func() time.Time

	log zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewStore(ttl time.Duration, log zerolog.Logger) *Store {
	return &Store{
		TTL:      ttl,
		Now:      time.Now,
		log:      log.With().Str("component", "session").Logger(),
		sessions: map[string]*Session{},
	}
}

// Get returns the session with id and marks it as seen.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.Lock()
	s, ok := st.sessions[id]
	st.mu.Unlock()
	if ok {
		s.touch(st.Now())
	}
	return s, ok
}

func (st *Store) Create() *Session {
	s := newSession(uuid.NewString(), st.Now())
	st.mu.Lock()
	st.sessions[s.ID] = s
	n := len(st.sessions)
	st.mu.Unlock()
	metrics.SessionsActive.Set(float64(n))
	return s
}

func (st *Store) Delete(id string) {
	st.mu.Lock()
	delete(st.sessions, id)
	n := len(st.sessions)
	st.mu.Unlock()
	metrics.SessionsActive.Set(float64(n))
}

func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Prune drops idle sessions. Its signature matches scheduler.Job.
func (st *Store) Prune(ctx context.Context) error {
	if st.TTL <= 0 {
		return nil
	}
	cutoff := st.Now().Add(-st.TTL)

	st.mu.Lock()
	pruned := 0
	for id, s := range st.sessions {
		if s.LastSeen().Before(cutoff) && !s.Busy() {
			delete(st.sessions, id)
			pruned++
		}
	}
	n := len(st.sessions)
	st.mu.Unlock()

	metrics.SessionsActive.Set(float64(n))
	if pruned > 0 {
		st.log.Info().Int("pruned", pruned).Int("remaining", n).Msg("idle sessions pruned")
	}
	return nil
}

// Register prunes the store on the scheduler every interval.
func (st *Store) Register(s *scheduler.Service, every time.Duration) error {
	return s.Every("session-prune", every, st.Prune)
}

// Middleware attaches the caller's session to the request context, issuing a
// new cookie when the request carries none or an unknown one.
func (st *Store) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var s *Session
		if c, err := r.Cookie(CookieName); err == nil {
			s, _ = st.Get(c.Value)
		}
		if s == nil {
			s = st.Create()
			http.SetCookie(w, &http.Cookie{
				Name:     CookieName,
				Value:    s.ID,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), s)))
	})
}

func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the request's session, or nil outside Middleware.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(ctxKey{}).(*Session)
	return s
}
