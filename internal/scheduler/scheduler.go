// Package scheduler runs interval jobs on a cron and one-shot alarms on timers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type Job func(ctx context.Context) error

// cronLogger routes the cron's own logging through zerolog.
type cronLogger struct{ log zerolog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

type onceTimer struct {
	timer *time.Timer
	at    time.Time
	ver   uint64
}

type Service struct {
	log zerolog.Logger
	loc *time.Location
	c   *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]cron.EntryID
	timers  map[string]*onceTimer
	ver     uint64
}

func New(loc *time.Location, log zerolog.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	log = log.With().Str("component", "scheduler").Logger()
	cl := cronLogger{log: log}
	// an interval job still running when it comes due again is skipped
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.SkipIfStillRunning(cl)),
	)
	return &Service{
		log:     log,
		loc:     loc,
		c:       c,
		ctx:     ctx,
		cancel:  cancel,
		entries: map[string]cron.EntryID{},
		timers:  map[string]*onceTimer{},
	}
}

func (s *Service) Start() {
	s.c.Start()
	s.log.Info().Str("tz", s.loc.String()).Msg("scheduler started")
}

// Stop halts the cron, disarms every pending alarm and waits for running
// interval jobs until ctx expires.
func (s *Service) Stop(ctx context.Context) error {
	s.cancel()
	stopped := s.c.Stop()

	s.mu.Lock()
	for name, t := range s.timers {
		t.timer.Stop()
		delete(s.timers, name)
	}
	s.mu.Unlock()

	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Every registers job to run at a fixed interval, replacing any job with the same name.
// Intervals under one second are rounded up by the cron.
func (s *Service) Every(name string, every time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if every <= 0 {
		return fmt.Errorf("interval must be positive, got %s", every)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.c.Remove(id)
	}
	id, err := s.c.AddFunc("@every "+every.String(), func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.entries[name] = id
	return nil
}

// Handle is the cancel handle of a one-shot alarm.
type Handle struct {
	s    *Service
	name string
	ver  uint64
}

// Cancel disarms the alarm. It returns false if the alarm already fired or was replaced.
func (h *Handle) Cancel() bool {
	if h == nil || h.s == nil {
		return false
	}
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	t, ok := h.s.timers[h.name]
	if !ok || t.ver != h.ver {
		return false
	}
	t.timer.Stop()
	delete(h.s.timers, h.name)
	return true
}

// Once arms job to run at the given instant. An existing alarm with the same
// name is replaced; a past instant fires immediately.
func (s *Service) Once(name string, at time.Time, job Job) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[name]; ok {
		t.timer.Stop()
		delete(s.timers, name)
	}
	s.ver++
	ver := s.ver

	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	timer := time.AfterFunc(delay, func() {
		s.mu.Lock()
		cur, ok := s.timers[name]
		if !ok || cur.ver != ver {
			s.mu.Unlock()
			return
		}
		delete(s.timers, name)
		s.mu.Unlock()
		s.run(name, job)
	})
	s.timers[name] = &onceTimer{timer: timer, at: at, ver: ver}
	s.log.Debug().Str("name", name).Time("at", at.In(s.loc)).Dur("delay", delay).Msg("alarm armed")
	return &Handle{s: s, name: name, ver: ver}
}

// Remove unschedules interval jobs and alarms with the given name.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := false
	if id, ok := s.entries[name]; ok {
		s.c.Remove(id)
		delete(s.entries, name)
		removed = true
	}
	if t, ok := s.timers[name]; ok {
		t.timer.Stop()
		delete(s.timers, name)
		removed = true
	}
	return removed
}

// Pending lists the armed alarms and their fire times.
func (s *Service) Pending() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.timers))
	for name, t := range s.timers {
		out[name] = t.at
	}
	return out
}

func (s *Service) run(name string, job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("name", name).Interface("panic", r).Msg("scheduled job panicked")
		}
	}()
	if err := job(s.ctx); err != nil {
		s.log.Warn().Err(err).Str("name", name).Msg("scheduled job failed")
	}
}
