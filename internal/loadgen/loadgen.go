// Package loadgen replays scripted operator traffic against the page with a
// pool of virtual users.
package loadgen

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Config struct {
	BaseURL  string
	Users    int
	Duration time.Duration
	MinWait  time.Duration
	MaxWait  time.Duration
	// RPS caps requests across all users; zero means unlimited.
	RPS     float64
	Timeout time.Duration

	LoginPath  string
	SubmitPath string
	PagePath   string

	Username string
	Password string
	// Submit payload. It is static and carries no name.
	Email    string
	SendTime string

	UserAgent string

	// SimulatedCookies are sent on every task with whatever value login set
	// for them, empty if none. KeepSession instead replays the server's real
	// cookies through a cookie jar.
	SimulatedCookies []string
	KeepSession      bool
}

func DefaultConfig() Config {
	return Config{
		BaseURL:    "http://localhost:8080",
		Users:      10,
		Duration:   time.Minute,
		MinWait:    time.Second,
		MaxWait:    5 * time.Second,
		Timeout:    10 * time.Second,
		LoginPath:  "/api/login",
		SubmitPath: "/api/recipients",
		PagePath:   "/",
		Username:   "admin",
		Password:   "admin123",
		Email:      "loadtest@example.com",
		SendTime:   "2024-12-01T18:00",
		UserAgent:  "reminder-loadgen/1.0",

		SimulatedCookies: []string{"ajs_anonymous_id", "_streamlit_xsrf"},
	}
}

func (c Config) validate() error {
	switch {
	case c.BaseURL == "":
		return errors.New("base url required")
	case c.Users < 1:
		return fmt.Errorf("users must be positive, got %d", c.Users)
	case c.Duration <= 0:
		return fmt.Errorf("duration must be positive, got %s", c.Duration)
	case c.MinWait < 0 || c.MaxWait < c.MinWait:
		return fmt.Errorf("invalid wait range %s..%s", c.MinWait, c.MaxWait)
	}
	return nil
}

type task struct {
	name   string
	weight int
	run    func(ctx context.Context, u *user) (int, error)
}

// pick maps n in [0, total weight) onto a task.
func pick(tasks []task, n int) task {
	for _, t := range tasks {
		if n < t.weight {
			return t
		}
		n -= t.weight
	}
	return tasks[len(tasks)-1]
}

func totalWeight(tasks []task) int {
	sum := 0
	for _, t := range tasks {
		sum += t.weight
	}
	return sum
}

// Runner drives the virtual users.
type Runner struct {
	cfg     Config
	log     zerolog.Logger
	limiter *rate.Limiter
	stats   *stats
	tasks   []task
}

func New(cfg Config, log zerolog.Logger) (*Runner, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	r := &Runner{
		cfg:   cfg,
		log:   log.With().Str("component", "loadgen").Logger(),
		stats: newStats(),
	}
	if cfg.RPS > 0 {
		burst := int(cfg.RPS)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	r.tasks = []task{
		{name: "submit", weight: 3, run: r.submit},
		{name: "page", weight: 1, run: r.page},
	}
	return r, nil
}

// Run starts every user, lets them work for the configured duration and
// returns the aggregated results.
func (r *Runner) Run(ctx context.Context) Summary {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Users; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.runUser(ctx, r.newUser(id))
		}(i)
	}
	wg.Wait()
	return r.stats.summary(time.Since(start))
}

type user struct {
	id      int
	client  *resty.Client
	rng     *rand.Rand
	cookies []*http.Cookie
}

func (r *Runner) newUser(id int) *user {
	client := resty.New().
		SetBaseURL(r.cfg.BaseURL).
		SetTimeout(r.cfg.Timeout).
		SetHeader("User-Agent", r.cfg.UserAgent).
		SetHeader("Content-Type", "application/json")
	if !r.cfg.KeepSession {
		client.SetCookieJar(nil)
	}
	return &user{
		id:     id,
		client: client,
		rng:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(id))),
	}
}

func (r *Runner) runUser(ctx context.Context, u *user) {
	log := r.log.With().Int("user", u.id).Logger()
	if !r.do(ctx, "login", u, r.login) {
		log.Debug().Msg("login request failed")
	}

	total := totalWeight(r.tasks)
	for {
		t := pick(r.tasks, u.rng.IntN(total))
		r.do(ctx, t.name, u, t.run)

		wait := r.cfg.MinWait
		if spread := r.cfg.MaxWait - r.cfg.MinWait; spread > 0 {
			wait += time.Duration(u.rng.Int64N(int64(spread)))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// do runs one request and records it. It returns false on failure.
func (r *Runner) do(ctx context.Context, name string, u *user, fn func(context.Context, *user) (int, error)) bool {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return false
		}
	}
	if ctx.Err() != nil {
		return false
	}
	start := time.Now()
	status, err := fn(ctx, u)
	if err != nil && ctx.Err() != nil {
		// cut off by the end of the run
		return false
	}
	failed := err != nil || status >= http.StatusBadRequest
	r.stats.record(name, time.Since(start), failed)
	return !failed
}

func (r *Runner) login(ctx context.Context, u *user) (int, error) {
	resp, err := u.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"username": r.cfg.Username, "password": r.cfg.Password}).
		Post(r.cfg.LoginPath)
	if err != nil {
		return 0, err
	}
	if !r.cfg.KeepSession {
		u.cookies = simulatedCookies(r.cfg.SimulatedCookies, resp.Cookies())
	}
	return resp.StatusCode(), nil
}

// simulatedCookies picks the named cookies out of a login response, keeping
// the name with an empty value when the server did not set it.
func simulatedCookies(names []string, got []*http.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(names))
	for _, name := range names {
		c := &http.Cookie{Name: name}
		for _, g := range got {
			if g.Name == name {
				c.Value = g.Value
				break
			}
		}
		out = append(out, c)
	}
	return out
}

func (r *Runner) submit(ctx context.Context, u *user) (int, error) {
	resp, err := u.client.R().
		SetContext(ctx).
		SetCookies(u.cookies).
		SetBody(map[string]string{"email": r.cfg.Email, "time": r.cfg.SendTime}).
		Post(r.cfg.SubmitPath)
	if err != nil {
		return 0, err
	}
	return resp.StatusCode(), nil
}

func (r *Runner) page(ctx context.Context, u *user) (int, error) {
	resp, err := u.client.R().SetContext(ctx).SetCookies(u.cookies).Get(r.cfg.PagePath)
	if err != nil {
		return 0, err
	}
	return resp.StatusCode(), nil
}

// TaskStats aggregates the requests of one task.
type TaskStats struct {
	Name     string
	Requests int
	Failures int
	Min      time.Duration
	Max      time.Duration
	Total    time.Duration
}

func (s TaskStats) Avg() time.Duration {
	if s.Requests == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Requests)
}

type Summary struct {
	Elapsed time.Duration
	Tasks   []TaskStats
}

func (s Summary) Requests() int {
	n := 0
	for _, t := range s.Tasks {
		n += t.Requests
	}
	return n
}

func (s Summary) Failures() int {
	n := 0
	for _, t := range s.Tasks {
		n += t.Failures
	}
	return n
}

// Task returns the stats for name, zero if it never ran.
func (s Summary) Task(name string) TaskStats {
	for _, t := range s.Tasks {
		if t.Name == name {
			return t
		}
	}
	return TaskStats{Name: name}
}

type stats struct {
	mu    sync.Mutex
	tasks map[string]*TaskStats
}

func newStats() *stats {
	return &stats{tasks: map[string]*TaskStats{}}
}

func (s *stats) record(name string, d time.Duration, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	if !ok {
		t = &TaskStats{Name: name, Min: d}
		s.tasks[name] = t
	}
	t.Requests++
	if failed {
		t.Failures++
	}
	t.Total += d
	if d < t.Min {
		t.Min = d
	}
	if d > t.Max {
		t.Max = d
	}
}

func (s *stats) summary(elapsed time.Duration) Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Summary{Elapsed: elapsed}
	for _, t := range s.tasks {
		out.Tasks = append(out.Tasks, *t)
	}
	sort.Slice(out.Tasks, func(i, j int) bool { return out.Tasks[i].Name < out.Tasks[j].Name })
	return out
}
