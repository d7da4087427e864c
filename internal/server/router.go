// Package server assembles the HTTP surface.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/unclebandit/reminder-mailer/internal/controller"
	"github.com/unclebandit/reminder-mailer/internal/handler"
	"github.com/unclebandit/reminder-mailer/internal/metrics"
	"github.com/unclebandit/reminder-mailer/internal/session"
)

type Deps struct {
	Log        zerolog.Logger
	Sessions   *session.Store
	Page       *handler.PageHandler
	Controller *controller.ReminderController
}

// NewRouter mounts the page at /, the JSON API at /api and the
// operational endpoints.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(d.Log))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Int("status", status).
			Int("size", size).
			Dur("duration", dur).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(d.Sessions.Middleware)
		d.Page.Routes(r)
		r.Route("/api", d.Controller.Routes)
	})
	return r
}
