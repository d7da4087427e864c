// internal/handler/page_handler.go
package handler

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/schema"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/unclebandit/reminder-mailer/internal/dispatch"
	appErrors "github.com/unclebandit/reminder-mailer/internal/errors"
	"github.com/unclebandit/reminder-mailer/internal/model"
	"github.com/unclebandit/reminder-mailer/internal/monitor"
	"github.com/unclebandit/reminder-mailer/internal/service"
	"github.com/unclebandit/reminder-mailer/internal/session"
)

const (
	LoginTitle     = "GreenBhumi Volunteers"
	SchedulerTitle = "Quiz reminder mail for GreenBhumi"
)

//go:embed templates/*.html
var templateFS embed.FS

// PageHandler serves the interactive page. Every form posts back and
// redirects to GET / with the outcome queued as a flash.
type PageHandler struct {
	Service *service.ReminderService
	Monitor *monitor.Monitor
	Refresh time.Duration

	tmpl    *template.Template
	decoder *schema.Decoder
	log     zerolog.Logger
}

func NewPageHandler(svc *service.ReminderService, mon *monitor.Monitor, log zerolog.Logger) (*PageHandler, error) {
	tmpl, err := template.New("page.html").Funcs(sprig.FuncMap()).ParseFS(templateFS, "templates/page.html")
	if err != nil {
		return nil, fmt.Errorf("parse page template: %w", err)
	}
	dec := schema.NewDecoder()
	dec.IgnoreUnknownKeys(true)
	return &PageHandler{
		Service: svc,
		Monitor: mon,
		Refresh: 5 * time.Second,
		tmpl:    tmpl,
		decoder: dec,
		log:     log.With().Str("component", "page").Logger(),
	}, nil
}

func (h *PageHandler) Routes(r chi.Router) {
	r.Get("/", h.Index)
	r.Post("/login", h.Login)
	r.Post("/logout", h.Logout)
	r.Post("/recipients", h.AddRecipient)
	r.Post("/recipients/remove", h.RemoveRecipient)
	r.Post("/dispatch", h.ScheduleDispatch)
	r.Post("/dispatch/cancel", h.CancelScheduled)
	r.Post("/dispatch/abort", h.AbortDispatch)
}

type pageData struct {
	Title          string
	LoginTitle     string
	LoggedIn       bool
	Flashes        []model.Notification
	Options        []string
	Defaults       service.Defaults
	Timezone       string
	Run            *dispatch.Status
	Resources      monitor.Display
	RefreshSeconds int
}

func (h *PageHandler) Index(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	data := pageData{
		Title:          SchedulerTitle,
		LoginTitle:     LoginTitle,
		LoggedIn:       sess.LoggedIn(),
		Flashes:        sess.PopFlashes(),
		RefreshSeconds: int(h.Refresh / time.Second),
	}
	if !data.LoggedIn {
		data.Title = LoginTitle
	} else {
		data.Options = sess.Registry.Options()
		data.Defaults = h.Service.FormDefaults()
		data.Timezone = h.Service.SendGate.Location().String()
		if st, err := h.Service.DispatchStatus(sess); err == nil {
			data.Run = &st
		}
		data.Resources = monitor.Format(h.Monitor.Current(r.Context()))
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.tmpl.Execute(w, data); err != nil {
		h.log.Error().Err(err).Msg("render page")
	}
}

type loginForm struct {
	Username string `schema:"username"`
	Password string `schema:"password"`
}

// selectionForm carries a select box value; empty means nothing chosen.
type selectionForm struct {
	Selection string `schema:"selection"`
}

func (f selectionForm) index() int {
	i, err := strconv.Atoi(strings.TrimSpace(f.Selection))
	if err != nil {
		return -1
	}
	return i
}

func (h *PageHandler) Login(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	var form loginForm
	if h.decode(w, r, sess, &form) {
		if err := h.Service.Login(sess, form.Username, form.Password); err != nil {
			h.flashError(sess, r, err)
		} else {
			sess.AddFlash(model.LevelSuccess, "Logged in successfully!")
		}
	}
	redirectHome(w, r)
}

func (h *PageHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.Service.Logout(session.FromContext(r.Context()))
	redirectHome(w, r)
}

func (h *PageHandler) AddRecipient(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	var form model.Recipient
	if h.decode(w, r, sess, &form) {
		rec, err := h.Service.AddRecipient(sess, form)
		if err != nil {
			h.flashError(sess, r, err)
		} else {
			sess.AddFlash(model.LevelSuccess, fmt.Sprintf("Added %s (%s) to the recipient list.", rec.Name, rec.Email))
		}
	}
	redirectHome(w, r)
}

func (h *PageHandler) RemoveRecipient(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	var form selectionForm
	if h.decode(w, r, sess, &form) {
		rec, ok, err := h.Service.RemoveRecipient(sess, form.index())
		switch {
		case err != nil:
			h.flashError(sess, r, err)
		case ok:
			sess.AddFlash(model.LevelSuccess, fmt.Sprintf("Removed %s (%s) from the recipient list.", rec.Name, rec.Email))
		}
	}
	redirectHome(w, r)
}

func (h *PageHandler) ScheduleDispatch(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	var form service.ScheduleRequest
	if h.decode(w, r, sess, &form) {
		if _, err := h.Service.ScheduleDispatch(sess, form); err != nil {
			h.flashError(sess, r, err)
		}
	}
	redirectHome(w, r)
}

// CancelScheduled reports its outcome through the run's own notifications.
func (h *PageHandler) CancelScheduled(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	var form selectionForm
	if h.decode(w, r, sess, &form) {
		if _, _, err := h.Service.CancelScheduled(sess, form.index()); err != nil {
			h.flashError(sess, r, err)
		}
	}
	redirectHome(w, r)
}

func (h *PageHandler) AbortDispatch(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if err := h.Service.AbortDispatch(sess); err != nil {
		h.flashError(sess, r, err)
	}
	redirectHome(w, r)
}

func (h *PageHandler) decode(w http.ResponseWriter, r *http.Request, sess *session.Session, dst any) bool {
	if err := r.ParseForm(); err != nil {
		sess.AddFlash(model.LevelError, "Invalid form submission.")
		return false
	}
	if err := h.decoder.Decode(dst, r.PostForm); err != nil {
		sess.AddFlash(model.LevelError, "Invalid form submission.")
		return false
	}
	return true
}

// flashError turns a service error into the inline message the operator sees.
func (h *PageHandler) flashError(sess *session.Session, r *http.Request, err error) {
	var (
		dup     *appErrors.DuplicateRecipientError
		target  *appErrors.InvalidSendTargetError
		invalid *appErrors.ValidationError
	)
	switch {
	case errors.Is(err, appErrors.ErrAuthDenied):
		sess.AddFlash(model.LevelError, "Invalid username or password")
	case errors.Is(err, appErrors.ErrAuthRequired):
		sess.AddFlash(model.LevelError, "Please log in first.")
	case errors.Is(err, appErrors.ErrNoRecipients):
		sess.AddFlash(model.LevelWarning, "Please add at least one recipient before sending.")
	case errors.As(err, &dup):
		sess.AddFlash(model.LevelError, dup.Error()+".")
	case errors.As(err, &invalid):
		sess.AddFlash(model.LevelError, "Please enter both a name and an email address.")
	case errors.As(err, &target):
		sess.AddFlash(model.LevelError, fmt.Sprintf("Invalid %s %q.", target.Field, target.Value))
	case errors.Is(err, appErrors.ErrDispatchInProgress),
		errors.Is(err, appErrors.ErrRecipientInFlight),
		errors.Is(err, appErrors.ErrNoDispatch):
		sess.AddFlash(model.LevelWarning, capitalize(err.Error())+".")
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("page action failed")
		sess.AddFlash(model.LevelError, fmt.Sprintf("Error: %v", err))
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func redirectHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
