// internal/controller/reminder_controller.go
package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	appErrors "github.com/unclebandit/reminder-mailer/internal/errors"
	"github.com/unclebandit/reminder-mailer/internal/model"
	"github.com/unclebandit/reminder-mailer/internal/monitor"
	"github.com/unclebandit/reminder-mailer/internal/service"
	"github.com/unclebandit/reminder-mailer/internal/session"
)

// ReminderController serves the JSON API. Requests must pass through the
// session middleware.
type ReminderController struct {
	ReminderService *service.ReminderService
	Monitor         *monitor.Monitor
}

// Routes registers the API on r.
func (c *ReminderController) Routes(r chi.Router) {
	r.Post("/login", c.Login)
	r.Post("/logout", c.Logout)
	r.Get("/recipients", c.ListRecipients)
	r.Post("/recipients", c.AddRecipient)
	r.Delete("/recipients/{index}", c.RemoveRecipient)
	r.Get("/dispatch", c.DispatchStatus)
	r.Post("/dispatch", c.ScheduleDispatch)
	r.Delete("/dispatch", c.AbortDispatch)
	r.Delete("/dispatch/recipients/{index}", c.CancelScheduled)
	r.Post("/preview", c.Preview)
	r.Get("/resources", c.Resources)
}

func (c *ReminderController) Login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := c.ReminderService.Login(session.FromContext(r.Context()), body.Username, body.Password); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logged_in": true})
}

func (c *ReminderController) Logout(w http.ResponseWriter, r *http.Request) {
	c.ReminderService.Logout(session.FromContext(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{"logged_in": false})
}

func (c *ReminderController) ListRecipients(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	recipients, err := c.ReminderService.ListRecipients(sess)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"recipients": recipients,
		"options":    sess.Registry.Options(),
	})
}

func (c *ReminderController) AddRecipient(w http.ResponseWriter, r *http.Request) {
	var body model.Recipient
	if !decode(w, r, &body) {
		return
	}
	rec, err := c.ReminderService.AddRecipient(session.FromContext(r.Context()), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (c *ReminderController) RemoveRecipient(w http.ResponseWriter, r *http.Request) {
	index, ok := indexParam(w, r)
	if !ok {
		return
	}
	rec, removed, err := c.ReminderService.RemoveRecipient(session.FromContext(r.Context()), index)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeRemoved(w, rec, removed)
}

func (c *ReminderController) ScheduleDispatch(w http.ResponseWriter, r *http.Request) {
	var body service.ScheduleRequest
	if !decode(w, r, &body) {
		return
	}
	run, err := c.ReminderService.ScheduleDispatch(session.FromContext(r.Context()), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run.Status())
}

func (c *ReminderController) DispatchStatus(w http.ResponseWriter, r *http.Request) {
	st, err := c.ReminderService.DispatchStatus(session.FromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (c *ReminderController) AbortDispatch(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if err := c.ReminderService.AbortDispatch(sess); err != nil {
		writeError(w, r, err)
		return
	}
	st, err := c.ReminderService.DispatchStatus(sess)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (c *ReminderController) CancelScheduled(w http.ResponseWriter, r *http.Request) {
	index, ok := indexParam(w, r)
	if !ok {
		return
	}
	rec, removed, err := c.ReminderService.CancelScheduled(session.FromContext(r.Context()), index)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeRemoved(w, rec, removed)
}

func (c *ReminderController) Preview(w http.ResponseWriter, r *http.Request) {
	var body service.PreviewRequest
	if !decode(w, r, &body) {
		return
	}
	rendered, err := c.ReminderService.Preview(session.FromContext(r.Context()), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rendered_message": rendered,
		"name":             body.Name,
	})
}

func (c *ReminderController) Resources(w http.ResponseWriter, r *http.Request) {
	if err := c.ReminderService.RequireLogin(session.FromContext(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	u := c.Monitor.Current(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"usage":   u,
		"display": monitor.Format(u),
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return false
	}
	return true
}

func indexParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "index must be an integer"})
		return 0, false
	}
	return index, true
}

func writeRemoved(w http.ResponseWriter, rec model.Recipient, removed bool) {
	resp := map[string]any{"removed": removed}
	if removed {
		resp["recipient"] = rec
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// StatusFor maps service errors to HTTP status codes.
func StatusFor(err error) int {
	var (
		dup     *appErrors.DuplicateRecipientError
		target  *appErrors.InvalidSendTargetError
		invalid *appErrors.ValidationError
	)
	switch {
	case errors.Is(err, appErrors.ErrAuthDenied), errors.Is(err, appErrors.ErrAuthRequired):
		return http.StatusUnauthorized
	case errors.As(err, &dup),
		errors.Is(err, appErrors.ErrDispatchInProgress),
		errors.Is(err, appErrors.ErrRecipientInFlight):
		return http.StatusConflict
	case errors.Is(err, appErrors.ErrNoDispatch):
		return http.StatusNotFound
	case errors.Is(err, appErrors.ErrNoRecipients), errors.As(err, &target), errors.As(err, &invalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
