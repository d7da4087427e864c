// internal/service/reminder_service.go
package service

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/unclebandit/reminder-mailer/internal/auth"
	"github.com/unclebandit/reminder-mailer/internal/dispatch"
	appErrors "github.com/unclebandit/reminder-mailer/internal/errors"
	"github.com/unclebandit/reminder-mailer/internal/metrics"
	"github.com/unclebandit/reminder-mailer/internal/model"
	"github.com/unclebandit/reminder-mailer/internal/sendgate"
	"github.com/unclebandit/reminder-mailer/internal/session"
	"github.com/unclebandit/reminder-mailer/internal/validation"
)

// Defaults pre-fill the scheduler form.
type Defaults struct {
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	SendTime string `json:"time"`
	SendDate string `json:"date"`
}

// ScheduleRequest is the scheduler form. Empty fields take the defaults.
type ScheduleRequest struct {
	Subject string `json:"subject" schema:"subject"`
	Body    string `json:"body" schema:"body"`
	Time    string `json:"time" schema:"time"`
	Date    string `json:"date" schema:"date"`
}

type PreviewRequest struct {
	Body string `json:"body" schema:"body"`
	Name string `json:"name" schema:"name"`
}

// ReminderService carries out every operator action against a session.
type ReminderService struct {
	Auth       *auth.Gate
	SendGate   *sendgate.Gate
	Dispatcher *dispatch.Dispatcher
	Validator  *validation.Validator
	Defaults   Defaults
	Log        zerolog.Logger
}

func (s *ReminderService) Login(sess *session.Session, username, password string) error {
	if err := s.Auth.Check(username, password); err != nil {
		metrics.Logins.WithLabelValues("denied").Inc()
		s.Log.Warn().Str("session_id", sess.ID).Msg("login denied")
		return err
	}
	sess.SetLoggedIn(true)
	metrics.Logins.WithLabelValues("ok").Inc()
	s.Log.Info().Str("session_id", sess.ID).Msg("operator logged in")
	return nil
}

func (s *ReminderService) Logout(sess *session.Session) {
	sess.SetLoggedIn(false)
}

// RequireLogin reports ErrAuthRequired unless the session is logged in.
func (s *ReminderService) RequireLogin(sess *session.Session) error {
	return requireLogin(sess)
}

func requireLogin(sess *session.Session) error {
	if sess == nil || !sess.LoggedIn() {
		return appErrors.ErrAuthRequired
	}
	return nil
}

// AddRecipient appends to the session registry. Name and email must be
// present; the email must not already be listed.
func (s *ReminderService) AddRecipient(sess *session.Session, rec model.Recipient) (model.Recipient, error) {
	if err := requireLogin(sess); err != nil {
		return model.Recipient{}, err
	}
	rec.Name = strings.TrimSpace(rec.Name)
	rec.Email = strings.TrimSpace(rec.Email)
	if err := s.Validator.Struct(rec); err != nil {
		return model.Recipient{}, err
	}
	if err := sess.Registry.Add(rec); err != nil {
		return model.Recipient{}, err
	}
	metrics.RecipientsAdded.Inc()
	return rec, nil
}

// RemoveRecipient drops the selected registry entry. A negative or
// out-of-range selection changes nothing and reports false.
func (s *ReminderService) RemoveRecipient(sess *session.Session, index int) (model.Recipient, bool, error) {
	if err := requireLogin(sess); err != nil {
		return model.Recipient{}, false, err
	}
	rec, ok := sess.Registry.Remove(index)
	return rec, ok, nil
}

func (s *ReminderService) ListRecipients(sess *session.Session) ([]model.Recipient, error) {
	if err := requireLogin(sess); err != nil {
		return nil, err
	}
	return sess.Registry.Items(), nil
}

// FormDefaults returns the defaults with today's date in the gate's timezone.
func (s *ReminderService) FormDefaults() Defaults {
	d := s.Defaults
	d.SendDate = s.SendGate.Today()
	return d
}

// ScheduleDispatch moves the registry into a new run waiting for the
// requested date and time.
func (s *ReminderService) ScheduleDispatch(sess *session.Session, req ScheduleRequest) (*dispatch.Run, error) {
	if err := requireLogin(sess); err != nil {
		return nil, err
	}
	defaults := s.FormDefaults()
	msg := model.Message{
		Subject: firstNonEmpty(req.Subject, defaults.Subject),
		Body:    firstNonEmpty(req.Body, defaults.Body),
	}
	target, err := s.SendGate.Parse(
		firstNonEmpty(req.Time, defaults.SendTime),
		firstNonEmpty(req.Date, defaults.SendDate),
	)
	if err != nil {
		return nil, err
	}
	if sess.Busy() {
		return nil, appErrors.ErrDispatchInProgress
	}
	if sess.Registry.Len() == 0 {
		return nil, appErrors.ErrNoRecipients
	}

	run, started := sess.StartRun(func() *dispatch.Run {
		return s.Dispatcher.Start(sess.ID, msg, target, sess.Registry.Drain(),
			dispatch.OnConnectFailure(func(recs []model.Recipient) { sess.Registry.Restore(recs) }))
	})
	if !started {
		return nil, appErrors.ErrDispatchInProgress
	}
	s.Log.Info().
		Str("session_id", sess.ID).
		Str("run_id", run.ID).
		Time("at", target.At).
		Int("recipients", len(run.Scheduled())).
		Msg("dispatch scheduled")
	return run, nil
}

// CancelScheduled removes one recipient from the current run.
func (s *ReminderService) CancelScheduled(sess *session.Session, index int) (model.Recipient, bool, error) {
	if err := requireLogin(sess); err != nil {
		return model.Recipient{}, false, err
	}
	run := sess.Run()
	if run == nil || !run.Active() {
		return model.Recipient{}, false, appErrors.ErrNoDispatch
	}
	return run.Cancel(index)
}

// AbortDispatch stops the current run, leaving unsent recipients scheduled.
func (s *ReminderService) AbortDispatch(sess *session.Session) error {
	if err := requireLogin(sess); err != nil {
		return err
	}
	run := sess.Run()
	if run == nil || !run.Abort() {
		return appErrors.ErrNoDispatch
	}
	s.Log.Info().Str("session_id", sess.ID).Str("run_id", run.ID).Msg("dispatch aborted")
	return nil
}

func (s *ReminderService) DispatchStatus(sess *session.Session) (dispatch.Status, error) {
	if err := requireLogin(sess); err != nil {
		return dispatch.Status{}, err
	}
	run := sess.Run()
	if run == nil {
		return dispatch.Status{}, appErrors.ErrNoDispatch
	}
	return run.Status(), nil
}

// Preview renders the body as a named recipient would receive it.
func (s *ReminderService) Preview(sess *session.Session, req PreviewRequest) (string, error) {
	if err := requireLogin(sess); err != nil {
		return "", err
	}
	body := firstNonEmpty(req.Body, s.Defaults.Body)
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "<unknown>"
	}
	return dispatch.Personalize(body, model.Recipient{Name: name}), nil
}

func firstNonEmpty(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
