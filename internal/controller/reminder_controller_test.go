package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/reminder-mailer/internal/auth"
	"github.com/unclebandit/reminder-mailer/internal/controller"
	"github.com/unclebandit/reminder-mailer/internal/dispatch"
	appErrors "github.com/unclebandit/reminder-mailer/internal/errors"
	"github.com/unclebandit/reminder-mailer/internal/logger"
	"github.com/unclebandit/reminder-mailer/internal/mailer"
	"github.com/unclebandit/reminder-mailer/internal/model"
	"github.com/unclebandit/reminder-mailer/internal/monitor"
	"github.com/unclebandit/reminder-mailer/internal/sendgate"
	"github.com/unclebandit/reminder-mailer/internal/service"
	"github.com/unclebandit/reminder-mailer/internal/session"
	"github.com/unclebandit/reminder-mailer/internal/validation"
)

// --- Mocks ---

type MockMailSession struct{}

func (MockMailSession) Send(context.Context, model.Email) error { return nil }
func (MockMailSession) Close() error                            { return nil }

type MockTransport struct{}

func (MockTransport) Dial(context.Context) (mailer.Session, error) { return MockMailSession{}, nil }

type HoldWaiter struct{}

func (HoldWaiter) Wait(ctx context.Context, _ model.SendTarget) error {
	<-ctx.Done()
	return ctx.Err()
}

type MockProbe struct{}

func (MockProbe) Memory(context.Context) (uint64, uint64, error) { return 4 << 30, 1 << 30, nil }
func (MockProbe) ProcessRSS(context.Context) (uint64, error)     { return 32 << 20, nil }
func (MockProbe) CPU(context.Context, time.Duration) ([]float64, error) {
	return []float64{10, 20}, nil
}

// client replays the session cookie like a browser.
type client struct {
	t      *testing.T
	h      http.Handler
	cookie *http.Cookie
}

func (c *client) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	rec := httptest.NewRecorder()
	c.h.ServeHTTP(rec, req)
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == session.CookieName {
			c.cookie = ck
		}
	}
	return rec
}

func newClient(t *testing.T) *client {
	t.Helper()
	d := dispatch.NewDispatcher(MockTransport{}, HoldWaiter{}, "sender@example.com", logger.Nop())
	t.Cleanup(func() { _ = d.Shutdown(context.Background()) })

	now := time.Date(2024, 12, 1, 18, 0, 0, 0, time.UTC)
	svc := &service.ReminderService{
		Auth:       auth.NewGate("admin", "admin123"),
		SendGate:   sendgate.New(time.UTC).WithClock(func() time.Time { return now }),
		Dispatcher: d,
		Validator:  validation.New(),
		Defaults:   service.Defaults{Subject: "QUIZ REMINDER", Body: "Hi {name}", SendTime: "21:00"},
		Log:        logger.Nop(),
	}
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/app/bin", make([]byte, 10), 0o644))
	ctrl := &controller.ReminderController{
		ReminderService: svc,
		Monitor:         monitor.New(MockProbe{}, fs, "/app", logger.Nop()),
	}

	store := session.NewStore(time.Hour, logger.Nop())
	r := chi.NewRouter()
	r.Use(store.Middleware)
	r.Route("/api", ctrl.Routes)
	return &client{t: t, h: r}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// --- Tests ---

func TestLoginRequired(t *testing.T) {
	c := newClient(t)

	rec := c.do(http.MethodGet, "/api/recipients", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = c.do(http.MethodGet, "/api/resources", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = c.do(http.MethodPost, "/api/login", map[string]string{"username": "admin", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = c.do(http.MethodPost, "/api/login", map[string]string{"username": "admin", "password": "admin123"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = c.do(http.MethodGet, "/api/recipients", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = c.do(http.MethodGet, "/api/resources", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	c.do(http.MethodPost, "/api/logout", nil)
	rec = c.do(http.MethodGet, "/api/recipients", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRecipientsFlow(t *testing.T) {
	c := newClient(t)
	c.do(http.MethodPost, "/api/login", map[string]string{"username": "admin", "password": "admin123"})

	rec := c.do(http.MethodPost, "/api/recipients", model.Recipient{Name: "Asha", Email: "asha@example.com"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = c.do(http.MethodPost, "/api/recipients", model.Recipient{Name: "Other", Email: "asha@example.com"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "already in the recipient list")

	rec = c.do(http.MethodPost, "/api/recipients", map[string]string{"email": "x@example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = c.do(http.MethodPost, "/api/recipients", "not an object")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = c.do(http.MethodGet, "/api/recipients", nil)
	body := decodeBody(t, rec)
	assert.Equal(t, []any{"Asha - asha@example.com"}, body["options"])

	rec = c.do(http.MethodDelete, "/api/recipients/5", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["removed"])

	rec = c.do(http.MethodDelete, "/api/recipients/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = c.do(http.MethodDelete, "/api/recipients/0", nil)
	assert.Equal(t, true, decodeBody(t, rec)["removed"])
}

func TestDispatchFlow(t *testing.T) {
	c := newClient(t)
	c.do(http.MethodPost, "/api/login", map[string]string{"username": "admin", "password": "admin123"})

	rec := c.do(http.MethodGet, "/api/dispatch", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = c.do(http.MethodPost, "/api/dispatch", service.ScheduleRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, appErrors.ErrNoRecipients.Error(), decodeBody(t, rec)["error"])

	c.do(http.MethodPost, "/api/recipients", model.Recipient{Name: "Asha", Email: "a@x"})
	c.do(http.MethodPost, "/api/recipients", model.Recipient{Name: "Bilal", Email: "b@x"})

	rec = c.do(http.MethodPost, "/api/dispatch", service.ScheduleRequest{Time: "25:00"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = c.do(http.MethodPost, "/api/dispatch", service.ScheduleRequest{Time: "21:30", Date: "2024-12-01"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var st dispatch.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "21:30", st.Target.Time)
	assert.Len(t, st.Scheduled, 2)

	c.do(http.MethodPost, "/api/recipients", model.Recipient{Name: "Chen", Email: "c@x"})
	rec = c.do(http.MethodPost, "/api/dispatch", service.ScheduleRequest{})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = c.do(http.MethodDelete, "/api/dispatch/recipients/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["removed"])

	rec = c.do(http.MethodDelete, "/api/dispatch", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		rec := c.do(http.MethodGet, "/api/dispatch", nil)
		return decodeBody(t, rec)["state"] == string(model.StateCancelled)
	}, 2*time.Second, 10*time.Millisecond)

	rec = c.do(http.MethodGet, "/api/dispatch", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, []model.Recipient{{Name: "Asha", Email: "a@x"}}, st.Scheduled)
}

func TestPreviewAndResources(t *testing.T) {
	c := newClient(t)
	c.do(http.MethodPost, "/api/login", map[string]string{"username": "admin", "password": "admin123"})

	rec := c.do(http.MethodPost, "/api/preview", service.PreviewRequest{Body: "Hello {name}", Name: "Esi"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello Esi", decodeBody(t, rec)["rendered_message"])

	rec = c.do(http.MethodGet, "/api/resources", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	display := decodeBody(t, rec)["display"].(map[string]any)
	assert.Equal(t, "32 MiB", display["process_rss"])
	assert.Equal(t, "15.0%", display["cpu"])
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		appErrors.ErrAuthDenied:                           http.StatusUnauthorized,
		appErrors.NewDuplicateRecipient("a@x"):            http.StatusConflict,
		appErrors.ErrRecipientInFlight:                    http.StatusConflict,
		appErrors.ErrNoDispatch:                           http.StatusNotFound,
		appErrors.NewInvalidSendTarget("date", "soon"):    http.StatusBadRequest,
		&appErrors.ValidationError{Fields: []string{"x"}}: http.StatusBadRequest,
		errors.New("boom"):                                http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, controller.StatusFor(err), err.Error())
	}
}
