package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/reminder-mailer/internal/auth"
	"github.com/unclebandit/reminder-mailer/internal/dispatch"
	appErrors "github.com/unclebandit/reminder-mailer/internal/errors"
	"github.com/unclebandit/reminder-mailer/internal/logger"
	"github.com/unclebandit/reminder-mailer/internal/mailer"
	"github.com/unclebandit/reminder-mailer/internal/model"
	"github.com/unclebandit/reminder-mailer/internal/sendgate"
	"github.com/unclebandit/reminder-mailer/internal/service"
	"github.com/unclebandit/reminder-mailer/internal/session"
	"github.com/unclebandit/reminder-mailer/internal/validation"
)

type mockSession struct {
	mu   sync.Mutex
	sent []model.Email
}

func (m *mockSession) Send(_ context.Context, e model.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, e)
	return nil
}

func (m *mockSession) Close() error { return nil }

type mockTransport struct {
	sess *mockSession
	err  error
}

func (m *mockTransport) Dial(context.Context) (mailer.Session, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.sess, nil
}

// blockingWaiter never opens; runs stay in WaitingForGate until aborted.
type blockingWaiter struct{}

func (blockingWaiter) Wait(ctx context.Context, _ model.SendTarget) error {
	<-ctx.Done()
	return ctx.Err()
}

type openWaiter struct{}

func (openWaiter) Wait(context.Context, model.SendTarget) error { return nil }

var fixedNow = time.Date(2024, 12, 1, 18, 30, 0, 0, time.UTC)

func newService(t *testing.T, w dispatch.Waiter) (*service.ReminderService, *mockSession) {
	t.Helper()
	ms := &mockSession{}
	d := dispatch.NewDispatcher(&mockTransport{sess: ms}, w, "sender@example.com", logger.Nop())
	t.Cleanup(func() { _ = d.Shutdown(context.Background()) })
	return &service.ReminderService{
		Auth:       auth.NewGate("admin", "admin123"),
		SendGate:   sendgate.New(time.UTC).WithClock(func() time.Time { return fixedNow }),
		Dispatcher: d,
		Validator:  validation.New(),
		Defaults: service.Defaults{
			Subject:  "QUIZ REMINDER",
			Body:     "It is your turn to update the quiz tomorrow :)",
			SendTime: "21:00",
		},
		Log: logger.Nop(),
	}, ms
}

func loggedIn(t *testing.T, svc *service.ReminderService) *session.Session {
	t.Helper()
	sess := session.NewStore(time.Hour, logger.Nop()).Create()
	require.NoError(t, svc.Login(sess, "admin", "admin123"))
	return sess
}

func TestLogin(t *testing.T) {
	svc, _ := newService(t, openWaiter{})
	sess := session.NewStore(time.Hour, logger.Nop()).Create()

	assert.ErrorIs(t, svc.Login(sess, "admin", "wrong"), appErrors.ErrAuthDenied)
	assert.False(t, sess.LoggedIn())

	_, err := svc.ListRecipients(sess)
	assert.ErrorIs(t, err, appErrors.ErrAuthRequired)

	require.NoError(t, svc.Login(sess, "admin", "admin123"))
	assert.True(t, sess.LoggedIn())

	svc.Logout(sess)
	assert.False(t, sess.LoggedIn())
}

func TestAddRecipient(t *testing.T) {
	svc, _ := newService(t, openWaiter{})
	sess := loggedIn(t, svc)

	rec, err := svc.AddRecipient(sess, model.Recipient{Name: "  Asha ", Email: "asha@example.com "})
	require.NoError(t, err)
	assert.Equal(t, model.Recipient{Name: "Asha", Email: "asha@example.com"}, rec)

	_, err = svc.AddRecipient(sess, model.Recipient{Name: "Asha Again", Email: "asha@example.com"})
	var dup *appErrors.DuplicateRecipientError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "asha@example.com", dup.Email)

	_, err = svc.AddRecipient(sess, model.Recipient{Name: "", Email: "b@example.com"})
	var ve *appErrors.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, []string{"name"}, ve.Fields)

	list, err := svc.ListRecipients(sess)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRemoveRecipient(t *testing.T) {
	svc, _ := newService(t, openWaiter{})
	sess := loggedIn(t, svc)
	for _, r := range []model.Recipient{{Name: "A", Email: "a@x"}, {Name: "B", Email: "b@x"}} {
		_, err := svc.AddRecipient(sess, r)
		require.NoError(t, err)
	}

	_, ok, err := svc.RemoveRecipient(sess, -1)
	require.NoError(t, err)
	assert.False(t, ok)

	rec, ok, err := svc.RemoveRecipient(sess, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a@x", rec.Email)
	assert.Equal(t, []string{"B - b@x"}, sess.Registry.Options())
}

func TestScheduleDispatch_Validation(t *testing.T) {
	svc, _ := newService(t, openWaiter{})
	sess := loggedIn(t, svc)

	_, err := svc.ScheduleDispatch(sess, service.ScheduleRequest{})
	assert.ErrorIs(t, err, appErrors.ErrNoRecipients)

	_, err = svc.AddRecipient(sess, model.Recipient{Name: "A", Email: "a@x"})
	require.NoError(t, err)

	_, err = svc.ScheduleDispatch(sess, service.ScheduleRequest{Time: "9pm"})
	var ist *appErrors.InvalidSendTargetError
	require.True(t, errors.As(err, &ist))
	assert.Equal(t, "time", ist.Field)
	assert.Equal(t, 1, sess.Registry.Len(), "registry untouched on rejection")
}

func TestScheduleDispatch_SendsWithDefaults(t *testing.T) {
	svc, ms := newService(t, openWaiter{})
	sess := loggedIn(t, svc)
	_, err := svc.AddRecipient(sess, model.Recipient{Name: "Asha", Email: "asha@example.com"})
	require.NoError(t, err)

	run, err := svc.ScheduleDispatch(sess, service.ScheduleRequest{})
	require.NoError(t, err)
	assert.Equal(t, "21:00", run.Target.Time)
	assert.Equal(t, "2024-12-01", run.Target.Date)
	assert.Equal(t, 0, sess.Registry.Len(), "registry drained into the run")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, run.Wait(ctx))

	st, err := svc.DispatchStatus(sess)
	require.NoError(t, err)
	assert.Equal(t, model.StateClosed, st.State)
	require.Len(t, ms.sent, 1)
	assert.Equal(t, "QUIZ REMINDER", ms.sent[0].Subject)
}

func TestScheduleDispatch_ConnectFailureReturnsRecipients(t *testing.T) {
	svc, _ := newService(t, openWaiter{})
	d := dispatch.NewDispatcher(&mockTransport{err: errors.New("535 auth failed")}, openWaiter{}, "sender@example.com", logger.Nop())
	t.Cleanup(func() { _ = d.Shutdown(context.Background()) })
	svc.Dispatcher = d

	sess := loggedIn(t, svc)
	for _, rec := range []model.Recipient{{Name: "Asha", Email: "asha@example.com"}, {Name: "Ravi", Email: "ravi@example.com"}} {
		_, err := svc.AddRecipient(sess, rec)
		require.NoError(t, err)
	}

	run, err := svc.ScheduleDispatch(sess, service.ScheduleRequest{})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, run.Wait(ctx))

	assert.Equal(t, model.StateError, run.State())
	var tf *appErrors.TransportFailureError
	require.True(t, errors.As(run.Err(), &tf))
	assert.Equal(t, appErrors.StageConnect, tf.Stage)
	assert.Empty(t, run.Scheduled())

	assert.Equal(t, []string{"Asha - asha@example.com", "Ravi - ravi@example.com"}, sess.Registry.Options())

	// the operator can retry straight away
	_, err = svc.ScheduleDispatch(sess, service.ScheduleRequest{})
	assert.NoError(t, err)
}

func TestScheduleDispatch_OneActiveRunPerSession(t *testing.T) {
	svc, _ := newService(t, blockingWaiter{})
	sess := loggedIn(t, svc)
	_, err := svc.AddRecipient(sess, model.Recipient{Name: "A", Email: "a@x"})
	require.NoError(t, err)
	_, err = svc.ScheduleDispatch(sess, service.ScheduleRequest{})
	require.NoError(t, err)

	_, err = svc.AddRecipient(sess, model.Recipient{Name: "B", Email: "b@x"})
	require.NoError(t, err)
	_, err = svc.ScheduleDispatch(sess, service.ScheduleRequest{})
	assert.ErrorIs(t, err, appErrors.ErrDispatchInProgress)
	assert.Equal(t, 1, sess.Registry.Len())
}

func TestCancelAndAbort(t *testing.T) {
	svc, _ := newService(t, blockingWaiter{})
	sess := loggedIn(t, svc)

	_, _, err := svc.CancelScheduled(sess, 0)
	assert.ErrorIs(t, err, appErrors.ErrNoDispatch)
	assert.ErrorIs(t, svc.AbortDispatch(sess), appErrors.ErrNoDispatch)

	for _, r := range []model.Recipient{{Name: "A", Email: "a@x"}, {Name: "B", Email: "b@x"}} {
		_, err := svc.AddRecipient(sess, r)
		require.NoError(t, err)
	}
	run, err := svc.ScheduleDispatch(sess, service.ScheduleRequest{Time: "23:59"})
	require.NoError(t, err)

	rec, ok, err := svc.CancelScheduled(sess, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a@x", rec.Email)

	require.NoError(t, svc.AbortDispatch(sess))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, run.Wait(ctx))

	st, err := svc.DispatchStatus(sess)
	require.NoError(t, err)
	assert.Equal(t, model.StateCancelled, st.State)
	assert.Equal(t, []model.Recipient{{Name: "B", Email: "b@x"}}, st.Scheduled)
}

func TestPreview(t *testing.T) {
	svc, _ := newService(t, openWaiter{})
	sess := loggedIn(t, svc)

	out, err := svc.Preview(sess, service.PreviewRequest{Body: "Hi {name}!", Name: "Asha"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Asha!", out)

	out, err = svc.Preview(sess, service.PreviewRequest{Body: "Hi {name}!"})
	require.NoError(t, err)
	assert.Equal(t, "Hi <unknown>!", out)

	out, err = svc.Preview(sess, service.PreviewRequest{})
	require.NoError(t, err)
	assert.Equal(t, "It is your turn to update the quiz tomorrow :)", out)
}

func TestFormDefaults(t *testing.T) {
	svc, _ := newService(t, openWaiter{})
	d := svc.FormDefaults()
	assert.Equal(t, "2024-12-01", d.SendDate)
	assert.Equal(t, "21:00", d.SendTime)
}
