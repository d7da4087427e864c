package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	appErrors "github.com/unclebandit/reminder-mailer/internal/errors"
	"github.com/unclebandit/reminder-mailer/internal/model"
	"github.com/unclebandit/reminder-mailer/internal/registry"
)

// Run is one dispatch of a ScheduledSet against a single SendTarget.
type Run struct {
	ID        string
	SessionID string
	Message   model.Message
	Target    model.SendTarget
	CreatedAt time.Time

	scheduled *registry.ScheduledSet
	now       func() time.Time

	mu            sync.Mutex
	state         model.DispatchState
	sending       bool
	gateOpen      bool
	sent          int
	notifications []model.Notification
	err           error
	finishedAt    time.Time

	cancel   context.CancelFunc
	done     chan struct{}
	giveBack func([]model.Recipient)
}

// Status is a point-in-time view of a run.
type Status struct {
	RunID         string               `json:"run_id"`
	State         model.DispatchState  `json:"state"`
	Subject       string               `json:"subject"`
	Target        model.SendTarget     `json:"target"`
	Scheduled     []model.Recipient    `json:"scheduled"`
	Sent          int                  `json:"sent"`
	Notifications []model.Notification `json:"notifications"`
	Error         string               `json:"error,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	FinishedAt    *time.Time           `json:"finished_at,omitempty"`
}

func (r *Run) State() model.DispatchState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err is the terminal error of a failed run.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Run) Notifications() []model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Notification, len(r.notifications))
	copy(out, r.notifications)
	return out
}

// Scheduled lists the recipients not yet sent.
func (r *Run) Scheduled() []model.Recipient {
	return r.scheduled.Items()
}

func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run reaches a terminal state or ctx ends.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active reports whether the run has not yet finished.
func (r *Run) Active() bool {
	return !r.State().Terminal()
}

// Cancel removes one scheduled recipient by selection. A negative selection
// or an index past the end is a no-op. The recipient being transmitted
// cannot be cancelled.
func (r *Run) Cancel(index int) (model.Recipient, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sending && index == 0 {
		return model.Recipient{}, false, appErrors.ErrRecipientInFlight
	}
	rec, ok := r.scheduled.Remove(index)
	if ok {
		r.notifyLocked(model.LevelSuccess, fmt.Sprintf("Canceled email to %s (%s).", rec.Name, rec.Email))
	}
	return rec, ok, nil
}

// Abort stops the run. Recipients not yet sent stay scheduled.
func (r *Run) Abort() bool {
	if !r.Active() {
		return false
	}
	r.cancel()
	return true
}

func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Status{
		RunID:         r.ID,
		State:         r.state,
		Subject:       r.Message.Subject,
		Target:        r.Target,
		Scheduled:     r.scheduled.Items(),
		Sent:          r.sent,
		Notifications: make([]model.Notification, len(r.notifications)),
		CreatedAt:     r.CreatedAt,
	}
	copy(st.Notifications, r.notifications)
	if r.err != nil {
		st.Error = r.err.Error()
	}
	if !r.finishedAt.IsZero() {
		at := r.finishedAt
		st.FinishedAt = &at
	}
	return st
}

func (r *Run) setState(s model.DispatchState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
}

func (r *Run) notify(level model.NotificationLevel, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifyLocked(level, text)
}

func (r *Run) notifyLocked(level model.NotificationLevel, text string) {
	r.notifications = append(r.notifications, model.Notification{Level: level, Text: text, At: r.now()})
}

func (r *Run) gateOpened() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gateOpen
}

func (r *Run) openGate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateOpen = true
}

// beginSend claims the front recipient for transmission.
func (r *Run) beginSend() (model.Recipient, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.scheduled.Front()
	if !ok {
		return model.Recipient{}, false
	}
	r.state = model.StateSending
	r.sending = true
	return rec, true
}

// endSend releases the in-flight recipient; a sent one leaves the set.
func (r *Run) endSend(rec model.Recipient, sent bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sending = false
	if !sent {
		return
	}
	r.scheduled.PopFront(rec)
	r.sent++
	r.notifyLocked(model.LevelSuccess, fmt.Sprintf("Email sent to %s (%s)", rec.Name, rec.Email))
}

func (r *Run) finish(state model.DispatchState, err error, level model.NotificationLevel, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
	r.err = err
	r.finishedAt = r.now()
	if text != "" {
		r.notifyLocked(level, text)
	}
}

func (r *Run) sentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent
}
