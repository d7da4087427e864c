// Package dispatch drives a scheduled set of recipients through the send gate
// and over one held-open transport session.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/reminder-mailer/internal/errors"
	"github.com/unclebandit/reminder-mailer/internal/mailer"
	"github.com/unclebandit/reminder-mailer/internal/metrics"
	"github.com/unclebandit/reminder-mailer/internal/model"
	"github.com/unclebandit/reminder-mailer/internal/queue"
	"github.com/unclebandit/reminder-mailer/internal/registry"
)

const (
	msgWaiting  = "Waiting to send emails at the scheduled time..."
	msgAllSent  = "All emails sent successfully!"
	msgNoneSent = "No emails sent; every scheduled recipient was canceled."
)

// StartOption customises a run before it starts.
type StartOption func(*Run)

// OnConnectFailure hands the untouched recipients to fn when the transport
// cannot be opened. The run's scheduled set is emptied first.
func OnConnectFailure(fn func([]model.Recipient)) StartOption {
	return func(r *Run) { r.giveBack = fn }
}

// Dispatcher starts runs on their own goroutines. Queue is optional; when set,
// every attempted recipient is published on TopicDispatchEvents.
type Dispatcher struct {
	Transport mailer.Transport
	Waiter    Waiter
	Queue     queue.Queue
	From      string
	Log       zerolog.Logger
	Now       func() time.Time

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

func NewDispatcher(transport mailer.Transport, waiter Waiter, from string, log zerolog.Logger) *Dispatcher {
	ctx, stop := context.WithCancel(context.Background())
	return &Dispatcher{
		Transport: transport,
		Waiter:    waiter,
		From:      from,
		Log:       log.With().Str("component", "dispatch").Logger(),
		Now:       time.Now,
		ctx:       ctx,
		stop:      stop,
	}
}

// Start snapshots recipients into a new run and executes it in the background.
// The run outlives the caller's request; it ends on its own, on Abort or on Shutdown.
func (d *Dispatcher) Start(sessionID string, msg model.Message, target model.SendTarget, recipients []model.Recipient, opts ...StartOption) *Run {
	runCtx, cancel := context.WithCancel(d.ctx)
	run := &Run{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Message:   msg,
		Target:    target,
		CreatedAt: d.Now(),
		scheduled: registry.NewScheduledSet(recipients),
		now:       d.Now,
		state:     model.StateIdle,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(run)
	}
	run.notify(model.LevelInfo, msgWaiting)

	metrics.DispatchActive.Inc()
	d.wg.Add(1)
	go d.execute(runCtx, run)
	return run
}

// Shutdown aborts every active run and waits for them to finish.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.stop()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) execute(ctx context.Context, run *Run) {
	log := d.Log.With().Str("run_id", run.ID).Str("session_id", run.SessionID).Logger()
	defer func() {
		run.cancel()
		metrics.DispatchActive.Dec()
		metrics.DispatchRuns.WithLabelValues(string(run.State())).Inc()
		close(run.done)
		d.wg.Done()
	}()

	log.Info().
		Int("recipients", run.scheduled.Len()).
		Str("date", run.Target.Date).
		Str("time", run.Target.Time).
		Msg("dispatch run started")

	run.setState(model.StateConnectingTransport)
	sess, err := d.Transport.Dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			d.cancelled(run, log)
			return
		}
		if run.giveBack != nil {
			recs := run.scheduled.Items()
			run.scheduled.Clear()
			run.giveBack(recs)
			log.Info().Int("recipients", len(recs)).Msg("recipients returned after connect failure")
		}
		d.failed(run, appErrors.NewTransportFailure(appErrors.StageConnect, "", err), log)
		return
	}

	for run.scheduled.Len() > 0 {
		if !run.gateOpened() {
			run.setState(model.StateWaitingForGate)
			if err := d.Waiter.Wait(ctx, run.Target); err != nil {
				d.closeSession(sess, log)
				d.cancelled(run, log)
				return
			}
			run.openGate()
			log.Debug().Msg("send gate open")
		}
		if ctx.Err() != nil {
			d.closeSession(sess, log)
			d.cancelled(run, log)
			return
		}

		rec, ok := run.beginSend()
		if !ok {
			break
		}
		email := model.Email{
			From:    d.From,
			To:      rec.Email,
			Subject: run.Message.Subject,
			Body:    Personalize(run.Message.Body, rec),
		}
		if err := sess.Send(ctx, email); err != nil {
			run.endSend(rec, false)
			d.closeSession(sess, log)
			if ctx.Err() != nil {
				d.cancelled(run, log)
				return
			}
			d.publish(run, rec, model.EventFailed, err, log)
			d.failed(run, appErrors.NewTransportFailure(appErrors.StageSend, rec.Email, err), log)
			return
		}
		run.endSend(rec, true)
		d.publish(run, rec, model.EventSent, nil, log)
		log.Info().Str("to", rec.Email).Msg("reminder sent")
	}

	d.closeSession(sess, log)
	run.scheduled.Clear()
	if run.sentCount() == 0 {
		run.finish(model.StateClosed, nil, model.LevelWarning, msgNoneSent)
	} else {
		run.finish(model.StateClosed, nil, model.LevelSuccess, msgAllSent)
	}
	log.Info().Int("sent", run.sentCount()).Msg("dispatch run closed")
}

func (d *Dispatcher) failed(run *Run, err error, log zerolog.Logger) {
	run.finish(model.StateError, err, model.LevelError, fmt.Sprintf("Error sending emails: %v", err))
	log.Error().Err(err).Int("remaining", run.scheduled.Len()).Msg("dispatch run failed")
}

func (d *Dispatcher) cancelled(run *Run, log zerolog.Logger) {
	remaining := run.scheduled.Len()
	run.finish(model.StateCancelled, nil, model.LevelWarning,
		fmt.Sprintf("Dispatch cancelled; %d recipient(s) not sent.", remaining))
	log.Warn().Int("remaining", remaining).Msg("dispatch run cancelled")
}

func (d *Dispatcher) closeSession(sess mailer.Session, log zerolog.Logger) {
	if err := sess.Close(); err != nil {
		log.Warn().Err(appErrors.NewTransportFailure(appErrors.StageClose, "", err)).Msg("closing transport session")
	}
}

func (d *Dispatcher) publish(run *Run, rec model.Recipient, status string, sendErr error, log zerolog.Logger) {
	if d.Queue == nil {
		return
	}
	ev := model.DispatchEvent{
		RunID:     run.ID,
		SessionID: run.SessionID,
		Name:      rec.Name,
		Email:     rec.Email,
		Subject:   run.Message.Subject,
		Status:    status,
		At:        d.Now(),
	}
	if sendErr != nil {
		ev.Error = sendErr.Error()
	}
	if err := d.Queue.Publish(queue.TopicDispatchEvents, ev); err != nil {
		log.Warn().Err(err).Str("to", rec.Email).Msg("failed to publish dispatch event")
	}
}
