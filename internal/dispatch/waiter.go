package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/reminder-mailer/internal/model"
	"github.com/unclebandit/reminder-mailer/internal/scheduler"
	"github.com/unclebandit/reminder-mailer/internal/sendgate"
)

// Waiter blocks until the send gate opens for target or ctx ends.
type Waiter interface {
	Wait(ctx context.Context, target model.SendTarget) error
}

// PollWaiter re-checks the exact-match gate every Interval. A target whose
// minute has already passed never opens.
type PollWaiter struct {
	Gate     *sendgate.Gate
	Interval time.Duration
}

func (w PollWaiter) Wait(ctx context.Context, target model.SendTarget) error {
	if w.Gate.Ready(target.Time, target.Date) {
		return nil
	}
	interval := w.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if w.Gate.Ready(target.Time, target.Date) {
				return nil
			}
		}
	}
}

// AlarmWaiter suspends on a one-shot scheduler alarm armed at the target
// instant. Targets already in the past open immediately.
type AlarmWaiter struct {
	Gate      *sendgate.Gate
	Scheduler *scheduler.Service
}

func (w AlarmWaiter) Wait(ctx context.Context, target model.SendTarget) error {
	if w.Gate.Due(target) {
		return nil
	}
	fired := make(chan struct{})
	h := w.Scheduler.Once("send-gate:"+uuid.NewString(), target.At, func(context.Context) error {
		close(fired)
		return nil
	})
	select {
	case <-ctx.Done():
		h.Cancel()
		return ctx.Err()
	case <-fired:
		return nil
	}
}
