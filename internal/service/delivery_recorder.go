package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/reminder-mailer/internal/model"
	"github.com/unclebandit/reminder-mailer/internal/queue"
)

// DeliveryLogWriter defines the method the recorder needs
type DeliveryLogWriter interface {
	Create(ctx context.Context, rec *model.DeliveryRecord) error
}

// DeliveryRecorder writes dispatch events to the delivery log
type DeliveryRecorder struct {
	Repo    DeliveryLogWriter
	Timeout time.Duration
	Log     zerolog.Logger
}

func NewDeliveryRecorder(repo DeliveryLogWriter, log zerolog.Logger) *DeliveryRecorder {
	return &DeliveryRecorder{
		Repo:    repo,
		Timeout: 5 * time.Second,
		Log:     log.With().Str("component", "delivery_recorder").Logger(),
	}
}

// Subscribe attaches the recorder to the dispatch event topic.
func (r *DeliveryRecorder) Subscribe(q queue.Queue) error {
	return q.Subscribe(queue.TopicDispatchEvents, r.Handle)
}

// Handle persists one event. A returned error makes the queue retry.
func (r *DeliveryRecorder) Handle(payload any) error {
	var ev model.DispatchEvent
	switch p := payload.(type) {
	case model.DispatchEvent:
		ev = p
	case *model.DispatchEvent:
		if p == nil {
			return fmt.Errorf("nil dispatch event")
		}
		ev = *p
	default:
		// not retryable
		r.Log.Error().Str("type", fmt.Sprintf("%T", payload)).Msg("unexpected payload")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
	defer cancel()

	rec := model.NewDeliveryRecord(ev)
	if err := r.Repo.Create(ctx, rec); err != nil {
		return fmt.Errorf("record delivery for %s: %w", ev.Email, err)
	}
	r.Log.Debug().Int("id", rec.ID).Str("run_id", ev.RunID).Str("status", ev.Status).Msg("delivery recorded")
	return nil
}
