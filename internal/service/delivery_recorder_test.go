package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/reminder-mailer/internal/logger"
	"github.com/unclebandit/reminder-mailer/internal/model"
	"github.com/unclebandit/reminder-mailer/internal/queue"
	"github.com/unclebandit/reminder-mailer/internal/service"
)

// MockDeliveryRepo stores records in memory
type MockDeliveryRepo struct {
	mu      sync.Mutex
	records []*model.DeliveryRecord
	failN   int
}

func (m *MockDeliveryRepo) Create(_ context.Context, rec *model.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failN > 0 {
		m.failN--
		return errors.New("connection reset")
	}
	rec.ID = len(m.records) + 1
	m.records = append(m.records, rec)
	return nil
}

func (m *MockDeliveryRepo) Records() []*model.DeliveryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.DeliveryRecord(nil), m.records...)
}

func TestDeliveryRecorder_Handle(t *testing.T) {
	repo := &MockDeliveryRepo{}
	r := service.NewDeliveryRecorder(repo, logger.Nop())

	at := time.Date(2024, 12, 1, 21, 0, 0, 0, time.UTC)
	require.NoError(t, r.Handle(model.DispatchEvent{RunID: "r1", Email: "a@x", Status: model.EventSent, At: at}))
	require.NoError(t, r.Handle(&model.DispatchEvent{RunID: "r1", Email: "b@x", Status: model.EventFailed, Error: "550"}))
	require.NoError(t, r.Handle("garbage"), "unknown payloads are dropped")

	recs := repo.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, 1, recs[0].ID)
	assert.Equal(t, at, recs[0].CreatedAt)
	assert.Equal(t, "550", recs[1].LastError)
}

func TestDeliveryRecorder_RetriedByQueue(t *testing.T) {
	repo := &MockDeliveryRepo{failN: 1}
	r := service.NewDeliveryRecorder(repo, logger.Nop())
	q := queue.NewInMemoryQueue(logger.Nop())
	require.NoError(t, r.Subscribe(q))

	require.NoError(t, q.Publish(queue.TopicDispatchEvents, model.DispatchEvent{RunID: "r1", Email: "a@x", Status: model.EventSent}))
	q.Drain()

	recs := repo.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "a@x", recs[0].Email)
}
