package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/unclebandit/reminder-mailer/internal/model"
)

type DeliveryLogRepositoryInterface interface {
	Create(ctx context.Context, rec *model.DeliveryRecord) error
	ListByRun(ctx context.Context, runID string) ([]*model.DeliveryRecord, error)
	GetRunStats(ctx context.Context, runID string) (map[string]int, error)
}

// DeliveryLogRepository stores one row per attempted recipient in Postgres.
type DeliveryLogRepository struct {
	DB *sql.DB
}

// Create inserts a record and fills in its ID
func (r *DeliveryLogRepository) Create(ctx context.Context, rec *model.DeliveryRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	query := `
        INSERT INTO delivery_log (run_id, session_id, name, email, subject, status, last_error, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query,
		rec.RunID,
		rec.SessionID,
		rec.Name,
		rec.Email,
		rec.Subject,
		rec.Status,
		rec.LastError,
		rec.CreatedAt,
	).Scan(&rec.ID)
}

func (r *DeliveryLogRepository) ListByRun(ctx context.Context, runID string) ([]*model.DeliveryRecord, error) {
	query := `
        SELECT id, run_id, session_id, name, email, subject, status, last_error, created_at
        FROM delivery_log
        WHERE run_id=$1
        ORDER BY id
    `
	rows, err := r.DB.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*model.DeliveryRecord{}
	for rows.Next() {
		rec := &model.DeliveryRecord{}
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.SessionID, &rec.Name, &rec.Email,
			&rec.Subject, &rec.Status, &rec.LastError, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *DeliveryLogRepository) GetRunStats(ctx context.Context, runID string) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM delivery_log WHERE run_id=$1 GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{model.EventSent: 0, model.EventFailed: 0}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

var _ DeliveryLogRepositoryInterface = (*DeliveryLogRepository)(nil)
