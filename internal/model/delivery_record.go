// internal/model/delivery_record.go
package model

import "time"

type DeliveryRecord struct {
	ID        int       `db:"id" json:"id"`
	RunID     string    `db:"run_id" json:"run_id"`
	SessionID string    `db:"session_id" json:"session_id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	Subject   string    `db:"subject" json:"subject"`
	Status    string    `db:"status" json:"status"` // sent, failed
	LastError string    `db:"last_error" json:"last_error,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// NewDeliveryRecord converts a dispatch event into its persisted form.
func NewDeliveryRecord(ev DispatchEvent) *DeliveryRecord {
	return &DeliveryRecord{
		RunID:     ev.RunID,
		SessionID: ev.SessionID,
		Name:      ev.Name,
		Email:     ev.Email,
		Subject:   ev.Subject,
		Status:    ev.Status,
		LastError: ev.Error,
		CreatedAt: ev.At,
	}
}
