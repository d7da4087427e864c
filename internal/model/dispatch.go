// internal/model/dispatch.go
package model

import "time"

// SendTarget is the operator-entered send time. Time is "HH:MM", Date is
// "YYYY-MM-DD"; At is the same instant resolved in the gate's timezone.
type SendTarget struct {
	Time string    `json:"time"`
	Date string    `json:"date"`
	At   time.Time `json:"at"`
}

// Message is the subject and body template of a reminder. Body may contain {name}.
type Message struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Email is one rendered message ready for transmission.
type Email struct {
	From    string
	To      string
	Subject string
	Body    string
}

type DispatchState string

const (
	StateIdle                DispatchState = "idle"
	StateConnectingTransport DispatchState = "connecting_transport"
	StateWaitingForGate      DispatchState = "waiting_for_gate"
	StateSending             DispatchState = "sending"
	StateClosed              DispatchState = "closed"
	StateError               DispatchState = "error"
	StateCancelled           DispatchState = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s DispatchState) Terminal() bool {
	return s == StateClosed || s == StateError || s == StateCancelled
}

type NotificationLevel string

const (
	LevelInfo    NotificationLevel = "info"
	LevelSuccess NotificationLevel = "success"
	LevelWarning NotificationLevel = "warning"
	LevelError   NotificationLevel = "error"
)

// Notification is a line reported inline to the operator.
type Notification struct {
	Level NotificationLevel `json:"level"`
	Text  string            `json:"text"`
	At    time.Time         `json:"at"`
}

const (
	EventSent   = "sent"
	EventFailed = "failed"
)

// DispatchEvent is published for every recipient the dispatch loop attempts.
type DispatchEvent struct {
	RunID     string    `json:"run_id"`
	SessionID string    `json:"session_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Subject   string    `json:"subject"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}
