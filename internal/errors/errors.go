// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAuthDenied         = errors.New("invalid username or password")
	ErrAuthRequired       = errors.New("login required")
	ErrNoRecipients       = errors.New("please add at least one recipient before sending")
	ErrDispatchInProgress = errors.New("a dispatch is already in progress")
	ErrNoDispatch         = errors.New("no dispatch has been scheduled")
	ErrRecipientInFlight  = errors.New("recipient is being sent and cannot be cancelled")
)

// ConfigMissingError is returned at startup when required secrets are absent.
type ConfigMissingError struct {
	Keys []string
}

func (e *ConfigMissingError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", strings.Join(e.Keys, ", "))
}

func NewConfigMissing(keys ...string) error {
	return &ConfigMissingError{Keys: keys}
}

type DuplicateRecipientError struct {
	Email string
}

func (e *DuplicateRecipientError) Error() string {
	return fmt.Sprintf("%s is already in the recipient list", e.Email)
}

func NewDuplicateRecipient(email string) error {
	return &DuplicateRecipientError{Email: email}
}

// InvalidSendTargetError reports an operator-entered date or time that does not parse.
type InvalidSendTargetError struct {
	Field string
	Value string
}

func (e *InvalidSendTargetError) Error() string {
	return fmt.Sprintf("invalid send %s %q", e.Field, e.Value)
}

func NewInvalidSendTarget(field, value string) error {
	return &InvalidSendTargetError{Field: field, Value: value}
}

// Transport failure stages.
const (
	StageConnect = "connect"
	StageSend    = "send"
	StageClose   = "close"
)

type TransportFailureError struct {
	Stage     string
	Recipient string
	Err       error
}

func (e *TransportFailureError) Error() string {
	if e.Recipient != "" {
		return fmt.Sprintf("transport %s failed for %s: %v", e.Stage, e.Recipient, e.Err)
	}
	return fmt.Sprintf("transport %s failed: %v", e.Stage, e.Err)
}

func (e *TransportFailureError) Unwrap() error { return e.Err }

func NewTransportFailure(stage, recipient string, err error) error {
	return &TransportFailureError{Stage: stage, Recipient: recipient, Err: err}
}

// ValidationError carries the names of request fields that failed presence checks.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.Fields, ", "))
}
