// internal/model/recipient.go
package model

import "fmt"

// Recipient is a name/email pair eligible to receive a reminder. Email is its identity.
type Recipient struct {
	Name  string `json:"name" schema:"name" validate:"required"`
	Email string `json:"email" schema:"email" validate:"required"`
}

// Label is the text shown in selection lists.
func (r Recipient) Label() string {
	return fmt.Sprintf("%s - %s", r.Name, r.Email)
}
