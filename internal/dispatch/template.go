package dispatch

import (
	"strings"

	"github.com/unclebandit/reminder-mailer/internal/model"
)

// RenderTemplate replaces every {key} in template with its value.
func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

// Personalize renders a reminder body for one recipient.
func Personalize(body string, rec model.Recipient) string {
	return RenderTemplate(body, map[string]string{"name": rec.Name})
}
