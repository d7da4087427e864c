// internal/sendgate/gate.go
package sendgate

import (
	"strings"
	"time"

	appErrors "github.com/unclebandit/reminder-mailer/internal/errors"
	"github.com/unclebandit/reminder-mailer/internal/model"
)

const (
	TimeLayout = "15:04"
	DateLayout = "2006-01-02"
)

// Gate decides when a dispatch may proceed, reading the wall clock in a fixed timezone.
type Gate struct {
	loc *time.Location
	now func() time.Time
}

func New(loc *time.Location) *Gate {
	if loc == nil {
		loc = time.UTC
	}
	return &Gate{loc: loc, now: time.Now}
}

// WithClock replaces the wall clock. Used by tests.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	return &Gate{loc: g.loc, now: now}
}

func (g *Gate) Location() *time.Location { return g.loc }

func (g *Gate) Now() time.Time { return g.now().In(g.loc) }

// Today is the current date in the gate's timezone.
func (g *Gate) Today() string { return g.Now().Format(DateLayout) }

// Ready reports whether the current minute and date equal the target strings
// exactly. Input that does not match the layouts never opens the gate.
func (g *Gate) Ready(targetTime, targetDate string) bool {
	now := g.Now()
	return now.Format(TimeLayout) == targetTime && now.Format(DateLayout) == targetDate
}

// Due is the tolerant check: the target instant has been reached or passed.
func (g *Gate) Due(target model.SendTarget) bool {
	return !g.Now().Before(target.At)
}

// Parse validates operator input and resolves it in the gate's timezone.
// The returned Time and Date are normalised so Ready can match them.
func (g *Gate) Parse(targetTime, targetDate string) (model.SendTarget, error) {
	tt, err := time.ParseInLocation(TimeLayout, strings.TrimSpace(targetTime), g.loc)
	if err != nil {
		return model.SendTarget{}, appErrors.NewInvalidSendTarget("time", targetTime)
	}
	dd, err := time.ParseInLocation(DateLayout, strings.TrimSpace(targetDate), g.loc)
	if err != nil {
		return model.SendTarget{}, appErrors.NewInvalidSendTarget("date", targetDate)
	}
	at := time.Date(dd.Year(), dd.Month(), dd.Day(), tt.Hour(), tt.Minute(), 0, 0, g.loc)
	return model.SendTarget{
		Time: at.Format(TimeLayout),
		Date: at.Format(DateLayout),
		At:   at,
	}, nil
}
