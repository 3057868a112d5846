// Package duedate derives assignment due dates from live session times.
package duedate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"course-credentials/internal/models"
)

// LeadBusinessDays is how many business days before the session assignments are due.
const LeadBusinessDays = 2

// ErrNoSession is returned when a record has no session time to work from.
var ErrNoSession = errors.New("record has no live session datetime")

// SubtractBusinessDays steps back n weekdays from t, keeping the time of day.
// Starting on a weekend, the first step lands on the preceding Friday.
func SubtractBusinessDays(t time.Time, n int) time.Time {
	for n > 0 {
		t = t.AddDate(0, 0, -1)
		if wd := t.Weekday(); wd != time.Saturday && wd != time.Sunday {
			n--
		}
	}
	return t
}

// For returns the due date for a session.
func For(session time.Time) time.Time {
	return SubtractBusinessDays(session, LeadBusinessDays)
}

// ParseSession accepts RFC 3339 timestamps, plain dates and epoch milliseconds.
func ParseSession(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrNoSession
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised session datetime %q", raw)
}

// Assign decides whether rec needs a due date as of asOf and returns it in epoch ms.
// Only sessions strictly after asOf's UTC midnight that have no due date yet qualify.
func Assign(rec models.EligibleRecord, asOf time.Time) (int64, bool, error) {
	if rec.Prop(models.PropAssignmentDueDate) != "" {
		return 0, false, nil
	}
	session, err := ParseSession(rec.Prop(models.PropSessionDatetime))
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if !session.After(models.MidnightUTC(asOf)) {
		return 0, false, nil
	}
	return models.EpochMillis(For(session).Truncate(time.Second)), true, nil
}
