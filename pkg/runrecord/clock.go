package runrecord

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

// DefaultTimezone and DefaultTimezoneLabel describe the business timezone
// reported alongside UTC in every record.
const (
	DefaultTimezone      = "Asia/Jakarta"
	DefaultTimezoneLabel = "WIB"
)

// Clock supplies the current time and the local business timezone.
type Clock struct {
	now   func() time.Time
	loc   *time.Location
	label string
}

// NewClock loads the named timezone. An empty name selects DefaultTimezone;
// an empty label falls back to the zone's abbreviation.
func NewClock(tzName, label string) (*Clock, error) {
	tzName = strings.TrimSpace(tzName)
	if tzName == "" {
		tzName = DefaultTimezone
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tzName, err)
	}
	label = strings.TrimSpace(label)
	if label == "" {
		label, _ = time.Now().In(loc).Zone()
	}
	return &Clock{now: time.Now, loc: loc, label: label}, nil
}

// FixedClock returns a clock whose Now is driven by now, for tests and replays.
func FixedClock(now func() time.Time, loc *time.Location, label string) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{now: now, loc: loc, label: label}
}

// Now returns the current instant.
func (c *Clock) Now() time.Time { return c.now() }

// Local converts t into the business timezone.
func (c *Clock) Local(t time.Time) time.Time { return t.In(c.loc) }

// Label returns the business timezone label (e.g. "WIB").
func (c *Clock) Label() string { return c.label }

// Location returns the business timezone.
func (c *Clock) Location() *time.Location { return c.loc }
