package watch

import (
	"fmt"
	"strings"
	"time"
)

// Event is one upcoming competition as reported by the EventSource.
type Event struct {
	ID         int64
	Title      string
	URL        string
	CTFTimeURL string
	Start      time.Time
	Duration   time.Duration
	Weight     float64
	Format     string
	Onsite     bool
}

// Finish is the event's scheduled end.
func (e Event) Finish() time.Time { return e.Start.Add(e.Duration) }

// Link returns the best URL to show users.
func (e Event) Link() string {
	if strings.TrimSpace(e.URL) != "" {
		return e.URL
	}
	return e.CTFTimeURL
}

// Milestone is a named deadline relative to an event's start.
type Milestone int

const (
	DayBefore Milestone = iota
	HourBefore
)

func (m Milestone) String() string {
	switch m {
	case DayBefore:
		return "day"
	case HourBefore:
		return "hour"
	default:
		return fmt.Sprintf("milestone(%d)", int(m))
	}
}

// Lead is how long before the start the milestone fires.
func (m Milestone) Lead() time.Duration {
	if m == HourBefore {
		return time.Hour
	}
	return 24 * time.Hour
}

// FireTime is the absolute time the milestone fires for an event starting at start.
func (m Milestone) FireTime(start time.Time) time.Time { return start.Add(-m.Lead()) }

// Due reports whether the milestone has been reached at now.
func (m Milestone) Due(now, start time.Time) bool { return !now.Before(m.FireTime(start)) }

// TeamScore is one scoreboard row of a finished event.
type TeamScore struct {
	Team   string
	Place  int
	Points float64
	Rating float64
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Until returns t-now clamped to zero.
func Until(now, t time.Time) time.Duration {
	if d := t.Sub(now); d > 0 {
		return d
	}
	return 0
}

const (
	feedLayout       = "2006-01-02T15:04:05"
	feedOffsetLength = len("+00:00")
)

// ParseEventTimestamp parses the feed's "2006-01-02T15:04:05+00:00" form.
// The trailing offset is fixed-width and always UTC in the feed, so it is
// stripped rather than interpreted.
func ParseEventTimestamp(s string) (time.Time, error) {
	raw := strings.TrimSpace(s)
	if len(raw) <= feedOffsetLength {
		return time.Time{}, &ParseError{Raw: s, Err: fmt.Errorf("too short")}
	}
	t, err := time.ParseInLocation(feedLayout, raw[:len(raw)-feedOffsetLength], time.UTC)
	if err != nil {
		return time.Time{}, &ParseError{Raw: s, Err: err}
	}
	return t, nil
}
