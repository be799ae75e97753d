package cron

import (
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// maxCoalesce bounds how many missed firings Latest walks before it
// collapses the rest into the current second.
const maxCoalesce = 1024

// Schedule computes successive activation times.
type Schedule = cronlib.Schedule

// parser accepts six-field, seconds-resolution expressions
// ("sec min hour dom month dow") and descriptors like "@hourly" or
// "@every 30s".
var parser = cronlib.NewParser(
	cronlib.Second | cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Parse parses a schedule expression.
func Parse(expr string) (Schedule, error) {
	return parser.Parse(expr)
}

// FiresAt reports whether s activates during the second containing t.
func FiresAt(s Schedule, t time.Time) bool {
	sec := t.Truncate(time.Second)
	return s.Next(sec.Add(-time.Second)).Equal(sec)
}

// Latest returns the most recent activation in the window (after, now].
// The second result is false when the window holds none. Missed
// activations are coalesced into the latest one.
func Latest(s Schedule, after, now time.Time) (time.Time, bool) {
	next := s.Next(after)
	if next.IsZero() || next.After(now) {
		return time.Time{}, false
	}
	fired := next
	for range maxCoalesce {
		n := s.Next(fired)
		if n.IsZero() || n.After(now) {
			return fired, true
		}
		fired = n
	}
	return now.Truncate(time.Second), true
}
