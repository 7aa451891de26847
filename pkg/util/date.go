package util

import (
	"fmt"
	"strconv"
	"time"
)

// DateLayout is the calendar date format used in query strings.
const DateLayout = "2006-01-02"

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	DateLayout,
}

// ParseTime tries RFC3339, RFC3339Nano, a calendar date (UTC midnight) and
// unix seconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0).UTC(), true
	}
	return time.Time{}, false
}

// ParseTimeDefault parses time or returns default if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}

// ParseLocalTime resolves a civil birth time to an absolute instant.
//
// A value carrying its own offset (RFC3339) is taken as is and only
// re-expressed in zone when one is given. A value without an offset is read
// as wall-clock time in the IANA zone, which is then required.
func ParseLocalTime(local, zone string) (time.Time, error) {
	var loc *time.Location
	if zone != "" {
		l, err := time.LoadLocation(zone)
		if err != nil {
			return time.Time{}, fmt.Errorf("unknown time zone %q: %w", zone, err)
		}
		loc = l
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, local); err == nil {
			if loc != nil {
				t = t.In(loc)
			}
			return t, nil
		}
	}

	if loc == nil {
		return time.Time{}, fmt.Errorf("time %q has no offset and no time zone was given", local)
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, local, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", local)
}

// ParseDate parses a calendar date at UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want %s", s, DateLayout)
	}
	return t, nil
}
