package core

import "time"

// TimeFormat is the wire format for all timestamps stored on job records:
// RFC 3339 in UTC with millisecond precision.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in TimeFormat, converting to UTC first.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// NowFormatted returns the current time in TimeFormat.
func NowFormatted() string {
	return FormatTime(time.Now())
}

// ParseTime parses a TimeFormat timestamp, falling back to plain RFC 3339 for
// records written by older builds.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeFormat, s)
	if err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
