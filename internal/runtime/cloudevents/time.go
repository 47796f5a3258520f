package cloudevents

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Time format constants for CloudEvents.
const (
	// TimeFormat is the standard CloudEvents time format (RFC3339).
	TimeFormat = time.RFC3339

	// TimeFormatNano is the RFC3339 format with nanosecond precision.
	TimeFormatNano = time.RFC3339Nano
)

// ParseTime parses a time string in various formats.
// Supports RFC3339, RFC3339Nano, and a few date-only fallbacks.
func ParseTime(s string) (time.Time, error) {
	// Try RFC3339Nano first
	if t, err := time.Parse(TimeFormatNano, s); err == nil {
		return t, nil
	}

	// Try RFC3339
	if t, err := time.Parse(TimeFormat, s); err == nil {
		return t, nil
	}

	// Try additional formats
	formats := []string{
		"2006-01-02T15:04:05Z",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, &time.ParseError{
		Layout:     TimeFormat,
		Value:      s,
		LayoutElem: "",
		ValueElem:  "",
		Message:    "cannot parse as CloudEvents time",
	}
}

// ParsePlatformTime converts a platform timestamp into a time.Time. Event
// envelopes carry unix epochs as strings at second precision ("ts" on p1
// payloads, optionally with a fractional part), millisecond or microsecond
// precision (header create_time on p2). RFC3339 strings are accepted too.
func ParsePlatformTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if t, err := ParseTime(s); err == nil {
		return t, nil
	}

	intPart := s
	frac := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i+1:]
	}
	n, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse %q as a platform timestamp", s)
	}

	var t time.Time
	switch {
	case len(intPart) >= 16:
		t = time.UnixMicro(n)
	case len(intPart) >= 13:
		t = time.UnixMilli(n)
	default:
		t = time.Unix(n, 0)
		if frac != "" {
			if f, err := strconv.ParseFloat("0."+frac, 64); err == nil {
				t = t.Add(time.Duration(f * float64(time.Second)))
			}
		}
	}
	return t.UTC(), nil
}

// FormatTime formats a time value for CloudEvents.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeFormat)
}

// Now returns the current UTC time.
func Now() time.Time {
	return time.Now().UTC()
}
