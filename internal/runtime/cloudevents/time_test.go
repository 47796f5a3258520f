package cloudevents

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTime_RFC3339Nano(t *testing.T) {
	timeStr := "2026-01-01T12:30:45.123456789Z"
	parsed, err := ParseTime(timeStr)
	require.NoError(t, err)
	assert.Equal(t, 2026, parsed.Year())
	assert.Equal(t, 123456789, parsed.Nanosecond())
}

func TestParseTime_RFC3339(t *testing.T) {
	timeStr := "2026-01-01T12:30:45Z"
	parsed, err := ParseTime(timeStr)
	require.NoError(t, err)
	assert.Equal(t, 2026, parsed.Year())
	assert.Equal(t, 12, parsed.Hour())
}

func TestParseTime_DateOnly(t *testing.T) {
	parsed, err := ParseTime("2026-01-01")
	require.NoError(t, err)
	assert.Equal(t, 2026, parsed.Year())
	assert.Equal(t, time.January, parsed.Month())
	assert.Equal(t, 1, parsed.Day())
}

func TestParseTime_SpaceSeparator(t *testing.T) {
	parsed, err := ParseTime("2026-01-01 12:30:45")
	require.NoError(t, err)
	assert.False(t, parsed.IsZero())
	assert.Equal(t, 12, parsed.Hour())
}

func TestParseTime_InvalidFormat(t *testing.T) {
	tests := []struct {
		name    string
		timeStr string
	}{
		{
			name:    "completely invalid",
			timeStr: "not a time",
		},
		{
			name:    "invalid date",
			timeStr: "2026-13-45",
		},
		{
			name:    "empty string",
			timeStr: "",
		},
		{
			name:    "epoch digits",
			timeStr: "1693565712",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTime(tt.timeStr)
			assert.Error(t, err)
			var parseErr *time.ParseError
			assert.ErrorAs(t, err, &parseErr)
		})
	}
}

func TestParsePlatformTime(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantUnix int64
		wantMs   int64
	}{
		{
			name:     "unix seconds",
			input:    "1693565712",
			wantUnix: 1693565712,
			wantMs:   1693565712000,
		},
		{
			name:     "unix seconds with fraction",
			input:    "1693565712.5",
			wantUnix: 1693565712,
			wantMs:   1693565712500,
		},
		{
			name:     "unix milliseconds",
			input:    "1693565712000",
			wantUnix: 1693565712,
			wantMs:   1693565712000,
		},
		{
			name:     "unix microseconds",
			input:    "1693565712000000",
			wantUnix: 1693565712,
			wantMs:   1693565712000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParsePlatformTime(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.wantUnix, parsed.Unix())
			assert.Equal(t, tt.wantMs, parsed.UnixMilli())
			assert.Equal(t, time.UTC, parsed.Location())
		})
	}
}

func TestParsePlatformTime_RFC3339(t *testing.T) {
	parsed, err := ParsePlatformTime("2026-01-01T12:30:45Z")
	require.NoError(t, err)
	assert.Equal(t, 2026, parsed.Year())
}

func TestParsePlatformTime_Invalid(t *testing.T) {
	_, err := ParsePlatformTime("")
	assert.Error(t, err)

	_, err = ParsePlatformTime("not a timestamp")
	assert.Error(t, err)
}

func TestFormatTime(t *testing.T) {
	testTime := time.Date(2026, 1, 1, 12, 30, 45, 0, time.UTC)
	formatted := FormatTime(testTime)
	assert.Equal(t, "2026-01-01T12:30:45Z", formatted)
}

func TestFormatTime_ZeroValue(t *testing.T) {
	// Zero time should return empty string
	formatted := FormatTime(time.Time{})
	assert.Equal(t, "", formatted)
}

func TestFormatTime_NonUTC(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*60*60)
	testTime := time.Date(2026, 1, 1, 12, 30, 45, 0, loc)
	formatted := FormatTime(testTime)

	// Should be in UTC
	assert.Contains(t, formatted, "Z")

	parsed, err := time.Parse(time.RFC3339, formatted)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, parsed.Location())
}

func TestFormatTime_RoundTrip(t *testing.T) {
	original := time.Date(2026, 1, 1, 12, 30, 45, 0, time.UTC)
	formatted := FormatTime(original)
	parsed, err := ParseTime(formatted)
	require.NoError(t, err)
	assert.True(t, original.Equal(parsed))
}

func TestNow(t *testing.T) {
	before := time.Now().UTC()
	result := Now()
	after := time.Now().UTC()

	assert.True(t, result.After(before) || result.Equal(before))
	assert.True(t, result.Before(after) || result.Equal(after))
	assert.Equal(t, time.UTC, result.Location())
}

func TestTimeConstants(t *testing.T) {
	assert.Equal(t, time.RFC3339, TimeFormat)
	assert.Equal(t, time.RFC3339Nano, TimeFormatNano)
}
