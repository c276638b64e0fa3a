package parsers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromFILETIME(t *testing.T) {
	// 2020-01-01T00:00:00Z in 100-ns intervals since 1601-01-01.
	const v = uint64(132223104000000000)
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), FromFILETIME(v))
	assert.True(t, FromFILETIME(0).IsZero())
}

func TestFromWebKit(t *testing.T) {
	// 2020-01-01T00:00:00Z in microseconds since 1601-01-01.
	const v = uint64(13222310400000000)
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), FromWebKit(v))
	assert.True(t, FromWebKit(0).IsZero())
}

func TestParseTimestampLayouts(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2026-01-15T10:30:00Z", time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"2026-01-15T10:30:00.123456789Z", time.Date(2026, 1, 15, 10, 30, 0, 123456789, time.UTC)},
		{"2026-01-15 10:30:00", time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"15/Jan/2026:10:30:00 +0000", time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := parseTimestamp(tc.in)
			assert.True(t, ok)
			assert.True(t, got.Equal(tc.want), "got %s", got)
		})
	}
}

func TestParseTimestampYearlessAssumesRecent(t *testing.T) {
	got, ok := parseTimestamp("Jan 15 10:30:00")
	assert.True(t, ok)
	assert.False(t, got.IsZero())
	now := time.Now().UTC()
	assert.False(t, got.After(now.AddDate(0, 0, 1)), "yearless timestamps never land in the future")
	assert.True(t, got.After(now.AddDate(-1, 0, -2)))
}

func TestParseTimestampRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "yesterday", "13/13/2026"} {
		_, ok := parseTimestamp(in)
		assert.False(t, ok, "input %q", in)
	}
}
