package timeparse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMillis(t *testing.T) {
	ref := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input string
		want  int64
	}{
		{"rfc3339", "2024-03-15T10:30:00Z", ref.UnixMilli()},
		{"rfc3339 nano", "2024-03-15T10:30:00.250Z", ref.UnixMilli() + 250},
		{"rfc3339 offset", "2024-03-15T12:30:00+02:00", ref.UnixMilli()},
		{"database form", "2024-03-15 10:30:00", ref.UnixMilli()},
		{"database form fractional", "2024-03-15 10:30:00.5", ref.UnixMilli() + 500},
		{"no zone", "2024-03-15T10:30:00", ref.UnixMilli()},
		{"epoch seconds", "1710498600", ref.UnixMilli()},
		{"epoch millis", "1710498600000", ref.UnixMilli()},
		{"epoch micros", "1710498600000000", ref.UnixMilli()},
		{"fractional epoch seconds", "1710498600.25", ref.UnixMilli() + 250},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToMillis(tt.input)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToMillisUnparseable(t *testing.T) {
	for _, input := range []string{"", "   ", "not-a-time", "15/03/2024"} {
		_, ok := ToMillis(input)
		assert.False(t, ok, "input %q", input)
	}
}

func TestFromValue(t *testing.T) {
	ms, ok := FromValue("2024-03-15T10:30:00Z")
	require.True(t, ok)
	assert.Equal(t, int64(1710498600000), ms)

	// JSON numbers decode as float64.
	ms, ok = FromValue(float64(1710498600))
	require.True(t, ok)
	assert.Equal(t, int64(1710498600000), ms)

	_, ok = FromValue(nil)
	assert.False(t, ok)

	_, ok = FromValue([]string{"x"})
	assert.False(t, ok)
}
