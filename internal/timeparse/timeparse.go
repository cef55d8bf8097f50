// Package timeparse normalizes the timestamp encodings emitted by the
// integrated tools into epoch milliseconds.
package timeparse

import (
	"strconv"
	"strings"
	"time"
)

var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ToMillis parses a timestamp string into epoch milliseconds. Accepted
// encodings: RFC3339 with or without fractional seconds, the space-separated
// database form with or without a zone offset, and numeric epoch values in
// seconds, milliseconds or microseconds. The second return value is false
// when the input matches none of them; callers degrade to "timestamp
// unknown" rather than failing the message.
func ToMillis(raw string) (int64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return epochToMillis(n), true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		// Fractional epoch seconds.
		return int64(f * 1000), true
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}

// FromValue normalizes a timestamp field pulled out of an opaque row map,
// where JSON decoding yields either a string or a float64.
func FromValue(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case string:
		return ToMillis(t)
	case float64:
		return epochToMillis(int64(t)), true
	case int64:
		return epochToMillis(t), true
	default:
		return 0, false
	}
}

// epochToMillis guesses the unit of a bare epoch number by magnitude.
// Values through 9999-12-31 in seconds are below 1e11; milliseconds below
// 1e14; anything larger is treated as microseconds.
func epochToMillis(n int64) int64 {
	switch {
	case n < 1e11:
		return n * 1000
	case n < 1e14:
		return n
	default:
		return n / 1000
	}
}
