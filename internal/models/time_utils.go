package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

const RFC3339Milli = "2006-01-02T15:04:05.000Z"

// JSONTime is the wire timestamp type. Every client renders timestamps it
// did not produce, so marshaling is pinned to one format and unmarshaling
// tolerates the precision variants real clients emit.
type JSONTime time.Time

func (jt JSONTime) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("\"%s\"", time.Time(jt).UTC().Format(time.RFC3339Nano))), nil
}

func (jt *JSONTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), "\"")
	if s == "null" || s == "" {
		*jt = JSONTime(time.Time{})
		return nil
	}

	formats := []string{
		time.RFC3339Nano,
		RFC3339Milli,
		"2006-01-02T15:04:05Z",
		time.RFC3339,
	}

	var t time.Time
	var err error

	for _, format := range formats {
		t, err = time.Parse(format, s)
		if err == nil {
			*jt = JSONTime(t)
			return nil
		}
	}
	return fmt.Errorf("JSONTime.UnmarshalJSON: failed to parse time string '%s' with known formats: %w", s, err)
}

// Scan lets pgx read a timestamptz column into a JSONTime field.
func (jt *JSONTime) Scan(src interface{}) error {
	switch v := src.(type) {
	case time.Time:
		*jt = JSONTime(v)
		return nil
	case nil:
		*jt = JSONTime(time.Time{})
		return nil
	default:
		return fmt.Errorf("JSONTime.Scan: unsupported source type %T", src)
	}
}

// Value lets pgx write a JSONTime field as a timestamptz parameter.
func (jt JSONTime) Value() (driver.Value, error) {
	return time.Time(jt), nil
}

func (jt JSONTime) Time() time.Time {
	return time.Time(jt)
}

func (jt JSONTime) IsZero() bool {
	return time.Time(jt).IsZero()
}

// Before reports whether jt is chronologically before other.
func (jt JSONTime) Before(other JSONTime) bool {
	return time.Time(jt).Before(time.Time(other))
}
