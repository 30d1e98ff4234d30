package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestJSONTimeTolerantParsing(t *testing.T) {
	testCases := []struct {
		name  string
		input string
	}{
		{"nanosecond precision", `"2026-08-30T10:15:30.123456789Z"`},
		{"millisecond precision", `"2026-08-30T10:15:30.123Z"`},
		{"second precision", `"2026-08-30T10:15:30Z"`},
		{"with offset", `"2026-08-30T10:15:30+10:00"`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var jt JSONTime
			if err := json.Unmarshal([]byte(tc.input), &jt); err != nil {
				t.Fatalf("Unmarshal(%s) error = %v", tc.input, err)
			}
			if jt.IsZero() {
				t.Errorf("Unmarshal(%s) produced a zero time", tc.input)
			}
		})
	}

	var jt JSONTime
	if err := json.Unmarshal([]byte(`"yesterday at noon"`), &jt); err == nil {
		t.Error("unparseable timestamp should be rejected")
	}
	if err := json.Unmarshal([]byte(`null`), &jt); err != nil {
		t.Errorf("null should decode as the zero time, got %v", err)
	}
}

func TestMessageSentAtWireFormat(t *testing.T) {
	msg := validTextMessage()
	msg.SentAt = JSONTime(time.Date(2026, 8, 30, 10, 15, 30, 0, time.UTC))

	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !decoded.SentAt.Time().Equal(msg.SentAt.Time()) {
		t.Errorf("sentAt did not survive the wire: %v vs %v", decoded.SentAt.Time(), msg.SentAt.Time())
	}

	// A peer emitting lower precision still decodes into the same instant.
	var lowPrecision Message
	truncated := []byte(`{"id":"x","sentAt":"2026-08-30T10:15:30Z"}`)
	if err := json.Unmarshal(truncated, &lowPrecision); err != nil {
		t.Fatalf("Unmarshal(truncated) error = %v", err)
	}
	if !lowPrecision.SentAt.Time().Equal(msg.SentAt.Time()) {
		t.Errorf("low-precision peer timestamp decoded to %v, want %v", lowPrecision.SentAt.Time(), msg.SentAt.Time())
	}
}

func TestJSONTimeScanAndValue(t *testing.T) {
	now := time.Now()

	var jt JSONTime
	if err := jt.Scan(now); err != nil {
		t.Fatalf("Scan(time.Time) error = %v", err)
	}
	if !jt.Time().Equal(now) {
		t.Errorf("Scan() stored %v, want %v", jt.Time(), now)
	}

	v, err := jt.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	if got, ok := v.(time.Time); !ok || !got.Equal(now) {
		t.Errorf("Value() = %v, want the original time", v)
	}

	if err := jt.Scan("not a time"); err == nil {
		t.Error("Scan of an unsupported type should fail")
	}
	if err := jt.Scan(nil); err != nil {
		t.Errorf("Scan(nil) should yield the zero time, got %v", err)
	}

	if !JSONTime(now.Add(-time.Hour)).Before(JSONTime(now)) {
		t.Error("Before() should order chronologically")
	}
}
