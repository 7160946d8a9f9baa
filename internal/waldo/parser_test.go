package waldo

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseSwitch(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
		ok   bool
	}{
		{
			name: "switch event",
			line: `[2026-08-21T10:12:01] INFO: switch from "alpha-1" to "beta-2" at 1187,604`,
			want: "beta",
			ok:   true,
		},
		{
			name: "hyphen trims numeric suffix",
			line: `INFO: switch from "desk-3" to "office-12" at 4,2`,
			want: "office",
			ok:   true,
		},
		{
			name: "unhyphenated name captures through end of line",
			line: `INFO: switch from "alpha" to "beta" at 1187`,
			want: `beta" at 1187`,
			ok:   true,
		},
		{
			name: "name starting with hyphen never matches",
			line: `INFO: switch to "-1"`,
			ok:   false,
		},
		{
			name: "unrelated info line",
			line: "INFO: connected to server",
			ok:   false,
		},
		{
			name: "empty line",
			line: "",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseSwitch(tt.line)
			if ok != tt.ok {
				t.Fatalf("ParseSwitch(%q) ok = %v, want %v", tt.line, ok, tt.ok)
			}
			if got != tt.want {
				t.Fatalf("ParseSwitch(%q) = %q, want %q", tt.line, got, tt.want)
			}
		})
	}
}

func TestNewEventShape(t *testing.T) {
	before := time.Now()
	event := NewEvent("office")

	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got map[string]string
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("event has %d fields, want 2: %v", len(got), got)
	}
	if got["current_desktop"] != "office" {
		t.Fatalf("current_desktop = %q, want %q", got["current_desktop"], "office")
	}

	stamp, err := time.Parse(time.RFC3339Nano, got["timestamp"])
	if err != nil {
		t.Fatalf("timestamp %q is not RFC3339Nano: %v", got["timestamp"], err)
	}
	if stamp.Before(before.Add(-time.Second)) || stamp.After(time.Now().Add(time.Second)) {
		t.Fatalf("timestamp %v is not current", stamp)
	}
}
