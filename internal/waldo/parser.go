package waldo

import (
	"regexp"
	"time"
)

// switchPattern matches the synergy server log line written when the
// pointer moves to another screen:
//
//	INFO: switch from "alpha-1" to "beta-2" at 1187,604
//
// The capture stops at the first hyphen, which trims the numeric suffix
// synergy screen names carry. Names without a hyphen capture through the
// rest of the line.
var switchPattern = regexp.MustCompile(`to "([^-]+)`)

// ParseSwitch extracts the destination desktop name from one log line.
// The second return is false for lines that are not switch events.
func ParseSwitch(line string) (string, bool) {
	m := switchPattern.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}

	return m[1], true
}

// Event is the JSON document published for every screen switch.
type Event struct {
	CurrentDesktop string `json:"current_desktop"`
	Timestamp      string `json:"timestamp"`
}

// NewEvent stamps a switch to the named desktop with the current time.
func NewEvent(desktop string) Event {
	return Event{
		CurrentDesktop: desktop,
		Timestamp:      time.Now().Format(time.RFC3339Nano),
	}
}
