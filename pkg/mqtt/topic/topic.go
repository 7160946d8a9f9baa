// Package topic validates and matches MQTT topic names and subscription
// filters.
package topic

import (
	"fmt"
	"strings"
)

// maxLength is the longest topic MQTT can carry in a length-prefixed field.
const maxLength = 65535

// Validate checks a topic name for publishing. Names must be non-empty,
// free of wildcards and NUL, and short enough to encode.
func Validate(name string) error {
	if name == "" {
		return fmt.Errorf("topic must not be empty")
	}
	if len(name) > maxLength {
		return fmt.Errorf("topic exceeds %d bytes", maxLength)
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("topic must not contain NUL")
	}
	if strings.Contains(name, Wildcard) || strings.Contains(name, MultiWildcard) {
		return fmt.Errorf("topic %q must not contain wildcards", name)
	}
	return nil
}

// ValidateFilter checks a subscription filter. Filters follow the same
// basic rules as names, but may use "+" for exactly one level and "#" as
// the final level.
func ValidateFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("topic filter must not be empty")
	}
	if len(filter) > maxLength {
		return fmt.Errorf("topic filter exceeds %d bytes", maxLength)
	}
	if strings.ContainsRune(filter, 0) {
		return fmt.Errorf("topic filter must not contain NUL")
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == Wildcard:
			// single-level wildcard is legal anywhere
		case level == MultiWildcard:
			if i != len(levels)-1 {
				return fmt.Errorf("%q may only appear as the final level", MultiWildcard)
			}
		case strings.Contains(level, Wildcard):
			return fmt.Errorf("%q must occupy a whole level", Wildcard)
		case strings.Contains(level, MultiWildcard):
			return fmt.Errorf("%q must occupy a whole level", MultiWildcard)
		}
	}
	return nil
}

// Match reports whether a concrete topic name matches a subscription
// filter, honoring the "+" and "#" wildcards.
func Match(filter, name string) bool {
	if filter == name {
		return true
	}
	if !strings.Contains(filter, Wildcard) && !strings.Contains(filter, MultiWildcard) {
		return false
	}

	filterLevels := strings.Split(filter, "/")
	nameLevels := strings.Split(name, "/")

	for i, level := range filterLevels {
		if level == MultiWildcard {
			return true
		}
		if i >= len(nameLevels) {
			return false
		}
		if level != Wildcard && level != nameLevels[i] {
			return false
		}
	}
	return len(filterLevels) == len(nameLevels)
}
