package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/corrharness/internal/canonical"
)

// marshalStrings converts a string list to canonical JSON TEXT.
func marshalStrings(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	data, err := canonical.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("marshal list: %w", err)
	}
	return string(data), nil
}

// unmarshalStrings parses a JSON TEXT column. Empty input yields an empty
// list, never nil.
func unmarshalStrings(data string) ([]string, error) {
	list := []string{}
	if data == "" {
		return list, nil
	}
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return nil, fmt.Errorf("unmarshal list: %w", err)
	}
	if list == nil {
		list = []string{}
	}
	return list, nil
}

// Timestamps are stored as Unix milliseconds.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
