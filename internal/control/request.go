package control

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Request is one parsed command request. Only the "command" field has
// fixed meaning; everything else is command-specific and read through
// the typed accessors.
type Request map[string]any

// ParseRequest decodes one line of UTF-8 JSON into a Request.
func ParseRequest(line []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, err
	}
	return req, nil
}

// Command returns the command name, or false when the field is missing
// or not a string.
func (r Request) Command() (string, bool) {
	s, ok := r["command"].(string)
	return s, ok
}

// String returns a required string field.
func (r Request) String(key string) (string, error) {
	v, ok := r[key]
	if !ok {
		return "", fmt.Errorf("missing required %q parameter", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%q parameter must be a string, got %T", key, v)
	}
	return s, nil
}

// Int returns a required integer field. JSON numbers arrive as float64;
// decimal strings are accepted too, since clients disagree on how to
// send pids.
func (r Request) Int(key string) (int, error) {
	v, ok := r[key]
	if !ok {
		return 0, fmt.Errorf("missing required %q parameter", key)
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("%q parameter is not an integer: %q", key, n)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("%q parameter must be an integer, got %T", key, v)
	}
}
