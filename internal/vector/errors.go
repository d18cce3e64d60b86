package vector

import (
	"fmt"
)

// FetchError is returned when the outage API could not be reached or
// answered with a non-2xx status. StatusCode is 0 for transport failures.
type FetchError struct {
	ICP        string
	StatusCode int
	Body       string
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		if e.Body != "" {
			return fmt.Sprintf("fetch planned outages for ICP %s: unexpected status %d: %s", e.ICP, e.StatusCode, e.Body)
		}
		return fmt.Sprintf("fetch planned outages for ICP %s: unexpected status %d", e.ICP, e.StatusCode)
	}
	return fmt.Sprintf("fetch planned outages for ICP %s: %v", e.ICP, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ParseError represents a malformed response body or field
type ParseError struct {
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("parse %s (value: %q): %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
