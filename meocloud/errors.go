package meocloud

import (
	"errors"
	"fmt"
)

// ErrInvalidPath is returned before any network call when a path is not
// absolute or ends with a slash.
var ErrInvalidPath = errors.New("invalid path")

// APIError reports an unexpected HTTP status from the storage API.
type APIError struct {
	Op         string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("meocloud: %s %s: status %d: %s", e.Op, e.Path, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("meocloud: %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}
