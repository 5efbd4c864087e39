package delivery

import (
	"errors"
	"fmt"
)

// ErrStatus matches every *StatusError with errors.Is.
var ErrStatus = errors.New("delivery: unexpected status")

// StatusError is returned when an inbox answers with a non-2xx status.
type StatusError struct {
	Inbox string
	Code  int
	// Body is the start of the response body, for logs.
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("delivery: %s returned http=%d", e.Inbox, e.Code)
	}
	return fmt.Sprintf("delivery: %s returned http=%d: %s", e.Inbox, e.Code, e.Body)
}

func (e *StatusError) Is(target error) bool { return target == ErrStatus }
