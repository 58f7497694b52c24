package enhance

import (
	"errors"
	"fmt"
)

// ErrEmptyFile is returned before any request is made when the upload has no bytes.
var ErrEmptyFile = errors.New("empty file")

// NetworkError reports a request that never produced an HTTP response:
// connection failure, timeout or cancellation.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServiceError reports a response the client cannot use: a non-2xx status or
// a body without a usable artifact reference.
type ServiceError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: service returned %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// IsRequestFailure reports whether err came from talking to the service, as
// opposed to local validation.
func IsRequestFailure(err error) bool {
	var ne *NetworkError
	var se *ServiceError
	return errors.As(err, &ne) || errors.As(err, &se)
}
