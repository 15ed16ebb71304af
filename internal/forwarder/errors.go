package forwarder

import (
	"errors"
	"fmt"
)

// ErrorKind classifies outbound call failures
type ErrorKind string

const (
	KindNetwork ErrorKind = "network" // no response received
	KindRemote  ErrorKind = "remote"  // response received with non-success status
	KindUnknown ErrorKind = "unknown"
)

// NetworkError is returned when the request produced no response
// (dial failure, timeout, connection reset).
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// RemoteError is returned when the API answered with a non-2xx status
type RemoteError struct {
	Op         string
	StatusCode int
	Message    string // "message" field of a JSON error body, if any
	Body       []byte // raw response payload
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: remote error: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: remote error: status %d", e.Op, e.StatusCode)
}

// Kind returns the classification of an error returned by Client
func Kind(err error) ErrorKind {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		return KindRemote
	}
	return KindUnknown
}

// ResponseBody returns the downstream payload attached to a RemoteError, if any
func ResponseBody(err error) []byte {
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		return remoteErr.Body
	}
	return nil
}
