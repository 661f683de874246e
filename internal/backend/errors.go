package backend

import "fmt"

// StartRejectedError reports that the backend refused to start a
// generation run (quota exceeded, feature disabled, permissions). No
// job exists and observation must not begin.
type StartRejectedError struct {
	StatusCode int
	Reason     string
}

func (e *StartRejectedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("generation rejected by backend (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("generation rejected by backend (status %d): %s", e.StatusCode, e.Reason)
}

// TransportError wraps a network or server failure on a request. It is
// never job state: a failed poll leaves the projection untouched and is
// retried on the next tick.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
