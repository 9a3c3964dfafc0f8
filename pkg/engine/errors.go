package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrStreamClosed is returned by Next after Close
	ErrStreamClosed = errors.New("event stream closed")
)

// ConnectError reports a failure to open an engine connection
type ConnectError struct {
	Host string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to engine at %s: %v", e.Host, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}
