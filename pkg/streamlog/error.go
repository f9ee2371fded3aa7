package streamlog

import "fmt"

// TransportError wraps a backend failure so callers can distinguish log
// transport faults from domain errors.
type TransportError struct {
	Op  string
	Err error
}

func (e TransportError) Error() string {
	return fmt.Sprintf("stream log %s: %v", e.Op, e.Err)
}

func (e TransportError) Unwrap() error {
	return e.Err
}
