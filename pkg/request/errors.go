package request

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// TimeoutError reports that a request exceeded the configured timeout.
// It is distinct from TransportError so callers can tell a slow server from
// an unreachable one.
type TimeoutError struct {
	URL     string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request to %s timed out after %s", e.URL, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// TransportError reports a network-level failure: DNS resolution,
// connection refused, broken transport. HTTP error statuses are not
// transport errors; they come back as ordinary Results.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("cannot reach %s: %v (check that the server is running and the URL is correct)", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// classifyError wraps a transport-level failure from the HTTP client as
// either a TimeoutError or a TransportError.
func classifyError(url string, timeout time.Duration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{URL: url, Timeout: timeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{URL: url, Timeout: timeout, Err: err}
	}
	return &TransportError{URL: url, Err: err}
}
