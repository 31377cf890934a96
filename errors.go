package httpbridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ConfigError reports an unusable option value. It is returned synchronously
// at client-build time and is never retryable.
type ConfigError struct {
	Option string
	Value  interface{}
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("httpbridge: invalid %q option value %v: %s", e.Option, e.Value, e.Reason)
}

// ConnectError reports a failure to reach the target: dial errors, TLS
// handshake failures, DNS failures and transfer timeouts all surface as a
// ConnectError so existing caller error handling keeps working.
type ConnectError struct {
	URL     string
	timeout bool
	Err     error
}

func (e *ConnectError) Error() string {
	if e.timeout {
		return fmt.Sprintf("httpbridge: connect to %s failed: timeout: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("httpbridge: connect to %s failed: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a timeout.
func (e *ConnectError) Timeout() bool { return e.timeout }

// RequestError reports a protocol-level failure after a connection was
// established.
type RequestError struct {
	URL string
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("httpbridge: request to %s failed: %v", e.URL, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// translateError re-expresses a transport error in the bridge's error
// vocabulary. Errors translated once are returned unchanged, and caller
// cancellation passes through untouched.
func translateError(rawurl string, err error) error {
	var (
		ce *ConnectError
		re *RequestError
	)
	if errors.As(err, &ce) || errors.As(err, &re) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	// Strip the url.Error envelope added by http.Client so the cause is
	// wrapped exactly once.
	var ue *url.Error
	if errors.As(err, &ue) {
		err = ue.Err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &ConnectError{URL: rawurl, timeout: true, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &ConnectError{URL: rawurl, timeout: true, Err: err}
	}
	// Anything else the transport hands back before a response exists is a
	// failure to connect in the caller's vocabulary: DNS errors, TLS
	// handshake and verification failures included.
	return &ConnectError{URL: rawurl, Err: err}
}
