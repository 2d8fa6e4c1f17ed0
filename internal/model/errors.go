package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies proxy failures.
type ErrorKind int

const (
	// MalformedSoapMessage means the inbound body is not a SOAP envelope.
	MalformedSoapMessage ErrorKind = iota + 1
	// NoDestination means neither the addressing header nor HTTP headers
	// yielded a usable target.
	NoDestination
	// TransportFailure covers connection, timeout and stream faults while forwarding.
	TransportFailure
)

func (k ErrorKind) String() string {
	switch k {
	case MalformedSoapMessage:
		return "malformed_soap_message"
	case NoDestination:
		return "no_destination"
	case TransportFailure:
		return "transport_failure"
	default:
		return "unknown"
	}
}

// ProxyError is a failure of the proxy itself. Upstream non-2xx answers are
// never reported as ProxyError.
type ProxyError struct {
	Kind        ErrorKind
	Message     string
	Destination string // empty when not resolved yet
	Timeout     bool
	Cause       error
}

func (e *ProxyError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ProxyError) Unwrap() error {
	return e.Cause
}

// NewProxyError creates a ProxyError of the given kind.
func NewProxyError(kind ErrorKind, message string, cause error) *ProxyError {
	return &ProxyError{
		Kind:    kind,
		Message: message,
		Cause:   cause,
	}
}

// KindOf returns the ErrorKind carried by err, or zero if err is not a ProxyError.
func KindOf(err error) ErrorKind {
	var pe *ProxyError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}
