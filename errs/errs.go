// Package errs provides structured error types shared across the ordersync services.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies a failure category in the order-sync and payment core.
type Code string

const (
	// CodeConnectionTimeout indicates the websocket handshake did not complete in time.
	CodeConnectionTimeout Code = "connection_timeout"
	// CodeConnectionInProgress indicates a connect was requested while one was already in flight.
	CodeConnectionInProgress Code = "connection_in_progress"
	// CodeConnectionExhausted indicates reconnection gave up after the attempt limit.
	CodeConnectionExhausted Code = "connection_exhausted"
	// CodeParse indicates a transport payload matched no known message shape.
	CodeParse Code = "parse"
	// CodePopupBlocked indicates the payment confirmation surface could not be opened.
	CodePopupBlocked Code = "popup_blocked"
	// CodeStatusFetch indicates the payment tracking endpoint could not be queried.
	CodeStatusFetch Code = "status_fetch"
	// CodeUnknownStatus indicates an order status string outside the closed set.
	CodeUnknownStatus Code = "unknown_status"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeUnavailable indicates a collaborator is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across the ordersync stack.
type E struct {
	Component string
	Code      Code
	HTTP      int
	Tenant    string
	Message   string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the component and error code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Component: strings.TrimSpace(component),
		Code:      code,
		HTTP:      0,
		Tenant:    "",
		Message:   "",
		cause:     nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithTenant records the restaurant the failure belongs to.
func WithTenant(tenant string) Option {
	trimmed := strings.TrimSpace(tenant)
	return func(e *E) {
		e.Tenant = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	component := strings.TrimSpace(e.Component)
	if component == "" {
		component = "unknown"
	}
	parts = append(parts, "component="+component)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Tenant != "" {
		parts = append(parts, "tenant="+e.Tenant)
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the failure code from err, or empty when err carries none.
func CodeOf(err error) Code {
	var e *E
	if errors.As(err, &e) && e != nil {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given failure code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
