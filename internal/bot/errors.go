package bot

import "fmt"

// Middleware phases.
const (
	PhaseIncoming = "incoming"
	PhaseOutgoing = "outgoing"
)

// ValidationError reports a bad argument shape: a builder conflict,
// too many button titles, an unrecognized cascade descriptor, a
// missing recipient. Always detected before any I/O.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func newValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ConfigurationError reports a message that uses a feature the bot's
// capability descriptor does not declare.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return e.Reason
}

func newConfigurationError(reason string) *ConfigurationError {
	return &ConfigurationError{Reason: reason}
}

// MiddlewareError tags a handler failure with its phase and middleware
// name. The message is the cause's message verbatim so downstream code
// can inspect it without the tag getting in the way; match the type
// with errors.As to branch on origin.
type MiddlewareError struct {
	Phase string
	Name  string
	Err   error
}

func (e *MiddlewareError) Error() string {
	return e.Err.Error()
}

func (e *MiddlewareError) Unwrap() error {
	return e.Err
}

// TransportError tags a failed platform call. The cause passes through
// unchanged.
type TransportError struct {
	Platform string
	Err      error
}

func (e *TransportError) Error() string {
	return e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
