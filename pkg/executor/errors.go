package executor

import "fmt"

// Kind classifies executor failures. The loop switches on the kind rather
// than matching error strings.
type Kind string

const (
	KindInvalidInput         Kind = "invalid_input"
	KindModelTransport       Kind = "model_transport"
	KindModelShape           Kind = "model_shape"
	KindToolNotFound         Kind = "tool_not_found"
	KindToolArgumentError    Kind = "tool_argument_error"
	KindToolTransport        Kind = "tool_transport"
	KindToolTimeout          Kind = "tool_timeout"
	KindSensitiveLookupMiss  Kind = "sensitive_lookup_miss"
	KindPersistenceTransient Kind = "persistence_transient"
	KindCancelled            Kind = "cancelled"
	KindInternal             Kind = "internal"
)

// Error is the executor's typed error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("executor: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("executor: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}
