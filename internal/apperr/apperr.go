// Package apperr defines the single error type that crosses every boundary
// of the servicenow client, so internal packages (transport, schema, coerce,
// reconcilers) and the root package can raise and inspect the same error
// shape without an import cycle back to the root package.
package apperr

import "fmt"

// Kind classifies the failure modes the client can surface. The source
// library threw string literals for all errors; Kind replaces that with a
// closed set callers can switch on.
type Kind string

const (
	Configuration     Kind = "configuration"
	RequestValidation Kind = "request_validation"
	Transport         Kind = "transport"
	Protocol          Kind = "protocol"
	Schema            Kind = "schema"
	Coercion          Kind = "coercion"
	Plan              Kind = "plan"
	Quota             Kind = "quota"
	Operational       Kind = "operational"
)

// Error is the single error type returned across the whole module.
type Error struct {
	Kind    Kind
	Message string
	Context map[string]interface{}
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, &apperr.Error{Kind: apperr.Transport}) match on
// Kind alone, ignoring Message/Context/Cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Kind == "" {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an *Error, attaching context key/value pairs supplied as
// key1, val1, key2, val2, ... Non-string keys are dropped.
func New(kind Kind, message string, cause error, kv ...interface{}) *Error {
	e := &Error{Kind: kind, Message: message, Cause: cause}
	if len(kv) > 0 {
		e.Context = make(map[string]interface{}, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			key, ok := kv[i].(string)
			if !ok {
				continue
			}
			e.Context[key] = kv[i+1]
		}
	}
	return e
}

func Configurationf(msg string, kv ...interface{}) *Error {
	return New(Configuration, msg, nil, kv...)
}

func RequestValidationf(msg string, kv ...interface{}) *Error {
	return New(RequestValidation, msg, nil, kv...)
}

func Transportf(msg string, cause error, kv ...interface{}) *Error {
	return New(Transport, msg, cause, kv...)
}

func Protocolf(msg string, kv ...interface{}) *Error {
	return New(Protocol, msg, nil, kv...)
}

func Schemaf(msg string, kv ...interface{}) *Error {
	return New(Schema, msg, nil, kv...)
}

func Coercionf(msg string, kv ...interface{}) *Error {
	return New(Coercion, msg, nil, kv...)
}

func Planf(msg string, kv ...interface{}) *Error {
	return New(Plan, msg, nil, kv...)
}

func Quotaf(msg string, kv ...interface{}) *Error {
	return New(Quota, msg, nil, kv...)
}

func Operationalf(msg string, kv ...interface{}) *Error {
	return New(Operational, msg, nil, kv...)
}
