package model

import "errors"

// ErrorKind is a stable tag for a user-visible failure.
type ErrorKind string

const (
	ErrSourceUnreachable ErrorKind = "source_unreachable"
	ErrSchemaMapping     ErrorKind = "schema_mapping"
	ErrProvisioning      ErrorKind = "provisioning"
	ErrTransfer          ErrorKind = "transfer"
	ErrRouting           ErrorKind = "routing"
	ErrQuery             ErrorKind = "query"
)

// Error is a failure reported to callers as data instead of being
// propagated. Batch consumers read Kind and Message and move on.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

// NewError wraps err with a kind. A nil err yields nil.
func NewError(kind ErrorKind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: err.Error(), Err: err}
}

// Errorf builds an Error from a plain message.
func Errorf(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
