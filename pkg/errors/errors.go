// Package errors is the engine's error taxonomy. Every code carries the HTTP
// status it maps to and whether the caller, an API client or the processor
// redelivering a payment callback, should try the same request again.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
	CodeIntegrity     Code = "INTEGRITY_ERROR"
)

// Class groups codes by how an operator or a redelivering caller reacts.
type Class string

const (
	// ClassRejected covers input and lifecycle-state failures; repeating the
	// request cannot change the outcome.
	ClassRejected Class = "rejected"
	ClassSecurity Class = "security"
	// ClassDependency means Postgres, Redis or the processor was unreachable.
	ClassDependency Class = "dependency"
	// ClassIntegrity marks money or inventory that no longer reconciles and
	// needs a human.
	ClassIntegrity Class = "integrity"
	ClassInternal  Class = "internal"
)

type Metadata struct {
	HTTPStatus     int
	Class          Class
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:    {HTTPStatus: http.StatusBadRequest, Class: ClassRejected, PublicMessage: "validation failed", DetailsAllowed: true},
	CodeUnauthorized:  {HTTPStatus: http.StatusUnauthorized, Class: ClassSecurity, PublicMessage: "authentication required"},
	CodeForbidden:     {HTTPStatus: http.StatusForbidden, Class: ClassSecurity, PublicMessage: "access denied"},
	CodeNotFound:      {HTTPStatus: http.StatusNotFound, Class: ClassRejected, PublicMessage: "resource not found"},
	CodeConflict:      {HTTPStatus: http.StatusConflict, Class: ClassRejected, PublicMessage: "conflict detected"},
	CodeStateConflict: {HTTPStatus: http.StatusUnprocessableEntity, Class: ClassRejected, PublicMessage: "order state does not allow this", DetailsAllowed: true},
	CodeIdempotency:   {HTTPStatus: http.StatusConflict, Class: ClassRejected, PublicMessage: "idempotency key reused", DetailsAllowed: true},
	CodeInternal:      {HTTPStatus: http.StatusInternalServerError, Class: ClassInternal, Retryable: true, PublicMessage: "internal server error"},
	CodeDependency:    {HTTPStatus: http.StatusServiceUnavailable, Class: ClassDependency, Retryable: true, PublicMessage: "dependency unavailable", DetailsAllowed: true},
	CodeIntegrity:     {HTTPStatus: http.StatusInternalServerError, Class: ClassIntegrity, PublicMessage: "order requires manual review"},
}

// MetadataFor falls back to CodeInternal for codes it does not know.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is a coded failure. The message is written for operators; clients
// only see it for codes whose metadata allows details.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf treats untyped errors as CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if typed := As(err); typed != nil {
		return typed.Code()
	}
	return CodeInternal
}

func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

func ClassOf(err error) Class {
	if err == nil {
		return ""
	}
	return MetadataFor(CodeOf(err)).Class
}

// Retryable reports whether sending the same request again may succeed.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return MetadataFor(CodeOf(err)).Retryable
}
