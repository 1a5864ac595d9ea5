// Package apperr defines the error taxonomy shared by the engine and its
// transports. Every domain failure carries a Code; transports map codes to
// status codes without inspecting messages.
package apperr

import (
	"errors"
	"net/http"
)

type Code string

const (
	CodeValidation      Code = "VALIDATION_ERROR"
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeNotFound        Code = "NOT_FOUND"
	CodeExpired         Code = "EXPIRED"
	CodeConflict        Code = "CONFLICT"
	CodePaymentDeclined Code = "PAYMENT_DECLINED"
	CodeIdempotency     Code = "IDEMPOTENCY_KEY_REUSED"
	CodeInternal        Code = "INTERNAL_ERROR"
	CodeDependency      Code = "DEPENDENCY_ERROR"
)

type Metadata struct {
	HTTPStatus    int
	PublicMessage string
	// Expose marks codes whose message is safe to return to callers.
	Expose bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:      {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed", Expose: true},
	CodeUnauthorized:    {HTTPStatus: http.StatusUnauthorized, PublicMessage: "authentication required"},
	CodeForbidden:       {HTTPStatus: http.StatusForbidden, PublicMessage: "access denied", Expose: true},
	CodeNotFound:        {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found", Expose: true},
	CodeExpired:         {HTTPStatus: http.StatusGone, PublicMessage: "resource expired", Expose: true},
	CodeConflict:        {HTTPStatus: http.StatusConflict, PublicMessage: "conflict detected", Expose: true},
	CodePaymentDeclined: {HTTPStatus: http.StatusPaymentRequired, PublicMessage: "payment declined", Expose: true},
	CodeIdempotency:     {HTTPStatus: http.StatusConflict, PublicMessage: "idempotency key reused", Expose: true},
	CodeInternal:        {HTTPStatus: http.StatusInternalServerError, PublicMessage: "internal server error"},
	CodeDependency:      {HTTPStatus: http.StatusServiceUnavailable, PublicMessage: "dependency unavailable"},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	cause   error
	details any
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap attaches a code to err. The result unwraps to err, so sentinel
// comparisons against the cause keep working.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

// WithDetails returns a copy of e carrying details. Sentinels stay untouched.
func (e *Error) WithDetails(details any) *Error {
	cp := *e
	cp.details = details
	return &cp
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
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

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		if e.message == "" {
			return e.cause.Error()
		}
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var target *Error
	if errors.As(err, &target) {
		return target
	}
	return nil
}

// CodeOf reports the code of the outermost *Error in err's chain.
// Errors without one are internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if e := As(err); e != nil {
		return e.Code()
	}
	return CodeInternal
}

func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
