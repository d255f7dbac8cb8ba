// Package errors carries typed error codes from services to the HTTP layer,
// where each code maps to a status and a public message.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConflict           Code = "CONFLICT"
	CodeInvalidTransition  Code = "INVALID_STATE_TRANSITION"
	CodeUnknownTransaction Code = "UNKNOWN_TRANSACTION"
	CodeStateConflict      Code = "STATE_CONFLICT"
	CodeIdempotency        Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit          Code = "RATE_LIMIT_EXCEEDED"
	CodeGateway            Code = "GATEWAY_ERROR"
	CodeInternal           Code = "INTERNAL_ERROR"
	CodeDependency         Code = "DEPENDENCY_ERROR"
)

// Metadata describes how a code is surfaced over HTTP.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
	// ExposeMessage lets the error's own message replace PublicMessage.
	ExposeMessage bool
}

type surface uint8

const (
	exposeMessage surface = 1 << iota
	exposeDetails
	retryable
)

func describe(status int, public string, flags surface) Metadata {
	return Metadata{
		HTTPStatus:     status,
		PublicMessage:  public,
		Retryable:      flags&retryable != 0,
		DetailsAllowed: flags&exposeDetails != 0,
		ExposeMessage:  flags&exposeMessage != 0,
	}
}

// Client-facing codes echo their message; server-side codes only ever show
// the public text.
var metadataByCode = map[Code]Metadata{
	CodeValidation:         describe(http.StatusBadRequest, "validation failed", exposeMessage|exposeDetails),
	CodeUnauthorized:       describe(http.StatusUnauthorized, "authentication required", exposeMessage),
	CodeForbidden:          describe(http.StatusForbidden, "access denied", exposeMessage),
	CodeNotFound:           describe(http.StatusNotFound, "resource not found", exposeMessage),
	CodeConflict:           describe(http.StatusConflict, "conflict detected", exposeMessage|exposeDetails),
	CodeInvalidTransition:  describe(http.StatusConflict, "invalid order status transition", exposeMessage|exposeDetails),
	CodeUnknownTransaction: describe(http.StatusNotFound, "unknown transaction", exposeMessage),
	CodeStateConflict:      describe(http.StatusUnprocessableEntity, "state transition disallowed", exposeMessage|exposeDetails),
	CodeIdempotency:        describe(http.StatusConflict, "idempotency key reused", exposeMessage|exposeDetails),
	CodeRateLimit:          describe(http.StatusTooManyRequests, "rate limit exceeded", exposeMessage),
	CodeGateway:            describe(http.StatusBadGateway, "payment gateway unavailable", retryable),
	CodeInternal:           describe(http.StatusInternalServerError, "internal server error", retryable),
	CodeDependency:         describe(http.StatusServiceUnavailable, "dependency unavailable", retryable|exposeDetails),
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

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

// Code is CodeInternal for a nil receiver so callers can chain on As.
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

// WithDetails attaches client-visible details; they are rendered only for
// codes whose metadata allows it.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause == nil:
		return string(e.code) + ": " + e.message
	default:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the first typed error in the chain, or nil.
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

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}

// IsRetryable reports whether callers may retry the failed operation.
func IsRetryable(err error) bool {
	typed := As(err)
	if typed == nil {
		return false
	}
	return MetadataFor(typed.Code()).Retryable
}
