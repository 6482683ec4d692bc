package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// StatusCode maps the error code onto an HTTP status.
func (e *AppError) StatusCode() int {
	switch e.Code {
	case ErrValidation, ErrDuplicateEmail, ErrTokenInvalid:
		return http.StatusBadRequest
	case ErrInvalidCredentials, ErrUnauthenticated, ErrTokenExpired:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrValidation
	ErrUnauthenticated
	ErrForbidden
	ErrInternal
	ErrDuplicateEmail
	ErrInvalidCredentials
	ErrTokenInvalid
	ErrTokenExpired
)

func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

// Validation reports input that failed a domain or format check.
func Validation(message string, err error) *AppError {
	return &AppError{
		Code:    ErrValidation,
		Message: message,
		Err:     err,
	}
}

func Internal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

func Unauthenticated(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthenticated,
		Message: "not authenticated",
		Err:     err,
	}
}

func Forbidden(message string) *AppError {
	if message == "" {
		message = "access denied"
	}
	return &AppError{
		Code:    ErrForbidden,
		Message: message,
	}
}

func DuplicateEmail(err error) *AppError {
	return &AppError{
		Code:    ErrDuplicateEmail,
		Message: "Email already registered",
		Err:     err,
	}
}

// InvalidCredentials is returned for both unknown emails and wrong passwords.
func InvalidCredentials() *AppError {
	return &AppError{
		Code:    ErrInvalidCredentials,
		Message: "Invalid credentials",
	}
}

func TokenInvalid(message string, err error) *AppError {
	return &AppError{
		Code:    ErrTokenInvalid,
		Message: message,
		Err:     err,
	}
}

func TokenExpired(err error) *AppError {
	return &AppError{
		Code:    ErrTokenExpired,
		Message: "token has expired",
		Err:     err,
	}
}

// Code returns the code of the first AppError in err's chain, or 0.
func Code(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return 0
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return Code(err) == code
}

// InternalMessage is Internal with a client-facing message.
func InternalMessage(message string, err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: message,
		Err:     err,
	}
}
