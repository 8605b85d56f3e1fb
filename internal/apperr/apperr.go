package apperr

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers that branch on failure kind.
type Code string

const (
	CodeInvalidArgument     Code = "INVALID_ARGUMENT"
	CodeMalformedIdentifier Code = "MALFORMED_IDENTIFIER"
	CodeInsufficientFunds   Code = "INSUFFICIENT_FUNDS"
	CodeUserRejected        Code = "USER_REJECTED_SIGNING"
	CodeRemoteCallFailed    Code = "REMOTE_CALL_FAILED"
	CodeNotFound            Code = "NOT_FOUND"
	CodeInternal            Code = "INTERNAL"
)

// AppError carries a classification code alongside a user-presentable message.
type AppError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches two AppErrors by code, so wrapped copies of a sentinel
// still satisfy errors.Is against it.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the classification of err, or CodeInternal for
// errors that never passed through this package.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// MessageOf returns the user-presentable message of err, or a generic
// fallback for unclassified errors.
func MessageOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "something went wrong, please try again"
}

func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}
