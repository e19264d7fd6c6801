package usecase

import "fmt"

type ErrorCode string

const (
	// ErrorInvalidInput covers user-correctable validation failures.
	ErrorInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrorNotFound covers identities that do not resolve where
	// auto-creation is not applicable.
	ErrorNotFound ErrorCode = "NOT_FOUND"
	// ErrorUnavailable covers dependency configuration or credential
	// trouble; clients should retry later.
	ErrorUnavailable ErrorCode = "UNAVAILABLE"
	// ErrorInternal covers record-store failures, reported generically so
	// storage detail never reaches a client.
	ErrorInternal ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
