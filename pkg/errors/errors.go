package errors

import (
	"errors"
)

type Code string

const (
	CodeInvalidCredentials  Code = "invalid_credentials"
	CodeMalformedCredential Code = "malformed_credential"
	CodeUnknownAlgorithm    Code = "unknown_algorithm"
	CodeNotFound            Code = "not_found"
	CodeInvalidInput        Code = "invalid_input"
	CodeConflict            Code = "conflict"
)

const (
	CodeUnknown            Code = "unknown"
	CodePrimitiveFailure   Code = "primitive_failure"
	CodeStorageUnavailable Code = "storage_unavailable"
	CodeInvalidConfig      Code = "invalid_config"
)

var (
	ErrMissingCredentialStore = errors.New("hashpolicy: credential store is required")
	ErrMissingProviders       = errors.New("hashpolicy: at least one hash provider is required")
)

type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	if e.Message != "" {
		if e.Err != nil {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Message
	}

	if e.Err != nil {
		return e.Err.Error()
	}

	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the code of the outermost *Error in err's chain, or
// CodeUnknown when there is none.
func CodeOf(err error) Code {
	var typed *Error
	if !errors.As(err, &typed) {
		return CodeUnknown
	}
	return typed.Code
}

func IsCode(err error, code Code) bool {
	var typed *Error
	if !errors.As(err, &typed) {
		return false
	}
	return typed.Code == code
}

func IsInternalCode(err error) bool {
	return IsCode(err, CodeUnknown) ||
		IsCode(err, CodePrimitiveFailure) ||
		IsCode(err, CodeStorageUnavailable) ||
		IsCode(err, CodeInvalidConfig)
}
