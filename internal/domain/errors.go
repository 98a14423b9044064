package domain

import (
	"errors"
	"fmt"
)

// Engine error codes. These are stable machine codes; clients branch on them.
const (
	CodeRejectedStatement = "REJECTED_STATEMENT"
	CodeTimeout           = "TIMEOUT"
	CodeMalformedInput    = "MALFORMED_INPUT"
	CodeSourceNotFound    = "SOURCE_NOT_FOUND"
	CodeStorageFailure    = "STORAGE_FAILURE"
	CodeBadRequest        = "BAD_REQUEST"
	CodeNotFound          = "NOT_FOUND"
	CodeValidation        = "VALIDATION_ERROR"
	CodeFileUpload        = "FILE_UPLOAD_ERROR"
)

// EngineError aborts a single operation with a stable machine code. Engine
// errors never leave the registry or the cache in an inconsistent state.
type EngineError struct {
	Code    string
	Message string
	Err     error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error { return e.Err }

// ErrRejectedStatement builds a safety-gate rejection.
func ErrRejectedStatement(reason string) error {
	return &EngineError{Code: CodeRejectedStatement, Message: reason}
}

// ErrTimeout marks a query execution that exceeded its deadline.
func ErrTimeout(what string) error {
	return &EngineError{Code: CodeTimeout, Message: what}
}

// ErrMalformedInput marks an unrecoverable parse failure of an upload.
func ErrMalformedInput(reason string) error {
	return &EngineError{Code: CodeMalformedInput, Message: reason}
}

// ErrSourceNotFound marks a reference to an unknown data source.
func ErrSourceNotFound(id string) error {
	return &EngineError{Code: CodeSourceNotFound, Message: fmt.Sprintf("data source %s not found", id)}
}

// ErrStorageFailure wraps a store-engine fault. It is surfaced and logged but
// must not crash the process.
func ErrStorageFailure(err error) error {
	return &EngineError{Code: CodeStorageFailure, Message: "storage engine failure", Err: err}
}

// ErrorCode extracts the machine code from err, or empty when err is not an
// EngineError.
func ErrorCode(err error) string {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given engine code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}
