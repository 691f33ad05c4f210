package rvkernel

import (
	"errors"
	"fmt"
)

// Error represents a structured rvkernel error with enough context to
// locate the failing subsystem and block without parsing a message string.
type Error struct {
	Op      string    // Operation that failed (e.g. "BOOT", "BEGIN_OP", "EXEC")
	Dev     uint32     // Device number (0 if not applicable)
	Blockno uint32     // Block number (0 if not applicable)
	Code    ErrorCode
	Msg     string
	Inner   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Blockno != 0 {
		parts = append(parts, fmt.Sprintf("block=%d", e.Blockno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("rvkernel: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("rvkernel: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error { return e.Inner }

// Is supports errors.Is comparison by error code.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode categorizes rvkernel failures by subsystem.
type ErrorCode string

const (
	ErrCodeInvalidParameters  ErrorCode = "invalid parameters"
	ErrCodeFrameExhausted     ErrorCode = "no free physical frames"
	ErrCodeBufferExhausted    ErrorCode = "no reclaimable buffer"
	ErrCodeLogCapacityExceeded ErrorCode = "transaction exceeds log capacity"
	ErrCodeLogNotOpen         ErrorCode = "log not open"
	ErrCodePipeClosed         ErrorCode = "pipe endpoint closed"
	ErrCodeExecFailed         ErrorCode = "exec failed"
	ErrCodeDiskIOError        ErrorCode = "disk I/O error"
	ErrCodeRecoveryFailed     ErrorCode = "log recovery failed"
	ErrCodeAlreadyBooted      ErrorCode = "kernel already booted"
	ErrCodeNotBooted          ErrorCode = "kernel not booted"
)

// Error constructors.

// NewError creates a new structured error with no device/block context.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewBlockError creates an error scoped to a specific device/block.
func NewBlockError(op string, dev, blockno uint32, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Dev: dev, Blockno: blockno, Code: code, Msg: msg}
}

// WrapError wraps an existing error with rvkernel op context, preserving
// the inner error's code when it is already structured.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if re, ok := inner.(*Error); ok {
		return &Error{
			Op:      op,
			Dev:     re.Dev,
			Blockno: re.Blockno,
			Code:    re.Code,
			Msg:     re.Msg,
			Inner:   re.Inner,
		}
	}
	return &Error{Op: op, Code: ErrCodeDiskIOError, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err is (or wraps) an *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
