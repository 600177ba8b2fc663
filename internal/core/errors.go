package core

import (
	"fmt"

	"github.com/castpoint/castpoint/pkg/cast"
)

// CLI exit codes.
const (
	ExitOK       = 0
	ExitRuntime  = 1
	ExitUsage    = 2
	ExitNotFound = 3
	ExitConflict = 4
)

// CLIError carries a user-visible message and exit code.
type CLIError struct {
	Code int
	Msg  string
	Err  error
}

func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

// WrapError creates a CLIError with an underlying error.
func WrapError(code int, msg string, err error) *CLIError {
	return &CLIError{Code: code, Msg: msg, Err: err}
}

// ErrorForReplyCode maps protocol error categories to CLI exit codes.
func ErrorForReplyCode(code string, message string) *CLIError {
	switch cast.Category(code) {
	case cast.CategoryInvalidParameter:
		return &CLIError{Code: ExitUsage, Msg: message}
	case cast.CategoryDeviceConnection, cast.CategoryDiscovery:
		return &CLIError{Code: ExitNotFound, Msg: message}
	case cast.CategoryCompatibility:
		return &CLIError{Code: ExitConflict, Msg: message}
	default:
		return &CLIError{Code: ExitRuntime, Msg: message}
	}
}

// ExitCode returns the CLI exit code from error.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if cliErr, ok := err.(*CLIError); ok {
		return cliErr.Code
	}
	return ExitRuntime
}
