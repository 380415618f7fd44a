package main

import "fmt"

// Exit codes for the ghostline CLI.
const (
	ExitOK       = 0 // Completions printed.
	ExitError    = 1 // Bad arguments, config, or transport failure.
	ExitFailed   = 2 // The server refused the request.
	ExitCanceled = 3 // The request was not made or was abandoned.
)

// exitCodeError carries a non-zero exit code through cobra's error handling.
type exitCodeError struct {
	code int
	msg  string
}

func (e *exitCodeError) Error() string { return e.msg }

// ExitCode returns the exit code for this error.
func (e *exitCodeError) ExitCode() int { return e.code }

func exitError(code int, format string, args ...any) *exitCodeError {
	return &exitCodeError{code: code, msg: fmt.Sprintf(format, args...)}
}
