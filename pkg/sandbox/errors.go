package sandbox

import "errors"

var (
	// ErrPathEscape is returned when a path resolves outside the workspace
	ErrPathEscape = errors.New("path escapes workspace")

	// ErrCommandDenied is returned when a command matches the deny list
	ErrCommandDenied = errors.New("command denied by policy")

	// ErrCommandNotAllowed is returned when a command matches no allow pattern
	ErrCommandNotAllowed = errors.New("command not in allow list")

	// ErrEmptyCommand is returned when the command line has no tokens
	ErrEmptyCommand = errors.New("empty command")

	// ErrExecutionTimeout is returned when execution exceeds its deadline
	ErrExecutionTimeout = errors.New("execution timed out")
)
