// Package errors defines the error kinds shared by the session registry,
// the lifecycle orchestrator and the command pipeline.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error independently of the concrete type that carries it.
type Kind string

// Error kinds produced by the core.
const (
	KindUnknown              Kind = "UNKNOWN"
	KindInternal             Kind = "INTERNAL"
	KindAlreadyRunning       Kind = "ALREADY_RUNNING"
	KindNotRunning           Kind = "NOT_RUNNING"
	KindBotNotOperational    Kind = "BOT_NOT_OPERATIONAL"
	KindCommandNotFound      Kind = "COMMAND_NOT_FOUND"
	KindCommandDisabled      Kind = "COMMAND_DISABLED"
	KindNoHandler            Kind = "NO_HANDLER"
	KindCommandError         Kind = "COMMAND_ERROR"
	KindPluginNotLoaded      Kind = "PLUGIN_NOT_LOADED"
	KindPluginTimeout        Kind = "PLUGIN_TIMEOUT"
	KindPluginExecutionError Kind = "PLUGIN_EXECUTION_ERROR"
	KindForbidden            Kind = "FORBIDDEN"
	KindBadRequest           Kind = "BAD_REQUEST"
)

// Error carries a Kind, a human readable message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match on kind alone, so a bare &Error{Kind: k} works as a target.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}

	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// New creates an error of the given kind.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to cause. A nil cause yields nil.
func Wrap(kind Kind, message string, cause error) error {
	if cause == nil {
		return nil
	}

	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain,
// or KindUnknown if there is none.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}

	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Sentinels usable as errors.Is targets.
var (
	ErrAlreadyRunning    = &Error{Kind: KindAlreadyRunning}
	ErrNotRunning        = &Error{Kind: KindNotRunning}
	ErrBotNotOperational = &Error{Kind: KindBotNotOperational}
)
