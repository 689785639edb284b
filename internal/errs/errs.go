// Package errs defines the typed error taxonomy shared across the runtime.
//
// Every subsystem produces errors through the constructors here so that
// the tool dispatcher (which renders errors as strings) and the channel
// layer (which renders errors as short apologies) can classify a failure
// without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies an error category from the runtime's error taxonomy.
type Kind string

const (
	KindConfiguration   Kind = "configuration_error"
	KindAuthentication  Kind = "authentication_error"
	KindRateLimit       Kind = "rate_limit_error"
	KindModelNotFound   Kind = "model_not_found_error"
	KindConnection      Kind = "connection_error"
	KindPermissionDenied Kind = "permission_denied"
	KindPathTraversal   Kind = "path_traversal"
	KindExtensionDenied Kind = "extension_denied"
	KindSizeExceeded    Kind = "size_exceeded"
	KindSchemaViolation Kind = "schema_violation"
	KindTimeout         Kind = "timeout"
	KindLoopDetected    Kind = "loop_detected"
	KindToolNotFound    Kind = "tool_not_found"
	KindWorkspaceNotFound Kind = "workspace_not_found"
	KindLLM             Kind = "llm_error"
	KindInternal        Kind = "internal_error"
)

// Error is the runtime's typed error. Component/Action identify where the
// error originated (e.g. "ToolDispatch"/"Invoke"); Message is a single-line
// human-readable description safe to surface to a model or end user.
// Provider is set only for KindLLM errors, naming the configured provider
// (e.g. "anthropic", "openai") the failure came from.
type Error struct {
	Kind      Kind
	Component string
	Action    string
	Message   string
	Provider  string
	RetryAfterSeconds int
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Action, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Action, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Single renders the error as the single-line string the tool dispatcher
// returns to the model in place of propagating a panic/error.
func (e *Error) Single() string {
	return fmt.Sprintf("Error: %s", e.Message)
}

func New(kind Kind, component, action, message string, err error) *Error {
	return &Error{Kind: kind, Component: component, Action: action, Message: message, Err: err}
}

func PermissionDenied(component, action string) *Error {
	return New(KindPermissionDenied, component, action, "permission denied", nil)
}

func WorkspaceNotFound(component, action, workspaceID string) *Error {
	return New(KindWorkspaceNotFound, component, action, fmt.Sprintf("workspace not found: %s", workspaceID), nil)
}

func PathTraversal(component, action, path string) *Error {
	return New(KindPathTraversal, component, action, fmt.Sprintf("path escapes sandbox: %s", path), nil)
}

func ExtensionDenied(component, action, ext string) *Error {
	return New(KindExtensionDenied, component, action, fmt.Sprintf("file extension not allowed: %s", ext), nil)
}

func SizeExceeded(component, action string, max int64) *Error {
	return New(KindSizeExceeded, component, action, fmt.Sprintf("file exceeds maximum size of %d bytes", max), nil)
}

func SchemaViolation(component, action, detail string) *Error {
	return New(KindSchemaViolation, component, action, fmt.Sprintf("argument schema violation: %s", detail), nil)
}

func Timeout(component, action string) *Error {
	return New(KindTimeout, component, action, "operation timed out", nil)
}

func ToolNotFound(component, action, name string) *Error {
	return New(KindToolNotFound, component, action, fmt.Sprintf("tool not found: %s", name), nil)
}

func LoopDetected(component, action, guidance string) *Error {
	return New(KindLoopDetected, component, action, guidance, nil)
}

func RateLimit(component, action string, retryAfterSeconds int) *Error {
	e := New(KindRateLimit, component, action, "rate limited", nil)
	e.RetryAfterSeconds = retryAfterSeconds
	return e
}

// LLM wraps a model-provider failure (transport error, non-2xx response,
// malformed completion) so the channel layer can report it as the
// documented `{"error":"llm_error", ...}` shape instead of a bare 500.
func LLM(component, action, provider, message string, err error) *Error {
	e := New(KindLLM, component, action, message, err)
	e.Provider = provider
	return e
}

// As reports whether err is, or wraps, a *Error, walking err's Unwrap
// chain the same way errors.As does — callers further up the stack
// (e.g. cmd/ken/runner.go) routinely wrap a *Error with fmt.Errorf("%w"),
// and a plain type assertion would miss it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err is a *Error with the given kind.
func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}
