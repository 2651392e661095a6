// Package errors provides structured error types for the debug adapter.
// Each DebugError carries a stable code, a client-facing message, a
// short remediation hint, and enough structured detail to classify it
// per the adapter's error taxonomy: user errors become a DAP
// ErrorResponse, silent errors are logged only, fatal errors tear the
// session down.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a category of error for programmatic handling.
type ErrorCode string

const (
	// Launch/attach errors — user errors, surfaced as a DAP ErrorResponse.
	CodeLaunchFailed   ErrorCode = "LAUNCH_FAILED"
	CodeAttachFailed   ErrorCode = "ATTACH_FAILED"
	CodeNoMainTarget   ErrorCode = "NO_MAIN_TARGET"
	CodeLaunchTimeout  ErrorCode = "LAUNCH_TIMEOUT"
	CodeRuntimeMissing ErrorCode = "RUNTIME_MISSING"

	// Request errors — user errors.
	CodeSourceNotFound    ErrorCode = "SOURCE_NOT_FOUND"
	CodeInvalidExpression ErrorCode = "INVALID_EXPRESSION"
	CodeThreadNotPaused   ErrorCode = "THREAD_NOT_PAUSED"
	CodeThreadNotFound    ErrorCode = "THREAD_NOT_FOUND"
	CodeFrameNotFound     ErrorCode = "FRAME_NOT_FOUND"
	CodeVariableNotFound  ErrorCode = "VARIABLE_NOT_FOUND"
	CodeInvalidArguments  ErrorCode = "INVALID_ARGUMENTS"
	CodeMissingInputs     ErrorCode = "MISSING_INPUTS"
	CodeConfigNotFound    ErrorCode = "CONFIG_NOT_FOUND"
	CodeConfigInvalid     ErrorCode = "CONFIG_INVALID"

	// Silent errors — logged, never surfaced to the DAP client.
	CodeSourceMapFetch  ErrorCode = "SOURCE_MAP_FETCH_FAILED"
	CodeSourceMapParse  ErrorCode = "SOURCE_MAP_PARSE_FAILED"
	CodeStaleScript     ErrorCode = "STALE_SCRIPT_LOOKUP"
	CodePredictorFailed ErrorCode = "PREDICTOR_FAILED"

	// Fatal errors — CDP transport disconnect, session disposal follows.
	CodeTransportLost ErrorCode = "TRANSPORT_LOST"

	CodeUnknown ErrorCode = "UNKNOWN_ERROR"
)

// DebugError is a structured error with a stable code, a client-facing
// message, a short remediation hint, structured details for logging,
// and an optional wrapped cause.
type DebugError struct {
	// Code is a machine-readable error category.
	Code ErrorCode `json:"code"`

	// Message is surfaced verbatim in the DAP ErrorResponse body (or
	// logged only, for codes IsSilent classifies as silent).
	Message string `json:"message"`

	// Hint is a short remediation suggestion shown alongside Message.
	Hint string `json:"hint,omitempty"`

	// Details contains additional context for logging.
	Details map[string]interface{} `json:"details,omitempty"`

	// Cause is the underlying error, if any.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *DebugError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.Hint != "" {
		sb.WriteString(" (")
		sb.WriteString(e.Hint)
		sb.WriteString(")")
	}
	return sb.String()
}

// Unwrap returns the underlying error for error chaining.
func (e *DebugError) Unwrap() error {
	return e.Cause
}

// WithDetails adds a key/value pair of structured context.
func (e *DebugError) WithDetails(key string, value interface{}) *DebugError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying cause.
func (e *DebugError) WithCause(err error) *DebugError {
	e.Cause = err
	return e
}

// --- Launch / attach errors ---

// LaunchFailed reports a failure to launch the target runtime.
func LaunchFailed(program string, err error) *DebugError {
	return &DebugError{
		Code:    CodeLaunchFailed,
		Message: fmt.Sprintf("failed to launch %q: %v", program, err),
		Hint:    "check that the program path is correct and the runtime executable exists",
		Cause:   err,
		Details: map[string]interface{}{"program": program},
	}
}

// AttachFailed reports a failure to attach to a running runtime.
func AttachFailed(address string, err error) *DebugError {
	return &DebugError{
		Code:    CodeAttachFailed,
		Message: fmt.Sprintf("failed to attach at %s: %v", address, err),
		Hint:    "verify the runtime is listening with its inspector/remote-debugging port open",
		Cause:   err,
		Details: map[string]interface{}{"address": address},
	}
}

// NoMainTarget reports that no attachable target appeared before the timeout.
func NoMainTarget() *DebugError {
	return &DebugError{
		Code:    CodeNoMainTarget,
		Message: "no attachable target was discovered before the timeout",
		Hint:    "the runtime may have exited immediately, or the url/entry script never loaded",
	}
}

// LaunchTimeout reports that launch/attach did not settle in time.
func LaunchTimeout(seconds int) *DebugError {
	return &DebugError{
		Code:    CodeLaunchTimeout,
		Message: fmt.Sprintf("launch did not complete within %ds", seconds),
		Details: map[string]interface{}{"timeoutSeconds": seconds},
	}
}

// RuntimeMissing reports that the configured runtime executable cannot be found.
func RuntimeMissing(path string, err error) *DebugError {
	return &DebugError{
		Code:    CodeRuntimeMissing,
		Message: fmt.Sprintf("runtime executable %q not found", path),
		Hint:    "set runtimeExecutable to a valid path, or install the default runtime",
		Cause:   err,
		Details: map[string]interface{}{"path": path},
	}
}

// --- Request errors ---

// SourceNotFound reports that a `source` request could not resolve content.
func SourceNotFound(ref int, path string) *DebugError {
	return &DebugError{
		Code:    CodeSourceNotFound,
		Message: fmt.Sprintf("source not found (sourceReference=%d path=%q)", ref, path),
		Details: map[string]interface{}{"sourceReference": ref, "path": path},
	}
}

// InvalidExpression reports an evaluate/setVariable expression the
// runtime rejected; the message carries the runtime's own exception
// description, per the setVariable contract.
func InvalidExpression(expr string, runtimeMessage string) *DebugError {
	return &DebugError{
		Code:    CodeInvalidExpression,
		Message: runtimeMessage,
		Details: map[string]interface{}{"expression": expr},
	}
}

// ThreadNotPaused reports an operation that requires a paused thread.
func ThreadNotPaused(threadID int) *DebugError {
	return &DebugError{
		Code:    CodeThreadNotPaused,
		Message: fmt.Sprintf("thread %d is not paused", threadID),
		Details: map[string]interface{}{"threadId": threadID},
	}
}

// ThreadNotFound reports an unknown DAP thread id.
func ThreadNotFound(threadID int) *DebugError {
	return &DebugError{
		Code:    CodeThreadNotFound,
		Message: fmt.Sprintf("thread %d not found", threadID),
		Details: map[string]interface{}{"threadId": threadID},
	}
}

// FrameNotFound reports an unknown stack frame id.
func FrameNotFound(frameID int) *DebugError {
	return &DebugError{
		Code:    CodeFrameNotFound,
		Message: fmt.Sprintf("stack frame %d not found", frameID),
		Details: map[string]interface{}{"frameId": frameID},
	}
}

// VariableNotFound reports an unknown variablesReference.
func VariableNotFound(ref int) *DebugError {
	return &DebugError{
		Code:    CodeVariableNotFound,
		Message: fmt.Sprintf("variables reference %d not found", ref),
		Details: map[string]interface{}{"variablesReference": ref},
	}
}

// InvalidArguments reports a malformed DAP request body.
func InvalidArguments(command string, err error) *DebugError {
	return &DebugError{
		Code:    CodeInvalidArguments,
		Message: fmt.Sprintf("invalid arguments for %s request: %v", command, err),
		Cause:   err,
		Details: map[string]interface{}{"command": command},
	}
}

// MissingInputs reports unresolved ${input:...} variables in a launch configuration.
func MissingInputs(inputs []string) *DebugError {
	return &DebugError{
		Code:    CodeMissingInputs,
		Message: fmt.Sprintf("missing required input values: %s", strings.Join(inputs, ", ")),
		Details: map[string]interface{}{"missingInputs": inputs},
	}
}

// ConfigNotFound reports a requested launch configuration name that does not exist.
func ConfigNotFound(name string, available []string) *DebugError {
	hint := "no configurations found"
	if len(available) > 0 {
		hint = fmt.Sprintf("available configurations: %s", strings.Join(available, ", "))
	}
	return &DebugError{
		Code:    CodeConfigNotFound,
		Message: fmt.Sprintf("configuration %q not found", name),
		Hint:    hint,
		Details: map[string]interface{}{"name": name, "available": available},
	}
}

// ConfigInvalid reports a launch configuration that failed validation.
func ConfigInvalid(name, reason string) *DebugError {
	return &DebugError{
		Code:    CodeConfigInvalid,
		Message: fmt.Sprintf("configuration %q is invalid: %s", name, reason),
		Details: map[string]interface{}{"name": name, "reason": reason},
	}
}

// --- Silent errors (spec.md §7) ---

// SourceMapFetchFailed reports a failure to retrieve a source map's
// content (network error, missing file). Always silent.
func SourceMapFetchFailed(url string, err error) *DebugError {
	return &DebugError{
		Code:    CodeSourceMapFetch,
		Message: fmt.Sprintf("failed to fetch source map %q: %v", url, err),
		Cause:   err,
		Details: map[string]interface{}{"url": url},
	}
}

// SourceMapParseFailed reports a source map that failed to decode. Always silent.
func SourceMapParseFailed(url string, err error) *DebugError {
	return &DebugError{
		Code:    CodeSourceMapParse,
		Message: fmt.Sprintf("failed to parse source map %q: %v", url, err),
		Cause:   err,
		Details: map[string]interface{}{"url": url},
	}
}

// StaleScriptLookup reports a UiLocation translation against a script
// that has since been removed from the Target's script table. Always silent.
func StaleScriptLookup(scriptID string) *DebugError {
	return &DebugError{
		Code:    CodeStaleScript,
		Message: fmt.Sprintf("script %q no longer resolvable", scriptID),
		Details: map[string]interface{}{"scriptId": scriptID},
	}
}

// PredictorFailed reports a BreakpointPredictor workspace scan failure. Always silent.
func PredictorFailed(root string, err error) *DebugError {
	return &DebugError{
		Code:    CodePredictorFailed,
		Message: fmt.Sprintf("breakpoint predictor scan of %q failed: %v", root, err),
		Cause:   err,
		Details: map[string]interface{}{"root": root},
	}
}

// --- Fatal errors ---

// TransportLost reports the CDP transport dropping out from under a live session.
func TransportLost(err error) *DebugError {
	return &DebugError{
		Code:    CodeTransportLost,
		Message: fmt.Sprintf("lost connection to runtime: %v", err),
		Cause:   err,
	}
}

// --- Helpers ---

// Wrap wraps a generic error with a code and message.
func Wrap(code ErrorCode, message string, err error) *DebugError {
	return &DebugError{Code: code, Message: message, Cause: err}
}

// FromError converts any error into a *DebugError, preserving one if
// it's already wrapped somewhere in the chain.
func FromError(err error) *DebugError {
	var de *DebugError
	if stderrors.As(err, &de) {
		return de
	}
	return &DebugError{Code: CodeUnknown, Message: err.Error(), Cause: err}
}

// IsSilent reports whether code belongs to the silent-error class:
// logged, never surfaced to the DAP client (spec.md §7).
func IsSilent(code ErrorCode) bool {
	switch code {
	case CodeSourceMapFetch, CodeSourceMapParse, CodeStaleScript, CodePredictorFailed:
		return true
	default:
		return false
	}
}

// IsFatal reports whether code requires tearing down the session:
// a `terminated` event followed by disposal (spec.md §7).
func IsFatal(code ErrorCode) bool {
	return code == CodeTransportLost
}
