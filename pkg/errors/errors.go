package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes used by the engine.
const (
	CodeConfig          = "CONFIG_ERROR"
	CodeParse           = "PARSE_ERROR"
	CodeEvaluation      = "EVALUATION_ERROR"
	CodeUnknownNodeType = "UNKNOWN_NODE_TYPE"
	CodeNoTrigger       = "NO_TRIGGER"
	CodeNetwork         = "NETWORK_ERROR"
)

var (
	// ErrTimeout indicates that an operation ran past its time budget
	ErrTimeout = errors.New("operation timed out")

	// ErrNotFound indicates that a requested record does not exist
	ErrNotFound = errors.New("not found")
)

// Error represents a structured engine error
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
// The cause is omitted when Message already ends with it.
func (e *Error) Error() string {
	if e.Err != nil && !strings.HasSuffix(e.Message, e.Err.Error()) {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new engine error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewConfigError reports a missing or malformed node configuration value.
func NewConfigError(message string) *Error {
	return NewError(CodeConfig, message, nil)
}

// NewParseError reports data that could not be decoded.
func NewParseError(message string, err error) *Error {
	return NewError(CodeParse, message, err)
}

// NewEvaluationError reports a failed condition or code evaluation.
func NewEvaluationError(message string, err error) *Error {
	return NewError(CodeEvaluation, message, err)
}

// NewUnknownNodeTypeError reports a node whose type has no operation.
func NewUnknownNodeTypeError(nodeType string) *Error {
	return NewError(CodeUnknownNodeType, "Unknown node type: "+nodeType, nil)
}

// NewNoTriggerError reports a workflow without any trigger node.
func NewNoTriggerError() *Error {
	return NewError(CodeNoTrigger, "No trigger node found in workflow", nil)
}

// NewNetworkError reports a failed outbound request. The message is the
// transport error text.
func NewNetworkError(err error) *Error {
	return NewError(CodeNetwork, err.Error(), err)
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Message returns the human-readable text of err: the Message of the first
// *Error in its chain, or err.Error() otherwise.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// IsConfig checks if an error is a configuration error
func IsConfig(err error) bool {
	return CodeOf(err) == CodeConfig
}

// IsParse checks if an error is a parse error
func IsParse(err error) bool {
	return CodeOf(err) == CodeParse
}

// IsEvaluation checks if an error is an evaluation error
func IsEvaluation(err error) bool {
	return CodeOf(err) == CodeEvaluation
}

// IsUnknownNodeType checks if an error is an unknown node type error
func IsUnknownNodeType(err error) bool {
	return CodeOf(err) == CodeUnknownNodeType
}

// IsNoTrigger checks if an error is a missing trigger error
func IsNoTrigger(err error) bool {
	return CodeOf(err) == CodeNoTrigger
}

// IsNetwork checks if an error is a network error
func IsNetwork(err error) bool {
	return CodeOf(err) == CodeNetwork
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
