package debugger

import (
	"errors"
	"strings"
)

// ErrorKind categorizes a DebugError for programmatic handling.
type ErrorKind uint8

const (
	KindIO ErrorKind = iota + 1
	KindSerialization
	KindCommunication
	KindResponseTimeout
	KindInstrumentation
	KindVariableInspection
	KindSession
)

func (k ErrorKind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindSerialization:
		return "serialization"
	case KindCommunication:
		return "communication"
	case KindResponseTimeout:
		return "response-timeout"
	case KindInstrumentation:
		return "instrumentation"
	case KindVariableInspection:
		return "variable-inspection"
	case KindSession:
		return "session"
	default:
		return "unknown"
	}
}

// DebugError is the structured error returned by the runtime engine and the controller.
type DebugError struct {
	Kind    ErrorKind
	Op      string // operation that failed, e.g. "flush" or "wait_for_response"
	Message string
	Cause   error
}

func (e *DebugError) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Kind.String())
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *DebugError) Unwrap() error {
	return e.Cause
}

// Is matches any DebugError of the same kind, and the sentinel itself when a message is set.
func (e *DebugError) Is(target error) bool {
	var t *DebugError
	if !errors.As(target, &t) {
		return false
	}
	if t.Message != "" && e.Message != "" && t.Message != e.Message {
		return false
	}
	return t.Kind == e.Kind
}

// WithCause returns a copy of the error wrapping cause.
func (e *DebugError) WithCause(cause error) *DebugError {
	cp := *e
	cp.Cause = cause
	return &cp
}

// WithOp returns a copy of the error annotated with the failing operation.
func (e *DebugError) WithOp(op string) *DebugError {
	cp := *e
	cp.Op = op
	return &cp
}

func newError(kind ErrorKind, op, msg string, cause error) *DebugError {
	return &DebugError{Kind: kind, Op: op, Message: msg, Cause: cause}
}

var (
	ErrResponseTimeout  = &DebugError{Kind: KindResponseTimeout, Message: "timeout waiting for response"}
	ErrPayloadTooLarge  = &DebugError{Kind: KindCommunication, Message: "payload exceeds segment size"}
	ErrChannelClosed    = &DebugError{Kind: KindCommunication, Message: "channel closed"}
	ErrVariableNotFound = &DebugError{Kind: KindVariableInspection, Message: "variable not found"}
	ErrSessionActive    = &DebugError{Kind: KindSession, Message: "a debugging session is already active"}
	ErrNoSession        = &DebugError{Kind: KindSession, Message: "no active debugging session"}
)
