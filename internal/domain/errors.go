package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	ErrCapabilityNotFound = fmt.Errorf("capability not found")
	ErrContentMissing     = fmt.Errorf("capability content missing")
	ErrToolNotFound       = fmt.Errorf("tool not found")
	ErrInvalidArguments   = fmt.Errorf("tool arguments invalid")

	// Dispatcher errors.
	ErrInvocationTimeout   = fmt.Errorf("tool invocation timed out")
	ErrInvocationCancelled = fmt.Errorf("tool invocation cancelled")
	ErrUnknownRequestID    = fmt.Errorf("unknown request id")
	ErrDuplicateResponse   = fmt.Errorf("response already delivered")
	ErrChannelUnavailable  = fmt.Errorf("client channel unavailable")

	// Handoff errors.
	ErrSpecialistNotFound = fmt.Errorf("specialist not registered")
	ErrNoPendingHandoff   = fmt.Errorf("no prior identity to return to")

	// Session errors.
	ErrSessionClosed   = fmt.Errorf("session closed")
	ErrSessionNotFound = fmt.Errorf("session not found")

	ErrConfigLoad        = fmt.Errorf("failed to load configuration")
	ErrDecryption        = fmt.Errorf("decryption failed")
	ErrInstructionUpdate = fmt.Errorf("instruction update failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Dispatcher.Invoke")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient failure the caller
// may retry. Timed-out invocations qualify; cancellations do not.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrInvocationTimeout) || errors.Is(err, ErrChannelUnavailable)
}

// ErrorCode is a machine-parseable error category for monitoring.
type ErrorCode string

const (
	CodeUnknown              ErrorCode = "UNKNOWN"
	CodeCapabilityNotFound   ErrorCode = "CAPABILITY_NOT_FOUND"
	CodeContentMissing       ErrorCode = "CONTENT_MISSING"
	CodeToolNotFound         ErrorCode = "TOOL_NOT_FOUND"
	CodeInvalidArguments     ErrorCode = "INVALID_ARGUMENTS"
	CodeInvocationTimeout    ErrorCode = "INVOCATION_TIMEOUT"
	CodeInvocationCancelled  ErrorCode = "INVOCATION_CANCELLED"
	CodeUnknownRequestID     ErrorCode = "UNKNOWN_REQUEST_ID"
	CodeDuplicateResponse    ErrorCode = "DUPLICATE_RESPONSE"
	CodeChannelUnavailable   ErrorCode = "CHANNEL_UNAVAILABLE"
	CodeSpecialistNotFound   ErrorCode = "SPECIALIST_NOT_FOUND"
	CodeNoPendingHandoff     ErrorCode = "NO_PENDING_HANDOFF"
	CodeSessionClosed        ErrorCode = "SESSION_CLOSED"
	CodeSessionNotFound      ErrorCode = "SESSION_NOT_FOUND"
	CodeConfigLoad           ErrorCode = "CONFIG_LOAD"
	CodeDecryption           ErrorCode = "DECRYPTION"
	CodeInstructionUpdate    ErrorCode = "INSTRUCTION_UPDATE"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrCapabilityNotFound:  CodeCapabilityNotFound,
	ErrContentMissing:      CodeContentMissing,
	ErrToolNotFound:        CodeToolNotFound,
	ErrInvalidArguments:    CodeInvalidArguments,
	ErrInvocationTimeout:   CodeInvocationTimeout,
	ErrInvocationCancelled: CodeInvocationCancelled,
	ErrUnknownRequestID:    CodeUnknownRequestID,
	ErrDuplicateResponse:   CodeDuplicateResponse,
	ErrChannelUnavailable:  CodeChannelUnavailable,
	ErrSpecialistNotFound:  CodeSpecialistNotFound,
	ErrNoPendingHandoff:    CodeNoPendingHandoff,
	ErrSessionClosed:       CodeSessionClosed,
	ErrSessionNotFound:     CodeSessionNotFound,
	ErrConfigLoad:          CodeConfigLoad,
	ErrDecryption:          CodeDecryption,
	ErrInstructionUpdate:   CodeInstructionUpdate,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and walks the chain with errors.Is.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// UserMessage translates an error into the phrasing surfaced to the user.
// Only timeouts and invalid handoffs ever reach the user; everything else
// is absorbed by the component that produced it. The returned string always
// suggests a next step, never a raw technical message.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvocationTimeout):
		return "That took longer than expected and I had to stop waiting. Let's try it again."
	case errors.Is(err, ErrSpecialistNotFound):
		return "I can't hand that off — I don't have a helper for it. I can help with it directly instead."
	case errors.Is(err, ErrInvocationCancelled), errors.Is(err, ErrSessionClosed):
		return "We got disconnected before I could finish. Ask me again when you're ready."
	default:
		return "Something went wrong on my end. Let's try that once more."
	}
}
