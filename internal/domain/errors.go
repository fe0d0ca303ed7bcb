package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Use with NewSubSystemError so that ErrorCodeOf can
// resolve a subsystem-specific code.
var (
	ErrNotFound         = fmt.Errorf("not found")
	ErrInvalidInput     = fmt.Errorf("invalid input")
	ErrExecution        = fmt.Errorf("execution failed")
	ErrResourceBusy     = fmt.Errorf("resource busy")
	ErrPermissionDenied = fmt.Errorf("permission denied")
	ErrDisabled         = fmt.Errorf("disabled")
	ErrTimeout          = fmt.Errorf("operation timed out")
	ErrUnavailable      = fmt.Errorf("unavailable")
)

// Sentinel errors for the domain layer.
var (
	ErrJobNotFound       = fmt.Errorf("job: %w", ErrNotFound)
	ErrProcessNotFound   = fmt.Errorf("process not found or already completed: %w", ErrNotFound)
	ErrDevServerRunning  = fmt.Errorf("dev server already running for this project: %w", ErrResourceBusy)
	ErrPathOutsideRoot   = fmt.Errorf("path is outside project root: %w", ErrInvalidInput)
	ErrNotGitRepository  = fmt.Errorf("not a git repository: %w", ErrInvalidInput)
	ErrCLIUnavailable    = fmt.Errorf("cli tool not available: %w", ErrInvalidInput)
	ErrConfigLoad        = fmt.Errorf("failed to load configuration")
	ErrDecryption        = fmt.Errorf("decryption failed")
	ErrEncryption        = fmt.Errorf("encryption operation failed")
	ErrAuthInvalid       = fmt.Errorf("authentication failed")
	ErrRPCMethodNotFound = fmt.Errorf("rpc method not found")
	ErrRPCInvalidPayload = fmt.Errorf("rpc payload invalid: %w", ErrInvalidInput)
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Registry.Cancel")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "job", "devserver"); used for ErrorCode dispatch
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

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryable reports whether a caller may sensibly retry the failed operation.
// Only execution-class failures qualify; not-found and bad input never do.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrExecution) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable)
}

// ErrorCode is a machine-parseable error category returned to remote clients.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodeExecution         ErrorCode = "EXECUTION_FAILED"
	CodeResourceBusy      ErrorCode = "RESOURCE_BUSY"
	CodePermissionDenied  ErrorCode = "PERMISSION_DENIED"
	CodeDisabled          ErrorCode = "DISABLED"
	CodeTimeout           ErrorCode = "TIMEOUT"
	CodeUnavailable       ErrorCode = "UNAVAILABLE"
	CodeConfigLoad        ErrorCode = "CONFIG_LOAD"
	CodeDecryption        ErrorCode = "DECRYPTION"
	CodeEncryption        ErrorCode = "ENCRYPTION"
	CodeAuthInvalid       ErrorCode = "AUTH_INVALID"
	CodeRPCMethodNotFound ErrorCode = "RPC_METHOD_NOT_FOUND"

	// Subsystem-specific codes used by subSystemCodeMap.
	CodeJobNotFound       ErrorCode = "JOB_NOT_FOUND"
	CodeProcessNotFound   ErrorCode = "PROCESS_NOT_FOUND"
	CodeDevServerNotFound ErrorCode = "DEV_SERVER_NOT_FOUND"
	CodeDevServerRunning  ErrorCode = "DEV_SERVER_RUNNING"
	CodeFileNotFound      ErrorCode = "FILE_NOT_FOUND"
	CodeFileTooLarge      ErrorCode = "FILE_TOO_LARGE"
	CodeGitFailed         ErrorCode = "GIT_FAILED"
	CodeCLIUnavailable    ErrorCode = "CLI_UNAVAILABLE"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:         CodeNotFound,
	ErrInvalidInput:     CodeInvalidInput,
	ErrExecution:        CodeExecution,
	ErrResourceBusy:     CodeResourceBusy,
	ErrPermissionDenied: CodePermissionDenied,
	ErrDisabled:         CodeDisabled,
	ErrTimeout:          CodeTimeout,
	ErrUnavailable:      CodeUnavailable,

	ErrJobNotFound:       CodeJobNotFound,
	ErrProcessNotFound:   CodeProcessNotFound,
	ErrDevServerRunning:  CodeDevServerRunning,
	ErrCLIUnavailable:    CodeCLIUnavailable,
	ErrConfigLoad:        CodeConfigLoad,
	ErrDecryption:        CodeDecryption,
	ErrEncryption:        CodeEncryption,
	ErrAuthInvalid:       CodeAuthInvalid,
	ErrRPCMethodNotFound: CodeRPCMethodNotFound,
	ErrRPCInvalidPayload: CodeInvalidInput,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"job":       CodeJobNotFound,
		"process":   CodeProcessNotFound,
		"devserver": CodeDevServerNotFound,
		"files":     CodeFileNotFound,
	},
	ErrResourceBusy: {
		"devserver": CodeDevServerRunning,
	},
	ErrInvalidInput: {
		"files": CodeInvalidInput,
		"cli":   CodeCLIUnavailable,
	},
	ErrExecution: {
		"git": CodeGitFailed,
	},
}

// orderedCategories is walked by ErrorCodeOf when no direct match exists.
// Specific sentinels come first so a wrapped ErrJobNotFound does not
// resolve to the bare NOT_FOUND category.
var orderedCategories = []error{
	ErrJobNotFound,
	ErrProcessNotFound,
	ErrDevServerRunning,
	ErrCLIUnavailable,
	ErrRPCMethodNotFound,
	ErrConfigLoad,
	ErrDecryption,
	ErrEncryption,
	ErrAuthInvalid,
	ErrNotFound,
	ErrInvalidInput,
	ErrExecution,
	ErrResourceBusy,
	ErrPermissionDenied,
	ErrDisabled,
	ErrTimeout,
	ErrUnavailable,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	for _, sentinel := range orderedCategories {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}

// ErrorClass groups errors into the three families a client acts on:
// not found, bad input (including busy resources), and execution failures.
type ErrorClass string

const (
	ClassNotFound   ErrorClass = "not_found"
	ClassInput      ErrorClass = "input"
	ClassExecution  ErrorClass = "execution"
	ClassPermission ErrorClass = "permission"
	ClassInternal   ErrorClass = "internal"
)

// ClassOf reports the class of err.
func ClassOf(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassInternal
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrResourceBusy):
		return ClassInput
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrAuthInvalid):
		return ClassPermission
	case errors.Is(err, ErrExecution), errors.Is(err, ErrTimeout), errors.Is(err, ErrUnavailable):
		return ClassExecution
	default:
		return ClassInternal
	}
}
