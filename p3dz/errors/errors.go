package errors

import "fmt"

// Error types for p3dz operations
var (
	// ErrFormat is returned when a file does not start with the P3DZ tag or is too short to hold a header
	ErrFormat = &P3DZError{Code: "FORMAT_ERROR", Message: "not a P3DZ container"}

	// ErrTruncatedStream is returned when the input ends before a field the decoder needs
	ErrTruncatedStream = &P3DZError{Code: "TRUNCATED_STREAM", Message: "unexpected end of input"}

	// ErrMalformedInstruction is returned for back-references the format cannot express
	ErrMalformedInstruction = &P3DZError{Code: "MALFORMED_INSTRUCTION", Message: "malformed instruction"}

	// ErrSizeMismatch is returned when decoded output disagrees with a declared size
	ErrSizeMismatch = &P3DZError{Code: "SIZE_MISMATCH", Message: "decompressed size mismatch"}

	// ErrFileRead is returned when a container cannot be read from storage
	ErrFileRead = &P3DZError{Code: "FILE_READ_FAILED", Message: "failed to read file"}

	// ErrExtractFailed is returned when decompressed output cannot be written
	ErrExtractFailed = &P3DZError{Code: "EXTRACT_FAILED", Message: "extract failed"}
)

// P3DZError represents a structured error in p3dz operations
type P3DZError struct {
	Code    string                 // Error code for programmatic handling
	Message string                 // Human-readable error message
	Cause   error                  // Underlying error, if any
	Details map[string]interface{} // Additional context (offsets, expected vs actual)
}

// Error implements the error interface
func (e *P3DZError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	if len(e.Details) > 0 {
		return fmt.Sprintf("[%s] %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *P3DZError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a P3DZError with the same code, so derived
// errors still match their sentinel.
func (e *P3DZError) Is(target error) bool {
	t, ok := target.(*P3DZError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause adds a cause to the error
func (e *P3DZError) WithCause(cause error) *P3DZError {
	return &P3DZError{
		Code:    e.Code,
		Message: e.Message,
		Cause:   cause,
		Details: e.Details,
	}
}

// WithDetail adds a detail key-value pair to the error
func (e *P3DZError) WithDetail(key string, value interface{}) *P3DZError {
	details := make(map[string]interface{})
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &P3DZError{
		Code:    e.Code,
		Message: e.Message,
		Cause:   e.Cause,
		Details: details,
	}
}

// WithMessage overrides the error message
func (e *P3DZError) WithMessage(message string) *P3DZError {
	return &P3DZError{
		Code:    e.Code,
		Message: message,
		Cause:   e.Cause,
		Details: e.Details,
	}
}

// IsP3DZError checks if an error is a P3DZError
func IsP3DZError(err error) bool {
	_, ok := err.(*P3DZError)
	return ok
}

// GetErrorCode extracts the error code from a P3DZError
func GetErrorCode(err error) string {
	if p3dzErr, ok := err.(*P3DZError); ok {
		return p3dzErr.Code
	}
	return ""
}
