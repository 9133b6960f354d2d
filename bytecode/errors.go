package bytecode

import "fmt"

// FormatError reports a defect found while loading or validating a bytecode
// file: bad magic, version mismatch, an out-of-range address or constant
// index, or an operand-kind contract violation. It carries the instruction
// index (or -1 if the defect is file-level, not instruction-level) so a
// caller can point at the faulting location.
type FormatError struct {
	InstrIndex int // -1 if not instruction-specific
	Message    string
	Wrapped    error
}

func (e *FormatError) Error() string {
	loc := "bytecode file"
	if e.InstrIndex >= 0 {
		loc = fmt.Sprintf("instruction %d", e.InstrIndex)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", loc, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", loc, e.Message)
}

func (e *FormatError) Unwrap() error {
	return e.Wrapped
}

// NewFormatError builds a file-level FormatError (no specific instruction).
func NewFormatError(message string) *FormatError {
	return &FormatError{InstrIndex: -1, Message: message}
}

// NewInstructionError builds a FormatError anchored at a specific
// instruction index.
func NewInstructionError(index int, message string) *FormatError {
	return &FormatError{InstrIndex: index, Message: message}
}

// WrapFormatError wraps err with file-level context, unless it is already
// a *FormatError, in which case it is returned unchanged.
func WrapFormatError(message string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*FormatError); ok {
		return err
	}
	return &FormatError{InstrIndex: -1, Message: message, Wrapped: err}
}
