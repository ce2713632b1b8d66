package memory

import (
	"errors"
	"fmt"
)

// Error kinds
var (
	// ErrInvalidConfig invalid budget, block list or option; raised only at construction
	ErrInvalidConfig = errors.New("invalid memory configuration")

	// ErrExternalService embedding, completion or vector store failure
	ErrExternalService = errors.New("external service failure")

	// ErrBudgetExhausted truncation could not bring the view under the token limit.
	// It is reported as a warning, never returned from Get.
	ErrBudgetExhausted = errors.New("token budget exhausted")

	// ErrStorage session persistence failure
	ErrStorage = errors.New("session storage failure")

	// ErrClosed the manager has been closed
	ErrClosed = errors.New("memory manager closed")
)

// MemoryError carries the operation and block that produced an error
type MemoryError struct {
	Op      string // operation name
	Block   string // block name, empty for manager-level errors
	Kind    error  // one of the Err* kinds above
	Err     error  // underlying cause, may be nil
	Details string
}

func (e *MemoryError) Error() string {
	msg := fmt.Sprintf("memory %s", e.Op)
	if e.Block != "" {
		msg += fmt.Sprintf(" [block=%s]", e.Block)
	}
	msg += ": " + e.Kind.Error()
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As
func (e *MemoryError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func configError(format string, args ...any) *MemoryError {
	return &MemoryError{Op: "configure", Kind: ErrInvalidConfig, Details: fmt.Sprintf(format, args...)}
}

func serviceError(op, block string, err error) *MemoryError {
	return &MemoryError{Op: op, Block: block, Kind: ErrExternalService, Err: err}
}

func storageError(op string, err error) *MemoryError {
	return &MemoryError{Op: op, Kind: ErrStorage, Err: err}
}

// IsConfigError checks for a configuration error
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}

// IsExternalServiceError checks for a recoverable external service error
func IsExternalServiceError(err error) bool {
	return errors.Is(err, ErrExternalService)
}

// IsStorageError checks for a session persistence error.
// The message it refers to is in the live context but its durability is unconfirmed.
func IsStorageError(err error) bool {
	return errors.Is(err, ErrStorage)
}

// IsBudgetExhausted checks for a budget exhaustion warning
func IsBudgetExhausted(err error) bool {
	return errors.Is(err, ErrBudgetExhausted)
}
