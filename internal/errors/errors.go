// internal/errors/errors.go
package appErrors

import "fmt"

// ErrBatchNotFound is a sentinel error
type ErrBatchNotFound struct {
	BatchID string
}

func (e *ErrBatchNotFound) Error() string {
	return fmt.Sprintf("batch %s not found", e.BatchID)
}

// Helper constructor
func NewBatchNotFound(id string) error {
	return &ErrBatchNotFound{BatchID: id}
}

// ValidationError means the request was rejected before anything was
// persisted: empty recipient set, blank message, missing schedule fields.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func NewValidation(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// InsufficientBalanceError rejects a dispatch whose estimated cost exceeds
// the available messaging credit. The batch stays pending and the caller may
// top up and retry.
type InsufficientBalanceError struct {
	Required  int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: need %d credits, have %d", e.Required, e.Available)
}

func NewInsufficientBalance(required, available int64) error {
	return &InsufficientBalanceError{Required: required, Available: available}
}
