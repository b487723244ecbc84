package shared

import "errors"

var (
	// ErrNotFound indicates a referenced variant, store, party or document is missing.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidTransition occurs when an operation violates a document workflow,
	// e.g. receiving a cancelled purchase or overpaying an invoice.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrInsufficientBatchQuantity occurs when a consumption exceeds the
	// remaining quantity of a batch.
	ErrInsufficientBatchQuantity = errors.New("insufficient batch quantity")
	// ErrConcurrencyTimeout surfaces a row-lock wait that exceeded lock_timeout.
	// It is never retried internally; the caller decides.
	ErrConcurrencyTimeout = errors.New("lock wait timeout")
)
