package ledger

import "errors"

// Ledger operation errors. Every failure aborts the whole operation with no
// partial mutation; only ErrIDCollision is expected to be resolved by retry.
var (
	// ErrInvalidInput is returned for a malformed or self-addressed recipient.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidProof is returned when a confidential submission fails
	// validation. Wraps the backend's failure.
	ErrInvalidProof = errors.New("confidential value failed validation")

	// ErrIDCollision is returned when the derived invoice id already exists.
	// The derivation includes fresh entropy, so a retry succeeds.
	ErrIDCollision = errors.New("invoice id collision")

	// ErrNotFound is returned for an unknown invoice id.
	ErrNotFound = errors.New("invoice not found")

	// ErrUnauthorized is returned when the caller lacks the role the
	// operation requires.
	ErrUnauthorized = errors.New("caller not authorized")

	// ErrInvalidState is returned when the operation is not legal for the
	// invoice's current status.
	ErrInvalidState = errors.New("operation not legal in current status")

	// ErrPaymentMismatch is returned when the confidential equality check
	// between attached payment and invoiced amount fails.
	ErrPaymentMismatch = errors.New("payment does not match invoiced amount")

	// ErrTransferFailed is returned when moving funds fails; the status
	// change is rolled back with it.
	ErrTransferFailed = errors.New("funds transfer failed")
)
