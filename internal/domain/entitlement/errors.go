package entitlement

import "errors"

var (
	// ErrNetwork is a transient failure reaching the entitlement authority.
	// Retryable; the engine stays fail-closed while it is unresolved.
	ErrNetwork = errors.New("entitlement authority unreachable")

	// ErrNotFound means the authority has no record for the user. It resolves
	// to NOT_ENTITLED and is not an error for the engine.
	ErrNotFound = errors.New("entitlement record not found")

	// ErrConflict is returned when a transaction id is already bound to
	// different terms. Never retried automatically.
	ErrConflict = errors.New("entitlement transaction conflict")

	// ErrStoreUnavailable means the billing service cannot be reached.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrUserCancelled is a normal exit from the store purchase UI.
	ErrUserCancelled = errors.New("purchase cancelled by user")

	// ErrPurchasePending means the store accepted the purchase but is waiting
	// for an approval; the transaction arrives later as a store event.
	ErrPurchasePending = errors.New("purchase pending approval")

	// ErrGuestNotAllowed rejects purchase and restore for guest sessions.
	ErrGuestNotAllowed = errors.New("guest sessions cannot purchase or restore")

	// ErrUnknownProduct is returned for a store product id with no product type mapping.
	ErrUnknownProduct = errors.New("unknown product")

	// ErrNotEntitled is returned when the authority accepted a transaction
	// but its record does not carry entitled=true.
	ErrNotEntitled = errors.New("authority did not confirm entitlement")

	// ErrInvalidTransition is returned when the reconciliation state machine
	// is asked to take an edge it does not have.
	ErrInvalidTransition = errors.New("invalid entitlement state transition")

	// ErrInvalidTransaction is returned for transactions missing required fields.
	ErrInvalidTransaction = errors.New("invalid transaction")
)
