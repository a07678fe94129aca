// Package apperr defines the exchange-wide error taxonomy (§7): a small set
// of sentinel errors every component returns through, so the façade and any
// transport adapter can classify a failure with errors.Is without parsing
// strings, in the same plain-fmt.Errorf-plus-sentinel style the teacher uses
// in account/manager.go and market.go rather than a custom error-code enum.
package apperr

import "errors"

var (
	// Validation errors: caller mistake, no state change.
	ErrInvalidOrder      = errors.New("invalid order")
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrInvalidAmount     = errors.New("invalid amount")

	// Authorization-like error.
	ErrNotOwner = errors.New("not order owner")

	// State errors.
	ErrNotFound       = errors.New("not found")
	ErrNotCancellable = errors.New("order not cancellable")

	// Economic errors: caller-expected, never logged as failures.
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrNoLiquidity        = errors.New("no liquidity")

	// Instrument-state error.
	ErrInstrumentInactive = errors.New("instrument inactive")

	// Infrastructure errors: unexpected, logged, retried once where
	// recovery is possible.
	ErrPersistenceFailure  = errors.New("persistence failure")
	ErrJournalBackpressure = errors.New("journal backpressure")
)
