// Package protocol defines the typed failure kinds of the surety protocol.
// Every rejected call surfaces exactly one of these sentinels (usually
// wrapped with call-site context) and leaves ledger state untouched.
package protocol

import "errors"

var (
	// ErrUnauthorized is returned when the caller lacks the required role:
	// contract owner, funded airline, or registered oracle.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrContractPaused is returned by every mutating entry point while the
	// operational switch is off.
	ErrContractPaused = errors.New("contract paused")

	// Identity lifecycle violations.
	ErrNotRegistered     = errors.New("not registered")
	ErrAlreadyRegistered = errors.New("already registered")

	// Insurance purchase precondition violations.
	ErrInvalidPremium = errors.New("invalid premium")
	ErrAlreadyInsured = errors.New("already insured")
	ErrUnknownFlight  = errors.New("unknown flight")

	// Oracle protocol violations.
	ErrIndexMismatch     = errors.New("index mismatch")
	ErrRoundNotOpen      = errors.New("round not open")
	ErrRoundClosed       = errors.New("round closed")
	ErrDuplicateResponse = errors.New("duplicate response")
	ErrInsufficientFee   = errors.New("insufficient registration fee")
)
