package domain

import (
	"errors"
	"fmt"
)

// Settlement failures. Every one aborts the whole operation with no partial
// state change; none is retried by the engine.
var (
	ErrInvalidOutcome             = errors.New("invalid outcome")
	ErrMarketNotOpen              = errors.New("market not open for betting")
	ErrZeroAmount                 = errors.New("amount must be greater than zero")
	ErrInvalidStateTransition     = errors.New("invalid state transition")
	ErrOutcomeNotFinal            = errors.New("outcome not final")
	ErrNoStake                    = errors.New("no stake in market")
	ErrAlreadyWithdrawn           = errors.New("already withdrawn")
	ErrRedemptionAlreadyPerformed = errors.New("redemption already performed")

	// ErrMarketNotResolved is returned by withdrawals attempted before the
	// outcome is known.
	ErrMarketNotResolved = fmt.Errorf("market not resolved: %w", ErrInvalidStateTransition)
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidParams         = errors.New("invalid parameters")
	ErrAlreadyExists         = errors.New("already exists")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrLockHeld              = errors.New("lock already held")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrAmountOverflow        = errors.New("amount overflow")
)
