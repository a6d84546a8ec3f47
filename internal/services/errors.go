package services

import (
	"errors"

	"giveaway/internal/auth"
	"giveaway/internal/escrow"
)

var (
	ErrNotFound          = errors.New("giveaway not found")
	ErrExpired           = errors.New("giveaway entry period has ended")
	ErrDuplicateEntry    = errors.New("participant already entered")
	ErrNotClaimable      = errors.New("giveaway not claimable")
	ErrNoWinner          = errors.New("no winner selected")
	ErrNotActive         = errors.New("giveaway is not accepting entries")
	ErrNotEnded          = errors.New("giveaway end time has not passed")
	ErrNotParticipant    = errors.New("winner did not enter the giveaway")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidInput      = errors.New("invalid input")
)

// errorClass is a short label for metrics.
func errorClass(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrDuplicateEntry):
		return "duplicate_entry"
	case errors.Is(err, ErrNotClaimable):
		return "not_claimable"
	case errors.Is(err, ErrNoWinner):
		return "no_winner"
	case errors.Is(err, ErrNotActive), errors.Is(err, ErrNotEnded),
		errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrNotParticipant):
		return "invalid_state"
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrForbidden):
		return "unauthorized"
	case errors.Is(err, escrow.ErrInsufficientBalance), errors.Is(err, escrow.ErrTransferFailed):
		return "transfer_failed"
	default:
		return "error"
	}
}
