package game

import "errors"

// Per-action failures. Each maps to an "error" message sent back to the
// originating session; none of them touch round state or the ledger.
var (
	ErrBettingClosed = errors.New("betting is closed")
	ErrCashoutClosed = errors.New("cashout is not available now")
	ErrInvalidAmount = errors.New("bet amount must be positive")
	ErrDuplicateBet  = errors.New("bet already placed this round")
	ErrBetNotFound   = errors.New("no active bet to cash out")
	ErrLedgerFailure = errors.New("ledger unavailable")
	ErrEngineBusy    = errors.New("action queue full, try again")
)
