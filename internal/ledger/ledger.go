// Package ledger is the system of record for player balances. The game
// engine never caches a balance across calls; every mutation goes
// through the Gateway and is paired with a transaction row.
package ledger

import (
	"context"
	"errors"
)

var (
	ErrPlayerNotFound    = errors.New("player not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Transaction kinds and statuses.
const (
	TxKindBet    = "bet"
	TxKindWin    = "win"
	TxKindRefund = "refund"

	TxStatusCompleted = "completed"
)

// Account is a player's ledger record, including lifetime stats.
type Account struct {
	ID             int64
	PlayerID       string
	DisplayName    string
	Balance        float64
	TotalBets      float64
	TotalGames     int64
	TotalWins      int64
	TotalProfit    float64
	BestMultiplier float64
}

// Gateway is what the game engine sees. Each mutating call is a single
// atomic unit: balance change, transaction record, and stat counters
// commit or roll back together.
type Gateway interface {
	// FindAccount returns ErrPlayerNotFound for unknown players.
	FindAccount(ctx context.Context, playerID string) (Account, error)

	// DebitForBet atomically checks funds, debits the stake, records a
	// bet transaction, and bumps lifetime stake/game counters.
	// Returns the new balance.
	DebitForBet(ctx context.Context, playerID string, amount float64) (float64, error)

	// CreditWin atomically credits a cashout win, records a win
	// transaction, and updates win count, profit, and best multiplier.
	// Returns the new balance.
	CreditWin(ctx context.Context, playerID string, stake, winAmount, multiplier float64) (float64, error)

	// Refund returns a stake debited for a bet that could not stand
	// (the round ended before the debit settled).
	Refund(ctx context.Context, playerID string, amount float64) error
}
