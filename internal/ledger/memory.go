package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryTransaction is a recorded ledger movement in the in-memory
// gateway.
type MemoryTransaction struct {
	AccountID int64
	Kind      string
	Amount    float64
	Status    string
	CreatedAt time.Time
}

// Memory is an in-process Gateway for tests and LEDGER_DRIVER=memory
// runs. One mutex serializes all operations, which gives the same
// atomicity the postgres gateway gets from transactions.
type Memory struct {
	mu           sync.Mutex
	accounts     map[string]*Account
	transactions []MemoryTransaction
	nextID       int64
}

func NewMemory() *Memory {
	return &Memory{accounts: make(map[string]*Account)}
}

// Seed creates or replaces an account with the given balance.
func (m *Memory) Seed(playerID, displayName string, balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.accounts[playerID] = &Account{
		ID:          m.nextID,
		PlayerID:    playerID,
		DisplayName: displayName,
		Balance:     balance,
	}
}

func (m *Memory) FindAccount(ctx context.Context, playerID string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[playerID]
	if !ok {
		return Account{}, ErrPlayerNotFound
	}
	return *acct, nil
}

func (m *Memory) DebitForBet(ctx context.Context, playerID string, amount float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[playerID]
	if !ok {
		return 0, ErrPlayerNotFound
	}
	if acct.Balance < amount {
		return 0, ErrInsufficientFunds
	}
	acct.Balance -= amount
	acct.TotalBets += amount
	acct.TotalGames++
	m.record(acct.ID, TxKindBet, amount)
	return acct.Balance, nil
}

func (m *Memory) CreditWin(ctx context.Context, playerID string, stake, winAmount, multiplier float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[playerID]
	if !ok {
		return 0, ErrPlayerNotFound
	}
	acct.Balance += winAmount
	acct.TotalWins++
	acct.TotalProfit += winAmount - stake
	if multiplier > acct.BestMultiplier {
		acct.BestMultiplier = multiplier
	}
	m.record(acct.ID, TxKindWin, winAmount)
	return acct.Balance, nil
}

func (m *Memory) Refund(ctx context.Context, playerID string, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[playerID]
	if !ok {
		return ErrPlayerNotFound
	}
	acct.Balance += amount
	acct.TotalBets -= amount
	acct.TotalGames--
	m.record(acct.ID, TxKindRefund, amount)
	return nil
}

// SetBalance overwrites a player's balance, creating the account when
// missing. Admin/testing surface only.
func (m *Memory) SetBalance(ctx context.Context, playerID, displayName string, balance float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if acct, ok := m.accounts[playerID]; ok {
		acct.Balance = balance
		if displayName != "" {
			acct.DisplayName = displayName
		}
		return nil
	}
	m.nextID++
	m.accounts[playerID] = &Account{
		ID:          m.nextID,
		PlayerID:    playerID,
		DisplayName: displayName,
		Balance:     balance,
	}
	return nil
}

// Transactions returns a copy of the recorded movements, oldest first.
func (m *Memory) Transactions() []MemoryTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MemoryTransaction, len(m.transactions))
	copy(out, m.transactions)
	return out
}

func (m *Memory) record(accountID int64, kind string, amount float64) {
	m.transactions = append(m.transactions, MemoryTransaction{
		AccountID: accountID,
		Kind:      kind,
		Amount:    amount,
		Status:    TxStatusCompleted,
		CreatedAt: time.Now(),
	})
}
