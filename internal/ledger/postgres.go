package ledger

import (
	"context"
	"errors"

	sq "github.com/Masterminds/squirrel"
	trmpgx "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	playersTable      = "players"
	colID             = "id"
	colPlayerID       = "player_id"
	colDisplayName    = "display_name"
	colBalance        = "balance"
	colTotalBets      = "total_bets"
	colTotalGames     = "total_games"
	colTotalWins      = "total_wins"
	colTotalProfit    = "total_profit"
	colBestMultiplier = "best_multiplier"

	transactionsTable = "transactions"
	colAccountID      = "account_id"
	colKind           = "kind"
	colAmount         = "amount"
	colStatus         = "status"
)

// Postgres is the production Gateway. Fine-grained statements are
// composed inside a transaction manager unit of work, so the debit and
// its transaction record commit or roll back together.
type Postgres struct {
	pool      *pgxpool.Pool
	getter    *trmpgx.CtxGetter
	txManager trm.Manager
}

func NewPostgres(pool *pgxpool.Pool) (*Postgres, error) {
	m, err := manager.New(trmpgx.NewDefaultFactory(pool))
	if err != nil {
		return nil, err
	}
	return &Postgres{
		pool:      pool,
		getter:    trmpgx.DefaultCtxGetter,
		txManager: m,
	}, nil
}

func (p *Postgres) FindAccount(ctx context.Context, playerID string) (Account, error) {
	return p.findAccount(ctx, playerID, false)
}

func (p *Postgres) DebitForBet(ctx context.Context, playerID string, amount float64) (float64, error) {
	var balance float64
	err := p.txManager.Do(ctx, func(txCtx context.Context) error {
		acct, err := p.findAccount(txCtx, playerID, true)
		if err != nil {
			return err
		}
		if acct.Balance < amount {
			return ErrInsufficientFunds
		}
		balance = acct.Balance - amount
		query := sq.Update(playersTable).
			Set(colBalance, balance).
			Set(colTotalBets, acct.TotalBets+amount).
			Set(colTotalGames, acct.TotalGames+1).
			Where(sq.Eq{colID: acct.ID}).
			PlaceholderFormat(sq.Dollar)
		if err := p.exec(txCtx, query); err != nil {
			return err
		}
		return p.recordTransaction(txCtx, acct.ID, TxKindBet, amount, TxStatusCompleted)
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (p *Postgres) CreditWin(ctx context.Context, playerID string, stake, winAmount, multiplier float64) (float64, error) {
	var balance float64
	err := p.txManager.Do(ctx, func(txCtx context.Context) error {
		acct, err := p.findAccount(txCtx, playerID, true)
		if err != nil {
			return err
		}
		balance = acct.Balance + winAmount
		best := acct.BestMultiplier
		if multiplier > best {
			best = multiplier
		}
		query := sq.Update(playersTable).
			Set(colBalance, balance).
			Set(colTotalWins, acct.TotalWins+1).
			Set(colTotalProfit, acct.TotalProfit+winAmount-stake).
			Set(colBestMultiplier, best).
			Where(sq.Eq{colID: acct.ID}).
			PlaceholderFormat(sq.Dollar)
		if err := p.exec(txCtx, query); err != nil {
			return err
		}
		return p.recordTransaction(txCtx, acct.ID, TxKindWin, winAmount, TxStatusCompleted)
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (p *Postgres) Refund(ctx context.Context, playerID string, amount float64) error {
	return p.txManager.Do(ctx, func(txCtx context.Context) error {
		acct, err := p.findAccount(txCtx, playerID, true)
		if err != nil {
			return err
		}
		query := sq.Update(playersTable).
			Set(colBalance, acct.Balance+amount).
			Set(colTotalBets, acct.TotalBets-amount).
			Set(colTotalGames, acct.TotalGames-1).
			Where(sq.Eq{colID: acct.ID}).
			PlaceholderFormat(sq.Dollar)
		if err := p.exec(txCtx, query); err != nil {
			return err
		}
		return p.recordTransaction(txCtx, acct.ID, TxKindRefund, amount, TxStatusCompleted)
	})
}

// SetBalance overwrites a player's balance, creating the account when
// missing. Admin/testing surface only.
func (p *Postgres) SetBalance(ctx context.Context, playerID, displayName string, balance float64) error {
	query := sq.Insert(playersTable).
		Columns(colPlayerID, colDisplayName, colBalance).
		Values(playerID, displayName, balance).
		Suffix("ON CONFLICT (" + colPlayerID + ") DO UPDATE SET " + colBalance + " = EXCLUDED." + colBalance).
		PlaceholderFormat(sq.Dollar)
	return p.exec(ctx, query)
}

func (p *Postgres) findAccount(ctx context.Context, playerID string, forUpdate bool) (Account, error) {
	query := sq.Select(colID, colPlayerID, colDisplayName, colBalance,
		colTotalBets, colTotalGames, colTotalWins, colTotalProfit, colBestMultiplier).
		From(playersTable).
		Where(sq.Eq{colPlayerID: playerID}).
		PlaceholderFormat(sq.Dollar)
	if forUpdate {
		query = query.Suffix("FOR UPDATE")
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return Account{}, err
	}

	var acct Account
	row := p.getter.DefaultTrOrDB(ctx, p.pool).QueryRow(ctx, sqlStr, args...)
	err = row.Scan(&acct.ID, &acct.PlayerID, &acct.DisplayName, &acct.Balance,
		&acct.TotalBets, &acct.TotalGames, &acct.TotalWins, &acct.TotalProfit, &acct.BestMultiplier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrPlayerNotFound
		}
		return Account{}, err
	}
	return acct, nil
}

func (p *Postgres) recordTransaction(ctx context.Context, accountID int64, kind string, amount float64, status string) error {
	query := sq.Insert(transactionsTable).
		Columns(colAccountID, colKind, colAmount, colStatus).
		Values(accountID, kind, amount, status).
		PlaceholderFormat(sq.Dollar)
	return p.exec(ctx, query)
}

func (p *Postgres) exec(ctx context.Context, query sq.Sqlizer) error {
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return err
	}
	_, err = p.getter.DefaultTrOrDB(ctx, p.pool).Exec(ctx, sqlStr, args...)
	return err
}
