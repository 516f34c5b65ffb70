package credit

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/affiliate-outreach/internal/db"
)

// PostgresLedger keeps balances in credit_balances and appends every debit
// to credit_transactions.
type PostgresLedger struct {
	pool db.Pool
}

// NewPostgresLedger creates a ledger over pool.
func NewPostgresLedger(pool db.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

// Balance returns the user's balance, 0 when no row exists.
func (l *PostgresLedger) Balance(ctx context.Context, userID string, kind Kind) (int64, error) {
	var balance int64
	err := l.pool.QueryRow(ctx,
		`SELECT balance FROM credit_balances WHERE user_id = $1 AND kind = $2`,
		userID, string(kind),
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrap(err, "postgres: credit balance")
	}
	return balance, nil
}

// Debit subtracts d.Amount with a conditional UPDATE and records the
// transaction in the same database transaction.
func (l *PostgresLedger) Debit(ctx context.Context, d Debit) (int64, bool, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return 0, false, eris.Wrap(err, "postgres: begin debit")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var balance int64
	err = tx.QueryRow(ctx,
		`UPDATE credit_balances SET balance = balance - $3, updated_at = now()
		 WHERE user_id = $1 AND kind = $2 AND balance >= $3
		 RETURNING balance`,
		d.UserID, string(d.Kind), d.Amount,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		current, berr := l.Balance(ctx, d.UserID, d.Kind)
		if berr != nil {
			return 0, false, berr
		}
		return current, false, nil
	}
	if err != nil {
		return 0, false, eris.Wrap(err, "postgres: debit credits")
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO credit_transactions (id, user_id, kind, amount, subject_id, subject_type, balance_after)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.NewString(), d.UserID, string(d.Kind), -d.Amount, d.SubjectID, d.SubjectType, balance,
	)
	if err != nil {
		return 0, false, eris.Wrap(err, "postgres: record credit transaction")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, eris.Wrap(err, "postgres: commit debit")
	}
	return balance, true, nil
}

// MemoryLedger is an in-process Ledger for local runs and tests.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]int64
	debits   []Debit
}

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[string]int64)}
}

func ledgerKey(userID string, kind Kind) string {
	return userID + "/" + string(kind)
}

// Set overwrites a balance.
func (l *MemoryLedger) Set(userID string, kind Kind, balance int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[ledgerKey(userID, kind)] = balance
}

// Debits returns the applied debits in order.
func (l *MemoryLedger) Debits() []Debit {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Debit(nil), l.debits...)
}

// Balance implements Ledger.
func (l *MemoryLedger) Balance(_ context.Context, userID string, kind Kind) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[ledgerKey(userID, kind)], nil
}

// Debit implements Ledger.
func (l *MemoryLedger) Debit(_ context.Context, d Debit) (int64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := ledgerKey(d.UserID, d.Kind)
	if l.balances[k] < d.Amount {
		return l.balances[k], false, nil
	}
	l.balances[k] -= d.Amount
	l.debits = append(l.debits, d)
	return l.balances[k], true, nil
}
