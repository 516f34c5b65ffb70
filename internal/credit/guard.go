// Package credit gates paid operations on the user's remaining credits
// and debits them once an operation has produced a result.
package credit

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/affiliate-outreach/internal/metrics"
)

// Kind is a credit bucket.
type Kind string

// Credit kinds.
const (
	KindEmailLookup  Kind = "email_lookup"
	KindAIGeneration Kind = "ai_generation"
)

// Unlimited is the Remaining value reported when enforcement is off.
const Unlimited int64 = -1

// Check is the result of a pre-flight credit check.
type Check struct {
	Allowed   bool   `json:"allowed"`
	Remaining int64  `json:"remaining"`
	Message   string `json:"message,omitempty"`
}

// ConsumeResult is the result of a debit.
type ConsumeResult struct {
	Success    bool  `json:"success"`
	NewBalance int64 `json:"newBalance"`
}

// InsufficientCreditError is returned when a check refuses an operation.
type InsufficientCreditError struct {
	Kind      Kind
	Remaining int64
	Message   string
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("credit: insufficient %s credits: %s", e.Kind, e.Message)
}

// Debit describes one consumption against a user's balance.
type Debit struct {
	UserID      string
	Kind        Kind
	Amount      int64
	SubjectID   string
	SubjectType string
}

// Ledger persists balances. Debit must never take a balance below zero;
// ok is false when the balance could not cover the amount.
type Ledger interface {
	Balance(ctx context.Context, userID string, kind Kind) (int64, error)
	Debit(ctx context.Context, d Debit) (newBalance int64, ok bool, err error)
}

// Guard checks and consumes credits against a Ledger.
type Guard struct {
	ledger  Ledger
	enforce bool
}

// NewGuard creates a Guard. With enforce false every check passes and
// nothing is debited.
func NewGuard(ledger Ledger, enforce bool) *Guard {
	return &Guard{ledger: ledger, enforce: enforce}
}

// Enforced reports whether credits are being enforced.
func (g *Guard) Enforced() bool {
	return g.enforce
}

// Check reports whether userID has at least amount credits of kind.
func (g *Guard) Check(ctx context.Context, userID string, kind Kind, amount int64) (*Check, error) {
	if !g.enforce {
		return &Check{Allowed: true, Remaining: Unlimited}, nil
	}
	if amount <= 0 {
		return nil, eris.Errorf("credit: check amount must be positive, got %d", amount)
	}
	balance, err := g.ledger.Balance(ctx, userID, kind)
	if err != nil {
		return nil, eris.Wrapf(err, "credit: balance for %s", userID)
	}
	if balance < amount {
		return &Check{
			Allowed:   false,
			Remaining: balance,
			Message:   fmt.Sprintf("Insufficient credits: %d remaining, %d required", balance, amount),
		}, nil
	}
	return &Check{Allowed: true, Remaining: balance}, nil
}

// Require is Check returning *InsufficientCreditError on refusal.
func (g *Guard) Require(ctx context.Context, userID string, kind Kind, amount int64) (*Check, error) {
	c, err := g.Check(ctx, userID, kind, amount)
	if err != nil {
		return nil, err
	}
	if !c.Allowed {
		return c, &InsufficientCreditError{Kind: kind, Remaining: c.Remaining, Message: c.Message}
	}
	return c, nil
}

// Consume debits amount credits for a completed operation on subject.
// Callers invoke it once per non-empty outcome.
func (g *Guard) Consume(ctx context.Context, userID string, kind Kind, amount int64, subjectID, subjectType string) (*ConsumeResult, error) {
	if !g.enforce {
		return &ConsumeResult{Success: true, NewBalance: Unlimited}, nil
	}
	balance, ok, err := g.ledger.Debit(ctx, Debit{
		UserID:      userID,
		Kind:        kind,
		Amount:      amount,
		SubjectID:   subjectID,
		SubjectType: subjectType,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "credit: debit %s for %s", kind, userID)
	}
	if !ok {
		zap.L().Warn("credit: debit refused, balance too low",
			zap.String("user_id", userID),
			zap.String("kind", string(kind)),
			zap.Int64("balance", balance),
		)
		return &ConsumeResult{Success: false, NewBalance: balance}, nil
	}
	metrics.CreditsConsumed.WithLabelValues(string(kind)).Add(float64(amount))
	return &ConsumeResult{Success: true, NewBalance: balance}, nil
}
