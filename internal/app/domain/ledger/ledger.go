// Package ledger models the append-only balance journal.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/agentbank/internal/app/domain/operation"
)

// Entry is one immutable balance change.
// BalanceAfter == BalanceBefore ± Amount depending on Direction.
type Entry struct {
	ID            string              `json:"id" db:"id"`
	UserID        string              `json:"user_id" db:"user_id"`
	OperationID   string              `json:"operation_id" db:"operation_id"`
	Direction     operation.Direction `json:"direction" db:"direction"`
	Amount        decimal.Decimal     `json:"amount" db:"amount"`
	BalanceBefore decimal.Decimal     `json:"balance_before" db:"balance_before"`
	BalanceAfter  decimal.Decimal     `json:"balance_after" db:"balance_after"`
	Description   string              `json:"description" db:"description"`
	CreatedAt     time.Time           `json:"created_at" db:"created_at"`
}

// Delta is the signed effect of the entry on the balance.
func (e Entry) Delta() decimal.Decimal {
	if e.Direction == operation.DirectionDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// Consistent reports whether the before/after balances match the amount.
func (e Entry) Consistent() bool {
	return e.BalanceBefore.Add(e.Delta()).Equal(e.BalanceAfter)
}

// Sum adds the signed deltas of entries.
func Sum(entries []Entry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Delta())
	}
	return total
}

// Verification compares a stored balance with the ledger.
type Verification struct {
	UserID        string          `json:"user_id"`
	Balance       decimal.Decimal `json:"balance"`
	LedgerBalance decimal.Decimal `json:"ledger_balance"`
	Entries       int             `json:"entries"`
	Consistent    bool            `json:"consistent"`
}
