// Package commission models commission rules, records and transfers.
package commission

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind selects how a rule computes the raw commission.
type Kind string

const (
	KindPercentage Kind = "percentage"
	KindFixed      Kind = "fixed"
)

// Valid reports whether k is a known rule kind.
func (k Kind) Valid() bool {
	return k == KindPercentage || k == KindFixed
}

// RecordStatus tracks payout of a commission record.
type RecordStatus string

const (
	RecordPending RecordStatus = "pending"
	RecordPaid    RecordStatus = "paid"
)

// Rule is the commission configuration of an operation type. Rate is a
// fraction: 0.025 means 2.5%.
type Rule struct {
	ID              string              `json:"id" db:"id"`
	OperationTypeID string              `json:"operation_type_id" db:"operation_type_id"`
	Kind            Kind                `json:"kind" db:"kind"`
	Rate            decimal.Decimal     `json:"rate" db:"rate"`
	FixedAmount     decimal.Decimal     `json:"fixed_amount" db:"fixed_amount"`
	MinAmount       decimal.NullDecimal `json:"min_amount" db:"min_amount"`
	MaxAmount       decimal.NullDecimal `json:"max_amount" db:"max_amount"`
	Active          bool                `json:"active" db:"active"`
	CreatedBy       string              `json:"created_by,omitempty" db:"created_by"`
	CreatedAt       time.Time           `json:"created_at" db:"created_at"`
}

// Record is the commission accrued by one completed operation.
// TotalCommission always equals AgentCommission + ChiefCommission.
type Record struct {
	ID              string          `json:"id" db:"id"`
	OperationID     string          `json:"operation_id" db:"operation_id"`
	AgencyID        string          `json:"agency_id,omitempty" db:"agency_id"`
	AgentID         string          `json:"agent_id" db:"agent_id"`
	ChiefID         string          `json:"chief_id,omitempty" db:"chief_id"`
	RuleID          string          `json:"rule_id" db:"rule_id"`
	AgentCommission decimal.Decimal `json:"agent_commission" db:"agent_commission"`
	ChiefCommission decimal.Decimal `json:"chief_commission" db:"chief_commission"`
	TotalCommission decimal.Decimal `json:"total_commission" db:"total_commission"`
	Currency        string          `json:"currency" db:"currency"`
	Status          RecordStatus    `json:"status" db:"status"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	PaidAt          *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
}

// Balanced reports whether the split adds up to the total.
func (r Record) Balanced() bool {
	return r.AgentCommission.Add(r.ChiefCommission).Equal(r.TotalCommission)
}

// Transfer records the payout of a commission record.
type Transfer struct {
	ID          string          `json:"id" db:"id"`
	Reference   string          `json:"reference" db:"reference"`
	RecordID    string          `json:"record_id" db:"record_id"`
	PaidBy      string          `json:"paid_by" db:"paid_by"`
	AgentAmount decimal.Decimal `json:"agent_amount" db:"agent_amount"`
	ChiefAmount decimal.Decimal `json:"chief_amount" db:"chief_amount"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Policy fixes how a total is split and rounded.
type Policy struct {
	// ChiefShare is the fraction of the total owed to the agency chief.
	ChiefShare decimal.Decimal
	// Precision is the number of minor-unit decimal places kept.
	Precision int32
}

// DefaultPolicy is the 70/30 agent/chief split at two decimal places.
func DefaultPolicy() Policy {
	return Policy{ChiefShare: decimal.RequireFromString("0.30"), Precision: 2}
}

// Representable reports whether amount carries no digits past Precision.
func (p Policy) Representable(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(p.Precision))
}

// StatusTotals aggregates records sharing a status.
type StatusTotals struct {
	Count           int             `json:"count"`
	AgentCommission decimal.Decimal `json:"agent_commission"`
	ChiefCommission decimal.Decimal `json:"chief_commission"`
	TotalCommission decimal.Decimal `json:"total_commission"`
}

// Add folds r into the totals.
func (t StatusTotals) Add(r Record) StatusTotals {
	t.Count++
	t.AgentCommission = t.AgentCommission.Add(r.AgentCommission)
	t.ChiefCommission = t.ChiefCommission.Add(r.ChiefCommission)
	t.TotalCommission = t.TotalCommission.Add(r.TotalCommission)
	return t
}

// Summary aggregates an agency's commission over [From, To).
type Summary struct {
	AgencyID string                        `json:"agency_id"`
	From     time.Time                     `json:"from"`
	To       time.Time                     `json:"to"`
	Overall  StatusTotals                  `json:"overall"`
	ByStatus map[RecordStatus]StatusTotals `json:"by_status"`
}

// RecordFilter narrows record listings.
type RecordFilter struct {
	AgencyID string
	AgentID  string
	Status   RecordStatus
	From     time.Time
	To       time.Time
}
