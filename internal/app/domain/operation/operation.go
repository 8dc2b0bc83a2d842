// Package operation models customer-facing actions and their lifecycle.
package operation

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an operation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAssigned  Status = "assigned"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status]map[Status]bool{
	StatusPending:  {StatusAssigned: true, StatusCancelled: true, StatusCompleted: true},
	StatusAssigned: {StatusPending: true, StatusCompleted: true, StatusFailed: true},
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether s may move to next. The pending to
// completed edge is only used by system recharges, which are settled at
// creation.
func (s Status) CanTransition(next Status) bool {
	return transitions[s][next]
}

// Direction is the effect of an approved operation on the initiator balance.
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionDebit || d == DirectionCredit
}

// Decision is a validator verdict.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// RechargeTypeName names the system type used for balance top-ups.
const RechargeTypeName = "recharge"

// Type is a catalog entry describing a kind of operation.
type Type struct {
	ID             string    `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	Description    string    `json:"description,omitempty" db:"description"`
	ImpactsBalance bool      `json:"impacts_balance" db:"impacts_balance"`
	Direction      Direction `json:"direction" db:"direction"`
	RequiresAgency bool      `json:"requires_agency" db:"requires_agency"`
	RequiredFields []string  `json:"required_fields,omitempty" db:"-"`
	Active         bool      `json:"active" db:"active"`
	System         bool      `json:"system" db:"system"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Operation is a single action initiated by a user.
type Operation struct {
	ID            string          `json:"id" db:"id"`
	Reference     string          `json:"reference" db:"reference"`
	TypeID        string          `json:"type_id" db:"type_id"`
	InitiatorID   string          `json:"initiator_id" db:"initiator_id"`
	AgencyID      string          `json:"agency_id,omitempty" db:"agency_id"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Currency      string          `json:"currency" db:"currency"`
	Status        Status          `json:"status" db:"status"`
	ValidatorID   string          `json:"validator_id,omitempty" db:"validator_id"`
	Payload       json.RawMessage `json:"payload,omitempty" db:"payload"`
	FailureReason string          `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	AssignedAt    *time.Time      `json:"assigned_at,omitempty" db:"assigned_at"`
	ValidatedAt   *time.Time      `json:"validated_at,omitempty" db:"validated_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// Unbound reports whether the operation is waiting in the queue.
func (o Operation) Unbound() bool {
	return o.Status == StatusPending && o.ValidatorID == ""
}

// QueueStats summarises the validation queue for one validator scope.
type QueueStats struct {
	Unassigned   int `json:"unassigned_count"`
	AssignedToMe int `json:"my_tasks_count"`
	AllActive    int `json:"all"`
	Urgent       int `json:"urgent_count"`
}

// Filter narrows operation listings.
type Filter struct {
	InitiatorID string
	AgencyID    string
	ValidatorID string
	Status      Status
	Limit       int
}
