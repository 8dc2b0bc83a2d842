package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/agentbank/internal/app/domain/commission"
	"github.com/R3E-Network/agentbank/internal/app/domain/identity"
	"github.com/R3E-Network/agentbank/internal/app/domain/ledger"
	"github.com/R3E-Network/agentbank/internal/app/domain/operation"
	"github.com/R3E-Network/agentbank/internal/app/domain/ticket"
)

var (
	// ErrNotFound is returned when a referenced record does not exist or,
	// for queue claims, when no candidate is available.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("storage: duplicate key")
	// ErrClaimLost is returned when a conditional claim or release matched
	// no row because another validator changed the operation first.
	ErrClaimLost = errors.New("storage: claim lost")
)

// UserFilter narrows user listings.
type UserFilter struct {
	Role       identity.Role
	AgencyID   string
	ActiveOnly bool
}

// UserStore persists users, their credentials and role grants.
type UserStore interface {
	CreateUser(ctx context.Context, user identity.User) (identity.User, error)
	GetUser(ctx context.Context, id string) (identity.User, error)
	GetUserByIdentifier(ctx context.Context, identifier string) (identity.User, error)
	// LockUser reads the user and holds it until the transaction ends.
	LockUser(ctx context.Context, id string) (identity.User, error)
	ListUsers(ctx context.Context, filter UserFilter) ([]identity.User, error)
	UpdateUserBalance(ctx context.Context, id string, balance decimal.Decimal, at time.Time) error
	SetUserActive(ctx context.Context, id string, active bool, at time.Time) (identity.User, error)
	CountUsersByRole(ctx context.Context, role identity.Role) (int, error)

	CreateCredential(ctx context.Context, cred identity.Credential) error
	GetCredential(ctx context.Context, userID string) (identity.Credential, error)
	CreateRoleBinding(ctx context.Context, binding identity.RoleBinding) error
	ListRoleBindings(ctx context.Context, userID string) ([]identity.RoleBinding, error)
}

// AgencyStore persists agencies.
type AgencyStore interface {
	CreateAgency(ctx context.Context, agency identity.Agency) (identity.Agency, error)
	GetAgency(ctx context.Context, id string) (identity.Agency, error)
	LockAgency(ctx context.Context, id string) (identity.Agency, error)
	GetAgencyByCode(ctx context.Context, code string) (identity.Agency, error)
	ListAgencies(ctx context.Context) ([]identity.Agency, error)
	SetAgencyChief(ctx context.Context, id, chiefID string, at time.Time) error
}

// CatalogStore persists operation types and commission rules.
type CatalogStore interface {
	CreateOperationType(ctx context.Context, typ operation.Type) (operation.Type, error)
	GetOperationType(ctx context.Context, id string) (operation.Type, error)
	GetOperationTypeByName(ctx context.Context, name string) (operation.Type, error)
	ListOperationTypes(ctx context.Context) ([]operation.Type, error)

	CreateCommissionRule(ctx context.Context, rule commission.Rule) (commission.Rule, error)
	// DeactivateCommissionRules clears the active flag of every rule of the
	// type and reports how many were changed.
	DeactivateCommissionRules(ctx context.Context, operationTypeID string) (int, error)
	GetActiveCommissionRule(ctx context.Context, operationTypeID string) (commission.Rule, error)
	ListCommissionRules(ctx context.Context, operationTypeID string) ([]commission.Rule, error)
}

// ClaimRequest selects the next queue item for a validator.
type ClaimRequest struct {
	ValidatorID string
	// AgencyID limits the scope; empty means all agencies.
	AgencyID string
	At       time.Time
}

// QueueScope parameterises queue statistics.
type QueueScope struct {
	ValidatorID  string
	AgencyID     string
	UrgentBefore time.Time
}

// OperationStore persists operations and implements the claim primitives.
type OperationStore interface {
	CreateOperation(ctx context.Context, op operation.Operation) (operation.Operation, error)
	GetOperation(ctx context.Context, id string) (operation.Operation, error)
	LockOperation(ctx context.Context, id string) (operation.Operation, error)
	UpdateOperation(ctx context.Context, op operation.Operation) (operation.Operation, error)
	ListOperations(ctx context.Context, filter operation.Filter) ([]operation.Operation, error)

	// ClaimNextOperation binds the oldest unbound pending operation in scope
	// to the validator in one conditional update. It returns ErrNotFound when
	// nothing is available and ErrClaimLost when a candidate was taken by a
	// concurrent claimant.
	ClaimNextOperation(ctx context.Context, req ClaimRequest) (operation.Operation, error)
	// ClaimOperation binds a specific operation if it is still unbound.
	ClaimOperation(ctx context.Context, id, validatorID string, at time.Time) (operation.Operation, error)
	// ReleaseOperation returns an assigned operation to pending only if it is
	// bound to validatorID.
	ReleaseOperation(ctx context.Context, id, validatorID string, at time.Time) (operation.Operation, error)
	ListStaleAssignments(ctx context.Context, assignedBefore time.Time) ([]operation.Operation, error)
	QueueStats(ctx context.Context, scope QueueScope) (operation.QueueStats, error)
}

// LedgerStore is the append-only balance journal.
type LedgerStore interface {
	AppendLedgerEntry(ctx context.Context, entry ledger.Entry) (ledger.Entry, error)
	ListLedgerEntries(ctx context.Context, userID string) ([]ledger.Entry, error)
	ListLedgerEntriesByOperation(ctx context.Context, operationID string) ([]ledger.Entry, error)
}

// CommissionStore persists commission records and payouts.
type CommissionStore interface {
	CreateCommissionRecord(ctx context.Context, rec commission.Record) (commission.Record, error)
	GetCommissionRecord(ctx context.Context, id string) (commission.Record, error)
	LockCommissionRecord(ctx context.Context, id string) (commission.Record, error)
	GetCommissionRecordByOperation(ctx context.Context, operationID string) (commission.Record, error)
	MarkCommissionRecordPaid(ctx context.Context, id string, at time.Time) error
	ListCommissionRecords(ctx context.Context, filter commission.RecordFilter) ([]commission.Record, error)
	CreateCommissionTransfer(ctx context.Context, tr commission.Transfer) (commission.Transfer, error)
	ListCommissionTransfers(ctx context.Context, recordID string) ([]commission.Transfer, error)
}

// TicketStore persists tickets and their comments.
type TicketStore interface {
	CreateTicket(ctx context.Context, t ticket.Ticket) (ticket.Ticket, error)
	GetTicket(ctx context.Context, id string) (ticket.Ticket, error)
	LockTicket(ctx context.Context, id string) (ticket.Ticket, error)
	UpdateTicket(ctx context.Context, t ticket.Ticket) (ticket.Ticket, error)
	ListTickets(ctx context.Context, filter ticket.Filter) ([]ticket.Ticket, error)
	AddTicketComment(ctx context.Context, c ticket.Comment) (ticket.Comment, error)
	ListTicketComments(ctx context.Context, ticketID string) ([]ticket.Comment, error)
}

// Tx is the set of stores visible inside one transaction.
type Tx interface {
	UserStore
	AgencyStore
	CatalogStore
	OperationStore
	LedgerStore
	CommissionStore
	TicketStore
}

// Store is a Tx that can also open transactions. Calls made directly on the
// Store run in their own implicit transaction.
type Store interface {
	Tx
	// Atomic runs fn in one transaction. Any error returned by fn rolls back
	// every write made through tx.
	Atomic(ctx context.Context, fn func(tx Tx) error) error
}
