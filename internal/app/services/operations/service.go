// Package operations owns the operation state machine and every balance
// mutation. Balance change, ledger append and commission record are always
// written in the same transaction.
package operations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/agentbank/internal/app/domain/commission"
	"github.com/R3E-Network/agentbank/internal/app/domain/identity"
	"github.com/R3E-Network/agentbank/internal/app/domain/ledger"
	"github.com/R3E-Network/agentbank/internal/app/domain/operation"
	"github.com/R3E-Network/agentbank/internal/app/metrics"
	"github.com/R3E-Network/agentbank/internal/app/services/actors"
	"github.com/R3E-Network/agentbank/internal/app/services/commissions"
	"github.com/R3E-Network/agentbank/internal/app/services/refs"
	"github.com/R3E-Network/agentbank/internal/app/storage"
	apperrors "github.com/R3E-Network/agentbank/internal/errors"
	"github.com/R3E-Network/agentbank/pkg/logger"
)

// DefaultCurrency is used when a request does not name one.
const DefaultCurrency = "XOF"

// Service implements the operation ledger.
type Service struct {
	store       storage.Store
	commissions *commissions.Engine
	currency    string
	log         *logger.Logger
	clock       func() time.Time
}

// New constructs the ledger service.
func New(store storage.Store, engine *commissions.Engine, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("operations")
	}
	if engine == nil {
		engine = commissions.New(store, commission.DefaultPolicy(), log.WithComponent("commissions"))
	}
	return &Service{
		store:       store,
		commissions: engine,
		currency:    DefaultCurrency,
		log:         log,
		clock:       func() time.Time { return time.Now().UTC() },
	}
}

// checkPrecision rejects amounts finer than the currency minor unit.
func (s *Service) checkPrecision(amount decimal.Decimal) error {
	policy := s.commissions.Policy()
	if !policy.Representable(amount) {
		return apperrors.Validation("amount %s has more than %d decimal places", amount, policy.Precision).
			WithDetails("precision", policy.Precision)
	}
	return nil
}

// WithClock overrides the time source.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// WithCurrency sets the default currency.
func (s *Service) WithCurrency(currency string) *Service {
	if currency != "" {
		s.currency = strings.ToUpper(currency)
	}
	return s
}

// EnsureSystemTypes creates the recharge type used for balance top-ups.
func (s *Service) EnsureSystemTypes(ctx context.Context) error {
	_, err := s.store.GetOperationTypeByName(ctx, operation.RechargeTypeName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.Classify(err, "operation type", operation.RechargeTypeName)
	}
	now := s.clock()
	_, err = s.store.CreateOperationType(ctx, operation.Type{
		Name:           operation.RechargeTypeName,
		Description:    "Float top-up credited by a chief or administrator",
		ImpactsBalance: true,
		Direction:      operation.DirectionCredit,
		Active:         true,
		System:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil && !errors.Is(err, storage.ErrDuplicate) {
		return storage.Classify(err, "operation type", operation.RechargeTypeName)
	}
	return nil
}

// TypeSpec describes an operation type to register.
type TypeSpec struct {
	Name           string
	Description    string
	ImpactsBalance bool
	Direction      operation.Direction
	RequiresAgency bool
	RequiredFields []string
}

// CreateType registers an operation type. Administrators only.
func (s *Service) CreateType(ctx context.Context, actorID string, spec TypeSpec) (operation.Type, error) {
	spec.Name = strings.ToLower(strings.TrimSpace(spec.Name))
	if spec.Name == "" {
		return operation.Type{}, apperrors.Validation("operation type name is required")
	}
	if spec.Name == operation.RechargeTypeName {
		return operation.Type{}, apperrors.Conflict("operation type %s is reserved", spec.Name)
	}
	if spec.Direction == "" {
		spec.Direction = operation.DirectionDebit
	}
	if !spec.Direction.Valid() {
		return operation.Type{}, apperrors.Validation("unknown direction %q", spec.Direction)
	}
	fields := make([]string, 0, len(spec.RequiredFields))
	for _, f := range spec.RequiredFields {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}

	var created operation.Type
	err := s.store.Atomic(ctx, func(tx storage.Tx) error {
		if _, err := actors.Administrator(ctx, tx, actorID); err != nil {
			return err
		}
		now := s.clock()
		var err error
		created, err = tx.CreateOperationType(ctx, operation.Type{
			Name:           spec.Name,
			Description:    spec.Description,
			ImpactsBalance: spec.ImpactsBalance,
			Direction:      spec.Direction,
			RequiresAgency: spec.RequiresAgency,
			RequiredFields: fields,
			Active:         true,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		return storage.Classify(err, "operation type", spec.Name)
	})
	if err != nil {
		return operation.Type{}, err
	}
	s.log.WithField("operation_type_id", created.ID).WithField("name", created.Name).Info("operation type registered")
	return created, nil
}

// Types lists the operation catalog.
func (s *Service) Types(ctx context.Context) ([]operation.Type, error) {
	types, err := s.store.ListOperationTypes(ctx)
	return types, storage.Classify(err, "operation type", "list")
}

// CreateRequest describes a new operation.
type CreateRequest struct {
	InitiatorID string
	TypeID      string
	Amount      decimal.Decimal
	Currency    string
	Payload     json.RawMessage
}

// Create records a pending operation.
func (s *Service) Create(ctx context.Context, req CreateRequest) (operation.Operation, error) {
	payload, err := normalisePayload(req.Payload)
	if err != nil {
		return operation.Operation{}, err
	}

	var created operation.Operation
	err = s.store.Atomic(ctx, func(tx storage.Tx) error {
		initiator, err := actors.Active(ctx, tx, req.InitiatorID)
		if err != nil {
			return err
		}
		typ, err := tx.GetOperationType(ctx, req.TypeID)
		if err != nil {
			return storage.Classify(err, "operation type", req.TypeID)
		}
		if !typ.Active {
			return apperrors.Validation("operation type %s is inactive", typ.Name)
		}
		if typ.System {
			return apperrors.Validation("operation type %s cannot be created directly", typ.Name)
		}
		if typ.RequiresAgency && initiator.AgencyID == "" {
			return apperrors.Validation("operation type %s requires an agency", typ.Name)
		}

		amount := req.Amount
		if typ.ImpactsBalance {
			if !amount.IsPositive() {
				return apperrors.Validation("amount must be positive for %s", typ.Name)
			}
			if err := s.checkPrecision(amount); err != nil {
				return err
			}
		} else {
			amount = decimal.Zero
		}
		for _, field := range typ.RequiredFields {
			if !gjson.GetBytes(payload, field).Exists() {
				return apperrors.Validation("payload field %q is required for %s", field, typ.Name).WithDetails("field", field)
			}
		}

		currency := strings.ToUpper(strings.TrimSpace(req.Currency))
		if currency == "" {
			currency = s.currency
		}
		now := s.clock()
		created, err = tx.CreateOperation(ctx, operation.Operation{
			Reference:   refs.New(refs.Operation, now),
			TypeID:      typ.ID,
			InitiatorID: initiator.ID,
			AgencyID:    initiator.AgencyID,
			Amount:      amount,
			Currency:    currency,
			Status:      operation.StatusPending,
			Payload:     payload,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		return storage.Classify(err, "operation", req.TypeID)
	})
	if err != nil {
		s.log.WithContext(ctx).WithError(err).WithField("initiator_id", req.InitiatorID).Warn("operation rejected")
		return operation.Operation{}, err
	}
	s.log.WithContext(ctx).WithFields(map[string]any{
		"operation_id": created.ID,
		"reference":    created.Reference,
		"amount":       created.Amount.String(),
	}).Info("operation created")
	return created, nil
}

func normalisePayload(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return json.RawMessage("{}"), nil
	}
	if !gjson.Valid(trimmed) || !gjson.Parse(trimmed).IsObject() {
		return nil, apperrors.Validation("payload must be a JSON object")
	}
	return json.RawMessage(trimmed), nil
}

// SettleRequest carries a validator decision.
type SettleRequest struct {
	OperationID string
	ValidatorID string
	Decision    operation.Decision
	Reason      string
}

// Settle applies the bound validator's decision. Approval moves the
// balance, appends the ledger entry, completes the operation and records
// the commission atomically. Rejection fails the operation without
// touching the balance.
func (s *Service) Settle(ctx context.Context, req SettleRequest) (operation.Operation, error) {
	if req.Decision != operation.DecisionApprove && req.Decision != operation.DecisionReject {
		return operation.Operation{}, apperrors.Validation("decision must be approve or reject")
	}

	var (
		settled operation.Operation
		accrued commission.Record
	)
	err := s.store.Atomic(ctx, func(tx storage.Tx) error {
		op, err := tx.LockOperation(ctx, req.OperationID)
		if err != nil {
			return storage.Classify(err, "operation", req.OperationID)
		}
		if op.Status.Terminal() {
			return apperrors.Conflict("operation %s is already %s", op.Reference, op.Status)
		}
		if op.Status != operation.StatusAssigned {
			return apperrors.Conflict("operation %s is not assigned to a validator", op.Reference)
		}
		if op.ValidatorID != req.ValidatorID {
			return apperrors.Forbidden("operation %s is bound to another validator", op.Reference)
		}
		if _, err := actors.Active(ctx, tx, req.ValidatorID); err != nil {
			return err
		}

		now := s.clock()
		op.ValidatedAt = &now
		op.UpdatedAt = now

		if req.Decision == operation.DecisionReject {
			reason := strings.TrimSpace(req.Reason)
			if reason == "" {
				reason = "rejected by validator"
			}
			op.Status = operation.StatusFailed
			op.FailureReason = reason
			settled, err = tx.UpdateOperation(ctx, op)
			return storage.Classify(err, "operation", op.ID)
		}

		typ, err := tx.GetOperationType(ctx, op.TypeID)
		if err != nil {
			return storage.Classify(err, "operation type", op.TypeID)
		}
		if typ.ImpactsBalance {
			desc := fmt.Sprintf("%s %s", typ.Name, op.Reference)
			if _, err := s.applyTx(ctx, tx, op.InitiatorID, op.ID, typ.Direction, op.Amount, desc, now); err != nil {
				return err
			}
		}
		op.Status = operation.StatusCompleted
		op.CompletedAt = &now
		if settled, err = tx.UpdateOperation(ctx, op); err != nil {
			return storage.Classify(err, "operation", op.ID)
		}
		accrued, _, err = s.commissions.RecordTx(ctx, tx, settled)
		return err
	})
	metrics.RecordSettlement(string(req.Decision), err)
	if err == nil {
		metrics.RecordCommission(accrued.TotalCommission.InexactFloat64())
	}
	if err != nil {
		s.log.WithContext(ctx).WithError(err).
			WithField("operation_id", req.OperationID).
			WithField("validator_id", req.ValidatorID).
			Warn("settlement rejected")
		return operation.Operation{}, err
	}
	s.log.WithContext(ctx).WithFields(map[string]any{
		"operation_id": settled.ID,
		"validator_id": req.ValidatorID,
		"status":       settled.Status,
	}).Info("operation settled")
	return settled, nil
}

// applyTx moves a balance and appends the matching ledger entry.
func (s *Service) applyTx(ctx context.Context, tx storage.Tx, userID, operationID string, dir operation.Direction, amount decimal.Decimal, desc string, at time.Time) (ledger.Entry, error) {
	user, err := tx.LockUser(ctx, userID)
	if err != nil {
		return ledger.Entry{}, storage.Classify(err, "user", userID)
	}
	before := user.Balance
	var after decimal.Decimal
	switch dir {
	case operation.DirectionCredit:
		after = before.Add(amount)
	default:
		dir = operation.DirectionDebit
		after = before.Sub(amount)
		if after.IsNegative() {
			return ledger.Entry{}, apperrors.InsufficientFunds("balance %s is below %s", before.StringFixed(2), amount.StringFixed(2)).
				WithDetails("user_id", userID).
				WithDetails("balance", before.String()).
				WithDetails("amount", amount.String())
		}
	}
	if err := tx.UpdateUserBalance(ctx, userID, after, at); err != nil {
		return ledger.Entry{}, storage.Classify(err, "user", userID)
	}
	entry, err := tx.AppendLedgerEntry(ctx, ledger.Entry{
		UserID:        userID,
		OperationID:   operationID,
		Direction:     dir,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Description:   desc,
		CreatedAt:     at,
	})
	if err != nil {
		return ledger.Entry{}, storage.Classify(err, "ledger entry", operationID)
	}
	return entry, nil
}

// Cancel withdraws a pending operation. Only the initiator or one of their
// supervisors may cancel, and only before a validator claims it.
func (s *Service) Cancel(ctx context.Context, operationID, actorID string) (operation.Operation, error) {
	var cancelled operation.Operation
	err := s.store.Atomic(ctx, func(tx storage.Tx) error {
		op, err := tx.LockOperation(ctx, operationID)
		if err != nil {
			return storage.Classify(err, "operation", operationID)
		}
		if op.Status.Terminal() {
			return apperrors.Conflict("operation %s is already %s", op.Reference, op.Status)
		}
		if !op.Status.CanTransition(operation.StatusCancelled) {
			return apperrors.Conflict("operation %s is %s and can no longer be cancelled", op.Reference, op.Status)
		}
		actor, err := actors.Active(ctx, tx, actorID)
		if err != nil {
			return err
		}
		if actor.ID != op.InitiatorID {
			initiator, err := tx.GetUser(ctx, op.InitiatorID)
			if err != nil {
				return storage.Classify(err, "user", op.InitiatorID)
			}
			if !actor.Supervises(initiator) {
				return apperrors.Forbidden("only the initiator or a supervisor may cancel %s", op.Reference)
			}
		}
		op.Status = operation.StatusCancelled
		op.UpdatedAt = s.clock()
		cancelled, err = tx.UpdateOperation(ctx, op)
		return storage.Classify(err, "operation", op.ID)
	})
	if err != nil {
		return operation.Operation{}, err
	}
	s.log.WithContext(ctx).WithField("operation_id", cancelled.ID).Info("operation cancelled")
	return cancelled, nil
}

// Get returns an operation.
func (s *Service) Get(ctx context.Context, id string) (operation.Operation, error) {
	op, err := s.store.GetOperation(ctx, id)
	return op, storage.Classify(err, "operation", id)
}

// View returns an operation if the viewer initiated it, is bound to it,
// administers the platform or runs the operation's agency.
func (s *Service) View(ctx context.Context, viewerID, id string) (operation.Operation, error) {
	viewer, err := actors.Active(ctx, s.store, viewerID)
	if err != nil {
		return operation.Operation{}, err
	}
	op, err := s.Get(ctx, id)
	if err != nil {
		return operation.Operation{}, err
	}
	switch {
	case viewer.Role.IsAdministrator(),
		op.InitiatorID == viewer.ID,
		op.ValidatorID == viewer.ID,
		viewer.Role == identity.RoleChefAgence && op.AgencyID != "" && op.AgencyID == viewer.AgencyID:
		return op, nil
	}
	return operation.Operation{}, apperrors.Forbidden("operation %s is outside your scope", op.Reference)
}

// List returns operations visible to the viewer.
func (s *Service) List(ctx context.Context, viewerID string, filter operation.Filter) ([]operation.Operation, error) {
	viewer, err := actors.Active(ctx, s.store, viewerID)
	if err != nil {
		return nil, err
	}
	switch {
	case viewer.Role.IsAdministrator():
	case viewer.Role == identity.RoleChefAgence:
		filter.AgencyID = viewer.AgencyID
	default:
		filter.InitiatorID = viewer.ID
	}
	ops, err := s.store.ListOperations(ctx, filter)
	return ops, storage.Classify(err, "operation", "list")
}
