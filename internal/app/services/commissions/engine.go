// Package commissions computes and reports agent/chief commission splits.
package commissions

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/agentbank/internal/app/domain/commission"
	"github.com/R3E-Network/agentbank/internal/app/domain/identity"
	"github.com/R3E-Network/agentbank/internal/app/domain/operation"
	"github.com/R3E-Network/agentbank/internal/app/services/actors"
	"github.com/R3E-Network/agentbank/internal/app/storage"
	apperrors "github.com/R3E-Network/agentbank/internal/errors"
	"github.com/R3E-Network/agentbank/pkg/logger"
)

// Split is the result of applying a rule to an amount.
type Split struct {
	Agent decimal.Decimal
	Chief decimal.Decimal
	Total decimal.Decimal
}

// Compute applies rule to amount. The total is clamped to the rule bounds
// and rounded to the policy precision; the chief share is truncated so any
// rounding remainder stays with the agent. Without a chief the agent keeps
// the whole total.
func Compute(amount decimal.Decimal, rule commission.Rule, hasChief bool, policy commission.Policy) Split {
	var raw decimal.Decimal
	switch rule.Kind {
	case commission.KindFixed:
		raw = rule.FixedAmount
	default:
		raw = amount.Mul(rule.Rate)
	}
	if rule.MinAmount.Valid && raw.LessThan(rule.MinAmount.Decimal) {
		raw = rule.MinAmount.Decimal
	}
	if rule.MaxAmount.Valid && raw.GreaterThan(rule.MaxAmount.Decimal) {
		raw = rule.MaxAmount.Decimal
	}

	total := raw.Round(policy.Precision)
	chief := decimal.Zero
	if hasChief {
		chief = total.Mul(policy.ChiefShare).Truncate(policy.Precision)
	}
	return Split{Agent: total.Sub(chief), Chief: chief, Total: total}
}

// Engine persists commission records and manages rules.
type Engine struct {
	store  storage.Store
	policy commission.Policy
	log    *logger.Logger
	clock  func() time.Time
}

// New constructs a commission engine.
func New(store storage.Store, policy commission.Policy, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("commissions")
	}
	if policy.ChiefShare.IsZero() && policy.Precision == 0 {
		policy = commission.DefaultPolicy()
	}
	return &Engine{store: store, policy: policy, log: log, clock: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the time source.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Policy returns the split policy in force.
func (e *Engine) Policy() commission.Policy { return e.policy }

// RecordTx computes and stores the commission for a just-completed
// operation inside tx. It reports false when the type has no active rule.
func (e *Engine) RecordTx(ctx context.Context, tx storage.Tx, op operation.Operation) (commission.Record, bool, error) {
	rule, err := tx.GetActiveCommissionRule(ctx, op.TypeID)
	if errors.Is(err, storage.ErrNotFound) {
		return commission.Record{}, false, nil
	}
	if err != nil {
		return commission.Record{}, false, storage.Classify(err, "commission rule", op.TypeID)
	}

	chiefID, err := activeChief(ctx, tx, op.AgencyID)
	if err != nil {
		return commission.Record{}, false, err
	}

	split := Compute(op.Amount, rule, chiefID != "", e.policy)
	rec := commission.Record{
		OperationID:     op.ID,
		AgencyID:        op.AgencyID,
		AgentID:         op.InitiatorID,
		ChiefID:         chiefID,
		RuleID:          rule.ID,
		AgentCommission: split.Agent,
		ChiefCommission: split.Chief,
		TotalCommission: split.Total,
		Currency:        op.Currency,
		Status:          commission.RecordPending,
		CreatedAt:       e.clock(),
	}
	rec, err = tx.CreateCommissionRecord(ctx, rec)
	if err != nil {
		return commission.Record{}, false, storage.Classify(err, "commission record", op.ID)
	}
	e.log.WithFields(map[string]any{
		"operation_id": op.ID,
		"total":        rec.TotalCommission.String(),
		"agent":        rec.AgentCommission.String(),
		"chief":        rec.ChiefCommission.String(),
	}).Info("commission recorded")
	return rec, true, nil
}

func activeChief(ctx context.Context, tx storage.Tx, agencyID string) (string, error) {
	if agencyID == "" {
		return "", nil
	}
	agency, err := tx.GetAgency(ctx, agencyID)
	if err != nil {
		return "", storage.Classify(err, "agency", agencyID)
	}
	if agency.ChiefID == "" {
		return "", nil
	}
	chief, err := tx.GetUser(ctx, agency.ChiefID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", storage.Classify(err, "user", agency.ChiefID)
	}
	if !chief.Active {
		return "", nil
	}
	return chief.ID, nil
}

// RuleSpec describes a commission rule to install.
type RuleSpec struct {
	OperationTypeID string
	Kind            commission.Kind
	Rate            decimal.Decimal
	FixedAmount     decimal.Decimal
	Min             decimal.NullDecimal
	Max             decimal.NullDecimal
}

// SetRule deactivates the current rule of the type and installs a new one
// in the same transaction.
func (e *Engine) SetRule(ctx context.Context, actorID string, spec RuleSpec) (commission.Rule, error) {
	if !spec.Kind.Valid() {
		return commission.Rule{}, apperrors.Validation("unknown commission kind %q", spec.Kind)
	}
	switch spec.Kind {
	case commission.KindPercentage:
		if spec.Rate.IsNegative() || spec.Rate.GreaterThan(decimal.NewFromInt(1)) {
			return commission.Rule{}, apperrors.Validation("rate must be a fraction between 0 and 1")
		}
	case commission.KindFixed:
		if spec.FixedAmount.IsNegative() {
			return commission.Rule{}, apperrors.Validation("fixed amount must not be negative")
		}
	}
	if spec.Min.Valid && spec.Min.Decimal.IsNegative() {
		return commission.Rule{}, apperrors.Validation("min must not be negative")
	}
	if spec.Min.Valid && spec.Max.Valid && spec.Min.Decimal.GreaterThan(spec.Max.Decimal) {
		return commission.Rule{}, apperrors.Validation("min %s exceeds max %s", spec.Min.Decimal, spec.Max.Decimal)
	}

	var created commission.Rule
	err := e.store.Atomic(ctx, func(tx storage.Tx) error {
		admin, err := actors.Administrator(ctx, tx, actorID)
		if err != nil {
			return err
		}
		if _, err := tx.GetOperationType(ctx, spec.OperationTypeID); err != nil {
			return storage.Classify(err, "operation type", spec.OperationTypeID)
		}
		if _, err := tx.DeactivateCommissionRules(ctx, spec.OperationTypeID); err != nil {
			return storage.Classify(err, "commission rule", spec.OperationTypeID)
		}
		created, err = tx.CreateCommissionRule(ctx, commission.Rule{
			OperationTypeID: spec.OperationTypeID,
			Kind:            spec.Kind,
			Rate:            spec.Rate,
			FixedAmount:     spec.FixedAmount,
			MinAmount:       spec.Min,
			MaxAmount:       spec.Max,
			Active:          true,
			CreatedBy:       admin.ID,
			CreatedAt:       e.clock(),
		})
		return storage.Classify(err, "commission rule", spec.OperationTypeID)
	})
	if err != nil {
		return commission.Rule{}, err
	}
	e.log.WithField("operation_type_id", spec.OperationTypeID).WithField("rule_id", created.ID).Info("commission rule installed")
	return created, nil
}

// Rules lists the rules of a type, newest last.
func (e *Engine) Rules(ctx context.Context, operationTypeID string) ([]commission.Rule, error) {
	rules, err := e.store.ListCommissionRules(ctx, operationTypeID)
	return rules, storage.Classify(err, "commission rule", operationTypeID)
}

// Summary totals an agency's commission records created in [from, to).
// Administrators may read any agency, chiefs only their own.
func (e *Engine) Summary(ctx context.Context, viewerID, agencyID string, from, to time.Time) (commission.Summary, error) {
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return commission.Summary{}, apperrors.Validation("period start must be before its end")
	}
	viewer, err := actors.Active(ctx, e.store, viewerID)
	if err != nil {
		return commission.Summary{}, err
	}
	if err := canReadAgency(viewer, agencyID); err != nil {
		return commission.Summary{}, err
	}

	records, err := e.store.ListCommissionRecords(ctx, commission.RecordFilter{AgencyID: agencyID, From: from, To: to})
	if err != nil {
		return commission.Summary{}, storage.Classify(err, "commission record", agencyID)
	}
	summary := commission.Summary{
		AgencyID: agencyID,
		From:     from,
		To:       to,
		ByStatus: map[commission.RecordStatus]commission.StatusTotals{},
	}
	for _, rec := range records {
		summary.Overall = summary.Overall.Add(rec)
		summary.ByStatus[rec.Status] = summary.ByStatus[rec.Status].Add(rec)
	}
	return summary, nil
}

// Records lists commission records visible to the viewer. Agents only see
// their own records.
func (e *Engine) Records(ctx context.Context, viewerID string, filter commission.RecordFilter) ([]commission.Record, error) {
	viewer, err := actors.Active(ctx, e.store, viewerID)
	if err != nil {
		return nil, err
	}
	switch {
	case viewer.Role.IsAdministrator():
	case viewer.Role == identity.RoleChefAgence:
		filter.AgencyID = viewer.AgencyID
	default:
		filter.AgentID = viewer.ID
	}
	records, err := e.store.ListCommissionRecords(ctx, filter)
	return records, storage.Classify(err, "commission record", "list")
}

func canReadAgency(viewer identity.User, agencyID string) error {
	if viewer.Role.IsAdministrator() {
		return nil
	}
	if viewer.Role == identity.RoleChefAgence && agencyID != "" && viewer.AgencyID == agencyID {
		return nil
	}
	return apperrors.Forbidden("user %s may not read agency %s", viewer.Identifier, agencyID)
}
