package operations

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/agentbank/internal/app/domain/commission"
	"github.com/R3E-Network/agentbank/internal/app/domain/identity"
	"github.com/R3E-Network/agentbank/internal/app/domain/ledger"
	"github.com/R3E-Network/agentbank/internal/app/domain/operation"
	"github.com/R3E-Network/agentbank/internal/app/services/actors"
	"github.com/R3E-Network/agentbank/internal/app/services/refs"
	"github.com/R3E-Network/agentbank/internal/app/storage"
	apperrors "github.com/R3E-Network/agentbank/internal/errors"
)

// RechargeTx credits an agent balance inside an existing transaction. The
// credit is recorded as a completed recharge operation validated by the
// resolver, with its ledger entry. Recharges carry no commission.
func (s *Service) RechargeTx(ctx context.Context, tx storage.Tx, resolverID, agentID string, amount decimal.Decimal, note string) (operation.Operation, error) {
	if !amount.IsPositive() {
		return operation.Operation{}, apperrors.Validation("recharge amount must be positive")
	}
	if err := s.checkPrecision(amount); err != nil {
		return operation.Operation{}, err
	}
	resolver, err := actors.Active(ctx, tx, resolverID)
	if err != nil {
		return operation.Operation{}, err
	}
	agent, err := tx.GetUser(ctx, agentID)
	if err != nil {
		return operation.Operation{}, storage.Classify(err, "user", agentID)
	}
	if agent.Role != identity.RoleAgent {
		return operation.Operation{}, apperrors.Validation("only agent balances can be recharged")
	}
	if !agent.Active {
		return operation.Operation{}, apperrors.Conflict("user %s is inactive", agent.Identifier)
	}
	if !resolver.Supervises(agent) {
		return operation.Operation{}, apperrors.Forbidden("%s cannot recharge %s", resolver.Identifier, agent.Identifier)
	}
	typ, err := tx.GetOperationTypeByName(ctx, operation.RechargeTypeName)
	if err != nil {
		return operation.Operation{}, storage.Classify(err, "operation type", operation.RechargeTypeName)
	}

	payload, _ := json.Marshal(map[string]string{"note": strings.TrimSpace(note)})
	now := s.clock()
	op, err := tx.CreateOperation(ctx, operation.Operation{
		Reference:   refs.New(refs.Recharge, now),
		TypeID:      typ.ID,
		InitiatorID: agent.ID,
		AgencyID:    agent.AgencyID,
		Amount:      amount,
		Currency:    s.currency,
		Status:      operation.StatusCompleted,
		ValidatorID: resolver.ID,
		Payload:     payload,
		CreatedAt:   now,
		AssignedAt:  &now,
		ValidatedAt: &now,
		CompletedAt: &now,
		UpdatedAt:   now,
	})
	if err != nil {
		return operation.Operation{}, storage.Classify(err, "operation", agentID)
	}
	if _, err := s.applyTx(ctx, tx, agent.ID, op.ID, operation.DirectionCredit, amount, "recharge "+op.Reference, now); err != nil {
		return operation.Operation{}, err
	}
	return op, nil
}

// Recharge credits an agent balance in its own transaction.
func (s *Service) Recharge(ctx context.Context, resolverID, agentID string, amount decimal.Decimal, note string) (operation.Operation, error) {
	var op operation.Operation
	err := s.store.Atomic(ctx, func(tx storage.Tx) error {
		var err error
		op, err = s.RechargeTx(ctx, tx, resolverID, agentID, amount, note)
		return err
	})
	if err != nil {
		return operation.Operation{}, err
	}
	s.log.WithContext(ctx).WithFields(map[string]any{
		"operation_id": op.ID,
		"agent_id":     agentID,
		"amount":       amount.String(),
	}).Info("balance recharged")
	return op, nil
}

// PayCommission credits a pending commission record to the agent and the
// chief, marks it paid and records the transfer. Administrators only.
func (s *Service) PayCommission(ctx context.Context, actorID, recordID string) (commission.Transfer, error) {
	var transfer commission.Transfer
	err := s.store.Atomic(ctx, func(tx storage.Tx) error {
		admin, err := actors.Administrator(ctx, tx, actorID)
		if err != nil {
			return err
		}
		rec, err := tx.LockCommissionRecord(ctx, recordID)
		if err != nil {
			return storage.Classify(err, "commission record", recordID)
		}
		if rec.Status == commission.RecordPaid {
			return apperrors.Conflict("commission record %s is already paid", rec.ID)
		}
		now := s.clock()
		if rec.AgentCommission.IsPositive() {
			desc := fmt.Sprintf("commission payout %s", rec.OperationID)
			if _, err := s.applyTx(ctx, tx, rec.AgentID, rec.OperationID, operation.DirectionCredit, rec.AgentCommission, desc, now); err != nil {
				return err
			}
		}
		if rec.ChiefID != "" && rec.ChiefCommission.IsPositive() {
			desc := fmt.Sprintf("chief commission payout %s", rec.OperationID)
			if _, err := s.applyTx(ctx, tx, rec.ChiefID, rec.OperationID, operation.DirectionCredit, rec.ChiefCommission, desc, now); err != nil {
				return err
			}
		}
		if err := tx.MarkCommissionRecordPaid(ctx, rec.ID, now); err != nil {
			return storage.Classify(err, "commission record", rec.ID)
		}
		transfer, err = tx.CreateCommissionTransfer(ctx, commission.Transfer{
			Reference:   refs.New(refs.Transfer, now),
			RecordID:    rec.ID,
			PaidBy:      admin.ID,
			AgentAmount: rec.AgentCommission,
			ChiefAmount: rec.ChiefCommission,
			CreatedAt:   now,
		})
		return storage.Classify(err, "commission transfer", rec.ID)
	})
	if err != nil {
		return commission.Transfer{}, err
	}
	s.log.WithContext(ctx).WithField("record_id", recordID).WithField("transfer", transfer.Reference).Info("commission paid")
	return transfer, nil
}

// Transfers lists payouts, optionally for one record.
func (s *Service) Transfers(ctx context.Context, actorID, recordID string) ([]commission.Transfer, error) {
	if _, err := actors.Administrator(ctx, s.store, actorID); err != nil {
		return nil, err
	}
	out, err := s.store.ListCommissionTransfers(ctx, recordID)
	return out, storage.Classify(err, "commission transfer", recordID)
}

// Ledger returns the entries of userID in append order.
func (s *Service) Ledger(ctx context.Context, viewerID, userID string) ([]ledger.Entry, error) {
	if _, err := s.visibleUser(ctx, viewerID, userID); err != nil {
		return nil, err
	}
	entries, err := s.store.ListLedgerEntries(ctx, userID)
	return entries, storage.Classify(err, "ledger", userID)
}

// VerifyBalance recomputes the balance from the ledger and compares it
// with the stored balance.
func (s *Service) VerifyBalance(ctx context.Context, viewerID, userID string) (ledger.Verification, error) {
	user, err := s.visibleUser(ctx, viewerID, userID)
	if err != nil {
		return ledger.Verification{}, err
	}
	entries, err := s.store.ListLedgerEntries(ctx, userID)
	if err != nil {
		return ledger.Verification{}, storage.Classify(err, "ledger", userID)
	}
	sum := ledger.Sum(entries)
	v := ledger.Verification{
		UserID:        user.ID,
		Balance:       user.Balance,
		LedgerBalance: sum,
		Entries:       len(entries),
		Consistent:    sum.Equal(user.Balance),
	}
	if !v.Consistent {
		s.log.WithContext(ctx).WithFields(map[string]any{
			"user_id": user.ID,
			"balance": user.Balance.String(),
			"ledger":  sum.String(),
		}).Error("balance does not match ledger")
	}
	return v, nil
}

func (s *Service) visibleUser(ctx context.Context, viewerID, userID string) (identity.User, error) {
	viewer, err := actors.Active(ctx, s.store, viewerID)
	if err != nil {
		return identity.User{}, err
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return identity.User{}, storage.Classify(err, "user", userID)
	}
	if !actors.CanView(viewer, user) {
		return identity.User{}, apperrors.Forbidden("%s cannot read the ledger of %s", viewer.Identifier, user.Identifier)
	}
	return user, nil
}
