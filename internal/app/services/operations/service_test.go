package operations

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/agentbank/internal/app/domain/commission"
	"github.com/R3E-Network/agentbank/internal/app/domain/identity"
	"github.com/R3E-Network/agentbank/internal/app/domain/operation"
	"github.com/R3E-Network/agentbank/internal/app/services/commissions"
	"github.com/R3E-Network/agentbank/internal/app/storage"
	"github.com/R3E-Network/agentbank/internal/app/storage/memory"
	apperrors "github.com/R3E-Network/agentbank/internal/errors"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	store    *memory.Store
	svc      *Service
	admin    identity.User
	chief    identity.User
	agent    identity.User
	withdraw operation.Type
	transfer operation.Type
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	now := time.Now().UTC()

	agency, err := store.CreateAgency(ctx, identity.Agency{Code: "dkr01", Name: "Dakar", Active: true})
	require.NoError(t, err)
	admin, err := store.CreateUser(ctx, identity.User{Identifier: "admin.monel", Role: identity.RoleAdminGeneral, Active: true, Balance: decimal.Zero})
	require.NoError(t, err)
	chief, err := store.CreateUser(ctx, identity.User{Identifier: "chef.dakar.diallo", Role: identity.RoleChefAgence, AgencyID: agency.ID, Active: true, Balance: decimal.Zero})
	require.NoError(t, err)
	agent, err := store.CreateUser(ctx, identity.User{Identifier: "dkr01.fatou", Role: identity.RoleAgent, AgencyID: agency.ID, Active: true, Balance: decimal.Zero})
	require.NoError(t, err)
	require.NoError(t, store.SetAgencyChief(ctx, agency.ID, chief.ID, now))

	withdraw, err := store.CreateOperationType(ctx, operation.Type{
		Name: "wave_withdrawal", ImpactsBalance: true, Direction: operation.DirectionDebit,
		RequiresAgency: true, RequiredFields: []string{"phone"}, Active: true,
	})
	require.NoError(t, err)
	transfer, err := store.CreateOperationType(ctx, operation.Type{Name: "kyc_update", Direction: operation.DirectionDebit, Active: true})
	require.NoError(t, err)
	_, err = store.CreateCommissionRule(ctx, commission.Rule{
		OperationTypeID: withdraw.ID, Kind: commission.KindPercentage, Rate: d("0.025"),
		MinAmount: decimal.NewNullDecimal(d("100")), MaxAmount: decimal.NewNullDecimal(d("5000")),
		Active: true,
	})
	require.NoError(t, err)

	engine := commissions.New(store, commission.DefaultPolicy(), nil)
	svc := New(store, engine, nil)
	require.NoError(t, svc.EnsureSystemTypes(ctx))
	require.NoError(t, svc.EnsureSystemTypes(ctx))

	return fixture{store: store, svc: svc, admin: admin, chief: chief, agent: agent, withdraw: withdraw, transfer: transfer}
}

func (f fixture) pendingWithdrawal(t *testing.T, amount string) operation.Operation {
	t.Helper()
	op, err := f.svc.Create(context.Background(), CreateRequest{
		InitiatorID: f.agent.ID,
		TypeID:      f.withdraw.ID,
		Amount:      d(amount),
		Payload:     json.RawMessage(`{"phone":"+221770000000"}`),
	})
	require.NoError(t, err)
	return op
}

func (f fixture) claim(t *testing.T, op operation.Operation, validatorID string) {
	t.Helper()
	_, err := f.store.ClaimOperation(context.Background(), op.ID, validatorID, time.Now().UTC())
	require.NoError(t, err)
}

func (f fixture) balance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), userID)
	require.NoError(t, err)
	return u.Balance
}

func TestCreateValidatesRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateRequest{InitiatorID: f.agent.ID, TypeID: f.withdraw.ID, Amount: d("0"), Payload: json.RawMessage(`{"phone":"1"}`)})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation), "zero amount: %v", err)

	_, err = f.svc.Create(ctx, CreateRequest{InitiatorID: f.agent.ID, TypeID: f.withdraw.ID, Amount: d("10"), Payload: json.RawMessage(`{}`)})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation), "missing field: %v", err)

	_, err = f.svc.Create(ctx, CreateRequest{InitiatorID: f.agent.ID, TypeID: f.withdraw.ID, Amount: d("10"), Payload: json.RawMessage(`[1,2]`)})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation), "non-object payload: %v", err)

	_, err = f.svc.Create(ctx, CreateRequest{InitiatorID: "", TypeID: f.withdraw.ID, Amount: d("10")})
	assert.True(t, apperrors.IsKind(err, apperrors.KindUnauthenticated), "anonymous: %v", err)

	_, err = f.svc.Create(ctx, CreateRequest{InitiatorID: f.admin.ID, TypeID: f.withdraw.ID, Amount: d("10"), Payload: json.RawMessage(`{"phone":"1"}`)})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation), "agency required: %v", err)

	recharge, err := f.store.GetOperationTypeByName(ctx, operation.RechargeTypeName)
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, CreateRequest{InitiatorID: f.agent.ID, TypeID: recharge.ID, Amount: d("10")})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation), "system type: %v", err)
}

func TestCreateNonBalanceTypeForcesZeroAmount(t *testing.T) {
	f := newFixture(t)
	op, err := f.svc.Create(context.Background(), CreateRequest{InitiatorID: f.agent.ID, TypeID: f.transfer.ID, Amount: d("999")})
	require.NoError(t, err)
	assert.True(t, op.Amount.IsZero())
	assert.Equal(t, operation.StatusPending, op.Status)
	assert.Equal(t, DefaultCurrency, op.Currency)
	assert.Equal(t, f.agent.AgencyID, op.AgencyID)
	assert.JSONEq(t, `{}`, string(op.Payload))
}

func TestSettleApproveDebitsAndRecordsCommission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Recharge(ctx, f.chief.ID, f.agent.ID, d("25000"), "opening float")
	require.NoError(t, err)

	op := f.pendingWithdrawal(t, "15000")
	f.claim(t, op, f.chief.ID)

	settled, err := f.svc.Settle(ctx, SettleRequest{OperationID: op.ID, ValidatorID: f.chief.ID, Decision: operation.DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, operation.StatusCompleted, settled.Status)
	require.NotNil(t, settled.CompletedAt)
	require.NotNil(t, settled.ValidatedAt)
	assert.True(t, f.balance(t, f.agent.ID).Equal(d("10000")))

	entries, err := f.store.ListLedgerEntriesByOperation(ctx, op.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].BalanceBefore.Equal(d("25000")))
	assert.True(t, entries[0].BalanceAfter.Equal(d("10000")))
	assert.Equal(t, operation.DirectionDebit, entries[0].Direction)

	rec, err := f.store.GetCommissionRecordByOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.True(t, rec.TotalCommission.Equal(d("375")))
	assert.True(t, rec.AgentCommission.Equal(d("262.5")))
	assert.True(t, rec.ChiefCommission.Equal(d("112.5")))
	assert.Equal(t, f.chief.ID, rec.ChiefID)

	v, err := f.svc.VerifyBalance(ctx, f.agent.ID, f.agent.ID)
	require.NoError(t, err)
	assert.True(t, v.Consistent)
	assert.Equal(t, 2, v.Entries)
}

func TestSettleTwiceConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Recharge(ctx, f.admin.ID, f.agent.ID, d("5000"), "")
	require.NoError(t, err)
	op := f.pendingWithdrawal(t, "1000")
	f.claim(t, op, f.chief.ID)

	req := SettleRequest{OperationID: op.ID, ValidatorID: f.chief.ID, Decision: operation.DecisionApprove}
	_, err = f.svc.Settle(ctx, req)
	require.NoError(t, err)
	_, err = f.svc.Settle(ctx, req)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict), "got %v", err)

	entries, err := f.store.ListLedgerEntriesByOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.True(t, f.balance(t, f.agent.ID).Equal(d("4000")))
}

func TestSettleInsufficientFundsRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Recharge(ctx, f.chief.ID, f.agent.ID, d("500"), "")
	require.NoError(t, err)
	op := f.pendingWithdrawal(t, "1000")
	f.claim(t, op, f.chief.ID)

	_, err = f.svc.Settle(ctx, SettleRequest{OperationID: op.ID, ValidatorID: f.chief.ID, Decision: operation.DecisionApprove})
	assert.True(t, apperrors.IsKind(err, apperrors.KindInsufficientFunds), "got %v", err)

	got, err := f.store.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, operation.StatusAssigned, got.Status)
	assert.True(t, f.balance(t, f.agent.ID).Equal(d("500")))
	_, err = f.store.GetCommissionRecordByOperation(ctx, op.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSettleRequiresBoundValidator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	op := f.pendingWithdrawal(t, "1000")

	_, err := f.svc.Settle(ctx, SettleRequest{OperationID: op.ID, ValidatorID: f.chief.ID, Decision: operation.DecisionApprove})
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict), "unassigned: %v", err)

	f.claim(t, op, f.chief.ID)
	_, err = f.svc.Settle(ctx, SettleRequest{OperationID: op.ID, ValidatorID: f.admin.ID, Decision: operation.DecisionApprove})
	assert.True(t, apperrors.IsKind(err, apperrors.KindAuthorization), "other validator: %v", err)

	_, err = f.svc.Settle(ctx, SettleRequest{OperationID: op.ID, ValidatorID: f.chief.ID, Decision: "maybe"})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation), "bad decision: %v", err)
}

func TestSettleRejectLeavesBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Recharge(ctx, f.chief.ID, f.agent.ID, d("2000"), "")
	require.NoError(t, err)
	op := f.pendingWithdrawal(t, "1000")
	f.claim(t, op, f.chief.ID)

	failed, err := f.svc.Settle(ctx, SettleRequest{OperationID: op.ID, ValidatorID: f.chief.ID, Decision: operation.DecisionReject, Reason: "wrong phone"})
	require.NoError(t, err)
	assert.Equal(t, operation.StatusFailed, failed.Status)
	assert.Equal(t, "wrong phone", failed.FailureReason)
	assert.True(t, f.balance(t, f.agent.ID).Equal(d("2000")))
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	op := f.pendingWithdrawal(t, "100")
	cancelled, err := f.svc.Cancel(ctx, op.ID, f.agent.ID)
	require.NoError(t, err)
	assert.Equal(t, operation.StatusCancelled, cancelled.Status)

	_, err = f.svc.Cancel(ctx, op.ID, f.agent.ID)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))

	claimed := f.pendingWithdrawal(t, "100")
	f.claim(t, claimed, f.chief.ID)
	_, err = f.svc.Cancel(ctx, claimed.ID, f.agent.ID)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict), "assigned: %v", err)

	other, err := f.store.CreateUser(ctx, identity.User{Identifier: "dkr01.moussa", Role: identity.RoleAgent, AgencyID: f.agent.AgencyID, Active: true})
	require.NoError(t, err)
	third := f.pendingWithdrawal(t, "100")
	_, err = f.svc.Cancel(ctx, third.ID, other.ID)
	assert.True(t, apperrors.IsKind(err, apperrors.KindAuthorization), "peer: %v", err)
	_, err = f.svc.Cancel(ctx, third.ID, f.chief.ID)
	assert.NoError(t, err)
}

func TestRechargeRequiresSupervisor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Recharge(ctx, f.agent.ID, f.agent.ID, d("100"), "")
	assert.True(t, apperrors.IsKind(err, apperrors.KindAuthorization), "self: %v", err)

	_, err = f.svc.Recharge(ctx, f.chief.ID, f.agent.ID, d("-5"), "")
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	op, err := f.svc.Recharge(ctx, f.chief.ID, f.agent.ID, d("100"), "float")
	require.NoError(t, err)
	assert.Equal(t, operation.StatusCompleted, op.Status)
	assert.Equal(t, f.chief.ID, op.ValidatorID)
	_, err = f.store.GetCommissionRecordByOperation(ctx, op.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPayCommission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Recharge(ctx, f.chief.ID, f.agent.ID, d("25000"), "")
	require.NoError(t, err)
	op := f.pendingWithdrawal(t, "15000")
	f.claim(t, op, f.admin.ID)
	_, err = f.svc.Settle(ctx, SettleRequest{OperationID: op.ID, ValidatorID: f.admin.ID, Decision: operation.DecisionApprove})
	require.NoError(t, err)
	rec, err := f.store.GetCommissionRecordByOperation(ctx, op.ID)
	require.NoError(t, err)

	_, err = f.svc.PayCommission(ctx, f.chief.ID, rec.ID)
	assert.True(t, apperrors.IsKind(err, apperrors.KindAuthorization))

	tr, err := f.svc.PayCommission(ctx, f.admin.ID, rec.ID)
	require.NoError(t, err)
	assert.True(t, tr.AgentAmount.Equal(d("262.5")))
	assert.True(t, tr.ChiefAmount.Equal(d("112.5")))
	assert.True(t, f.balance(t, f.agent.ID).Equal(d("10262.5")))
	assert.True(t, f.balance(t, f.chief.ID).Equal(d("112.5")))

	_, err = f.svc.PayCommission(ctx, f.admin.ID, rec.ID)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))

	for _, id := range []string{f.agent.ID, f.chief.ID} {
		v, err := f.svc.VerifyBalance(ctx, f.admin.ID, id)
		require.NoError(t, err)
		assert.True(t, v.Consistent, "user %s", id)
	}
}

func TestLedgerVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Recharge(ctx, f.chief.ID, f.agent.ID, d("100"), "")
	require.NoError(t, err)

	entries, err := f.svc.Ledger(ctx, f.chief.ID, f.agent.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = f.svc.Ledger(ctx, f.agent.ID, f.chief.ID)
	assert.True(t, apperrors.IsKind(err, apperrors.KindAuthorization))
}

func TestCreateTypeAdminOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateType(ctx, f.chief.ID, TypeSpec{Name: "om_deposit"})
	assert.True(t, apperrors.IsKind(err, apperrors.KindAuthorization))

	_, err = f.svc.CreateType(ctx, f.admin.ID, TypeSpec{Name: operation.RechargeTypeName})
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))

	typ, err := f.svc.CreateType(ctx, f.admin.ID, TypeSpec{Name: " OM_Deposit ", ImpactsBalance: true, Direction: operation.DirectionCredit, RequiredFields: []string{"phone", " "}})
	require.NoError(t, err)
	assert.Equal(t, "om_deposit", typ.Name)
	assert.Equal(t, []string{"phone"}, typ.RequiredFields)

	_, err = f.svc.CreateType(ctx, f.admin.ID, TypeSpec{Name: "om_deposit"})
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
}

func TestViewIsScoped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	op := f.pendingWithdrawal(t, "1000")

	for _, viewer := range []identity.User{f.agent, f.chief, f.admin} {
		got, err := f.svc.View(ctx, viewer.ID, op.ID)
		require.NoError(t, err, viewer.Identifier)
		assert.Equal(t, op.ID, got.ID)
	}

	other, err := f.store.CreateUser(ctx, identity.User{Identifier: "ths01.awa", Role: identity.RoleAgent, AgencyID: "elsewhere", Active: true, Balance: decimal.Zero})
	require.NoError(t, err)
	_, err = f.svc.View(ctx, other.ID, op.ID)
	assert.True(t, apperrors.IsKind(err, apperrors.KindAuthorization), "foreign agent: %v", err)
}

func TestAmountsMustFitMinorUnit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Recharge(ctx, f.chief.ID, f.agent.ID, d("1000.005"), "")
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation), "sub-cent recharge: %v", err)
	assert.True(t, f.balance(t, f.agent.ID).IsZero())

	_, err = f.svc.Recharge(ctx, f.chief.ID, f.agent.ID, d("1000.01"), "")
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, CreateRequest{
		InitiatorID: f.agent.ID, TypeID: f.withdraw.ID, Amount: d("100.555"),
		Payload: json.RawMessage(`{"phone":"1"}`),
	})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation), "sub-cent operation: %v", err)

	op := f.pendingWithdrawal(t, "100.500")
	f.claim(t, op, f.chief.ID)
	settled, err := f.svc.Settle(ctx, SettleRequest{OperationID: op.ID, ValidatorID: f.chief.ID, Decision: operation.DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, operation.StatusCompleted, settled.Status)
	assert.True(t, f.balance(t, f.agent.ID).Equal(d("899.51")), "balance %s", f.balance(t, f.agent.ID))
}
