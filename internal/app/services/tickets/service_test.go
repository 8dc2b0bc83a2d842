package tickets

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/agentbank/internal/app/domain/identity"
	"github.com/R3E-Network/agentbank/internal/app/domain/ticket"
	"github.com/R3E-Network/agentbank/internal/app/services/operations"
	"github.com/R3E-Network/agentbank/internal/app/storage/memory"
	apperrors "github.com/R3E-Network/agentbank/internal/errors"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	store   *memory.Store
	svc     *Service
	ops     *operations.Service
	admin   identity.User
	chief   identity.User
	agent   identity.User
	orphan  identity.User
	clockAt time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	dakar, err := store.CreateAgency(ctx, identity.Agency{Code: "dkr01", Name: "Dakar", Active: true})
	require.NoError(t, err)
	thies, err := store.CreateAgency(ctx, identity.Agency{Code: "ths01", Name: "Thies", Active: true})
	require.NoError(t, err)

	user := func(u identity.User) identity.User {
		u.Active = true
		created, err := store.CreateUser(ctx, u)
		require.NoError(t, err)
		return created
	}
	f := &fixture{
		store:   store,
		admin:   user(identity.User{Identifier: "admin.monel", Role: identity.RoleAdminGeneral, CreatedAt: now}),
		chief:   user(identity.User{Identifier: "chef.dakar.diallo", Role: identity.RoleChefAgence, AgencyID: dakar.ID, CreatedAt: now}),
		agent:   user(identity.User{Identifier: "dkr01.fatou", Role: identity.RoleAgent, AgencyID: dakar.ID, CreatedAt: now}),
		orphan:  user(identity.User{Identifier: "ths01.awa", Role: identity.RoleAgent, AgencyID: thies.ID, CreatedAt: now}),
		clockAt: now,
	}
	require.NoError(t, store.SetAgencyChief(ctx, dakar.ID, f.chief.ID, now))

	f.ops = operations.New(store, nil, nil)
	require.NoError(t, f.ops.EnsureSystemTypes(ctx))
	f.svc = New(store, f.ops, nil).WithClock(func() time.Time {
		f.clockAt = f.clockAt.Add(time.Second)
		return f.clockAt
	})
	return f
}

func TestOpenRoutesToAgencyChief(t *testing.T) {
	f := newFixture(t)
	tk, err := f.svc.Open(context.Background(), OpenRequest{RequesterID: f.agent.ID, Amount: d("20000")})
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusOpen, tk.Status)
	assert.Equal(t, f.chief.ID, tk.AssigneeID)
	assert.Equal(t, ticket.TypeRecharge, tk.Type)
	assert.Equal(t, ticket.PriorityMedium, tk.Priority)
	assert.Contains(t, tk.Number, "TKT-")
	assert.Equal(t, "Recharge request 20000.00", tk.Title)
}

func TestOpenFallsBackToAdministrator(t *testing.T) {
	f := newFixture(t)
	tk, err := f.svc.Open(context.Background(), OpenRequest{RequesterID: f.orphan.ID, Amount: d("500"), Priority: "urgent"})
	require.NoError(t, err)
	assert.Equal(t, f.admin.ID, tk.AssigneeID)
	assert.Equal(t, ticket.PriorityUrgent, tk.Priority)
}

func TestOpenValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Open(ctx, OpenRequest{RequesterID: f.chief.ID, Amount: d("100")})
	assert.True(t, apperrors.IsKind(err, apperrors.KindAuthorization), "chief: %v", err)

	_, err = f.svc.Open(ctx, OpenRequest{RequesterID: f.agent.ID, Amount: d("0")})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation), "zero: %v", err)

	_, err = f.svc.Open(ctx, OpenRequest{RequesterID: f.agent.ID, Amount: d("10"), Priority: "asap"})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation), "priority: %v", err)

	tk, err := f.svc.Open(ctx, OpenRequest{RequesterID: f.agent.ID, Type: ticket.TypeSupport, Title: "Printer"})
	require.NoError(t, err)
	assert.Equal(t, "Printer", tk.Title)
}

func TestResolveWithCreditRechargesAtomically(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, err := f.svc.Open(ctx, OpenRequest{RequesterID: f.agent.ID, Amount: d("20000")})
	require.NoError(t, err)

	_, err = f.svc.Resolve(ctx, ResolveRequest{TicketID: tk.ID, ResolverID: f.agent.ID, CreditAmount: d("20000")})
	assert.True(t, apperrors.IsKind(err, apperrors.KindAuthorization), "requester: %v", err)

	resolved, err := f.svc.Resolve(ctx, ResolveRequest{TicketID: tk.ID, ResolverID: f.chief.ID, Notes: "approved", CreditAmount: d("20000")})
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusResolved, resolved.Status)
	assert.Equal(t, f.chief.ID, resolved.ResolvedBy)
	require.NotEmpty(t, resolved.RechargeOperationID)
	require.NotNil(t, resolved.ResolvedAt)

	agent, err := f.store.GetUser(ctx, f.agent.ID)
	require.NoError(t, err)
	assert.True(t, agent.Balance.Equal(d("20000")))
	entries, err := f.store.ListLedgerEntriesByOperation(ctx, resolved.RechargeOperationID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = f.svc.Resolve(ctx, ResolveRequest{TicketID: tk.ID, ResolverID: f.admin.ID})
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict), "second resolve: %v", err)
}

func TestResolveFailureLeavesTicketOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, err := f.svc.Open(ctx, OpenRequest{RequesterID: f.agent.ID, Type: ticket.TypeSupport})
	require.NoError(t, err)

	_, err = f.svc.Resolve(ctx, ResolveRequest{TicketID: tk.ID, ResolverID: f.chief.ID, CreditAmount: d("10")})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation), "support credit: %v", err)

	got, err := f.store.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusOpen, got.Status)

	resolved, err := f.svc.Resolve(ctx, ResolveRequest{TicketID: tk.ID, ResolverID: f.admin.ID, Notes: "done"})
	require.NoError(t, err)
	assert.Empty(t, resolved.RechargeOperationID)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, err := f.svc.Open(ctx, OpenRequest{RequesterID: f.agent.ID, Amount: d("100")})
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, tk.ID, f.chief.ID)
	assert.True(t, apperrors.IsKind(err, apperrors.KindAuthorization))

	cancelled, err := f.svc.Cancel(ctx, tk.ID, f.agent.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusCancelled, cancelled.Status)

	_, err = f.svc.Cancel(ctx, tk.ID, f.agent.ID)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
	_, err = f.svc.Resolve(ctx, ResolveRequest{TicketID: tk.ID, ResolverID: f.chief.ID})
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
}

func TestListOrdersByPriorityThenAge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	low, err := f.svc.Open(ctx, OpenRequest{RequesterID: f.agent.ID, Amount: d("1"), Priority: "low"})
	require.NoError(t, err)
	first, err := f.svc.Open(ctx, OpenRequest{RequesterID: f.agent.ID, Amount: d("2"), Priority: "high"})
	require.NoError(t, err)
	urgent, err := f.svc.Open(ctx, OpenRequest{RequesterID: f.agent.ID, Amount: d("3"), Priority: "urgent"})
	require.NoError(t, err)
	second, err := f.svc.Open(ctx, OpenRequest{RequesterID: f.agent.ID, Amount: d("4"), Priority: "high"})
	require.NoError(t, err)
	_, err = f.svc.Open(ctx, OpenRequest{RequesterID: f.orphan.ID, Amount: d("5")})
	require.NoError(t, err)

	list, err := f.svc.List(ctx, f.chief.ID, ticket.Filter{})
	require.NoError(t, err)
	ids := make([]string, len(list))
	for i, tk := range list {
		ids[i] = tk.ID
	}
	assert.Equal(t, []string{urgent.ID, first.ID, second.ID, low.ID}, ids)

	mine, err := f.svc.List(ctx, f.orphan.ID, ticket.Filter{})
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	all, err := f.svc.List(ctx, f.admin.ID, ticket.Filter{Status: ticket.StatusOpen})
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestCommentsHideInternalNotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, err := f.svc.Open(ctx, OpenRequest{RequesterID: f.agent.ID, Amount: d("100")})
	require.NoError(t, err)

	_, err = f.svc.Comment(ctx, tk.ID, f.agent.ID, "please hurry", false)
	require.NoError(t, err)
	_, err = f.svc.Comment(ctx, tk.ID, f.agent.ID, "sneaky", true)
	assert.True(t, apperrors.IsKind(err, apperrors.KindAuthorization))
	_, err = f.svc.Comment(ctx, tk.ID, f.chief.ID, "check float history", true)
	require.NoError(t, err)
	_, err = f.svc.Comment(ctx, tk.ID, f.orphan.ID, "hello", false)
	assert.True(t, apperrors.IsKind(err, apperrors.KindAuthorization))
	_, err = f.svc.Comment(ctx, tk.ID, f.chief.ID, "  ", false)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	seen, err := f.svc.Comments(ctx, tk.ID, f.agent.ID)
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, "please hurry", seen[0].Body)

	staff, err := f.svc.Comments(ctx, tk.ID, f.admin.ID)
	require.NoError(t, err)
	assert.Len(t, staff, 2)
}

func TestAmountsMustFitMinorUnit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Open(ctx, OpenRequest{RequesterID: f.agent.ID, Amount: d("20000.001")})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation), "sub-cent request: %v", err)

	tk, err := f.svc.Open(ctx, OpenRequest{RequesterID: f.agent.ID, Amount: d("20000.50")})
	require.NoError(t, err)

	_, err = f.svc.Resolve(ctx, ResolveRequest{TicketID: tk.ID, ResolverID: f.chief.ID, CreditAmount: d("0.125")})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation), "sub-cent credit: %v", err)
	got, err := f.store.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusOpen, got.Status)

	agent, err := f.store.GetUser(ctx, f.agent.ID)
	require.NoError(t, err)
	assert.True(t, agent.Balance.IsZero())
}

func TestCancelRequiresActiveRequester(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, err := f.svc.Open(ctx, OpenRequest{RequesterID: f.agent.ID, Amount: d("100")})
	require.NoError(t, err)

	_, err = f.store.SetUserActive(ctx, f.agent.ID, false, f.clockAt)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, tk.ID, f.agent.ID)
	assert.True(t, apperrors.IsKind(err, apperrors.KindAuthorization), "inactive requester: %v", err)
	got, err := f.store.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusOpen, got.Status)
}
