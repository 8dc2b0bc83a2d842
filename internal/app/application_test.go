package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/R3E-Network/agentbank/internal/app/services/provisioning"
	"github.com/R3E-Network/agentbank/internal/config"
	apperrors "github.com/R3E-Network/agentbank/internal/errors"
)

const testCatalog = `
agencies:
  - code: dkr01
    name: Dakar Plateau
    city: dakar
  - code: ths01
    name: Thies Centre
    city: thies
operation_types:
  - name: wave_withdrawal
    description: Wave cash-out
    direction: debit
    required_fields: [phone]
    commission:
      kind: percentage
      rate: "0.025"
      min: "100"
      max: "5000"
  - name: kyc_update
    impacts_balance: false
`

func newTestApp(t *testing.T) *Application {
	t.Helper()
	application, err := New(nil, Options{BcryptCost: bcrypt.MinCost, ReaperSchedule: "@every 1h"}, nil)
	require.NoError(t, err)
	_, err = application.Provisioning.Bootstrap(context.Background(), provisioning.BootstrapRequest{
		Identifier: "admin.monel",
		Password:   "correct-horse-battery",
	})
	require.NoError(t, err)
	return application
}

func TestNewRegistersSystemTypeAndReaper(t *testing.T) {
	application := newTestApp(t)

	types, err := application.Operations.Types(context.Background())
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.True(t, types[0].System)
	assert.Equal(t, []string{"queue-reaper"}, application.Services())
}

func TestNewRejectsBadReaperSchedule(t *testing.T) {
	_, err := New(nil, Options{ReaperSchedule: "not a schedule"}, nil)
	assert.Error(t, err)
}

func TestLifecycle(t *testing.T) {
	application := newTestApp(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, application.Start(ctx))
	require.NoError(t, application.Stop(ctx))
}

func TestSeedIsIdempotent(t *testing.T) {
	application := newTestApp(t)
	ctx := context.Background()
	cat, err := config.ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)

	res, err := application.Seed(ctx, "admin.monel", cat)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Agencies: 2, OperationTypes: 2, Rules: 1}, res)

	types, err := application.Operations.Types(ctx)
	require.NoError(t, err)
	var withdrawalID string
	for _, typ := range types {
		if typ.Name == "wave_withdrawal" {
			withdrawalID = typ.ID
			assert.True(t, typ.RequiresAgency)
			assert.Equal(t, []string{"phone"}, typ.RequiredFields)
		}
		if typ.Name == "kyc_update" {
			assert.False(t, typ.ImpactsBalance)
		}
	}
	require.NotEmpty(t, withdrawalID)
	rules, err := application.Commissions.Rules(ctx, withdrawalID)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "0.025", rules[0].Rate.String())

	res, err = application.Seed(ctx, "admin.monel", cat)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Skipped: 4}, res)
}

func TestSeedRequiresKnownAdministrator(t *testing.T) {
	application := newTestApp(t)
	cat, err := config.ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)

	_, err = application.Seed(context.Background(), "admin.nobody", cat)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}
