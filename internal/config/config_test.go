package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Minute, cfg.Queue.ClaimTTL)
	assert.Equal(t, "@every 1m", cfg.Queue.ReaperSchedule)
	assert.Equal(t, int32(2), cfg.Commission.Precision)
	assert.Equal(t, "", cfg.Database.DSN)

	share, err := cfg.Commission.ChiefShareDecimal()
	require.NoError(t, err)
	assert.Equal(t, "0.3", share.String())
}

func TestLoadFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("SERVER_PORT=9191\nQUEUE_CLAIM_TTL=2m\nREDIS_ADDR=localhost:6379\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("SERVER_PORT")
		os.Unsetenv("QUEUE_CLAIM_TTL")
		os.Unsetenv("REDIS_ADDR")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Queue.ClaimTTL)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "0.0.0.0:9191", cfg.Server.Addr())
}

func TestValidateRejectsBadShare(t *testing.T) {
	t.Setenv("COMMISSION_CHIEF_SHARE", "1.5")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestParseCatalog(t *testing.T) {
	cat, err := ParseCatalog([]byte(`
agencies:
  - code: dkr01
    name: Dakar Plateau
    city: dakar
operation_types:
  - name: wave_withdrawal
    required_fields: [phone]
    commission:
      kind: percentage
      rate: "0.025"
      min: "100"
      max: "5000"
  - name: identity_registration
    impacts_balance: false
`))
	require.NoError(t, err)
	require.Len(t, cat.Agencies, 1)
	require.Len(t, cat.OperationTypes, 2)
	assert.Equal(t, []string{"phone"}, cat.OperationTypes[0].RequiredFields)
	assert.Equal(t, "0.025", cat.OperationTypes[0].Commission.Rate)
	require.NotNil(t, cat.OperationTypes[1].ImpactsBalance)
	assert.False(t, *cat.OperationTypes[1].ImpactsBalance)

	_, err = ParseCatalog([]byte("operation_types:\n  - description: nameless\n"))
	assert.Error(t, err)
}
