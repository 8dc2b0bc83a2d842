package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/agentbank/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "error", "--env-file", "does-not-exist.env"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestRootRegistersCommands(t *testing.T) {
	root := NewRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "migrate", "bootstrap-admin", "seed", "call"} {
		assert.Contains(t, names, want)
	}
}

func TestBootstrapAdmin(t *testing.T) {
	t.Setenv("DATABASE_DSN", "")
	t.Setenv(AdminPasswordEnv, "")
	_, err := execute(t, "bootstrap-admin", "--identifier", "admin.monel")
	require.Error(t, err)

	t.Setenv(AdminPasswordEnv, "correct-horse-battery")
	out, err := execute(t, "bootstrap-admin", "--identifier", "admin.monel")
	require.NoError(t, err)
	assert.Contains(t, out, "admin_general admin.monel created")

	_, err = execute(t, "bootstrap-admin", "--identifier", "admin.123")
	assert.Error(t, err)
}

func TestServeRequiresSecret(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "")
	_, err := execute(t, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_JWT_SECRET")
}

func TestMigrateRequiresDSN(t *testing.T) {
	t.Setenv("DATABASE_DSN", "")
	_, err := execute(t, "migrate")
	require.Error(t, err)
}

func TestCallPrintsEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rpc/get_validation_queue_stats", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","stats":{"unassigned_count":2}}`))
	}))
	defer srv.Close()
	t.Setenv(TokenEnv, "tok")

	out, err := execute(t, "call", "--url", srv.URL, "get_validation_queue_stats")
	require.NoError(t, err)
	assert.Contains(t, out, `"unassigned_count": 2`)

	_, err = execute(t, "call", "--url", srv.URL, "get_validation_queue_stats", "{not json")
	assert.Error(t, err)
}

func TestAppOptionsFromConfig(t *testing.T) {
	cfg := &config.Config{
		Commission: config.CommissionConfig{ChiefShare: "0.25", Precision: 0, Currency: "xof"},
		Queue:      config.QueueConfig{ClaimTTL: time.Minute, ReaperSchedule: "@every 10s", MaxClaimRetries: 5},
	}
	opts, err := appOptions(cfg)
	require.NoError(t, err)
	assert.Equal(t, "0.25", opts.Commission.ChiefShare.String())
	assert.Equal(t, time.Minute, opts.Queue.ClaimTTL)
	assert.Equal(t, 5, opts.Queue.MaxRetries)
	assert.Equal(t, "@every 10s", opts.ReaperSchedule)

	cfg.Commission.ChiefShare = "lots"
	_, err = appOptions(cfg)
	assert.Error(t, err)
}

func TestPrinterAndDuration(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	p.Success("seeded %d", 3)
	p.Warning("careful")
	assert.Equal(t, "✓ seeded 3\n⚠ careful\n", buf.String())

	assert.Equal(t, "< 1s", formatDuration(200*time.Millisecond))
	assert.Equal(t, "42s", formatDuration(42*time.Second))
	assert.Equal(t, "2m5s", formatDuration(125*time.Second))
	assert.Equal(t, "1h30m", formatDuration(90*time.Minute))
}
