package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	app "github.com/R3E-Network/agentbank/internal/app"
	"github.com/R3E-Network/agentbank/internal/app/domain/commission"
	"github.com/R3E-Network/agentbank/internal/app/services/queue"
	"github.com/R3E-Network/agentbank/internal/app/storage"
	"github.com/R3E-Network/agentbank/internal/app/storage/memory"
	"github.com/R3E-Network/agentbank/internal/app/storage/postgres"
	"github.com/R3E-Network/agentbank/internal/config"
	"github.com/R3E-Network/agentbank/internal/platform/migrations"
	"github.com/R3E-Network/agentbank/pkg/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EnvFiles []string
	LogLevel string
}

// NewRootCommand creates the agentbank command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "agentbank",
		Short:         "Agent banking platform",
		Long:          "Provisioning, operation ledger, commissions, validation queue and recharge tickets for a network of field agents.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringSliceVar(&opts.EnvFiles, "env-file", []string{".env"}, "dotenv files loaded before reading the environment")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override LOG_LEVEL")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewBootstrapAdminCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewCallCommand(opts))

	return cmd
}

// load reads configuration and builds the root logger.
func (o *RootOptions) load() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(o.EnvFiles...)
	if err != nil {
		return nil, nil, err
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	return cfg, logger.New(cfg.Logging.Logger()), nil
}

// openStore selects Postgres when a DSN is configured and the in-memory
// store otherwise. The returned closer is never nil.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger, migrate bool) (storage.Store, func(), error) {
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		log.Warn("DATABASE_DSN not set; state lives in memory and is lost on exit")
		return memory.New(), func() {}, nil
	}
	db, err := postgres.Open(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		return nil, nil, err
	}
	if migrate && cfg.Database.AutoMigrate {
		if err := migrations.Apply(db, log.WithComponent("migrations")); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	return postgres.New(db), func() { _ = db.Close() }, nil
}

// appOptions maps configuration onto the service options.
func appOptions(cfg *config.Config) (app.Options, error) {
	share, err := cfg.Commission.ChiefShareDecimal()
	if err != nil {
		return app.Options{}, fmt.Errorf("commission chief share: %w", err)
	}
	return app.Options{
		Commission: commission.Policy{ChiefShare: share, Precision: cfg.Commission.Precision},
		Currency:   cfg.Commission.Currency,
		Queue: queue.Options{
			ClaimTTL:    cfg.Queue.ClaimTTL,
			UrgentAfter: cfg.Queue.UrgentAfter,
			MaxRetries:  cfg.Queue.MaxClaimRetries,
		},
		ReaperSchedule: cfg.Queue.ReaperSchedule,
	}, nil
}
