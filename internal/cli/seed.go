package cli

import (
	"errors"

	"github.com/spf13/cobra"

	app "github.com/R3E-Network/agentbank/internal/app"
	"github.com/R3E-Network/agentbank/internal/config"
)

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	var catalogPath, actor string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load agencies, operation types and commission rules from a YAML catalog",
		Long: `Load a YAML catalog on behalf of an administrator. Entries that already
exist are skipped, so the command can be re-run.

Example:
  agentbank seed --catalog ./catalog.yaml --as admin.monel`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := rootOpts.load()
			if err != nil {
				return err
			}
			if catalogPath == "" {
				catalogPath = cfg.CatalogPath
			}
			if catalogPath == "" {
				return errors.New("--catalog or CATALOG_PATH is required")
			}
			cat, err := config.LoadCatalog(catalogPath)
			if err != nil {
				return err
			}

			store, closeStore, err := openStore(cmd.Context(), cfg, log, true)
			if err != nil {
				return err
			}
			defer closeStore()
			opts, err := appOptions(cfg)
			if err != nil {
				return err
			}
			opts.DisableReaper = true
			application, err := app.New(store, opts, log.WithComponent("app"))
			if err != nil {
				return err
			}

			res, err := application.Seed(cmd.Context(), actor, cat)
			if err != nil {
				return err
			}
			out := NewPrinter(cmd.OutOrStdout())
			out.Success("%d agencies, %d operation types, %d commission rules created", res.Agencies, res.OperationTypes, res.Rules)
			if res.Skipped > 0 {
				out.Info("%d existing entries skipped", res.Skipped)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&catalogPath, "catalog", "", "path to the YAML catalog (defaults to CATALOG_PATH)")
	cmd.Flags().StringVar(&actor, "as", "", "identifier of the administrator performing the seed (required)")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}
