package cli

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	app "github.com/R3E-Network/agentbank/internal/app"
	"github.com/R3E-Network/agentbank/internal/app/services/provisioning"
)

// AdminPasswordEnv names the variable holding the bootstrap password.
const AdminPasswordEnv = "AGENTBANK_ADMIN_PASSWORD"

// NewBootstrapAdminCommand creates the bootstrap-admin command.
func NewBootstrapAdminCommand(rootOpts *RootOptions) *cobra.Command {
	var identifier, displayName string

	cmd := &cobra.Command{
		Use:   "bootstrap-admin",
		Short: "Create the first admin_general",
		Long: `Create the initial admin_general account. The password is read from
` + AdminPasswordEnv + `. Fails once an admin_general exists.

Example:
  AGENTBANK_ADMIN_PASSWORD=... agentbank bootstrap-admin --identifier admin.monel`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password := os.Getenv(AdminPasswordEnv)
			if password == "" {
				return errors.New(AdminPasswordEnv + " is required")
			}
			cfg, log, err := rootOpts.load()
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
			user, err := application.Provisioning.Bootstrap(cmd.Context(), provisioning.BootstrapRequest{
				Identifier:  identifier,
				DisplayName: displayName,
				Password:    password,
			})
			if err != nil {
				return err
			}
			NewPrinter(cmd.OutOrStdout()).Success("admin_general %s created (id %s)", user.Identifier, user.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&identifier, "identifier", "", "admin identifier, e.g. admin.monel (required)")
	cmd.Flags().StringVar(&displayName, "display-name", "", "display name")
	_ = cmd.MarkFlagRequired("identifier")
	return cmd
}
