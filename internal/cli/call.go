package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/agentbank/internal/httputil"
)

// TokenEnv names the variable holding the bearer token for call.
const TokenEnv = "AGENTBANK_TOKEN"

// NewCallCommand creates the call command, a thin client for the RPC API.
func NewCallCommand(_ *RootOptions) *cobra.Command {
	var baseURL string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "call <method> [json-body]",
		Short: "Invoke an RPC method on a running server",
		Long: `Invoke an RPC method and print the response envelope. The bearer token is
read from ` + TokenEnv + `. The special method "login" posts to /auth/login.

Example:
  agentbank call login '{"identifier":"admin.monel","password":"..."}'
  AGENTBANK_TOKEN=... agentbank call get_validation_queue_stats`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body any = map[string]any{}
			if len(args) == 2 {
				var raw json.RawMessage
				if err := json.Unmarshal([]byte(args[1]), &raw); err != nil {
					return fmt.Errorf("body is not valid JSON: %w", err)
				}
				body = raw
			}

			client := httputil.NewClient(httputil.ClientConfig{
				BaseURL: baseURL,
				Token:   os.Getenv(TokenEnv),
				Timeout: timeout,
			})
			var out map[string]any
			var err error
			if args[0] == "login" {
				err = client.Do(cmd.Context(), http.MethodPost, "/auth/login", body, &out)
			} else {
				err = client.Call(cmd.Context(), args[0], body, &out)
			}
			if err != nil {
				return err
			}
			return NewPrinter(cmd.OutOrStdout()).JSON(out)
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "server base URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	return cmd
}
