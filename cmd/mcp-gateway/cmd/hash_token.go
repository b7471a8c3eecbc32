package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcpgateway/mcpgateway/internal/domain/token"
)

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token [token]",
	Short: "Hash a management token for use in config",
	Long: `Hash a management token so the plaintext never has to live in a
config file. Both accepted hash forms are printed; either value can be
used directly as the api.token config field or MCP_GATEWAY_TOKEN value.

Example:
  mcp-gateway hash-token "my-secret-token"
  # sha256:    sha256:9f7d...
  # argon2id:  $argon2id$v=19$m=48128,t=1,p=1$...

Security note: The token will appear in shell history.
Consider clearing history after use or using an environment variable:
  mcp-gateway hash-token "$MY_TOKEN"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw := args[0]
		phc, err := token.HashArgon2id(raw)
		if err != nil {
			return fmt.Errorf("argon2id hash: %w", err)
		}
		fmt.Printf("sha256:    %s\n", token.HashSHA256(raw))
		fmt.Printf("argon2id:  %s\n", phc)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashTokenCmd)
}
