// Package cmd provides the CLI commands for the MCP gateway.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	gwhttp "github.com/mcpgateway/mcpgateway/internal/adapter/inbound/http"
	"github.com/mcpgateway/mcpgateway/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "mcp-gateway",
	Short: "MCP Gateway - observability proxy for MCP servers",
	Long: `MCP Gateway is an observability proxy for Model Context Protocol (MCP)
servers. It forwards JSON-RPC traffic to registered upstream servers,
captures every request, response, and SSE event into a local SQLite
database, and serves a management API for querying the history.

Quick start:
  1. Run: mcp-gateway serve
  2. Register a server:
     curl -X POST http://127.0.0.1:3333/api/servers/config \
       -H "Authorization: Bearer $TOKEN" \
       -d '{"name":"weather","url":"http://localhost:8081/mcp"}'
  3. Point your MCP client at http://127.0.0.1:3333/s/weather/mcp

Configuration:
  Config is loaded from mcp-gateway.yaml in the current directory,
  $HOME/.mcp-gateway/, or /etc/mcp-gateway/.

  Environment variables can override config values with the MCP_GATEWAY_
  prefix. Example: MCP_GATEWAY_SERVER_PORT=8080

Commands:
  serve       Run the gateway
  hash-token  Hash a management token for use in config files
  version     Print version information`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit code:
// 0 on success, 1 on initialization failure, 2 when the listen port
// cannot be bound, 130 when stopped by SIGINT.
func Execute() int {
	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, errInterrupted) {
		fmt.Fprintln(os.Stderr, err)
	}
	return exitCode(err)
}

// exitCode maps an error from the command tree to a process exit code.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, errInterrupted) {
		return 130
	}
	var bindErr *gwhttp.BindError
	if errors.As(err, &bindErr) {
		return 2
	}
	return 1
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./mcp-gateway.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
