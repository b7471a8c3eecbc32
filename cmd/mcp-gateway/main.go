// Command mcp-gateway runs the MCP observability gateway.
package main

import (
	"os"

	"github.com/mcpgateway/mcpgateway/cmd/mcp-gateway/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
