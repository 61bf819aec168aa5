// ChainWhisperer MCP server.
// Exposes whisperd daemon tools over MCP stdio transport.
package main

import (
	"fmt"
	"os"

	mcptools "github.com/chainwhisperer/chainwhisperer/internal/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	whisperdURL := os.Getenv("WHISPERD_URL")
	if whisperdURL == "" {
		whisperdURL = "http://localhost:3001"
	}

	s := server.NewMCPServer(
		"chainwhisperer",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	client := mcptools.NewClient(whisperdURL)
	mcptools.RegisterTools(s, client)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
