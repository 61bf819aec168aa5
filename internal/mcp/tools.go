package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterTools registers all whisperd tools on the MCP server.
func RegisterTools(s *server.MCPServer, client *Client) {
	registerHealth(s, client)
	registerContract(s, client)
	registerDetect(s, client)
	registerChatInit(s, client)
	registerChatSend(s, client)
	registerUploadDecompiled(s, client)
	registerDecompile(s, client)
}

func registerHealth(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("whisperd_health",
		gomcp.WithDescription("Quick health check for the whisperd daemon. Checks storage connectivity."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get("/ready")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Daemon unhealthy: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHealth(raw)), nil
	})
}

func registerContract(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("whisperd_contract",
		gomcp.WithDescription("Get the cached analysis for a detected contract: verification status, compiler, proxy flag, risk level."),
		gomcp.WithString("address",
			gomcp.Description("Contract address (defaults to the most recently detected contract)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		path := "/v1/contract"
		if addr := req.GetString("address", ""); addr != "" {
			path += "?address=" + addr
		}
		raw, err := client.Get(path)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Contract lookup failed: %v\n\nIs the daemon running? Try: make run", err)), nil
		}
		return gomcp.NewToolResultText(formatContract(raw)), nil
	})
}

func registerDetect(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("whisperd_detect",
		gomcp.WithDescription("Report a detected contract and trigger verification fetch. This is a MUTATING operation. Chains: mantle, mantle-sepolia, ethereum."),
		gomcp.WithString("address",
			gomcp.Required(),
			gomcp.Description("Contract address (0x-prefixed, 40 hex chars)"),
		),
		gomcp.WithString("chain",
			gomcp.Required(),
			gomcp.Description("Chain name: mantle, mantle-sepolia, ethereum"),
		),
		gomcp.WithBoolean("fetch_verified",
			gomcp.Description("Fetch verified source from the block explorer (default: true)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		address, err := req.RequireString("address")
		if err != nil {
			return gomcp.NewToolResultError("address is required"), nil
		}
		chain, err := req.RequireString("chain")
		if err != nil {
			return gomcp.NewToolResultError("chain is required"), nil
		}

		payload := map[string]any{
			"address":       address,
			"chain":         chain,
			"fetchVerified": req.GetBool("fetch_verified", true),
		}
		_, err = client.Post("/v1/detections", payload)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Detection failed: %v", err)), nil
		}

		return gomcp.NewToolResultText(joinLines(
			section("Detection Accepted"),
			kv("Address", address),
			kv("Chain", chain),
			"Verification fetch runs in the background. Use whisperd_contract to see the result.",
		)), nil
	})
}

func registerChatInit(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("whisperd_chat_init",
		gomcp.WithDescription("Initialize (or restore) a chat session for a detected contract. This is a MUTATING operation."),
		gomcp.WithString("address",
			gomcp.Required(),
			gomcp.Description("Contract address of a previously detected contract"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		address, err := req.RequireString("address")
		if err != nil {
			return gomcp.NewToolResultError("address is required"), nil
		}
		raw, err := client.Post("/v1/chat/sessions", map[string]any{"contractAddress": address})
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Chat init failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatChatInit(raw)), nil
	})
}

func registerChatSend(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("whisperd_chat_send",
		gomcp.WithDescription("Send a message to an active contract-analysis chat session. This is a MUTATING operation."),
		gomcp.WithString("session_id",
			gomcp.Required(),
			gomcp.Description("Session ID from whisperd_chat_init"),
		),
		gomcp.WithString("message",
			gomcp.Required(),
			gomcp.Description("User message to send"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return gomcp.NewToolResultError("session_id is required"), nil
		}
		message, err := req.RequireString("message")
		if err != nil {
			return gomcp.NewToolResultError("message is required"), nil
		}
		raw, err := client.Post("/v1/chat/messages", map[string]any{
			"sessionId": sessionID,
			"message":   message,
		})
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Chat send failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatChatSend(raw)), nil
	})
}

func registerUploadDecompiled(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("whisperd_upload_decompiled",
		gomcp.WithDescription("Upload decompiled bytecode for an unverified contract and start an audit session. This is a MUTATING operation."),
		gomcp.WithString("address",
			gomcp.Required(),
			gomcp.Description("Contract address the decompiled code belongs to"),
		),
		gomcp.WithString("bytecode_text",
			gomcp.Required(),
			gomcp.Description("Decompiled source text to audit"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		address, err := req.RequireString("address")
		if err != nil {
			return gomcp.NewToolResultError("address is required"), nil
		}
		bytecodeText, err := req.RequireString("bytecode_text")
		if err != nil {
			return gomcp.NewToolResultError("bytecode_text is required"), nil
		}
		raw, err := client.Post("/v1/chat/decompiled", map[string]any{
			"contractAddress": address,
			"bytecodeText":    bytecodeText,
		})
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Upload failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatUpload(raw)), nil
	})
}

func registerDecompile(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("whisperd_decompile",
		gomcp.WithDescription("Decompile a detected contract's on-chain bytecode. Slow: polls the decompiler until the job completes. This is a MUTATING operation."),
		gomcp.WithString("address",
			gomcp.Required(),
			gomcp.Description("Contract address of a previously detected contract"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		address, err := req.RequireString("address")
		if err != nil {
			return gomcp.NewToolResultError("address is required"), nil
		}
		raw, err := client.Post("/v1/decompile", map[string]any{"address": address})
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Decompile failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatDecompile(raw)), nil
	})
}

// Response formatting functions

func formatContract(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing contract: %v", err)
	}

	address := getStr(m, "address")
	lines := joinLines(
		section("Contract "+address),
		kv("Chain", getStr(m, "chain")),
		kv("Verified", fmt.Sprintf("%v", getBool(m, "verified"))),
	)

	if name := getStr(m, "contractName"); name != "" {
		lines += "\n" + kv("Name", name)
	}
	if compiler := getStr(m, "compilerVersion"); compiler != "" {
		lines += "\n" + kv("Compiler", compiler)
	}
	lines += "\n" + kv("Proxy", fmt.Sprintf("%v", getBool(m, "proxy")))
	if impl := getStr(m, "implementation"); impl != "" {
		lines += "\n" + kv("Implementation", impl)
	}
	if risk := getStr(m, "riskLevel"); risk != "" {
		lines += "\n" + kv("Risk Level", strings.ToUpper(risk))
	}
	if getBool(m, "loading") {
		lines += "\nVerification fetch is still in progress."
	}
	if errMsg := getStr(m, "error"); errMsg != "" {
		lines += "\n" + kv("Error", errMsg)
	}
	if msg := getStr(m, "message"); msg != "" {
		lines += "\n" + kv("Message", msg)
	}

	if creation, ok := m["creation"].(map[string]any); ok {
		lines += "\n\n" + joinLines(
			section("Creation"),
			kv("Creator", getStr(creation, "creator")),
			kv("TX Hash", getStr(creation, "txHash")),
		)
	}

	if abi, ok := m["abi"].([]any); ok && len(abi) > 0 {
		fns := 0
		for _, e := range abi {
			if entry, ok := e.(map[string]any); ok && getStr(entry, "type") == "function" {
				fns++
			}
		}
		lines += "\n" + kv("ABI Functions", formatNumber(fns))
	}

	return lines
}

func formatHealth(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing health: %v", err)
	}

	ready, _ := m["ready"].(bool)
	state := "READY"
	if !ready {
		state = "NOT READY"
	}

	lines := section("Whisperd Health: " + state)

	if checks, ok := m["checks"].([]any); ok {
		for _, c := range checks {
			if check, ok := c.(map[string]any); ok {
				name := getStr(check, "name")
				status := getStr(check, "status")
				latencyMs := getNum(check, "latency_ms")
				errMsg := getStr(check, "error")
				line := fmt.Sprintf("  %-15s %s (%dms)", name, status, int64(latencyMs))
				if errMsg != "" {
					line += " - " + errMsg
				}
				lines += "\n" + line
			}
		}
	}

	return lines
}

func formatChatInit(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing session: %v", err)
	}

	if getBool(m, "awaitingUpload") {
		return joinLines(
			section("Decompiled Code Required"),
			getStr(m, "message"),
		)
	}
	if !getBool(m, "success") {
		return joinLines(
			section("Chat Init Failed"),
			kv("Error", getStr(m, "error")),
		)
	}

	state := "new"
	if getBool(m, "isRestored") {
		state = "restored"
	}
	lines := joinLines(
		section("Chat Session Ready"),
		kv("Session ID", getStr(m, "sessionId")),
		kv("State", state),
	)
	if greeting := getStr(m, "greeting"); greeting != "" {
		lines += "\n" + kv("Greeting", greeting)
	}

	if history, ok := m["chatHistory"].([]any); ok && len(history) > 0 {
		lines += "\n\n" + section("Transcript")
		for _, h := range history {
			msg, ok := h.(map[string]any)
			if !ok {
				continue
			}
			lines += fmt.Sprintf("\n[%s] %s", getStr(msg, "role"), truncate(getStr(msg, "content"), 400))
		}
	}

	return lines
}

func formatChatSend(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing reply: %v", err)
	}

	if getBool(m, "success") {
		return joinLines(
			section("Assistant Reply"),
			getStr(m, "response"),
		)
	}
	return joinLines(
		section("Chat Unavailable"),
		kv("Error", getStr(m, "error")),
		getStr(m, "fallbackResponse"),
	)
}

func formatUpload(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing audit: %v", err)
	}

	if !getBool(m, "success") {
		return joinLines(
			section("Upload Failed"),
			kv("Error", getStr(m, "error")),
		)
	}

	lines := joinLines(
		section("Decompiled Code Audit"),
		kv("Session ID", getStr(m, "sessionId")),
	)
	if history, ok := m["chatHistory"].([]any); ok {
		for _, h := range history {
			if msg, ok := h.(map[string]any); ok && getStr(msg, "role") == "assistant" {
				lines += "\n\n" + getStr(msg, "content")
			}
		}
	}
	return lines
}

func formatDecompile(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing decompilation: %v", err)
	}

	if !getBool(m, "success") {
		return joinLines(
			section("Decompilation Failed"),
			kv("Error", getStr(m, "error")),
		)
	}
	return joinLines(
		section("Decompiled Source"),
		"```",
		getStr(m, "source"),
		"```",
	)
}

// Helper functions
func getStr(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getNum(m map[string]any, key string) float64 {
	if v, ok := m[key]; ok {
		if n, ok := v.(float64); ok {
			return n
		}
	}
	return 0
}

func getBool(m map[string]any, key string) bool {
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}
