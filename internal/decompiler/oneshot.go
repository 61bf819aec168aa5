package decompiler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OneShotClient talks to a synchronous decompilation service that accepts
// either raw bytecode or an address plus RPC endpoint and answers in a
// single round trip.
type OneShotClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewOneShotClient creates a client for the given service URL.
func NewOneShotClient(baseURL string, timeout time.Duration) *OneShotClient {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &OneShotClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type oneShotRequest struct {
	Bytecode string `json:"bytecode,omitempty"`
	Address  string `json:"address,omitempty"`
	RPC      string `json:"rpc,omitempty"`
}

// DecompileBytecode decompiles raw EVM bytecode.
func (c *OneShotClient) DecompileBytecode(ctx context.Context, bytecode string) (string, error) {
	if bytecode == "" {
		return "", fmt.Errorf("bytecode must not be empty")
	}
	return c.decompile(ctx, oneShotRequest{Bytecode: bytecode})
}

// DecompileAddress fetches the contract's code through the given RPC
// endpoint and decompiles it server-side.
func (c *OneShotClient) DecompileAddress(ctx context.Context, address, rpcURL string) (string, error) {
	if address == "" || rpcURL == "" {
		return "", fmt.Errorf("address and RPC URL are required")
	}
	return c.decompile(ctx, oneShotRequest{Address: address, RPC: rpcURL})
}

func (c *OneShotClient) decompile(ctx context.Context, req oneShotRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/decompile", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("decompile: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("decompile: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result struct {
		Source string `json:"source"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return result.Source, nil
}
