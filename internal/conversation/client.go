// Package conversation talks to the contract-analysis chat API. It owns
// session lifecycle, contextual chat queries, and the prompt templates used
// to seed a session with contract details.
package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chainwhisperer/chainwhisperer/pkg/types"
)

// APIStatusError represents a non-2xx response from the chat API.
type APIStatusError struct {
	StatusCode int
	Body       string
}

func (e *APIStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("chat API HTTP %d: %s (body: %s)", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	}
	return fmt.Sprintf("chat API HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// ClientConfig holds configuration for the chat API client.
type ClientConfig struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
	Logger    *slog.Logger
}

// DefaultClientConfig returns default configuration for the given endpoint.
func DefaultClientConfig(baseURL, secretKey string) ClientConfig {
	return ClientConfig{
		BaseURL:   baseURL,
		SecretKey: secretKey,
		Timeout:   120 * time.Second,
	}
}

// Client is an HTTP client for the chat API.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new chat API client.
func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:  cfg.SecretKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// ContextFilter scopes a chat query to specific chains and contracts.
// Chain ids go over the wire as strings.
type ContextFilter struct {
	ChainIDs          []string `json:"chain_ids"`
	ContractAddresses []string `json:"contract_addresses"`
}

// NewContextFilter builds a filter for a single contract on a single chain.
func NewContextFilter(chainID int64, contractAddress string) *ContextFilter {
	return &ContextFilter{
		ChainIDs:          []string{strconv.FormatInt(chainID, 10)},
		ContractAddresses: []string{contractAddress},
	}
}

type chatRequest struct {
	Message       string         `json:"message"`
	SessionID     string         `json:"session_id"`
	ContextFilter *ContextFilter `json:"context_filter,omitempty"`
}

type chatResponse struct {
	Message string `json:"message"`
}

// HistoryMessage is one entry of a session's stored transcript. User content
// arrives either as a plain string or as an array of typed parts.
type HistoryMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// Text flattens the content field to plain text.
func (m HistoryMessage) Text() string {
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(m.Content, &parts); err == nil && len(parts) > 0 {
		return parts[0].Text
	}
	return ""
}

// SessionInfo is the remote session record.
type SessionInfo struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	History   []HistoryMessage `json:"history"`
	CreatedAt string           `json:"created_at"`
}

// Transcript converts the stored history into chat messages.
func (s *SessionInfo) Transcript() []types.ChatMessage {
	if len(s.History) == 0 {
		return nil
	}
	out := make([]types.ChatMessage, 0, len(s.History))
	for _, msg := range s.History {
		out = append(out, types.ChatMessage{
			Role:    msg.Role,
			Content: msg.Text(),
		})
	}
	return out
}

// CreatedAtTime parses the session's creation timestamp. The zero time is
// returned when the field is absent or malformed.
func (s *SessionInfo) CreatedAtTime() time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s.CreatedAt); err == nil {
			return t
		}
	}
	return time.Time{}
}

type sessionEnvelope struct {
	Result *SessionInfo `json:"result"`
}

// CreateSession creates a new remote session and returns its id.
func (c *Client) CreateSession(ctx context.Context, title string) (string, error) {
	var env sessionEnvelope
	if err := c.do(ctx, http.MethodPost, "/session", map[string]any{"title": title}, &env); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	if env.Result == nil || env.Result.ID == "" {
		return "", fmt.Errorf("create session: response carried no session id")
	}
	return env.Result.ID, nil
}

// GetSession fetches a session record including its message history.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	var env sessionEnvelope
	if err := c.do(ctx, http.MethodGet, "/session/"+sessionID, nil, &env); err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	if env.Result == nil {
		return nil, fmt.Errorf("get session %s: empty result", sessionID)
	}
	return env.Result, nil
}

// UpdateSession renames a session and sets its visibility.
func (c *Client) UpdateSession(ctx context.Context, sessionID, title string, isPublic bool) error {
	body := map[string]any{"title": title, "is_public": isPublic}
	if err := c.do(ctx, http.MethodPut, "/session/"+sessionID, body, nil); err != nil {
		return fmt.Errorf("update session %s: %w", sessionID, err)
	}
	return nil
}

// ClearSession wipes a session's message history, keeping the session itself.
func (c *Client) ClearSession(ctx context.Context, sessionID string) error {
	if err := c.do(ctx, http.MethodPost, "/session/"+sessionID+"/clear", nil, nil); err != nil {
		return fmt.Errorf("clear session %s: %w", sessionID, err)
	}
	return nil
}

// DeleteSession removes a session entirely.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	if err := c.do(ctx, http.MethodDelete, "/session/"+sessionID, nil, nil); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// Chat sends a message in a session and returns the assistant reply.
// A nil filter sends the message without contract context.
func (c *Client) Chat(ctx context.Context, sessionID, message string, filter *ContextFilter) (string, error) {
	req := chatRequest{Message: message, SessionID: sessionID, ContextFilter: filter}
	var resp chatResponse
	if err := c.do(ctx, http.MethodPost, "/chat", req, &resp); err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}
	return resp.Message, nil
}

// QueryContract asks for a structured function listing of an on-chain
// contract, scoped through the context filter.
func (c *Client) QueryContract(ctx context.Context, sessionID, address string, chainID int64) (string, error) {
	return c.Chat(ctx, sessionID, contractOverviewPrompt(address, chainID), NewContextFilter(chainID, address))
}

// QueryRawContract asks for a structured function listing of verified source
// code inlined into the prompt. No context filter is applied so the model
// analyzes the code as given.
func (c *Client) QueryRawContract(ctx context.Context, sessionID, address, sourceCode string, chainID int64) (string, error) {
	return c.Chat(ctx, sessionID, rawSourcePrompt(address, sourceCode, chainID), nil)
}

// AuditDecompiledContract asks for a security-focused review of decompiled
// bytecode inlined into the prompt.
func (c *Client) AuditDecompiledContract(ctx context.Context, sessionID, address, decompiledCode string, chainID int64) (string, error) {
	return c.Chat(ctx, sessionID, decompiledAuditPrompt(address, decompiledCode, chainID), nil)
}

// ExecuteConfig selects how prepared transactions are handled. Only client
// mode is supported upstream: the API returns unsigned transaction payloads.
type ExecuteConfig struct {
	Mode                string `json:"mode"`
	SignerWalletAddress string `json:"signer_wallet_address,omitempty"`
}

type executeRequest struct {
	Message       string         `json:"message"`
	UserID        string         `json:"user_id"`
	Stream        bool           `json:"stream"`
	SessionID     string         `json:"session_id"`
	ExecuteConfig ExecuteConfig  `json:"execute_config"`
	ContextFilter *ContextFilter `json:"context_filter,omitempty"`
}

// ExecuteResponse carries the reply plus any prepared transaction actions.
type ExecuteResponse struct {
	Message string            `json:"message"`
	Actions []json.RawMessage `json:"actions,omitempty"`
}

// Execute asks the API to prepare a transaction for client-side signing.
func (c *Client) Execute(ctx context.Context, sessionID, message, signerWallet, address string, chainID int64) (*ExecuteResponse, error) {
	req := executeRequest{
		Message:   message,
		UserID:    "default-user",
		Stream:    false,
		SessionID: sessionID,
		ExecuteConfig: ExecuteConfig{
			Mode:                "client",
			SignerWalletAddress: signerWallet,
		},
		ContextFilter: NewContextFilter(chainID, address),
	}
	var resp ExecuteResponse
	if err := c.do(ctx, http.MethodPost, "/execute", req, &resp); err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-secret-key", c.secretKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.logger.Debug("chat API error response",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)
		return &APIStatusError{StatusCode: resp.StatusCode, Body: string(errBody)}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
