// Package explorer wraps the block-explorer query API and its raw JSON-RPC
// fallback for a single chain.
package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/chainwhisperer/chainwhisperer/internal/ratelimit"
	"github.com/chainwhisperer/chainwhisperer/pkg/types"
)

// NotVerifiedSentinel is the literal string the explorer returns in place of
// ABI data for unverified contracts. The API's own verified flag cannot be
// trusted when the ABI carries this value.
const NotVerifiedSentinel = "Contract source code not verified"

// VerifiedContract is the parsed getsourcecode result for an address.
type VerifiedContract struct {
	Verified             bool             `json:"verified"`
	Address              string           `json:"address"`
	ContractName         string           `json:"contractName,omitempty"`
	CompilerVersion      string           `json:"compilerVersion,omitempty"`
	OptimizationUsed     bool             `json:"optimizationUsed"`
	Runs                 int              `json:"runs,omitempty"`
	SourceCode           string           `json:"sourceCode,omitempty"`
	ABIRaw               string           `json:"-"`
	ABI                  []types.ABIEntry `json:"abi,omitempty"`
	ConstructorArguments string           `json:"constructorArguments,omitempty"`
	EVMVersion           string           `json:"evmVersion,omitempty"`
	Library              string           `json:"library,omitempty"`
	LicenseType          string           `json:"licenseType,omitempty"`
	Proxy                bool             `json:"proxy"`
	Implementation       string           `json:"implementation,omitempty"`
	Message              string           `json:"message,omitempty"`
}

// ActuallyVerified reports whether the contract is usable as verified.
// The sentinel ABI text overrides the explorer's own verified flag.
func (v *VerifiedContract) ActuallyVerified() bool {
	return v.Verified && v.ABIRaw != "" && v.ABIRaw != NotVerifiedSentinel
}

// HTTPStatusError represents a non-2xx response from the explorer.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s (body: %s)", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsRetryable returns true if this HTTP error should be retried.
func (e *HTTPStatusError) IsRetryable() bool {
	return e.StatusCode == 429 || e.StatusCode == 502 ||
		e.StatusCode == 503 || e.StatusCode == 504
}

// ClientConfig holds configuration for the explorer client.
type ClientConfig struct {
	BaseURL        string // etherscan-style query API
	RPCURL         string // JSON-RPC endpoint for eth_getCode / eth_getBalance
	APIKey         string
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RatePerSec     float64 // query API quota, requests per second
	Logger         *slog.Logger
}

// DefaultClientConfig returns default configuration for the given endpoints.
func DefaultClientConfig(baseURL, rpcURL, apiKey string) ClientConfig {
	return ClientConfig{
		BaseURL:        baseURL,
		RPCURL:         rpcURL,
		APIKey:         apiKey,
		Timeout:        20 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		RatePerSec:     5, // free-tier explorer keys allow 5 req/s
	}
}

// Client talks to one chain's block explorer.
type Client struct {
	baseURL    string
	rpcURL     string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	limiter    *ratelimit.Limiter
	logger     *slog.Logger
}

// NewClient creates a new explorer client.
func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	rate := cfg.RatePerSec
	if rate == 0 {
		rate = 5
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		rpcURL:     cfg.RPCURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.InitialBackoff,
		maxBackoff: cfg.MaxBackoff,
		limiter:    ratelimit.New(rate),
		logger:     logger,
	}
}

// queryResponse is the etherscan-style envelope. Result stays raw because the
// API returns either an array of objects or a bare error string in it.
type queryResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// sourceCodeResult is one entry of the getsourcecode result array.
type sourceCodeResult struct {
	SourceCode           string `json:"SourceCode"`
	ABI                  string `json:"ABI"`
	ContractName         string `json:"ContractName"`
	CompilerVersion      string `json:"CompilerVersion"`
	OptimizationUsed     string `json:"OptimizationUsed"`
	Runs                 string `json:"Runs"`
	ConstructorArguments string `json:"ConstructorArguments"`
	EVMVersion           string `json:"EVMVersion"`
	Library              string `json:"Library"`
	LicenseType          string `json:"LicenseType"`
	Proxy                string `json:"Proxy"`
	Implementation       string `json:"Implementation"`
}

// GetVerifiedContract fetches source code and ABI for an address.
// An unverified contract is a normal result (Verified=false), not an error.
func (c *Client) GetVerifiedContract(ctx context.Context, address string) (*VerifiedContract, error) {
	resp, err := c.query(ctx, "contract", "getsourcecode", url.Values{"address": {address}})
	if err != nil {
		return nil, fmt.Errorf("getsourcecode %s: %w", address, err)
	}

	if resp.Status == "0" {
		var msg string
		json.Unmarshal(resp.Result, &msg)
		return &VerifiedContract{
			Verified: false,
			Address:  address,
			Message:  msg,
		}, nil
	}

	var results []sourceCodeResult
	if err := json.Unmarshal(resp.Result, &results); err != nil {
		return nil, fmt.Errorf("unmarshal getsourcecode result: %w", err)
	}
	if len(results) == 0 {
		return &VerifiedContract{Verified: false, Address: address}, nil
	}
	r := results[0]

	vc := &VerifiedContract{
		Verified:             true,
		Address:              address,
		ContractName:         r.ContractName,
		CompilerVersion:      r.CompilerVersion,
		OptimizationUsed:     r.OptimizationUsed == "1",
		SourceCode:           r.SourceCode,
		ABIRaw:               r.ABI,
		ConstructorArguments: r.ConstructorArguments,
		EVMVersion:           r.EVMVersion,
		Library:              r.Library,
		LicenseType:          r.LicenseType,
		Proxy:                r.Proxy == "1",
		Implementation:       r.Implementation,
	}
	if runs, err := strconv.Atoi(r.Runs); err == nil {
		vc.Runs = runs
	} else {
		vc.Runs = 200
	}
	if r.ABI != "" && r.ABI != NotVerifiedSentinel {
		if err := json.Unmarshal([]byte(r.ABI), &vc.ABI); err != nil {
			c.logger.Warn("failed to parse contract ABI",
				slog.String("address", address),
				slog.String("error", err.Error()))
			vc.ABI = nil
		}
	}
	return vc, nil
}

// GetContractABI fetches just the ABI for an address.
// Returns nil (no error) when the contract is not verified.
func (c *Client) GetContractABI(ctx context.Context, address string) ([]types.ABIEntry, error) {
	resp, err := c.query(ctx, "contract", "getabi", url.Values{"address": {address}})
	if err != nil {
		return nil, fmt.Errorf("getabi %s: %w", address, err)
	}
	if resp.Status != "1" {
		return nil, nil
	}

	var raw string
	if err := json.Unmarshal(resp.Result, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal getabi result: %w", err)
	}
	if raw == "" || raw == NotVerifiedSentinel {
		return nil, nil
	}
	var abi []types.ABIEntry
	if err := json.Unmarshal([]byte(raw), &abi); err != nil {
		return nil, fmt.Errorf("parse ABI: %w", err)
	}
	return abi, nil
}

// GetContractCreation fetches creation metadata for an address.
// Returns nil (no error) when the explorer has no creation record.
func (c *Client) GetContractCreation(ctx context.Context, address string) (*types.ContractCreation, error) {
	resp, err := c.query(ctx, "contract", "getcontractcreation", url.Values{"contractaddresses": {address}})
	if err != nil {
		return nil, fmt.Errorf("getcontractcreation %s: %w", address, err)
	}
	if resp.Status != "1" {
		return nil, nil
	}

	var results []struct {
		ContractCreator string `json:"contractCreator"`
		TxHash          string `json:"txHash"`
	}
	if err := json.Unmarshal(resp.Result, &results); err != nil {
		return nil, fmt.Errorf("unmarshal getcontractcreation result: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &types.ContractCreation{
		Creator: results[0].ContractCreator,
		TxHash:  results[0].TxHash,
	}, nil
}

// GetBytecode fetches deployed bytecode via the raw JSON-RPC endpoint.
// An empty code response ("0x") is an error: there is no contract there.
func (c *Client) GetBytecode(ctx context.Context, address string) (string, error) {
	result, err := c.rpcCall(ctx, "eth_getCode", []any{address, "latest"})
	if err != nil {
		return "", err
	}

	var code string
	if err := json.Unmarshal(result, &code); err != nil {
		return "", fmt.Errorf("unmarshal code: %w", err)
	}
	if code == "" || code == "0x" {
		return "", fmt.Errorf("no bytecode found at address %s", address)
	}
	return code, nil
}

// GetBalance fetches the address balance via JSON-RPC and formats it as an
// ether-denominated decimal string with four fractional digits.
func (c *Client) GetBalance(ctx context.Context, address string) (string, error) {
	result, err := c.rpcCall(ctx, "eth_getBalance", []any{address, "latest"})
	if err != nil {
		return "", err
	}

	var balanceHex string
	if err := json.Unmarshal(result, &balanceHex); err != nil {
		return "", fmt.Errorf("unmarshal balance: %w", err)
	}
	wei, err := hexutil.DecodeBig(balanceHex)
	if err != nil {
		return "", fmt.Errorf("decode balance: %w", err)
	}
	eth := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18))
	return eth.Text('f', 4), nil
}

// query issues an explorer API request with bounded retry on transient errors.
func (c *Client) query(ctx context.Context, module, action string, params url.Values) (*queryResponse, error) {
	q := url.Values{}
	q.Set("module", module)
	q.Set("action", action)
	q.Set("apikey", c.apiKey)
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	reqURL := c.baseURL + "?" + q.Encode()

	var lastErr error
	backoff := c.backoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.maxBackoff)
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		resp, err := c.doQuery(ctx, reqURL)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryable(err) {
			return nil, err
		}
		c.logger.Debug("explorer query failed, retrying",
			slog.String("action", action),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return nil, fmt.Errorf("all retries failed: %w", lastErr)
}

func (c *Client) doQuery(ctx context.Context, reqURL string) (*queryResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(errBody)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var qr queryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &qr, nil
}

// jsonRPCRequest / jsonRPCResponse carry the raw fallback calls.
type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
	ID      int             `json:"id"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *jsonRPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

func (c *Client) rpcCall(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	req := jsonRPCRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(errBody)}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

func isRetryable(err error) bool {
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpErr.IsRetryable()
	}
	var rpcErr *jsonRPCError
	if errors.As(err, &rpcErr) {
		return false
	}
	// Transport-level errors (timeouts, resets) are worth a retry.
	return true
}
