// Package decompiler provides clients for the two bytecode decompilation
// backends: an async job-queue service (submit, poll, fetch) and a simple
// one-shot service.
package decompiler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Job statuses reported by the async backend.
const (
	StatusCompleted = "COMPLETED"
	StatusUnknown   = "UNKNOWN"
)

// ErrUnknownJob means the backend has no record of the submitted job.
var ErrUnknownJob = errors.New("decompiler: unknown job id")

// PollTimeoutError means a job did not complete within the attempt budget.
type PollTimeoutError struct {
	JobID      string
	Attempts   int
	LastStatus string
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("decompilation job %s did not complete after %d polls (last status %q)",
		e.JobID, e.Attempts, e.LastStatus)
}

// ClientConfig holds configuration for the async decompiler client.
type ClientConfig struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	PollInterval time.Duration
	MaxAttempts  int
	Logger       *slog.Logger
}

// DefaultClientConfig returns default configuration for the given endpoint.
func DefaultClientConfig(baseURL, apiKey string) ClientConfig {
	return ClientConfig{
		BaseURL:      baseURL,
		APIKey:       apiKey,
		Timeout:      30 * time.Second,
		PollInterval: 5 * time.Second,
		MaxAttempts:  36,
	}
}

// Client drives the async decompilation backend.
type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	pollInterval time.Duration
	maxAttempts  int
	logger       *slog.Logger
}

// NewClient creates a new async decompiler client.
func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	interval := cfg.PollInterval
	if interval == 0 {
		interval = 5 * time.Second
	}
	attempts := cfg.MaxAttempts
	if attempts == 0 {
		attempts = 36
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		httpClient:   &http.Client{Timeout: timeout},
		pollInterval: interval,
		maxAttempts:  attempts,
		logger:       logger,
	}
}

// Submit sends bytecode for decompilation and returns the job id.
func (c *Client) Submit(ctx context.Context, bytecode string) (string, error) {
	body, err := json.Marshal(bytecode)
	if err != nil {
		return "", fmt.Errorf("failed to marshal bytecode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit bytecode: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("submit bytecode: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	jobID := strings.Trim(strings.TrimSpace(string(respBody)), `"`)
	if jobID == "" {
		return "", fmt.Errorf("submit bytecode: empty job id")
	}
	return jobID, nil
}

// WaitForCompletion polls a job until it completes. Polling is bounded: after
// the attempt budget runs out a PollTimeoutError is returned. An UNKNOWN
// status fails immediately with ErrUnknownJob.
func (c *Client) WaitForCompletion(ctx context.Context, jobID string) error {
	var lastStatus string
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.pollInterval):
			}
		}

		status, err := c.jobStatus(ctx, jobID)
		if err != nil {
			return err
		}
		lastStatus = status

		c.logger.Debug("decompilation job status",
			slog.String("jobId", jobID),
			slog.String("status", status),
			slog.Int("attempt", attempt+1),
		)

		switch status {
		case StatusCompleted:
			return nil
		case StatusUnknown:
			return fmt.Errorf("job %s: %w", jobID, ErrUnknownJob)
		}
	}
	return &PollTimeoutError{JobID: jobID, Attempts: c.maxAttempts, LastStatus: lastStatus}
}

func (c *Client) jobStatus(ctx context.Context, jobID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+jobID+"/status", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("poll status: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("poll status: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return strings.Trim(strings.TrimSpace(string(body)), `"`), nil
}

// FetchResult retrieves the decompiled source for a completed job.
func (c *Client) FetchResult(ctx context.Context, jobID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/decompilation/"+jobID, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch result: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch result: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result struct {
		Source string `json:"source"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if result.Source == "" {
		return "", fmt.Errorf("fetch result: job %s returned no source", jobID)
	}
	return result.Source, nil
}

// Decompile runs the full submit, poll, fetch cycle.
func (c *Client) Decompile(ctx context.Context, bytecode string) (string, error) {
	jobID, err := c.Submit(ctx, bytecode)
	if err != nil {
		return "", err
	}
	if err := c.WaitForCompletion(ctx, jobID); err != nil {
		return "", err
	}
	return c.FetchResult(ctx, jobID)
}
