package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chainwhisperer/chainwhisperer/internal/conversation"
	"github.com/chainwhisperer/chainwhisperer/internal/storage"
	"github.com/chainwhisperer/chainwhisperer/pkg/types"
)

// Canned replies used when the chat API is unreachable. Rotated so repeated
// failures do not show the user the same apology every time.
var fallbackResponses = []string{
	"I'm having trouble connecting to analyze this contract. Please try again in a moment.",
	"Sorry, I encountered an error while processing your request. Could you rephrase your question?",
	"There seems to be a temporary issue with the AI service. Please retry your query.",
}

const restoredGreeting = "Welcome back! I've restored our previous conversation."

// InitializeChatSession prepares a chat session for a contract: restore a
// previous session when a durable binding exists, otherwise create a fresh
// session seeded with the contract's source code. Failures come back as a
// structured response, never as an error.
func (o *Orchestrator) InitializeChatSession(ctx context.Context, req types.ChatInitRequest) *types.ChatInitResponse {
	contract := o.lookupContract(req.ContractAddress)
	if contract == nil {
		return &types.ChatInitResponse{Error: "No contract found"}
	}

	if resp := o.restoreSession(ctx, req.ContractAddress, contract); resp != nil {
		return resp
	}
	return o.createFreshSession(ctx, req.ContractAddress, contract)
}

// restoreSession attempts to resume a previously bound session. Any failure
// along the way returns nil so the caller falls through to a new session.
func (o *Orchestrator) restoreSession(ctx context.Context, address string, contract *types.ContractRecord) *types.ChatInitResponse {
	binding, err := o.store.GetSession(ctx, storage.SessionKey(address))
	if err != nil || binding == nil || binding.SessionID == "" {
		return nil
	}

	info, err := o.conversation.GetSession(ctx, binding.SessionID)
	if err != nil {
		o.logger.Debug("session restore failed, starting fresh",
			slog.String("sessionId", binding.SessionID),
			slog.String("error", err.Error()))
		return nil
	}

	history := info.Transcript()
	var contractDetails string
	for _, msg := range history {
		if msg.Role == "assistant" {
			contractDetails = msg.Content
			break
		}
	}

	chainID := o.chains.ID(contract.Chain)
	sess := &types.ChatSession{
		SessionID:       binding.SessionID,
		ContractAddress: contract.Address,
		ChainID:         chainID,
		CreatedAt:       info.CreatedAtTime(),
		LastUsed:        time.Now(),
	}
	o.cacheSession(sess)

	if o.metrics != nil {
		o.metrics.SessionsRestored.Inc()
	}
	o.logger.Info("chat session restored",
		slog.String("sessionId", binding.SessionID),
		slog.String("address", address))

	return &types.ChatInitResponse{
		Success:         true,
		SessionID:       binding.SessionID,
		Contract:        contract,
		ContractDetails: contractDetails,
		ChatHistory:     history,
		IsRestored:      true,
		Greeting:        restoredGreeting,
	}
}

// createFreshSession creates a remote session, re-checks verification and
// seeds the session with the contract source.
func (o *Orchestrator) createFreshSession(ctx context.Context, address string, contract *types.ContractRecord) *types.ChatInitResponse {
	title := sessionTitle(contract, address)
	sessionID, err := o.conversation.CreateSession(ctx, title)
	if err != nil {
		o.logger.Error("failed to create chat session", slog.String("error", err.Error()))
		if o.metrics != nil {
			o.metrics.RecordError("conversation")
		}
		return &types.ChatInitResponse{Error: err.Error()}
	}

	chainID := o.chains.ID(contract.Chain)

	exp := o.explorerFor(contract.Chain)
	if exp == nil {
		return &types.ChatInitResponse{Error: fmt.Sprintf("chain %s has no explorer support", contract.Chain)}
	}
	verified, err := exp.GetVerifiedContract(ctx, contract.Address)
	if err != nil {
		return &types.ChatInitResponse{Error: err.Error()}
	}

	if !verified.ActuallyVerified() {
		return &types.ChatInitResponse{
			Success:        false,
			Contract:       contract,
			AwaitingUpload: true,
			Message:        "This contract is not verified. Please upload the decompiled bytecode to proceed.",
		}
	}

	contractDetails, err := o.conversation.QueryRawContract(ctx, sessionID, contract.Address, verified.SourceCode, chainID)
	if err != nil {
		o.logger.Error("failed to query contract details", slog.String("error", err.Error()))
		return &types.ChatInitResponse{Error: err.Error()}
	}

	updated := *contract
	updated.Verified = true
	updated.ContractName = verified.ContractName
	updated.CompilerVersion = verified.CompilerVersion
	updated.OptimizationUsed = verified.OptimizationUsed
	updated.SourceCode = verified.SourceCode
	updated.ABI = verified.ABI
	updated.Proxy = verified.Proxy
	updated.Implementation = verified.Implementation

	o.mu.Lock()
	o.contracts[CurrentKey] = &updated
	o.contracts[updated.Address] = &updated
	o.mu.Unlock()

	sess := &types.ChatSession{
		SessionID:       sessionID,
		ContractAddress: updated.Address,
		ChainID:         chainID,
		CreatedAt:       time.Now(),
	}
	o.cacheSession(sess)

	if err := o.store.SaveSession(context.WithoutCancel(ctx), storage.SessionKey(address), sess); err != nil {
		o.logger.Warn("failed to persist session binding",
			slog.String("sessionId", sessionID),
			slog.String("error", err.Error()))
	}

	if o.metrics != nil {
		o.metrics.SessionsCreated.Inc()
	}
	o.updateCacheGauges()
	o.logger.Info("chat session created",
		slog.String("sessionId", sessionID),
		slog.String("address", address))

	greeting := generateInitialGreeting(&updated)
	return &types.ChatInitResponse{
		Success:         true,
		SessionID:       sessionID,
		Contract:        &updated,
		ContractDetails: contractDetails,
		ChatHistory: []types.ChatMessage{
			{Role: "assistant", Content: greeting},
			{Role: "assistant", Content: contractDetails},
		},
		IsRestored: false,
		Greeting:   greeting,
	}
}

// SendChatMessage relays a user message over the session's bound context.
// Remote failure yields a canned fallback instead of an error.
func (o *Orchestrator) SendChatMessage(ctx context.Context, req types.ChatMessageRequest) *types.ChatMessageResponse {
	o.mu.Lock()
	sess := o.sessions[req.SessionID]
	o.mu.Unlock()

	if sess == nil {
		return &types.ChatMessageResponse{Error: "Session not found"}
	}

	filter := conversation.NewContextFilter(sess.ChainID, sess.ContractAddress)
	chatStart := time.Now()
	reply, err := o.conversation.Chat(ctx, req.SessionID, req.Message, filter)
	if o.metrics != nil {
		o.metrics.RecordChatAPICall("chat", err == nil, time.Since(chatStart).Seconds())
	}
	if err != nil {
		o.logger.Error("chat relay failed",
			slog.String("sessionId", req.SessionID),
			slog.String("error", err.Error()))
		if o.metrics != nil {
			o.metrics.RecordChatMessage("fallback")
		}
		return &types.ChatMessageResponse{
			Success:          false,
			Error:            err.Error(),
			FallbackResponse: o.nextFallback(),
		}
	}

	o.mu.Lock()
	sess.LastUsed = time.Now()
	o.sessions[req.SessionID] = sess
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.RecordChatMessage("success")
	}
	return &types.ChatMessageResponse{Success: true, Response: reply}
}

// SendDecompiledCode starts a dedicated session around user-supplied
// decompiled bytecode and returns the audit.
func (o *Orchestrator) SendDecompiledCode(ctx context.Context, req types.DecompiledUploadRequest) *types.DecompiledUploadResponse {
	contract := o.lookupContract(req.ContractAddress)
	if contract == nil {
		return &types.DecompiledUploadResponse{Error: "No contract found"}
	}

	sessionID, err := o.conversation.CreateSession(ctx, "Decompiled - "+shortAddress(req.ContractAddress))
	if err != nil {
		return &types.DecompiledUploadResponse{Error: err.Error()}
	}

	chainID := o.chains.ID(contract.Chain)
	audit, err := o.conversation.AuditDecompiledContract(ctx, sessionID, req.ContractAddress, req.BytecodeText, chainID)
	if err != nil {
		o.logger.Error("decompiled audit failed",
			slog.String("address", req.ContractAddress),
			slog.String("error", err.Error()))
		return &types.DecompiledUploadResponse{Error: err.Error()}
	}

	sess := &types.ChatSession{
		SessionID:       sessionID,
		ContractAddress: req.ContractAddress,
		ChainID:         chainID,
		CreatedAt:       time.Now(),
	}
	o.cacheSession(sess)

	if err := o.store.SaveSession(context.WithoutCancel(ctx), storage.SessionKey(req.ContractAddress), sess); err != nil {
		o.logger.Warn("failed to persist session binding",
			slog.String("sessionId", sessionID),
			slog.String("error", err.Error()))
	}
	o.updateCacheGauges()

	return &types.DecompiledUploadResponse{
		Success:         true,
		SessionID:       sessionID,
		Contract:        contract,
		ContractDetails: audit,
		ChatHistory: []types.ChatMessage{
			{Role: "assistant", Content: "Thanks for uploading the decompiled code. Here's what I found:"},
			{Role: "assistant", Content: audit},
		},
		Greeting: "Let's review your uploaded contract code.",
	}
}

// nextFallback rotates through the canned replies.
func (o *Orchestrator) nextFallback() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	resp := fallbackResponses[o.fallbackIdx%len(fallbackResponses)]
	o.fallbackIdx++
	return resp
}

func sessionTitle(contract *types.ContractRecord, address string) string {
	name := contract.ContractName
	if name == "" {
		name = shortAddress(address)
	}
	return "ChainWhisperer - " + name
}

func shortAddress(address string) string {
	if len(address) > 8 {
		return address[:8]
	}
	return address
}

func generateInitialGreeting(contract *types.ContractRecord) string {
	if !contract.Verified {
		return "Hello! I'm ChainWhisperer. I've detected a contract. Ask me anything about it!"
	}
	riskText := "high risk"
	switch contract.RiskLevel {
	case types.RiskLow:
		riskText = "safe"
	case types.RiskMedium:
		riskText = "moderately risky"
	}
	name := contract.ContractName
	if name == "" {
		name = "this contract"
	}
	return fmt.Sprintf("Hello! I'm analyzing %s. It's verified and appears to be %s. What would you like to know?", name, riskText)
}
