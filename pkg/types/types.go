// Package types contains shared types used across the daemon.
// JSON tags use camelCase to match the extension UI's expectations.
package types

import "time"

// Chain identifies a supported network by its explorer-facing name.
type Chain string

const (
	ChainMantle        Chain = "mantle"
	ChainMantleSepolia Chain = "mantle-sepolia"
	ChainEthereum      Chain = "ethereum"
)

// RiskLevel is the coarse triage label derived from the risk heuristic.
type RiskLevel string

const (
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
	RiskUnknown RiskLevel = "unknown"
)

// ABIEntry is a single function/event descriptor from a contract ABI.
type ABIEntry struct {
	Type            string     `json:"type"`
	Name            string     `json:"name,omitempty"`
	Inputs          []ABIParam `json:"inputs,omitempty"`
	Outputs         []ABIParam `json:"outputs,omitempty"`
	StateMutability string     `json:"stateMutability,omitempty"`
}

// ABIParam is a single input/output parameter of an ABI entry.
type ABIParam struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ContractCreation holds contract-creation metadata from the explorer.
type ContractCreation struct {
	Creator string `json:"creator"`
	TxHash  string `json:"txHash"`
}

// ContractRecord is the cached state for a detected contract.
// A sparse record (Loading=true) is written immediately on detection so the
// UI never observes an undefined contract after a detection event.
type ContractRecord struct {
	Address          string            `json:"address"`
	Chain            Chain             `json:"chain"`
	Verified         bool              `json:"verified"`
	ContractName     string            `json:"contractName,omitempty"`
	CompilerVersion  string            `json:"compilerVersion,omitempty"`
	OptimizationUsed bool              `json:"optimizationUsed"`
	SourceCode       string            `json:"sourceCode,omitempty"`
	ABI              []ABIEntry        `json:"abi,omitempty"`
	Proxy            bool              `json:"proxy"`
	Implementation   string            `json:"implementation,omitempty"`
	Creation         *ContractCreation `json:"creation,omitempty"`
	RiskLevel        RiskLevel         `json:"riskLevel,omitempty"`
	Loading          bool              `json:"loading"`
	Error            string            `json:"error,omitempty"`
	Message          string            `json:"message,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
	FetchedAt        *time.Time        `json:"fetchedAt,omitempty"`
	TabID            int               `json:"tabId,omitempty"`
}

// ChatSession is the cached state for a conversation with the analysis API.
// One active session per contract address.
type ChatSession struct {
	SessionID       string    `json:"sessionId"`
	ContractAddress string    `json:"contractAddress"`
	ChainID         int64     `json:"chainId"`
	CreatedAt       time.Time `json:"createdAt"`
	LastUsed        time.Time `json:"lastUsed,omitempty"`
}

// ChatMessage is one turn of the UI-visible transcript.
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// IndicatorStatus is the state of the page indicator / extension badge.
type IndicatorStatus string

const (
	IndicatorLoading IndicatorStatus = "loading"
	IndicatorSuccess IndicatorStatus = "success"
	IndicatorWarning IndicatorStatus = "warning"
	IndicatorError   IndicatorStatus = "error"
)

// IndicatorUpdate is pushed to the UI surface on every status transition.
type IndicatorUpdate struct {
	TabID   int             `json:"tabId,omitempty"`
	Status  IndicatorStatus `json:"status"`
	Message string          `json:"message"`
	Badge   string          `json:"badge,omitempty"`
}

// DetectionRequest is the CONTRACT_DETECTED control message.
type DetectionRequest struct {
	Address       string `json:"address"`
	Chain         Chain  `json:"chain"`
	FetchVerified bool   `json:"fetchVerified"`
	TabID         int    `json:"tabId,omitempty"`
}

// ChatInitRequest is the INITIALIZE_CHAT_SESSION control message.
type ChatInitRequest struct {
	ContractAddress string `json:"contractAddress"`
}

// ChatInitResponse is the canonical response for chat-session initialization.
// Exactly one of the three shapes is populated: success, awaiting-upload, or
// error; the Error field is set whenever Success is false and no upload is
// awaited.
type ChatInitResponse struct {
	Success         bool            `json:"success"`
	SessionID       string          `json:"sessionId,omitempty"`
	Contract        *ContractRecord `json:"contract,omitempty"`
	ContractDetails string          `json:"contractDetails,omitempty"`
	ChatHistory     []ChatMessage   `json:"chatHistory,omitempty"`
	IsRestored      bool            `json:"isRestored"`
	Greeting        string          `json:"greeting,omitempty"`
	AwaitingUpload  bool            `json:"awaitingUpload,omitempty"`
	Message         string          `json:"message,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// ChatMessageRequest is the SEND_CHAT_MESSAGE control message.
type ChatMessageRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// ChatMessageResponse is the canonical chat-relay response. On failure the
// FallbackResponse is always populated so the UI has something to display.
type ChatMessageResponse struct {
	Success          bool   `json:"success"`
	Response         string `json:"response,omitempty"`
	Error            string `json:"error,omitempty"`
	FallbackResponse string `json:"fallbackResponse,omitempty"`
}

// DecompileRequest asks the daemon to decompile a detected contract's
// on-chain bytecode.
type DecompileRequest struct {
	Address string `json:"address"`
}

// DecompileResponse carries the decompiled source, or the failure.
type DecompileResponse struct {
	Success bool   `json:"success"`
	Source  string `json:"source,omitempty"`
	Error   string `json:"error,omitempty"`
}

// DecompiledUploadRequest is the SEND_DECOMPILED_CODE control message.
type DecompiledUploadRequest struct {
	ContractAddress string `json:"contractAddress"`
	BytecodeText    string `json:"bytecodeText"`
}

// DecompiledUploadResponse is the canonical decompiled-upload response.
type DecompiledUploadResponse struct {
	Success         bool            `json:"success"`
	SessionID       string          `json:"sessionId,omitempty"`
	Contract        *ContractRecord `json:"contract,omitempty"`
	ContractDetails string          `json:"contractDetails,omitempty"`
	ChatHistory     []ChatMessage   `json:"chatHistory,omitempty"`
	Greeting        string          `json:"greeting,omitempty"`
	Error           string          `json:"error,omitempty"`
}
