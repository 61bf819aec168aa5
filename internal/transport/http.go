// Package transport provides the daemon's HTTP and WebSocket API.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chainwhisperer/chainwhisperer/internal/chain"
	"github.com/chainwhisperer/chainwhisperer/pkg/types"
)

const maxBytecodeUploadBytes = 4 << 20 // 4 MiB of pasted decompiler output

// OrchestratorAPI defines the interface the handlers need from the core.
type OrchestratorAPI interface {
	HandleContractDetected(ctx context.Context, req types.DetectionRequest)
	GetContract(address string) *types.ContractRecord
	InitializeChatSession(ctx context.Context, req types.ChatInitRequest) *types.ChatInitResponse
	SendChatMessage(ctx context.Context, req types.ChatMessageRequest) *types.ChatMessageResponse
	SendDecompiledCode(ctx context.Context, req types.DecompiledUploadRequest) *types.DecompiledUploadResponse
	DecompileContract(ctx context.Context, req types.DecompileRequest) *types.DecompileResponse
}

// HealthChecker defines the interface for readiness checking.
type HealthChecker interface {
	CheckStore() error
}

// Server handles HTTP requests for the analysis daemon.
type Server struct {
	api       OrchestratorAPI
	chains    *chain.Registry
	health    HealthChecker
	logger    *slog.Logger
	startTime time.Time
	wsServer  *WebSocketServer

	// CORS configuration
	corsAllowedOrigins []string // Parsed list of allowed origins
	corsAllowAll       bool     // True if "*" or empty (allow all origins)
}

// NewServer creates a new HTTP server. The returned server owns the
// WebSocket broadcaster; pass it to the orchestrator as its notifier.
func NewServer(api OrchestratorAPI, chains *chain.Registry, health HealthChecker, logger *slog.Logger, corsAllowedOrigins string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if chains == nil {
		chains = chain.DefaultRegistry()
	}

	wsServer := NewWebSocketServer(logger)
	wsServer.Start()

	s := &Server{
		api:       api,
		chains:    chains,
		health:    health,
		logger:    logger,
		startTime: time.Now(),
		wsServer:  wsServer,
	}

	// Parse CORS allowed origins
	origins := strings.TrimSpace(corsAllowedOrigins)
	if origins == "" || origins == "*" {
		s.corsAllowAll = true
	} else {
		s.corsAllowedOrigins = strings.Split(origins, ",")
		for i, o := range s.corsAllowedOrigins {
			s.corsAllowedOrigins[i] = strings.TrimSpace(o)
		}
	}

	return s
}

// WebSocket returns the indicator broadcaster.
func (s *Server) WebSocket() *WebSocketServer {
	return s.wsServer
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/detections", s.corsMiddleware(s.handleDetection))
	mux.HandleFunc("/v1/contract", s.corsMiddleware(s.handleGetContract))
	mux.HandleFunc("/v1/chat/sessions", s.corsMiddleware(s.handleChatInit))
	mux.HandleFunc("/v1/chat/messages", s.corsMiddleware(s.handleChatMessage))
	mux.HandleFunc("/v1/chat/decompiled", s.corsMiddleware(s.handleDecompiledUpload))
	mux.HandleFunc("/v1/decompile", s.corsMiddleware(s.handleDecompile))
	mux.HandleFunc("/v1/popup", s.corsMiddleware(s.handlePopup))
	mux.HandleFunc("/v1/ws", s.wsServer.Handler())

	// Health endpoints (unversioned - standard Kubernetes probes)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)

	// Prometheus metrics (unversioned - standard path)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// corsMiddleware adds CORS headers based on the configured allowed origins.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if s.corsAllowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			// Check if the origin is in the allowed list
			allowed := false
			for _, o := range s.corsAllowedOrigins {
				if o == origin {
					allowed = true
					break
				}
			}
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// validateDetection validates a detection request.
func (s *Server) validateDetection(req *types.DetectionRequest) error {
	if req.Address == "" {
		return fmt.Errorf("address is required")
	}
	if !common.IsHexAddress(req.Address) {
		return fmt.Errorf("invalid contract address: %s", req.Address)
	}
	if req.Chain == "" {
		return fmt.Errorf("chain is required")
	}
	if s.chains.Get(req.Chain) == nil {
		known := s.chains.Names()
		names := make([]string, len(known))
		for i, n := range known {
			names[i] = string(n)
		}
		return fmt.Errorf("unknown chain: %s (valid: %s)", req.Chain, strings.Join(names, ", "))
	}
	return nil
}

// handleDetection accepts a contract detection and processes it in the
// background. The detector gets its ack before enrichment starts.
func (s *Server) handleDetection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req types.DetectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.validateDetection(&req); err != nil {
		s.writeJSONError(w, "Validation error: "+err.Error(), http.StatusBadRequest)
		return
	}

	go s.api.HandleContractDetected(context.Background(), req)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

// handleGetContract returns the cached record for ?address=, or the current
// contract when the parameter is absent.
func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	contract := s.api.GetContract(r.URL.Query().Get("address"))
	if contract == nil {
		s.writeJSONError(w, "No contract found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(contract)
}

// handleChatInit initializes or restores a chat session.
func (s *Server) handleChatInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req types.ChatInitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.ContractAddress == "" {
		s.writeJSONError(w, "contractAddress is required", http.StatusBadRequest)
		return
	}

	resp := s.api.InitializeChatSession(r.Context(), req)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleChatMessage relays a user chat message.
func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req types.ChatMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.SessionID == "" || req.Message == "" {
		s.writeJSONError(w, "sessionId and message are required", http.StatusBadRequest)
		return
	}

	resp := s.api.SendChatMessage(r.Context(), req)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleDecompiledUpload accepts decompiled bytecode for an audit session.
func (s *Server) handleDecompiledUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req types.DecompiledUploadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytecodeUploadBytes)).Decode(&req); err != nil {
		s.writeJSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.ContractAddress == "" || req.BytecodeText == "" {
		s.writeJSONError(w, "contractAddress and bytecodeText are required", http.StatusBadRequest)
		return
	}

	resp := s.api.SendDecompiledCode(r.Context(), req)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleDecompile decompiles a detected contract's on-chain bytecode.
// Decompilation jobs can run for minutes; the request context carries the
// client's patience.
func (s *Server) handleDecompile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req types.DecompileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Address == "" {
		s.writeJSONError(w, "address is required", http.StatusBadRequest)
		return
	}

	resp := s.api.DecompileContract(r.Context(), req)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handlePopup acknowledges a popup-open request. Opening the popup is a UI
// affordance; the daemon only acks so the detector page gets a response.
func (s *Server) handlePopup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// handleHealth handles liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	})
}

// ReadinessCheck represents a single readiness check result.
type ReadinessCheck struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // "ok" or "failed"
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleReady handles readiness probes.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := []ReadinessCheck{}
	allHealthy := true

	if s.health != nil {
		start := time.Now()
		err := s.health.CheckStore()
		latency := time.Since(start).Milliseconds()

		check := ReadinessCheck{
			Name:      "storage",
			LatencyMs: latency,
		}
		if err != nil {
			check.Status = "failed"
			check.Error = err.Error()
			allHealthy = false
		} else {
			check.Status = "ok"
		}
		checks = append(checks, check)
	}

	response := map[string]interface{}{
		"ready":  allHealthy,
		"checks": checks,
	}

	w.Header().Set("Content-Type", "application/json")
	if allHealthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(response)
}
