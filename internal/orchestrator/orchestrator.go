// Package orchestrator is the daemon core. It reacts to contract detections,
// reconciles verification state against the block explorer, brokers chat
// sessions, and owns the in-memory contract and session caches.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/chainwhisperer/chainwhisperer/internal/chain"
	"github.com/chainwhisperer/chainwhisperer/internal/conversation"
	"github.com/chainwhisperer/chainwhisperer/internal/explorer"
	"github.com/chainwhisperer/chainwhisperer/internal/metrics"
	"github.com/chainwhisperer/chainwhisperer/internal/storage"
	"github.com/chainwhisperer/chainwhisperer/pkg/types"
)

// CurrentKey is the cache key that always points at the most recently
// detected contract.
const CurrentKey = "current"

// ErrNoContractFound means neither the requested address nor the current
// slot holds a contract record.
var ErrNoContractFound = errors.New("no contract found")

// ErrSessionNotFound means the referenced chat session is not in the cache.
var ErrSessionNotFound = errors.New("session not found")

// ExplorerClient is the slice of the explorer API the orchestrator needs.
type ExplorerClient interface {
	GetVerifiedContract(ctx context.Context, address string) (*explorer.VerifiedContract, error)
	GetContractCreation(ctx context.Context, address string) (*types.ContractCreation, error)
	GetBytecode(ctx context.Context, address string) (string, error)
}

// ConversationClient is the slice of the chat API the orchestrator needs.
type ConversationClient interface {
	CreateSession(ctx context.Context, title string) (string, error)
	GetSession(ctx context.Context, sessionID string) (*conversation.SessionInfo, error)
	QueryRawContract(ctx context.Context, sessionID, address, sourceCode string, chainID int64) (string, error)
	AuditDecompiledContract(ctx context.Context, sessionID, address, decompiledCode string, chainID int64) (string, error)
	Chat(ctx context.Context, sessionID, message string, filter *conversation.ContextFilter) (string, error)
}

// IndicatorNotifier pushes badge and indicator transitions to connected UIs.
type IndicatorNotifier interface {
	Notify(update types.IndicatorUpdate)
}

// noopNotifier drops updates when no UI transport is attached.
type noopNotifier struct{}

func (noopNotifier) Notify(types.IndicatorUpdate) {}

// Config wires the orchestrator's collaborators and tuning knobs.
type Config struct {
	Chains       *chain.Registry
	Explorers    map[types.Chain]ExplorerClient
	Conversation ConversationClient
	Store        storage.Store
	Notifier     IndicatorNotifier
	Metrics      *metrics.PrometheusMetrics
	Logger       *slog.Logger

	ContractTTL      time.Duration
	SessionTTL       time.Duration
	EvictionInterval time.Duration
}

// Orchestrator owns both caches. All cache access goes through mu: the
// original design relied on a single-threaded event loop, here every logical
// read-modify-write holds the lock instead.
type Orchestrator struct {
	chains       *chain.Registry
	explorers    map[types.Chain]ExplorerClient
	conversation ConversationClient
	store        storage.Store
	notifier     IndicatorNotifier
	metrics      *metrics.PrometheusMetrics
	logger       *slog.Logger

	decompiler        DecompilerClient
	oneShotDecompiler OneShotDecompiler

	mu        sync.Mutex
	contracts map[string]*types.ContractRecord
	sessions  map[string]*types.ChatSession

	fallbackIdx int

	contractTTL      time.Duration
	sessionTTL       time.Duration
	evictionInterval time.Duration
}

// New creates an orchestrator from the given config.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}
	chains := cfg.Chains
	if chains == nil {
		chains = chain.DefaultRegistry()
	}
	contractTTL := cfg.ContractTTL
	if contractTTL == 0 {
		contractTTL = time.Hour
	}
	sessionTTL := cfg.SessionTTL
	if sessionTTL == 0 {
		sessionTTL = 24 * time.Hour
	}
	evictionInterval := cfg.EvictionInterval
	if evictionInterval == 0 {
		evictionInterval = 5 * time.Minute
	}

	return &Orchestrator{
		chains:           chains,
		explorers:        cfg.Explorers,
		conversation:     cfg.Conversation,
		store:            cfg.Store,
		notifier:         notifier,
		metrics:          cfg.Metrics,
		logger:           logger,
		contracts:        make(map[string]*types.ContractRecord),
		sessions:         make(map[string]*types.ChatSession),
		contractTTL:      contractTTL,
		sessionTTL:       sessionTTL,
		evictionInterval: evictionInterval,
	}
}

// SetNotifier attaches the UI notifier. Called during wiring, before any
// detection traffic flows.
func (o *Orchestrator) SetNotifier(n IndicatorNotifier) {
	if n != nil {
		o.notifier = n
	}
}

// explorerFor returns the explorer client for a chain, or nil when the chain
// has no explorer integration.
func (o *Orchestrator) explorerFor(c types.Chain) ExplorerClient {
	return o.explorers[c]
}

// HandleContractDetected processes a detection event. The caller gets an
// immediate ack; enrichment runs to completion in this call, so detections
// are dispatched on their own goroutine by the transport layer.
func (o *Orchestrator) HandleContractDetected(ctx context.Context, req types.DetectionRequest) {
	record := &types.ContractRecord{
		Address:   req.Address,
		Chain:     req.Chain,
		Timestamp: time.Now(),
		TabID:     req.TabID,
		Verified:  false,
		Loading:   true,
	}

	o.mu.Lock()
	o.contracts[CurrentKey] = record
	o.contracts[req.Address] = record
	o.mu.Unlock()

	o.notifier.Notify(types.IndicatorUpdate{
		TabID:  req.TabID,
		Status: types.IndicatorLoading,
		Badge:  "...",
	})

	if err := o.store.SaveContract(ctx, storage.CurrentContractKey, record); err != nil {
		o.logger.Warn("failed to persist current contract",
			slog.String("address", req.Address),
			slog.String("error", err.Error()))
	}

	exp := o.explorerFor(req.Chain)
	if !req.FetchVerified || exp == nil {
		if o.metrics != nil {
			o.metrics.RecordDetection(string(req.Chain), "stored")
		}
		return
	}

	o.notifier.Notify(types.IndicatorUpdate{
		TabID:   req.TabID,
		Status:  types.IndicatorLoading,
		Message: "Fetching contract data...",
	})

	o.enrichContract(ctx, record, exp)
}

// enrichContract fetches verification and creation data and replaces the
// cached record with the enriched result.
func (o *Orchestrator) enrichContract(ctx context.Context, base *types.ContractRecord, exp ExplorerClient) {
	fetchStart := time.Now()
	verified, err := exp.GetVerifiedContract(ctx, base.Address)
	if o.metrics != nil {
		o.metrics.RecordExplorerFetch("getsourcecode", err == nil, time.Since(fetchStart).Seconds())
	}
	if err != nil {
		o.logger.Error("failed to fetch contract",
			slog.String("address", base.Address),
			slog.String("chain", string(base.Chain)),
			slog.String("error", err.Error()))

		errRecord := *base
		errRecord.Loading = false
		errRecord.Error = err.Error()
		errRecord.RiskLevel = types.RiskUnknown

		o.mu.Lock()
		o.contracts[CurrentKey] = &errRecord
		o.contracts[base.Address] = &errRecord
		o.mu.Unlock()

		o.notifier.Notify(types.IndicatorUpdate{
			TabID:   base.TabID,
			Status:  types.IndicatorError,
			Message: "Error fetching contract",
			Badge:   "!",
		})
		if o.metrics != nil {
			o.metrics.RecordDetection(string(base.Chain), "error")
			o.metrics.RecordError("explorer")
		}
		return
	}

	// Creation metadata is best effort; a failure here must not lose the
	// verification result.
	creation, err := exp.GetContractCreation(ctx, base.Address)
	if err != nil {
		o.logger.Warn("failed to fetch contract creation",
			slog.String("address", base.Address),
			slog.String("error", err.Error()))
		creation = nil
	}

	risk := AssessRisk(verified)
	actuallyVerified := verified.ActuallyVerified()

	enriched := *base
	enriched.Loading = false
	enriched.Creation = creation
	enriched.RiskLevel = risk
	now := time.Now()
	enriched.FetchedAt = &now

	if actuallyVerified {
		enriched.Verified = true
		enriched.ContractName = verified.ContractName
		enriched.CompilerVersion = verified.CompilerVersion
		enriched.OptimizationUsed = verified.OptimizationUsed
		enriched.SourceCode = verified.SourceCode
		enriched.ABI = verified.ABI
		enriched.Proxy = verified.Proxy
		enriched.Implementation = verified.Implementation
	} else {
		enriched.Verified = false
		enriched.ContractName = firstNonEmpty(verified.ContractName, "Unknown")
		enriched.ABI = nil
		enriched.SourceCode = ""
		enriched.Proxy = verified.Proxy
		enriched.Message = "Contract not verified"
	}

	o.mu.Lock()
	o.contracts[CurrentKey] = &enriched
	o.contracts[base.Address] = &enriched
	o.mu.Unlock()

	ctxSave := context.WithoutCancel(ctx)
	if err := o.store.SaveContract(ctxSave, storage.CurrentContractKey, &enriched); err != nil {
		o.logger.Warn("failed to persist current contract", slog.String("error", err.Error()))
	}
	if err := o.store.SaveContract(ctxSave, storage.ContractKey(base.Address), &enriched); err != nil {
		o.logger.Warn("failed to persist contract record",
			slog.String("address", base.Address),
			slog.String("error", err.Error()))
	}

	if enriched.Verified {
		o.notifier.Notify(types.IndicatorUpdate{
			TabID:   base.TabID,
			Status:  types.IndicatorSuccess,
			Message: "Verified: " + enriched.ContractName,
			Badge:   "✓",
		})
	} else {
		o.notifier.Notify(types.IndicatorUpdate{
			TabID:   base.TabID,
			Status:  types.IndicatorWarning,
			Message: "Contract not verified",
			Badge:   "!",
		})
	}

	if o.metrics != nil {
		outcome := "unverified"
		if enriched.Verified {
			outcome = "verified"
		}
		o.metrics.RecordDetection(string(base.Chain), outcome)
	}

	o.logger.Info("contract enriched",
		slog.String("address", base.Address),
		slog.String("chain", string(base.Chain)),
		slog.Bool("verified", enriched.Verified),
		slog.String("riskLevel", string(enriched.RiskLevel)))
}

// GetContract returns the cached record for an address, or the current
// record when address is empty. Nil means nothing is cached.
func (o *Orchestrator) GetContract(address string) *types.ContractRecord {
	key := address
	if key == "" {
		key = CurrentKey
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	return o.contracts[key]
}

// lookupContract finds a record by address, falling back to the current slot.
// Callers hold no lock.
func (o *Orchestrator) lookupContract(address string) *types.ContractRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	if c := o.contracts[address]; c != nil {
		return c
	}
	return o.contracts[CurrentKey]
}

// cacheSession binds a session under both its id and its contract key.
// Callers hold no lock.
func (o *Orchestrator) cacheSession(sess *types.ChatSession) {
	o.mu.Lock()
	o.sessions[sess.SessionID] = sess
	o.sessions["contract_"+sess.ContractAddress] = sess
	o.mu.Unlock()
}

// PrewarmSessions loads persisted session bindings into the cache. Called
// once at startup so restored daemons recognize prior conversations.
func (o *Orchestrator) PrewarmSessions(ctx context.Context) error {
	stored, err := o.store.ListSessions(ctx)
	if err != nil {
		return err
	}
	count := 0
	for _, sess := range stored {
		if sess.SessionID == "" {
			continue
		}
		o.cacheSession(sess)
		count++
	}
	o.logger.Info("session cache prewarmed", slog.Int("sessions", count))
	o.updateCacheGauges()
	return nil
}

// RunEvictionLoop evicts stale cache entries on a fixed interval until the
// context is cancelled.
func (o *Orchestrator) RunEvictionLoop(ctx context.Context) {
	ticker := time.NewTicker(o.evictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.EvictStale(time.Now())
		}
	}
}

// EvictStale removes contract entries older than the contract TTL (the
// current slot is exempt) and session entries older than the session TTL.
func (o *Orchestrator) EvictStale(now time.Time) {
	contractCutoff := now.Add(-o.contractTTL)
	sessionCutoff := now.Add(-o.sessionTTL)

	o.mu.Lock()
	evictedContracts := 0
	for key, contract := range o.contracts {
		if key == CurrentKey {
			continue
		}
		if contract.Timestamp.Before(contractCutoff) {
			delete(o.contracts, key)
			evictedContracts++
		}
	}

	evictedSessions := 0
	for key, sess := range o.sessions {
		ts := sess.CreatedAt
		if ts.IsZero() {
			ts = sess.LastUsed
		}
		if ts.Before(sessionCutoff) {
			delete(o.sessions, key)
			evictedSessions++
		}
	}
	o.mu.Unlock()

	if evictedContracts > 0 || evictedSessions > 0 {
		o.logger.Debug("evicted stale cache entries",
			slog.Int("contracts", evictedContracts),
			slog.Int("sessions", evictedSessions))
	}
	if o.metrics != nil {
		o.metrics.RecordEviction("contracts", evictedContracts)
		o.metrics.RecordEviction("sessions", evictedSessions)
	}
	o.updateCacheGauges()
}

func (o *Orchestrator) updateCacheGauges() {
	if o.metrics == nil {
		return
	}
	o.mu.Lock()
	contracts, sessions := len(o.contracts), len(o.sessions)
	o.mu.Unlock()
	o.metrics.SetCacheSizes(contracts, sessions)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
