// Package chain maps explorer-facing chain names to chain definitions.
package chain

import (
	"sync"

	"github.com/chainwhisperer/chainwhisperer/pkg/types"
)

// Definition describes a supported chain: its numeric id plus the endpoints
// the API clients need for it.
type Definition struct {
	Name        types.Chain
	ID          int64
	ExplorerAPI string // etherscan-style query API base
	RPCURL      string // JSON-RPC endpoint for the raw fallback calls
	Supported   bool   // true if the explorer client can serve this chain
}

// Registry holds registered chain definitions.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[types.Chain]*Definition
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[types.Chain]*Definition),
	}
}

// Register adds or updates a chain definition.
func (r *Registry) Register(def *Definition) {
	if def == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[def.Name] = def
}

// Get retrieves a definition by name. Returns nil if not found.
func (r *Registry) Get(name types.Chain) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[name]
}

// ID returns the numeric chain id for the given name.
// Unknown names fall back to Ethereum mainnet (id 1), matching the
// extension's behavior for pages it cannot classify.
func (r *Registry) ID(name types.Chain) int64 {
	if def := r.Get(name); def != nil {
		return def.ID
	}
	return 1
}

// IsSupported reports whether the explorer client can serve this chain.
func (r *Registry) IsSupported(name types.Chain) bool {
	def := r.Get(name)
	return def != nil && def.Supported
}

// Names returns all registered chain names.
func (r *Registry) Names() []types.Chain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]types.Chain, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

// DefaultRegistry returns a registry pre-populated with the built-in chains.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(MantleDefinition())
	r.Register(MantleSepoliaDefinition())
	r.Register(EthereumDefinition())
	return r
}

// MantleDefinition returns the Mantle mainnet definition.
func MantleDefinition() *Definition {
	return &Definition{
		Name:        types.ChainMantle,
		ID:          5000,
		ExplorerAPI: "https://api.mantlescan.xyz/api",
		RPCURL:      "https://rpc.mantle.xyz",
		Supported:   true,
	}
}

// MantleSepoliaDefinition returns the Mantle Sepolia testnet definition.
func MantleSepoliaDefinition() *Definition {
	return &Definition{
		Name:        types.ChainMantleSepolia,
		ID:          5003,
		ExplorerAPI: "https://api-sepolia.mantlescan.xyz/api",
		RPCURL:      "https://rpc.sepolia.mantle.xyz",
		Supported:   true,
	}
}

// EthereumDefinition returns the Ethereum mainnet definition.
// The explorer client does not serve Ethereum; detection events for it only
// produce the sparse cached record.
func EthereumDefinition() *Definition {
	return &Definition{
		Name:        types.ChainEthereum,
		ID:          1,
		ExplorerAPI: "",
		RPCURL:      "https://eth.llamarpc.com",
		Supported:   false,
	}
}
