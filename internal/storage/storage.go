// Package storage persists contract records and chat session bindings as a
// durable key/value store backed by SQLite.
package storage

import (
	"context"

	"github.com/chainwhisperer/chainwhisperer/pkg/types"
)

// Well-known key names and prefixes.
const (
	CurrentContractKey = "currentContract"
	ContractKeyPrefix  = "contract_"
	SessionKeyPrefix   = "session_"
)

// ContractKey returns the storage key for a contract record.
func ContractKey(address string) string {
	return ContractKeyPrefix + address
}

// SessionKey returns the storage key for a contract's session binding.
func SessionKey(address string) string {
	return SessionKeyPrefix + address
}

// Store defines the persistence interface for the analysis daemon.
type Store interface {
	// Contract records
	SaveContract(ctx context.Context, key string, contract *types.ContractRecord) error
	GetContract(ctx context.Context, key string) (*types.ContractRecord, error)

	// Session bindings
	SaveSession(ctx context.Context, key string, session *types.ChatSession) error
	GetSession(ctx context.Context, key string) (*types.ChatSession, error)
	ListSessions(ctx context.Context) (map[string]*types.ChatSession, error)

	// Generic operations
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Lifecycle
	Close() error
}
