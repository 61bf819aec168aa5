package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/chainwhisperer/chainwhisperer/pkg/types"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestContractRoundTrip(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	contract := &types.ContractRecord{
		Address:      "0xabc123",
		Chain:        types.ChainMantle,
		Verified:     true,
		ContractName: "TestToken",
		RiskLevel:    types.RiskLow,
		Timestamp:    time.Now().UTC().Truncate(time.Second),
	}

	if err := store.SaveContract(ctx, ContractKey(contract.Address), contract); err != nil {
		t.Fatalf("SaveContract: %v", err)
	}

	got, err := store.GetContract(ctx, ContractKey(contract.Address))
	if err != nil {
		t.Fatalf("GetContract: %v", err)
	}
	if got == nil {
		t.Fatal("expected contract, got nil")
	}
	if got.Address != contract.Address || got.ContractName != contract.ContractName {
		t.Errorf("round trip mismatch: got %+v", got)
	}
	if got.RiskLevel != types.RiskLow {
		t.Errorf("expected risk level low, got %s", got.RiskLevel)
	}
}

func TestGetContractMissing(t *testing.T) {
	store := createTestStore(t)

	got, err := store.GetContract(context.Background(), ContractKey("0xmissing"))
	if err != nil {
		t.Fatalf("GetContract: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing key, got %+v", got)
	}
}

func TestSaveContractOverwrites(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()
	key := ContractKey("0xabc")

	first := &types.ContractRecord{Address: "0xabc", ContractName: "First"}
	second := &types.ContractRecord{Address: "0xabc", ContractName: "Second"}

	if err := store.SaveContract(ctx, key, first); err != nil {
		t.Fatalf("SaveContract: %v", err)
	}
	if err := store.SaveContract(ctx, key, second); err != nil {
		t.Fatalf("SaveContract overwrite: %v", err)
	}

	got, err := store.GetContract(ctx, key)
	if err != nil {
		t.Fatalf("GetContract: %v", err)
	}
	if got.ContractName != "Second" {
		t.Errorf("expected overwrite to win, got %s", got.ContractName)
	}
}

func TestSessionListAndDelete(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	sessions := []*types.ChatSession{
		{SessionID: "sess-1", ContractAddress: "0xaaa", ChainID: 5000, CreatedAt: time.Now()},
		{SessionID: "sess-2", ContractAddress: "0xbbb", ChainID: 5003, CreatedAt: time.Now()},
	}
	for _, sess := range sessions {
		if err := store.SaveSession(ctx, SessionKey(sess.ContractAddress), sess); err != nil {
			t.Fatalf("SaveSession: %v", err)
		}
	}
	// A contract record must not leak into the session listing.
	if err := store.SaveContract(ctx, ContractKey("0xaaa"), &types.ContractRecord{Address: "0xaaa"}); err != nil {
		t.Fatalf("SaveContract: %v", err)
	}

	listed, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(listed))
	}
	if listed[SessionKey("0xaaa")].SessionID != "sess-1" {
		t.Errorf("unexpected session for 0xaaa: %+v", listed[SessionKey("0xaaa")])
	}

	if err := store.Delete(ctx, SessionKey("0xaaa")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	listed, err = store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions after delete: %v", err)
	}
	if len(listed) != 1 {
		t.Errorf("expected 1 session after delete, got %d", len(listed))
	}
}

func TestKeysPrefix(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	if err := store.SaveContract(ctx, CurrentContractKey, &types.ContractRecord{Address: "0x1"}); err != nil {
		t.Fatalf("SaveContract: %v", err)
	}
	if err := store.SaveContract(ctx, ContractKey("0x1"), &types.ContractRecord{Address: "0x1"}); err != nil {
		t.Fatalf("SaveContract: %v", err)
	}
	if err := store.SaveContract(ctx, ContractKey("0x2"), &types.ContractRecord{Address: "0x2"}); err != nil {
		t.Fatalf("SaveContract: %v", err)
	}

	keys, err := store.Keys(ctx, ContractKeyPrefix)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("expected 2 contract keys, got %d: %v", len(keys), keys)
	}
}

func TestCorruptValueTreatedAsAbsent(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	_, err := store.db.ExecContext(ctx,
		"INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)",
		ContractKey("0xbad"), "{not json", time.Now().UTC())
	if err != nil {
		t.Fatalf("insert corrupt row: %v", err)
	}

	got, err := store.GetContract(ctx, ContractKey("0xbad"))
	if err != nil {
		t.Fatalf("GetContract: %v", err)
	}
	if got != nil {
		t.Errorf("expected corrupt record to read as nil, got %+v", got)
	}
}
