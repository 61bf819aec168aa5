package explorer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const testAddress = "0x1234567890abcdef1234567890abcdef12345678"

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultClientConfig(srv.URL, srv.URL, "test-key")
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	cfg.RatePerSec = 1000
	return NewClient(cfg), srv
}

func TestGetVerifiedContract(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("action"); got != "getsourcecode" {
			t.Errorf("action = %q, want getsourcecode", got)
		}
		if got := r.URL.Query().Get("apikey"); got != "test-key" {
			t.Errorf("apikey = %q, want test-key", got)
		}
		w.Write([]byte(`{"status":"1","message":"OK","result":[{
			"SourceCode":"contract Token {}",
			"ABI":"[{\"type\":\"function\",\"name\":\"transfer\",\"stateMutability\":\"nonpayable\"}]",
			"ContractName":"Token",
			"CompilerVersion":"v0.8.19",
			"OptimizationUsed":"1",
			"Runs":"999",
			"Proxy":"0",
			"Implementation":""
		}]}`))
	}))

	vc, err := client.GetVerifiedContract(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("GetVerifiedContract() error = %v", err)
	}
	if !vc.Verified {
		t.Error("Verified = false, want true")
	}
	if !vc.ActuallyVerified() {
		t.Error("ActuallyVerified() = false, want true")
	}
	if vc.ContractName != "Token" {
		t.Errorf("ContractName = %q, want Token", vc.ContractName)
	}
	if !vc.OptimizationUsed {
		t.Error("OptimizationUsed = false, want true")
	}
	if vc.Runs != 999 {
		t.Errorf("Runs = %d, want 999", vc.Runs)
	}
	if vc.Proxy {
		t.Error("Proxy = true, want false")
	}
	if len(vc.ABI) != 1 || vc.ABI[0].Name != "transfer" {
		t.Errorf("ABI = %+v, want single transfer entry", vc.ABI)
	}
}

func TestGetVerifiedContractStatusZero(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"0","message":"NOTOK","result":"Max rate limit reached"}`))
	}))

	vc, err := client.GetVerifiedContract(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("status 0 should not be an error, got %v", err)
	}
	if vc.Verified {
		t.Error("Verified = true, want false")
	}
	if vc.Message != "Max rate limit reached" {
		t.Errorf("Message = %q, want API message carried through", vc.Message)
	}
}

func TestGetVerifiedContractSentinelABI(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"1","message":"OK","result":[{
			"SourceCode":"",
			"ABI":"Contract source code not verified",
			"ContractName":"",
			"Proxy":"0"
		}]}`))
	}))

	vc, err := client.GetVerifiedContract(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("GetVerifiedContract() error = %v", err)
	}
	if vc.ActuallyVerified() {
		t.Error("ActuallyVerified() = true for sentinel ABI, want false")
	}
	if len(vc.ABI) != 0 {
		t.Errorf("ABI = %+v, want empty for sentinel", vc.ABI)
	}
}

func TestQueryRetriesOn503(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"1","message":"OK","result":[{"ContractName":"Late","ABI":"[]","Proxy":"0"}]}`))
	}))

	vc, err := client.GetVerifiedContract(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("GetVerifiedContract() error = %v", err)
	}
	if vc.ContractName != "Late" {
		t.Errorf("ContractName = %q, want Late", vc.ContractName)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d calls, want 3", got)
	}
}

func TestQueryDoesNotRetryOn400(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))

	_, err := client.GetVerifiedContract(context.Background(), testAddress)
	if err == nil {
		t.Fatal("expected error for HTTP 400")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server saw %d calls, want 1 (no retry)", got)
	}
}

func TestGetContractCreation(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"1","message":"OK","result":[{"contractCreator":"0xcafe","txHash":"0xbeef"}]}`))
	}))

	creation, err := client.GetContractCreation(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("GetContractCreation() error = %v", err)
	}
	if creation == nil || creation.Creator != "0xcafe" || creation.TxHash != "0xbeef" {
		t.Errorf("creation = %+v, want creator 0xcafe and tx 0xbeef", creation)
	}
}

func TestGetContractCreationAbsent(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"0","message":"No data found","result":null}`))
	}))

	creation, err := client.GetContractCreation(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("GetContractCreation() error = %v", err)
	}
	if creation != nil {
		t.Errorf("creation = %+v, want nil", creation)
	}
}

func TestGetBytecode(t *testing.T) {
	tests := []struct {
		name    string
		result  string
		want    string
		wantErr bool
	}{
		{name: "deployed contract", result: `"0x6080604052"`, want: "0x6080604052"},
		{name: "empty code", result: `"0x"`, wantErr: true},
		{name: "no code", result: `""`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + tt.result + `}`))
			}))

			code, err := client.GetBytecode(context.Background(), testAddress)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if !strings.Contains(err.Error(), "no bytecode found") {
					t.Errorf("error = %v, want no-bytecode error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetBytecode() error = %v", err)
			}
			if code != tt.want {
				t.Errorf("code = %q, want %q", code, tt.want)
			}
		})
	}
}

func TestGetBalance(t *testing.T) {
	// 1.5 ETH in wei = 0x14d1120d7b160000
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x14d1120d7b160000"}`))
	}))

	balance, err := client.GetBalance(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("GetBalance() error = %v", err)
	}
	if balance != "1.5000" {
		t.Errorf("balance = %q, want 1.5000", balance)
	}
}

func TestHTTPStatusErrorRetryable(t *testing.T) {
	tests := []struct {
		code      int
		wantRetry bool
	}{
		{429, true},
		{502, true},
		{503, true},
		{504, true},
		{400, false},
		{500, false},
	}

	for _, tt := range tests {
		err := &HTTPStatusError{StatusCode: tt.code}
		if got := err.IsRetryable(); got != tt.wantRetry {
			t.Errorf("IsRetryable() for %d = %v, want %v", tt.code, got, tt.wantRetry)
		}
	}
}
