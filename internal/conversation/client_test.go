package conversation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(DefaultClientConfig(srv.URL, "secret"))
}

func TestCreateSession(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/session" {
			t.Errorf("request = %s %s, want POST /session", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("x-secret-key"); got != "secret" {
			t.Errorf("x-secret-key = %q, want secret", got)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["title"] != "ChainWhisperer - Token" {
			t.Errorf("title = %v, want ChainWhisperer - Token", body["title"])
		}
		w.Write([]byte(`{"result":{"id":"sess-123","title":"ChainWhisperer - Token"}}`))
	}))

	id, err := client.CreateSession(context.Background(), "ChainWhisperer - Token")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if id != "sess-123" {
		t.Errorf("session id = %q, want sess-123", id)
	}
}

func TestCreateSessionEmptyResult(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":null}`))
	}))

	if _, err := client.CreateSession(context.Background(), "x"); err == nil {
		t.Fatal("expected error for empty result")
	}
}

func TestGetSessionHistory(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/session/sess-123" {
			t.Errorf("request = %s %s, want GET /session/sess-123", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"result":{
			"id":"sess-123",
			"title":"ChainWhisperer - Token",
			"created_at":"2026-08-30T10:00:00Z",
			"history":[
				{"role":"user","content":[{"type":"text","text":"What does this contract do?"}]},
				{"role":"assistant","content":"It is an ERC20 token."}
			]
		}}`))
	}))

	info, err := client.GetSession(context.Background(), "sess-123")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}

	transcript := info.Transcript()
	if len(transcript) != 2 {
		t.Fatalf("transcript length = %d, want 2", len(transcript))
	}
	if transcript[0].Role != "user" || transcript[0].Content != "What does this contract do?" {
		t.Errorf("transcript[0] = %+v, want flattened user parts", transcript[0])
	}
	if transcript[1].Role != "assistant" || transcript[1].Content != "It is an ERC20 token." {
		t.Errorf("transcript[1] = %+v, want plain assistant string", transcript[1])
	}

	want := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	if !info.CreatedAtTime().Equal(want) {
		t.Errorf("CreatedAtTime() = %v, want %v", info.CreatedAtTime(), want)
	}
}

func TestHistoryMessageText(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "plain string", content: `"hello"`, want: "hello"},
		{name: "typed parts", content: `[{"type":"text","text":"from parts"}]`, want: "from parts"},
		{name: "empty parts", content: `[]`, want: ""},
		{name: "unexpected object", content: `{"foo":1}`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := HistoryMessage{Role: "user", Content: json.RawMessage(tt.content)}
			if got := msg.Text(); got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCreatedAtTimeLayouts(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		wantZero bool
	}{
		{name: "rfc3339", value: "2026-08-30T10:00:00Z"},
		{name: "rfc3339 nano", value: "2026-08-30T10:00:00.123456Z"},
		{name: "no zone", value: "2026-08-30T10:00:00"},
		{name: "garbage", value: "yesterday", wantZero: true},
		{name: "absent", value: "", wantZero: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := &SessionInfo{CreatedAt: tt.value}
			if got := info.CreatedAtTime(); got.IsZero() != tt.wantZero {
				t.Errorf("CreatedAtTime() = %v, wantZero = %v", got, tt.wantZero)
			}
		})
	}
}

func TestChatContextFilter(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat" {
			t.Errorf("path = %s, want /chat", r.URL.Path)
		}
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.SessionID != "sess-123" {
			t.Errorf("session_id = %q, want sess-123", req.SessionID)
		}
		if req.ContextFilter == nil {
			t.Fatal("context_filter missing")
		}
		if len(req.ContextFilter.ChainIDs) != 1 || req.ContextFilter.ChainIDs[0] != "5000" {
			t.Errorf("chain_ids = %v, want [\"5000\"]", req.ContextFilter.ChainIDs)
		}
		if len(req.ContextFilter.ContractAddresses) != 1 || req.ContextFilter.ContractAddresses[0] != "0xabc" {
			t.Errorf("contract_addresses = %v, want [\"0xabc\"]", req.ContextFilter.ContractAddresses)
		}
		w.Write([]byte(`{"message":"the reply"}`))
	}))

	reply, err := client.Chat(context.Background(), "sess-123", "hi", NewContextFilter(5000, "0xabc"))
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if reply != "the reply" {
		t.Errorf("reply = %q, want the reply", reply)
	}
}

func TestChatAPIError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"bad key"}`))
	}))

	_, err := client.Chat(context.Background(), "sess-123", "hi", nil)
	if err == nil {
		t.Fatal("expected error for HTTP 401")
	}
}

func TestExecuteClientMode(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/execute" {
			t.Errorf("path = %s, want /execute", r.URL.Path)
		}
		var req executeRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.UserID != "default-user" {
			t.Errorf("user_id = %q, want default-user", req.UserID)
		}
		if req.ExecuteConfig.Mode != "client" {
			t.Errorf("execute_config.mode = %q, want client", req.ExecuteConfig.Mode)
		}
		if req.ExecuteConfig.SignerWalletAddress != "0xwallet" {
			t.Errorf("signer_wallet_address = %q, want 0xwallet", req.ExecuteConfig.SignerWalletAddress)
		}
		w.Write([]byte(`{"message":"prepared","actions":[{"to":"0xabc"}]}`))
	}))

	resp, err := client.Execute(context.Background(), "sess-123", "send 1 token", "0xwallet", "0xabc", 5000)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.Message != "prepared" {
		t.Errorf("message = %q, want prepared", resp.Message)
	}
	if len(resp.Actions) != 1 {
		t.Errorf("actions = %d, want 1", len(resp.Actions))
	}
}
