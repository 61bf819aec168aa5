package decompiler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler, maxAttempts int) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultClientConfig(srv.URL, "test-token")
	cfg.PollInterval = time.Millisecond
	cfg.MaxAttempts = maxAttempts
	return NewClient(cfg)
}

func TestDecompileFullCycle(t *testing.T) {
	polls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q, want Bearer test-token", got)
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/":
			w.Write([]byte(`"abc123"`))
		case r.URL.Path == "/abc123/status":
			polls++
			if polls < 3 {
				w.Write([]byte(`"RUNNING"`))
				return
			}
			w.Write([]byte(`"COMPLETED"`))
		case r.URL.Path == "/decompilation/abc123":
			w.Write([]byte(`{"source":"function transfer(address to) { ... }"}`))
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	client := newTestClient(t, handler, 10)
	source, err := client.Decompile(context.Background(), "0x6080604052")
	if err != nil {
		t.Fatalf("Decompile() error = %v", err)
	}
	if !strings.Contains(source, "function transfer") {
		t.Errorf("source = %q, want decompiled function body", source)
	}
	if polls != 3 {
		t.Errorf("status polled %d times, want 3", polls)
	}
}

func TestWaitForCompletionUnknownJob(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`"UNKNOWN"`))
	}), 10)

	err := client.WaitForCompletion(context.Background(), "ghost")
	if !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("error = %v, want ErrUnknownJob", err)
	}
}

func TestWaitForCompletionAttemptBudget(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`"RUNNING"`))
	}), 4)

	err := client.WaitForCompletion(context.Background(), "slow")
	var timeoutErr *PollTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("error = %v, want *PollTimeoutError", err)
	}
	if timeoutErr.Attempts != 4 {
		t.Errorf("Attempts = %d, want 4", timeoutErr.Attempts)
	}
	if timeoutErr.LastStatus != "RUNNING" {
		t.Errorf("LastStatus = %q, want RUNNING", timeoutErr.LastStatus)
	}
}

func TestWaitForCompletionContextCancel(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`"RUNNING"`))
	}), 100)
	client.pollInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := client.WaitForCompletion(ctx, "slow")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestSubmitTrimsQuotedJobID(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("\"deadbeef\"\n"))
	}), 1)

	jobID, err := client.Submit(context.Background(), "0x00")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if jobID != "deadbeef" {
		t.Errorf("jobID = %q, want deadbeef", jobID)
	}
}

func TestFetchResultEmptySource(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"source":""}`))
	}), 1)

	if _, err := client.FetchResult(context.Background(), "abc123"); err == nil {
		t.Fatal("expected error for empty source")
	}
}

func TestOneShotDecompileBytecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/decompile" {
			t.Errorf("request = %s %s, want POST /decompile", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"source":"def storage: ..."}`))
	}))
	defer srv.Close()

	client := NewOneShotClient(srv.URL, 0)
	source, err := client.DecompileBytecode(context.Background(), "0x6080")
	if err != nil {
		t.Fatalf("DecompileBytecode() error = %v", err)
	}
	if source != "def storage: ..." {
		t.Errorf("source = %q, want decompiler output", source)
	}
}
