package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiterNew(t *testing.T) {
	l := New(100)
	if l.Rate() != 100 {
		t.Errorf("expected rate 100, got %v", l.Rate())
	}
}

func TestLimiterNewMinimum(t *testing.T) {
	// Zero or negative rate should default to minimum
	l := New(0)
	if l.Rate() != 1 {
		t.Errorf("expected rate 1 (minimum), got %v", l.Rate())
	}

	l = New(-5)
	if l.Rate() != 1 {
		t.Errorf("expected rate 1 (minimum), got %v", l.Rate())
	}
}

func TestLimiterSetRate(t *testing.T) {
	l := New(100)
	l.SetRate(500)
	if l.Rate() != 500 {
		t.Errorf("expected rate 500, got %v", l.Rate())
	}
}

func TestLimiterWaitImmediate(t *testing.T) {
	l := New(10000)
	ctx := context.Background()

	start := time.Now()
	err := l.Wait(ctx)
	elapsed := time.Since(start)

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if elapsed > 10*time.Millisecond {
		t.Errorf("expected near-instant first wait, got %v", elapsed)
	}
}

func TestLimiterWaitPacing(t *testing.T) {
	l := New(100) // 10ms interval
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	elapsed := time.Since(start)

	// 5 permits at 100/s: the last one is due 40ms after the first.
	if elapsed < 35*time.Millisecond {
		t.Errorf("5 permits at 100/s took %v, want at least ~40ms", elapsed)
	}
}

func TestLimiterWaitCancellation(t *testing.T) {
	// Low rate to ensure Wait blocks
	l := New(1) // 1 per second

	ctx, cancel := context.WithCancel(context.Background())

	// First wait should be immediate
	_ = l.Wait(ctx)

	// Cancel before second wait completes
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := l.Wait(ctx)
	if err == nil {
		t.Error("expected error from cancelled context")
	}
}
