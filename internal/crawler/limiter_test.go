package crawler

import (
	"context"
	"testing"
	"time"
)

func TestDomainLimiterDelaysRepeatHits(t *testing.T) {
	limiter := NewDomainLimiter(50*time.Millisecond, RateLimiterSettings{})
	ctx := context.Background()

	if err := limiter.Wait(ctx, "example.com"); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	start := time.Now()
	if err := limiter.Wait(ctx, "example.com"); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("second hit waited %v, want at least the configured delay", elapsed)
	}
}

func TestDomainLimiterSeparatesHosts(t *testing.T) {
	limiter := NewDomainLimiter(time.Second, RateLimiterSettings{})
	ctx := context.Background()

	if err := limiter.Wait(ctx, "a.example.com"); err != nil {
		t.Fatalf("wait a: %v", err)
	}
	start := time.Now()
	if err := limiter.Wait(ctx, "b.example.com"); err != nil {
		t.Fatalf("wait b: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("different host waited %v, want no delay", elapsed)
	}
}

func TestDomainLimiterCancellation(t *testing.T) {
	limiter := NewDomainLimiter(5*time.Second, RateLimiterSettings{})
	if err := limiter.Wait(context.Background(), "example.com"); err != nil {
		t.Fatalf("prime: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := limiter.Wait(ctx, "example.com"); err == nil {
		t.Fatal("expected context error from canceled wait")
	}
}

func TestDomainLimiterDisabled(t *testing.T) {
	var limiter *DomainLimiter
	if err := limiter.Wait(context.Background(), "example.com"); err != nil {
		t.Fatalf("nil limiter: %v", err)
	}
	zero := NewDomainLimiter(0, RateLimiterSettings{})
	start := time.Now()
	for i := 0; i < 10; i++ {
		if err := zero.Wait(context.Background(), "example.com"); err != nil {
			t.Fatalf("zero limiter: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("disabled limiter waited %v", elapsed)
	}
}
