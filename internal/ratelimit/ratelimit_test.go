package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestMemoryFixedWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	lim := NewMemory(3, time.Minute, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d, err := lim.Allow(ctx, "1.2.3.4")
		if err != nil || !d.Allowed {
			t.Fatalf("request %d should pass: %+v %v", i, d, err)
		}
		if d.Remaining != 3-i {
			t.Fatalf("request %d: remaining %d", i, d.Remaining)
		}
	}

	now = now.Add(20 * time.Second)
	d, _ := lim.Allow(ctx, "1.2.3.4")
	if d.Allowed {
		t.Fatal("fourth request within the window must be rejected")
	}
	if d.RetryAfter != 40*time.Second {
		t.Fatalf("unexpected retry after %s", d.RetryAfter)
	}

	other, _ := lim.Allow(ctx, "5.6.7.8")
	if !other.Allowed {
		t.Fatal("keys must be limited independently")
	}

	now = now.Add(40 * time.Second)
	d, _ = lim.Allow(ctx, "1.2.3.4")
	if !d.Allowed || d.Remaining != 2 {
		t.Fatalf("window should reset: %+v", d)
	}
}

func TestMemorySweepsExpiredWindows(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	lim := NewMemory(1, time.Second, WithClock(func() time.Time { return now }))
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		_, _ = lim.Allow(ctx, k)
	}
	if lim.size() != 3 {
		t.Fatalf("expected 3 windows, got %d", lim.size())
	}
	now = now.Add(2 * time.Second)
	_, _ = lim.Allow(ctx, "d")
	if lim.size() != 1 {
		t.Fatalf("expired windows should be swept, got %d", lim.size())
	}
}

func TestRedisLimiter(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	lim, err := NewRedisFromURL(ctx, url, 2, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisFromURL: %v", err)
	}
	defer lim.Close()
	lim.prefix = "parceltrack:test:" + time.Now().Format("150405.000000") + ":"

	for i := 0; i < 2; i++ {
		d, err := lim.Allow(ctx, "client")
		if err != nil || !d.Allowed {
			t.Fatalf("request %d should pass: %+v %v", i+1, d, err)
		}
	}
	d, err := lim.Allow(ctx, "client")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if d.Allowed || d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Fatalf("third request must be rejected with a retry hint: %+v", d)
	}
}
