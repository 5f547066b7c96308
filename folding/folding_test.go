package folding

import (
	"testing"
	"time"
)

func TestIsStale(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		age   time.Duration
		stale bool
	}{
		{"just sent", 0, false},
		{"within window", 179 * time.Second, false},
		{"exactly on boundary", 180 * time.Second, false},
		{"past boundary", 181 * time.Second, true},
		{"long ago", time.Hour, true},
	}
	for _, tc := range cases {
		if got := IsStale(now.Add(-tc.age), now); got != tc.stale {
			t.Fatalf("%s: IsStale = %v, want %v", tc.name, got, tc.stale)
		}
	}
}

func TestWindowStart(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	start := WindowStart(now)
	if now.Sub(start) != Window {
		t.Fatalf("expected window start %v before now, got %v", Window, now.Sub(start))
	}
	// 恰好落在窗口起点的消息仍算新鲜
	if IsStale(start, now) {
		t.Fatal("message at window start must not be stale")
	}
}
