package quota

import (
	"net/http/httptest"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestLimiter() (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	rl := NewRateLimiter()
	rl.now = clock.now
	return rl, clock
}

func TestAllowUnlimited(t *testing.T) {
	rl, _ := newTestLimiter()
	for i := 0; i < 1000; i++ {
		if !rl.Allow("a", 0) {
			t.Fatal("rpm=0 must never limit")
		}
	}
	if rl.Len() != 0 {
		t.Errorf("unlimited calls should not create buckets, got %d", rl.Len())
	}
}

func TestAllowBurstAndRefill(t *testing.T) {
	rl, clock := newTestLimiter()

	for i := 0; i < 6; i++ {
		if !rl.Allow("a", 6) {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if rl.Allow("a", 6) {
		t.Fatal("seventh request should be limited")
	}
	if got := rl.RetryAfter("a", 6); got < 1 || got > 11 {
		t.Errorf("RetryAfter = %d, want between 1 and 11", got)
	}

	// 6 rpm refills one token every 10 seconds.
	clock.t = clock.t.Add(11 * time.Second)
	if !rl.Allow("a", 6) {
		t.Error("request after refill should be allowed")
	}
	if rl.Allow("a", 6) {
		t.Error("bucket should be empty again")
	}

	if !rl.Allow("b", 6) {
		t.Error("clients must not share buckets")
	}
}

func TestCleanup(t *testing.T) {
	rl, clock := newTestLimiter()
	rl.Allow("old", 10)
	clock.t = clock.t.Add(time.Hour)
	rl.Allow("new", 10)

	rl.Cleanup(30 * time.Minute)
	if rl.Len() != 1 {
		t.Fatalf("Len = %d, want 1", rl.Len())
	}
	if got := rl.RetryAfter("old", 10); got != 0 {
		t.Errorf("RetryAfter for removed client = %d, want 0", got)
	}
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		remote string
		fwd    string
		want   string
	}{
		{"10.0.0.1:5555", "", "10.0.0.1"},
		{"10.0.0.1:5555", "203.0.113.7, 10.0.0.1", "203.0.113.7"},
		{"pipe", "", "pipe"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = tt.remote
		if tt.fwd != "" {
			r.Header.Set("X-Forwarded-For", tt.fwd)
		}
		if got := ClientKey(r); got != tt.want {
			t.Errorf("ClientKey(%q, %q) = %q, want %q", tt.remote, tt.fwd, got, tt.want)
		}
	}
}
