package gateway

import "testing"

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	defer rl.Stop()
	if rl.Enabled() {
		t.Error("rpm=0 should disable the limiter")
	}
	for i := 0; i < 100; i++ {
		if !rl.Allow("user1") {
			t.Fatalf("request %d blocked by disabled limiter", i)
		}
	}
}

func TestRateLimiter_BurstThenBlock(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.Allow("user1") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if rl.Allow("user1") {
		t.Error("4th request should be blocked")
	}
	if !rl.Allow("user2") {
		t.Error("user2 is independent and should be allowed")
	}
}

func TestRateLimiter_SetLimit(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Stop()

	rl.Allow("user1")
	if rl.Allow("user1") {
		t.Fatal("second request should be blocked")
	}

	rl.SetLimit(60, 10)
	for i := 0; i < 10; i++ {
		if !rl.Allow("user1") {
			t.Fatalf("request %d after SetLimit should be allowed", i)
		}
	}

	rl.SetLimit(0, 0)
	if rl.Enabled() {
		t.Error("SetLimit(0) should disable")
	}
	rl.Stop() // idempotent with the deferred Stop
}
