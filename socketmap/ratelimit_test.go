package socketmap

import (
	"context"
	"testing"
	"time"
)

func timeInPast() time.Time {
	return time.Now().Add(-48 * time.Hour)
}

func TestRateLimiter_CheckAndIncrement_NoLimits(t *testing.T) {
	rl := NewRateLimiter(context.Background(), newMemoryQuotaCounter(context.Background()))

	quota := &Quota{PerHour: 0, PerDay: 0}
	allowed, hourCount, dayCount := rl.CheckAndIncrement(context.Background(), "test@example.org", quota)

	if !allowed {
		t.Error("expected message to be allowed when no limits are set")
	}
	if hourCount != 1 || dayCount != 1 {
		t.Errorf("expected counts to be 1, got hour=%d, day=%d", hourCount, dayCount)
	}
}

func TestRateLimiter_CheckAndIncrement_NilQuota(t *testing.T) {
	rl := NewRateLimiter(context.Background(), newMemoryQuotaCounter(context.Background()))

	allowed, hourCount, dayCount := rl.CheckAndIncrement(context.Background(), "test@example.org", nil)
	if !allowed {
		t.Error("expected a nil quota to always be allowed")
	}
	if hourCount != 0 || dayCount != 0 {
		t.Errorf("expected zero counts for a nil quota, got hour=%d, day=%d", hourCount, dayCount)
	}
}

func TestRateLimiter_CheckAndIncrement_ExceedsHourly(t *testing.T) {
	rl := NewRateLimiter(context.Background(), newMemoryQuotaCounter(context.Background()))
	quota := &Quota{PerHour: 2, PerDay: 100}

	for i := 0; i < 2; i++ {
		allowed, _, _ := rl.CheckAndIncrement(context.Background(), "burst@example.org", quota)
		if !allowed {
			t.Fatalf("message %d should have been within quota", i)
		}
	}

	allowed, hourCount, _ := rl.CheckAndIncrement(context.Background(), "burst@example.org", quota)
	if allowed {
		t.Error("expected the third message within the hour to be rejected")
	}
	if hourCount != 3 {
		t.Errorf("expected hourCount 3, got %d", hourCount)
	}
}

func TestRateLimiter_SenderCount(t *testing.T) {
	rl := NewRateLimiter(context.Background(), newMemoryQuotaCounter(context.Background()))
	quota := &Quota{PerHour: 10, PerDay: 10}

	rl.CheckAndIncrement(context.Background(), "a@example.org", quota)
	rl.CheckAndIncrement(context.Background(), "b@example.org", quota)

	if n := rl.SenderCount(context.Background()); n != 2 {
		t.Errorf("expected 2 tracked senders, got %d", n)
	}
}

func TestMemoryQuotaCounter_Cleanup(t *testing.T) {
	m := newMemoryQuotaCounter(context.Background())
	m.CheckAndIncrement(context.Background(), "stale@example.org", timeInPast())

	m.cleanup()

	if n, _ := m.SenderCount(context.Background()); n != 0 {
		t.Errorf("expected stale senders to be cleaned up, got %d remaining", n)
	}
}
