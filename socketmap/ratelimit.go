package socketmap

import (
	"context"
	"sync"
	"time"
)

// QuotaCounter is the collaborator RateLimiter delegates sliding-window
// counting to. The in-memory implementation below is always available; a
// Redis-backed one (RedisQuotaCache) is used instead when the embedder is
// configured with a shared cache address, so multiple sfnetd replicas agree
// on a sender's quota instead of each tracking it independently.
type QuotaCounter interface {
	// CheckAndIncrement records one message for sender at `now` and
	// returns the counts within the trailing hour and day windows,
	// including the just-recorded message.
	CheckAndIncrement(ctx context.Context, sender string, now time.Time) (hourCount, dayCount int, err error)
	SenderCount(ctx context.Context) (int, error)
}

// RateLimiter tracks sending rates per sender using a sliding-window
// approach, delegating the actual counting to a QuotaCounter.
type RateLimiter struct {
	counter QuotaCounter
}

func NewRateLimiter(ctx context.Context, counter QuotaCounter) *RateLimiter {
	if counter == nil {
		counter = newMemoryQuotaCounter(ctx)
	}
	return &RateLimiter{counter: counter}
}

// CheckAndIncrement records one message for sender and reports whether the
// resulting counts are within quota limits. The message is recorded whether
// or not it is allowed, so rejected attempts also count toward both
// windows; a nil quota is always allowed and records nothing. Quota limits
// of 0 are unlimited.
func (rl *RateLimiter) CheckAndIncrement(ctx context.Context, sender string, quota *Quota) (allowed bool, hourCount, dayCount int) {
	if quota == nil {
		return true, 0, 0
	}

	hourCount, dayCount, err := rl.counter.CheckAndIncrement(ctx, sender, time.Now())
	if err != nil {
		// Fail open: a broken quota backend must never block mail outright.
		return true, 0, 0
	}

	if quota.PerHour > 0 && hourCount > quota.PerHour {
		return false, hourCount, dayCount
	}
	if quota.PerDay > 0 && dayCount > quota.PerDay {
		return false, hourCount, dayCount
	}
	return true, hourCount, dayCount
}

func (rl *RateLimiter) SenderCount(ctx context.Context) int {
	n, err := rl.counter.SenderCount(ctx)
	if err != nil {
		return 0
	}
	return n
}

// memoryQuotaCounter is a per-process sliding window,
// kept as the default QuotaCounter when no shared cache is configured.
type memoryQuotaCounter struct {
	mu       sync.RWMutex
	counters map[string]*senderCounter
}

type senderCounter struct {
	mu         sync.Mutex
	timestamps []time.Time
}

func newMemoryQuotaCounter(ctx context.Context) *memoryQuotaCounter {
	m := &memoryQuotaCounter{counters: make(map[string]*senderCounter)}
	go m.cleanupLoop(ctx)
	return m
}

func (m *memoryQuotaCounter) CheckAndIncrement(_ context.Context, sender string, now time.Time) (int, int, error) {
	m.mu.Lock()
	counter, exists := m.counters[sender]
	if !exists {
		counter = &senderCounter{}
		m.counters[sender] = counter
	}
	m.mu.Unlock()

	counter.mu.Lock()
	defer counter.mu.Unlock()

	hourAgo := now.Add(-time.Hour)
	dayAgo := now.Add(-24 * time.Hour)

	valid := make([]time.Time, 0, len(counter.timestamps))
	hourCount, dayCount := 0, 0
	for _, ts := range counter.timestamps {
		if ts.After(dayAgo) {
			valid = append(valid, ts)
			dayCount++
			if ts.After(hourAgo) {
				hourCount++
			}
		}
	}
	valid = append(valid, now)
	hourCount++
	dayCount++
	counter.timestamps = valid

	return hourCount, dayCount, nil
}

func (m *memoryQuotaCounter) SenderCount(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.counters), nil
}

func (m *memoryQuotaCounter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

func (m *memoryQuotaCounter) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	dayAgo := time.Now().Add(-24 * time.Hour)
	var toDelete []string

	for sender, counter := range m.counters {
		counter.mu.Lock()
		valid := make([]time.Time, 0, len(counter.timestamps))
		for _, ts := range counter.timestamps {
			if ts.After(dayAgo) {
				valid = append(valid, ts)
			}
		}
		counter.timestamps = valid
		if len(valid) == 0 {
			toDelete = append(toDelete, sender)
		}
		counter.mu.Unlock()
	}

	for _, sender := range toDelete {
		delete(m.counters, sender)
	}
}
