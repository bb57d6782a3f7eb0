package sfnet

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// scheduleEntry is one periodic maintenance hook, modeled on a
// sf_startup_schedule table of (interval, function) pairs.
type scheduleEntry struct {
	name     string
	interval time.Duration
	run      func(now time.Time)
}

// dailyEntry is a maintenance hook that fires once every 24 hours at a
// fixed offset from midnight, rather than on a fixed-interval ticker —
// e.g. log rotation at 00:00 and keep-days cleanup at 01:00.
type dailyEntry struct {
	name   string
	offset time.Duration
	run    func(now time.Time)
}

// Scheduler runs a small fixed set of maintenance entries on their own
// tickers, independent of any reactor's poll loop, so a busy or stalled
// reactor never delays log flushing or rotation.
type Scheduler struct {
	log     *zap.Logger
	entries []scheduleEntry
	daily   []dailyEntry
}

func newScheduler(log *zap.Logger) *Scheduler {
	return &Scheduler{log: log}
}

// AddEntry registers an additional periodic hook before Start is called.
// The framework itself only ever needs the default entries below; this
// exists for an embedder that wants the same cadence machinery for its own
// maintenance work (e.g. a quota-cache sweep).
func (s *Scheduler) AddEntry(name string, interval time.Duration, run func(now time.Time)) {
	s.entries = append(s.entries, scheduleEntry{name: name, interval: interval, run: run})
}

// AddDailyEntry registers a hook that fires once every 24 hours at the
// given offset from midnight (e.g. time.Hour for 01:00). Must be called
// before Start.
func (s *Scheduler) AddDailyEntry(name string, offset time.Duration, run func(now time.Time)) {
	s.daily = append(s.daily, dailyEntry{name: name, offset: offset, run: run})
}

func (s *Scheduler) start(ctx context.Context) {
	for _, e := range s.entries {
		e := e
		go func() {
			ticker := time.NewTicker(e.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case now := <-ticker.C:
					s.log.Debug("running schedule entry", zap.String("entry", e.name))
					e.run(now)
				}
			}
		}()
	}

	for _, e := range s.daily {
		e := e
		go s.runDaily(ctx, e)
	}
}

func (s *Scheduler) runDaily(ctx context.Context, e dailyEntry) {
	for {
		now := time.Now()
		next := nextDailyOccurrence(now, e.offset)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case fired := <-timer.C:
			s.log.Debug("running schedule entry", zap.String("entry", e.name))
			e.run(fired)
		}
	}
}

// nextDailyOccurrence returns the next time at or after now that falls at
// offset past midnight in now's location.
func nextDailyOccurrence(now time.Time, offset time.Duration) time.Time {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	next := midnight.Add(offset)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
