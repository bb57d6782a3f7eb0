package sfnet

import "container/list"

// timerWheel is a hierarchical timer keyed on last_active_ms + timeout.
// Buckets are indexed by coarse second-granularity ticks; the bucket count
// is sized to 2*networkTimeout seconds so a task can always be placed far
// enough ahead without wrapping onto itself. Advancing the wheel and
// expiring a bucket are both O(bucket size); re-arming a task on access is
// O(1) via container/list, a single entry per task moved on access.
//
// Not safe for concurrent use — owned by exactly one reactor goroutine.
type timerWheel struct {
	buckets []list.List
	size    int
	cur     int // current tick index into buckets
	timeout int // timeout in whole seconds
}

func newTimerWheel(timeoutSeconds int) *timerWheel {
	size := 2*timeoutSeconds + 1
	if size < 2 {
		size = 2
	}
	w := &timerWheel{
		buckets: make([]list.List, size),
		size:    size,
		timeout: timeoutSeconds,
	}
	return w
}

// schedule (re)arms t to expire `timeout` seconds from the wheel's current
// tick, removing any prior scheduling first.
func (w *timerWheel) schedule(t *Task) {
	w.cancel(t)
	bucket := (w.cur + w.timeout) % w.size
	t.timerBucket = bucket
	t.timerElem = w.buckets[bucket].PushBack(t)
}

// cancel removes t from the wheel, if scheduled.
func (w *timerWheel) cancel(t *Task) {
	if t.timerElem == nil {
		return
	}
	w.buckets[t.timerBucket].Remove(t.timerElem)
	t.timerElem = nil
}

// advance moves the wheel forward by one tick and returns the tasks whose
// bucket just expired. The caller is responsible for re-checking each task's
// actual last-active deadline (a task may have been touched since it was
// scheduled and simply needs rescheduling rather than expiry) — this mirrors
// fast_timer's coarse-bucket semantics, where bucket expiry is a hint, not a
// guarantee of idleness.
func (w *timerWheel) advance() []*Task {
	w.cur = (w.cur + 1) % w.size
	bucket := &w.buckets[w.cur]
	if bucket.Len() == 0 {
		return nil
	}

	expired := make([]*Task, 0, bucket.Len())
	for e := bucket.Front(); e != nil; {
		next := e.Next()
		t := e.Value.(*Task)
		t.timerElem = nil
		expired = append(expired, t)
		e = next
	}
	bucket.Init()
	return expired
}
