// SPDX-License-Identifier: MIT

package clock

import (
	"sync"
	"time"
)

// Fake is a deterministic Scheduler driven by Advance. Callbacks fire
// synchronously on the advancing goroutine, in deadline order; entries due at
// the same instant fire in scheduling order. Callbacks may schedule or stop
// timers re-entrantly.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	entries []*fakeEntry
}

type fakeEntry struct {
	at       time.Time
	interval time.Duration // 0 for one-shot
	fn       func()
	stopped  bool
	seq      int
}

// NewFake returns a Fake scheduler positioned at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) ScheduleOnce(d time.Duration, fn func()) Timer {
	return f.add(d, 0, fn)
}

func (f *Fake) ScheduleRepeating(interval time.Duration, fn func()) Timer {
	return f.add(interval, interval, fn)
}

func (f *Fake) add(d, interval time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	e := &fakeEntry{
		at:       f.now.Add(d),
		interval: interval,
		fn:       fn,
		seq:      f.seq,
	}
	f.entries = append(f.entries, e)
	return &fakeTimer{f: f, e: e}
}

// Advance moves simulated time forward by d, firing every due callback in
// order. Time lands exactly on each deadline before its callback runs, so
// elapsed-time checks inside callbacks observe the firing instant.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	for {
		e := f.nextDueLocked(target)
		if e == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		f.now = e.at
		if e.interval > 0 {
			e.at = e.at.Add(e.interval)
		} else {
			e.stopped = true
		}
		fn := e.fn
		f.mu.Unlock()
		fn()
		f.mu.Lock()
	}
}

// nextDueLocked returns the earliest live entry due at or before target,
// breaking ties by scheduling order.
func (f *Fake) nextDueLocked(target time.Time) *fakeEntry {
	var best *fakeEntry
	for _, e := range f.entries {
		if e.stopped || e.at.After(target) {
			continue
		}
		if best == nil || e.at.Before(best.at) || (e.at.Equal(best.at) && e.seq < best.seq) {
			best = e
		}
	}
	return best
}

// Pending reports the number of live timers, useful for teardown assertions.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if !e.stopped {
			n++
		}
	}
	return n
}

type fakeTimer struct {
	f *Fake
	e *fakeEntry
}

func (t *fakeTimer) Stop() {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	t.e.stopped = true
}
