// SPDX-License-Identifier: MIT

// Package clock abstracts time and timer scheduling so lifecycle logic can be
// driven by a simulated clock in tests.
package clock

import (
	"sync"
	"time"
)

// Clock abstracts time operations for testability.
type Clock interface {
	Now() time.Time
}

// Timer is a handle for a scheduled callback. Stop is idempotent; after Stop
// returns the callback will not fire again (it may already be running).
type Timer interface {
	Stop()
}

// Scheduler issues one-shot and repeating timers against its own clock.
type Scheduler interface {
	Clock
	ScheduleOnce(d time.Duration, fn func()) Timer
	ScheduleRepeating(interval time.Duration, fn func()) Timer
}

// Real is the wall-clock Scheduler used outside of tests.
type Real struct{}

// NewReal returns a Scheduler backed by the runtime timers.
func NewReal() *Real { return &Real{} }

func (*Real) Now() time.Time { return time.Now() }

func (*Real) ScheduleOnce(d time.Duration, fn func()) Timer {
	return &onceTimer{t: time.AfterFunc(d, fn)}
}

func (*Real) ScheduleRepeating(interval time.Duration, fn func()) Timer {
	rt := &repeatingTimer{
		ticker: time.NewTicker(interval),
		done:   make(chan struct{}),
	}
	go func() {
		for {
			select {
			case <-rt.done:
				return
			case <-rt.ticker.C:
				fn()
			}
		}
	}()
	return rt
}

type onceTimer struct {
	t *time.Timer
}

func (o *onceTimer) Stop() { o.t.Stop() }

type repeatingTimer struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func (r *repeatingTimer) Stop() {
	r.once.Do(func() {
		r.ticker.Stop()
		close(r.done)
	})
}
