package timer

import (
	"time"

	"github.com/nimbusdp/slaved/pkg/metrics"
)

// Action is what a callback requests the service do with its own timer
// after firing.
type Action int

const (
	// Cancel removes the timer; it will not fire again.
	Cancel Action = iota
	// Renew restarts the timer with its original interval.
	Renew
)

// Callback is invoked when a timer fires. data is the opaque value passed
// to Add.
type Callback func(data any) Action

// Handle is an opaque reference to a scheduled timer.
type Handle uint64

type entry struct {
	handle   Handle
	interval time.Duration
	callback Callback
	data     any

	deadline  time.Time
	frozen    bool
	remaining time.Duration
}

// Service is the timer scheduler. The zero value is not usable; use New.
type Service struct {
	entries map[Handle]*entry
	nextID  Handle
	now     func() time.Time
}

// New creates an empty timer service. nowFn defaults to time.Now; tests
// may substitute a deterministic clock.
func New(nowFn func() time.Time) *Service {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Service{
		entries: make(map[Handle]*entry),
		now:     nowFn,
	}
}

// Add schedules a new repeating timer and returns its handle. The first
// fire happens after interval; a callback returning Renew re-arms for
// another interval measured from the *original* deadline, not from the
// moment the callback actually ran, so a slow dispatch loop does not let a
// period-aligned repeater drift later and later.
func (s *Service) Add(interval time.Duration, cb Callback, data any) Handle {
	s.nextID++
	h := s.nextID
	s.entries[h] = &entry{
		handle:   h,
		interval: interval,
		callback: cb,
		data:     data,
		deadline: s.now().Add(interval),
	}
	metrics.TimersActive.Set(float64(len(s.entries)))
	return h
}

// Delete cancels a timer. Deleting an unknown or already-deleted handle is
// a no-op, matching the "no-op if missing" discipline timer-handle
// back-references rely on (a record may clear its handle field before the
// service has had a chance to fire it).
func (s *Service) Delete(h Handle) {
	delete(s.entries, h)
	metrics.TimersActive.Set(float64(len(s.entries)))
}

// Reset restarts the timer's countdown at its original interval, whether
// or not it was frozen.
func (s *Service) Reset(h Handle) {
	e, ok := s.entries[h]
	if !ok {
		return
	}
	e.frozen = false
	e.deadline = s.now().Add(e.interval)
}

// Freeze suspends a timer without losing its remaining time. Freezing an
// already-frozen timer is a no-op.
func (s *Service) Freeze(h Handle) {
	e, ok := s.entries[h]
	if !ok || e.frozen {
		return
	}
	e.frozen = true
	e.remaining = e.deadline.Sub(s.now())
	if e.remaining < 0 {
		e.remaining = 0
	}
}

// Thaw resumes a frozen timer from where it left off. Thawing a
// non-frozen timer is a no-op.
func (s *Service) Thaw(h Handle) {
	e, ok := s.entries[h]
	if !ok || !e.frozen {
		return
	}
	e.frozen = false
	e.deadline = s.now().Add(e.remaining)
}

// Pending returns the remaining time before h fires, or false if h is
// unknown. A frozen timer reports the time it had remaining when frozen.
func (s *Service) Pending(h Handle) (time.Duration, bool) {
	e, ok := s.entries[h]
	if !ok {
		return 0, false
	}
	if e.frozen {
		return e.remaining, true
	}
	remaining := e.deadline.Sub(s.now())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// Delay extends the remaining time on h by delta. It applies to frozen and
// running timers alike.
func (s *Service) Delay(h Handle, delta time.Duration) {
	e, ok := s.entries[h]
	if !ok {
		return
	}
	if e.frozen {
		e.remaining += delta
		return
	}
	e.deadline = e.deadline.Add(delta)
}

// Count returns the number of live timer handles, for metrics.
func (s *Service) Count() int {
	return len(s.entries)
}

// NextDeadline reports the earliest deadline among running (non-frozen)
// timers, so the caller's event loop knows how long it may block before
// calling Tick again.
func (s *Service) NextDeadline() (time.Time, bool) {
	var best time.Time
	found := false
	for _, e := range s.entries {
		if e.frozen {
			continue
		}
		if !found || e.deadline.Before(best) {
			best = e.deadline
			found = true
		}
	}
	return best, found
}

// Tick fires every running timer whose deadline is at or before now.
// Renewed timers are rescheduled relative to their prior deadline to
// compensate for drift; cancelled timers are removed.
func (s *Service) Tick(now time.Time) {
	var due []*entry
	for _, e := range s.entries {
		if !e.frozen && !e.deadline.After(now) {
			due = append(due, e)
		}
	}
	for _, e := range due {
		// re-check: a prior callback in this same batch may have deleted
		// or frozen this entry as a side effect.
		if _, ok := s.entries[e.handle]; !ok {
			continue
		}
		if e.frozen {
			continue
		}
		action := e.callback(e.data)
		// the callback may have deleted its own handle (common discipline:
		// clear the handle field before taking further action); only
		// reschedule if it's still present.
		cur, ok := s.entries[e.handle]
		if !ok {
			continue
		}
		switch action {
		case Renew:
			cur.deadline = e.deadline.Add(cur.interval)
			metrics.TimerFiresTotal.WithLabelValues("renew").Inc()
		default:
			delete(s.entries, e.handle)
			metrics.TimersActive.Set(float64(len(s.entries)))
			metrics.TimerFiresTotal.WithLabelValues("cancel").Inc()
		}
	}
}
