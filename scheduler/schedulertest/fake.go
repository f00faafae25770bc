package schedulertest

import (
	"sort"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/pos_sync/scheduler"
)

// Fake is a manually advanced scheduler. Callbacks run synchronously on the
// goroutine calling Advance or FireNext.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	pending []*fakeTimer
	history []time.Duration
}

var _ scheduler.Scheduler = (*Fake)(nil)

// New returns a Fake whose clock starts at start.
func New(start time.Time) *Fake {
	return &Fake{now: start}
}

type fakeTimer struct {
	f       *Fake
	seq     int
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.f.remove(t)
	return true
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) scheduler.Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTimer{f: f, seq: f.seq, at: f.now.Add(d), fn: fn}
	f.pending = append(f.pending, t)
	f.history = append(f.history, d)
	return t
}

// Pending returns the number of scheduled, not yet fired timers.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// Delays returns every delay passed to AfterFunc, in call order.
func (f *Fake) Delays() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.history))
	copy(out, f.history)
	return out
}

// FireNext moves the clock to the earliest pending timer and runs it.
// It reports false when nothing is pending.
func (f *Fake) FireNext() bool {
	f.mu.Lock()
	if len(f.pending) == 0 {
		f.mu.Unlock()
		return false
	}
	f.sortPending()
	t := f.pending[0]
	f.pending = f.pending[1:]
	t.fired = true
	if t.at.After(f.now) {
		f.now = t.at
	}
	f.mu.Unlock()

	t.fn()
	return true
}

// Advance moves the clock forward by d, running every timer that comes due.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		f.sortPending()
		if len(f.pending) == 0 || f.pending[0].at.After(target) {
			f.now = target
			f.mu.Unlock()
			return
		}
		t := f.pending[0]
		f.pending = f.pending[1:]
		t.fired = true
		f.now = t.at
		f.mu.Unlock()

		t.fn()
	}
}

func (f *Fake) sortPending() {
	sort.SliceStable(f.pending, func(i, j int) bool {
		if f.pending[i].at.Equal(f.pending[j].at) {
			return f.pending[i].seq < f.pending[j].seq
		}
		return f.pending[i].at.Before(f.pending[j].at)
	})
}

func (f *Fake) remove(t *fakeTimer) {
	for i, p := range f.pending {
		if p == t {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			return
		}
	}
}
