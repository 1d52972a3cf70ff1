package file

import (
	"sync"
	"time"
)

// Tracker turns out-of-order acks into a resumable position: the highest
// line such that it and everything before it has been resolved. Lines are
// tracked in emission order.
type Tracker struct {
	mu      sync.Mutex
	window  []trackedLine
	highest int64 // last contiguous resolved line

	commitEvery time.Duration
	lastCommit  time.Time
}

type trackedLine struct {
	line int64
	done bool
}

func NewTracker(start int64, commitEvery time.Duration) *Tracker {
	return &Tracker{
		highest:     start,
		commitEvery: commitEvery,
		lastCommit:  time.Now(),
	}
}

// Track registers an emitted line. Emission order is the tracking order.
func (t *Tracker) Track(line int64) {
	t.mu.Lock()
	t.window = append(t.window, trackedLine{line: line})
	t.mu.Unlock()
}

// Resolve marks a line done and returns the current resume position plus
// whether the commit cadence says it should be persisted now.
func (t *Tracker) Resolve(line int64) (highest int64, shouldCommit bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.window {
		if t.window[i].line == line {
			t.window[i].done = true
			break
		}
	}
	for len(t.window) > 0 && t.window[0].done {
		t.highest = t.window[0].line
		t.window = t.window[1:]
	}

	if now := time.Now(); now.Sub(t.lastCommit) >= t.commitEvery {
		t.lastCommit = now
		return t.highest, true
	}
	return t.highest, false
}

// Highest returns the current resume position without resolving anything.
func (t *Tracker) Highest() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.highest
}

// Pending reports how many emitted lines still await resolution.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.window)
}
