package guard

import (
	"sync"
	"time"
)

const detectorCapacity = 8

// LoopDetector keeps a small bounded history of redirect targets and flags
// when the same target recurs too often in a short window. It is a safety
// valve: once tripped, the guard stops honoring the computed redirect and
// substitutes a fixed known-safe path.
type LoopDetector struct {
	mu        sync.Mutex
	events    [detectorCapacity]redirectEvent
	next      int
	size      int
	threshold int
	window    time.Duration
	now       func() time.Time
}

type redirectEvent struct {
	path string
	at   time.Time
}

// NewLoopDetector constructs a detector. A threshold below two or a
// non-positive window falls back to the defaults.
func NewLoopDetector(threshold int, window time.Duration) *LoopDetector {
	if threshold < 2 {
		threshold = 3
	}
	if window <= 0 {
		window = 10 * time.Second
	}
	return &LoopDetector{threshold: threshold, window: window, now: time.Now}
}

// RecordRedirect appends a redirect target to the history.
func (d *LoopDetector) RecordRedirect(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.expire()
	d.events[d.next] = redirectEvent{path: path, at: d.now()}
	d.next = (d.next + 1) % detectorCapacity
	if d.size < detectorCapacity {
		d.size++
	}
}

// IsLooping reports whether the target has recurred at or above the
// threshold within the window.
func (d *LoopDetector) IsLooping(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.expire()
	count := 0
	for i := 0; i < d.size; i++ {
		if d.events[i].path == path {
			count++
		}
	}
	return count >= d.threshold
}

// expire discards the whole history once the newest entry falls outside the
// window. Entries are never aged individually; the structure stays
// allocation-free.
func (d *LoopDetector) expire() {
	if d.size == 0 {
		return
	}
	newest := d.events[(d.next+detectorCapacity-1)%detectorCapacity].at
	if d.now().Sub(newest) > d.window {
		d.next = 0
		d.size = 0
	}
}
