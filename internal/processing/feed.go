package processing

import (
	"sync"
)

// The feed keeps two things apart: the single most recent observation posted
// by the acquisition side, and the history the processing side reads in
// batches. That way the per packet cadence never has to match the per batch
// cadence.

type Observation struct {
	Timestamp float64
	Value     float64
}

// DataFeed is a single-writer/single-reader hand-off buffer.
type DataFeed struct {
	mu          sync.Mutex
	pending     Observation
	hasPending  bool
	history     []Observation
	unread      bool
	capacity    int
	overwritten uint64
}

// NewDataFeed returns a feed whose history keeps at most capacity of the most
// recent observations. A capacity <= 0 keeps everything.
func NewDataFeed(capacity int) *DataFeed {
	return &DataFeed{capacity: capacity}
}

// Post stores obs as the pending observation, replacing one not yet taken.
func (d *DataFeed) Post(obs Observation) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.hasPending {
		d.overwritten++
	}
	d.pending = obs
	d.hasPending = true
}

// TakePending returns and clears the pending observation.
func (d *DataFeed) TakePending() (Observation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.hasPending {
		return Observation{}, false
	}
	obs := d.pending
	d.pending = Observation{}
	d.hasPending = false
	return obs, true
}

// AppendToHistory adds obs to the history and marks it unread. The history
// slice is replaced rather than grown in place, so batches already handed out
// by DrainHistory never change under the reader.
func (d *DataFeed) AppendToHistory(obs Observation) {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := 0
	if d.capacity > 0 && len(d.history) >= d.capacity {
		start = len(d.history) - d.capacity + 1
	}
	next := make([]Observation, 0, len(d.history)-start+1)
	next = append(next, d.history[start:]...)
	next = append(next, obs)

	d.history = next
	d.unread = true
}

// DrainHistory hands over the accumulated history and clears the unread flag.
// The bool reports whether anything was appended since the previous drain;
// with nothing new the same history comes back again.
func (d *DataFeed) DrainHistory() ([]Observation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	unread := d.unread
	d.unread = false
	return d.history, unread
}

func (d *DataFeed) HasNewData() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hasPending
}

func (d *DataFeed) HasUnread() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unread
}

// Overwritten counts pending observations replaced before they were taken.
func (d *DataFeed) Overwritten() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.overwritten
}

func (d *DataFeed) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = Observation{}
	d.hasPending = false
	d.history = nil
	d.unread = false
	d.overwritten = 0
}
