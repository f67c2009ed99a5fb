// Package testutils provides lightweight test doubles shared across the
// streampool test suite.
package testutils

import (
	"sync"

	"github.com/arkenfold/streampool"
)

// RecordingSink is an EventSink test double that records every event it
// receives, in order, and tallies counts by kind for quick assertions,
// mirroring the call-counter pattern the teacher's mock chunk pool used for
// Get/Put calls.
type RecordingSink struct {
	mu     sync.Mutex
	events []streampool.Event
	counts map[streampool.EventKind]int64
}

// NewRecordingSink returns an empty RecordingSink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{counts: make(map[streampool.EventKind]int64)}
}

// Emit implements streampool.EventSink.
func (s *RecordingSink) Emit(e streampool.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	s.counts[e.Kind]++
}

// Events returns a snapshot of every event recorded so far, in order.
func (s *RecordingSink) Events() []streampool.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]streampool.Event, len(s.events))
	copy(out, s.events)
	return out
}

// CountOf returns how many times an event of the given kind was recorded.
func (s *RecordingSink) CountOf(kind streampool.EventKind) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[kind]
}

// Reset discards every recorded event and tally.
func (s *RecordingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.counts = make(map[streampool.EventKind]int64)
}
