// Package queue provides the bounded, persistent, priority-ordered holding
// area for envelopes awaiting transport acknowledgment.
//
// Ordering: priority first (high before medium before low), then enqueue
// order within a priority band. A retried message keeps its priority but
// moves to the back of its band.
//
// The queue mirrors its contents to a storage.Store after every mutating
// operation so pending messages survive a process restart; a missing or
// corrupt checkpoint loads as an empty queue.
package queue
