package vm

import (
	"sort"
	"sync/atomic"
)

// Statistics for specialization tuning.
//
// Counters are keyed by (kind, event): hits and misses accrue to the
// specialized kind that took or failed the guard, attempts and deferrals
// accrue to the family's base kind. External tooling aggregates per
// family through Registry.FamilyOf. Counts are monotonic and only reset
// through an explicit external request, never during normal operation.

// Event classifies one statistics event.
type Event uint8

const (
	EventHit      Event = iota // guard phase passed, fast path taken
	EventMiss                  // guard failed, deoptimized
	EventDeferred              // specialization attempted and declined
	EventAttempt               // specialization function invoked
	NumEvents
)

var eventNames = [NumEvents]string{"hit", "miss", "deferred", "attempted"}

// String returns the event's wire name.
func (e Event) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return "unknown"
}

// EventFromString parses a wire name back into an Event.
func EventFromString(s string) (Event, bool) {
	for i, name := range eventNames {
		if name == s {
			return Event(i), true
		}
	}
	return 0, false
}

// Recorder holds the process-wide specialization counters. Increments
// are single atomic adds on a flat array indexed by (kind, event), so the
// fast path never hashes, allocates or locks; under concurrent execution
// counts are exact up to the usual add ordering, which is all tuning
// needs.
type Recorder struct {
	counters [256][NumEvents]atomic.Uint64
}

// NewRecorder creates a zeroed recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// inc bumps one counter. Called from every executor on every execution.
func (r *Recorder) inc(op Opcode, e Event) {
	r.counters[op][e].Add(1)
}

// Count returns the current value of one counter.
func (r *Recorder) Count(op Opcode, e Event) uint64 {
	return r.counters[op][e].Load()
}

// Reset zeroes every counter. Not used during normal operation; exists
// for the explicit external reset request only.
func (r *Recorder) Reset() {
	for op := range r.counters {
		for e := range r.counters[op] {
			r.counters[op][e].Store(0)
		}
	}
}

// StatRow is one non-zero counter in a snapshot.
type StatRow struct {
	Kind  Opcode
	Event Event
	Count uint64
}

// Snapshot returns all non-zero counters, ordered by kind then event.
// Read access is for external tooling and is not on any hot path.
func (r *Recorder) Snapshot() []StatRow {
	var rows []StatRow
	for op := range r.counters {
		for e := range r.counters[op] {
			if n := r.counters[op][e].Load(); n != 0 {
				rows = append(rows, StatRow{
					Kind:  Opcode(op),
					Event: Event(e),
					Count: n,
				})
			}
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Kind != rows[j].Kind {
			return rows[i].Kind < rows[j].Kind
		}
		return rows[i].Event < rows[j].Event
	})
	return rows
}

// FamilyTotals aggregates a snapshot per family using a registry's
// membership table. Kinds outside every family are skipped.
func FamilyTotals(reg *Registry, rows []StatRow) map[string][NumEvents]uint64 {
	totals := make(map[string][NumEvents]uint64)
	for _, row := range rows {
		name := reg.FamilyOf(row.Kind)
		if name == "" {
			continue
		}
		t := totals[name]
		t[row.Event] += row.Count
		totals[name] = t
	}
	return totals
}
