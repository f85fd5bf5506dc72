// Package history keeps the relay's conversation log.
//
// A Log is an immutable value: Append returns a new Log and never writes into
// memory visible through an older one. The Store publishes the latest Log
// through an atomic pointer, so readers take snapshots without locking and a
// snapshot stays valid while the writer keeps appending.
package history

import "sync/atomic"

// Entry is one turn of the conversation.
type Entry struct {
	Author string `json:"author"`
	Text   string `json:"text"`
}

// Log is an append-only, immutable sequence of entries.
// The zero value is an empty log.
type Log struct {
	entries []Entry
}

// Append returns a new log with e added at the end.
func (l Log) Append(e Entry) Log {
	// Full slice expression forces a copy when the backing array is shared.
	return Log{entries: append(l.entries[:len(l.entries):len(l.entries)], e)}
}

// Len returns the number of entries.
func (l Log) Len() int { return len(l.entries) }

// At returns the i-th entry.
func (l Log) At(i int) Entry { return l.entries[i] }

// Entries returns a copy of the entries in order.
func (l Log) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Store is the shared holder of the current Log. Safe for concurrent use.
type Store struct {
	cur atomic.Pointer[Log]
}

// NewStore creates an empty store.
func NewStore() *Store {
	s := &Store{}
	s.cur.Store(&Log{})
	return s
}

// Append adds e to the log and returns the resulting snapshot.
func (s *Store) Append(e Entry) Log {
	for {
		old := s.cur.Load()
		next := old.Append(e)
		if s.cur.CompareAndSwap(old, &next) {
			return next
		}
	}
}

// Snapshot returns the current log. Later appends do not affect it.
func (s *Store) Snapshot() Log {
	return *s.cur.Load()
}
