package packager

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrLedgerSealed is returned when appending to a ledger that has been
	// sealed at end-of-stream.
	ErrLedgerSealed = errors.New("ledger is sealed")
)

// Ledger is the authoritative, append-only record of every segment written
// per track. Entries are appended only after the segment's bytes are
// confirmed stored; the manifest is always derived from a ledger snapshot,
// so it can lag the ledger but never lead it.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string][]LedgerEntry
	sealed  bool
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string][]LedgerEntry)}
}

// Append records a stored segment. Sequence numbers must be strictly
// increasing per track; a duplicate or out-of-order sequence is rejected so
// a prior entry can never be rewritten.
func (l *Ledger) Append(e LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sealed {
		return ErrLedgerSealed
	}

	prev := l.entries[e.TrackID]
	if n := len(prev); n > 0 && e.Sequence <= prev[n-1].Sequence {
		return fmt.Errorf("ledger: track %s sequence %d not after %d",
			e.TrackID, e.Sequence, prev[n-1].Sequence)
	}

	l.entries[e.TrackID] = append(prev, e)
	return nil
}

// Seal marks the stream complete; further appends are rejected.
func (l *Ledger) Seal() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sealed = true
}

// Track returns a copy of the entries recorded for one track, ordered by
// sequence number.
func (l *Ledger) Track(trackID string) []LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := l.entries[trackID]
	out := make([]LedgerEntry, len(entries))
	copy(out, entries)
	return out
}

// Count returns the number of entries recorded for one track.
func (l *Ledger) Count(trackID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries[trackID])
}

// Snapshot returns a copy of all entries, keyed by track ID. The caller can
// read it without further locking; the ledger's own slices are never shared.
func (l *Ledger) Snapshot() map[string][]LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string][]LedgerEntry, len(l.entries))
	for id, entries := range l.entries {
		cp := make([]LedgerEntry, len(entries))
		copy(cp, entries)
		out[id] = cp
	}
	return out
}

// TrackIDs returns the IDs of all tracks with at least one entry, sorted for
// deterministic iteration.
func (l *Ledger) TrackIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]string, 0, len(l.entries))
	for id := range l.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
