package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Ledger is the pending-refresh record: a time-stamped set of user ids whose
// cached authorization is known stale and must be re-derived on next contact.
//
// A mark is consumed (removed) the first time that user's session is touched,
// so repeated requests do not re-trigger refresh once satisfied. Entries are
// additionally pruned unconditionally after a fixed age so the map stays
// bounded even for users who never come back.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

// NewLedger constructs an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]time.Time)}
}

// Mark records that userID's authorization must be recomputed on next
// contact. Marking an already-marked user resets the timestamp.
func (l *Ledger) Mark(userID string, now time.Time) {
	if userID == "" {
		return
	}
	l.mu.Lock()
	l.entries[userID] = now
	l.mu.Unlock()
}

// Consume atomically removes userID's entry and reports whether it was
// present. This is the destructive read used by the gate: at most one
// consumption per mark.
func (l *Ledger) Consume(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[userID]; !ok {
		return false
	}
	delete(l.entries, userID)
	return true
}

// HasPending is a non-destructive peek, for call sites where consumption is
// inappropriate (a check before a connection upgrade whose HTTP-side request
// will consume the entry itself).
func (l *Ledger) HasPending(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[userID]
	return ok
}

// Prune removes all entries whose age at now is maxAge or older, returning
// the number removed. Entries marked after pruning starts survive.
func (l *Ledger) Prune(now time.Time, maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for id, ts := range l.entries {
		if now.Sub(ts) >= maxAge {
			delete(l.entries, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of pending entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// RunPruner prunes on a fixed period until ctx is cancelled. The period
// equals the reissue window and the max age is twice that window, so an
// entry always outlives at least one full reissue cycle before collection:
// no legitimately-pending refresh is dropped before it can be consumed.
func (l *Ledger) RunPruner(ctx context.Context, log *slog.Logger, window time.Duration) {
	if window <= 0 {
		window = DefaultConfig().ReissueWindow
	}
	maxAge := 2 * window

	t := time.NewTicker(window)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n := l.Prune(time.Now().UTC(), maxAge)
			if n > 0 {
				log.Debug("ledger.prune", "removed", n, "remaining", l.Len())
			}
		}
	}
}
