// internal/tx/tracker.go
package tx

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sandreim/tictactoe3/internal/chain"
)

// HistoryCap bounds how many records the tracker retains. Oldest are evicted
// first once the cap is exceeded.
const HistoryCap = 50

// Update carries the optional extras delivered alongside a status change.
type Update struct {
	Hash         string
	BlockRef     string
	FinalizedRef string
	DispatchErr  *chain.DispatchError
}

// Tracker owns the status state machine and timing for every submitted
// action. History is most-recent-first and capped at HistoryCap; the pending
// working set is keyed by transaction hash.
type Tracker struct {
	log *logrus.Logger
	now func() time.Time

	mu        sync.Mutex
	history   []*Record
	pending   map[string]*Record
	observers []func([]Record)
}

// NewTracker creates an empty tracker.
func NewTracker(log *logrus.Logger) *Tracker {
	if log == nil {
		log = logrus.New()
	}
	return &Tracker{
		log:     log,
		now:     time.Now,
		pending: make(map[string]*Record),
	}
}

// OnChange registers an observer called with a history snapshot after every
// committed mutation.
func (t *Tracker) OnChange(fn func([]Record)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, fn)
}

// NewRecord allocates a fresh record with status Pending and the submitted
// milestone stamped. Pure allocation: the record is not in history until
// Commit.
func (t *Tracker) NewRecord(kind, submitter, target, description string) *Record {
	rec := &Record{
		ID:          uuid.New(),
		Kind:        kind,
		Submitter:   submitter,
		Target:      target,
		Description: description,
		Status:      StatusPending,
		StatusText:  "Signing...",
		Timing:      make(map[Milestone]time.Time),
	}
	rec.Timing[MilestoneSubmitted] = t.now()
	return rec
}

// Commit appends a record to history, or merges it into an existing entry
// when one with the same hash (if known) or the same id is already present.
// The merge makes observing the same logical transaction twice idempotent.
// Enforces the history cap by dropping the oldest records.
func (t *Tracker) Commit(rec *Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tracked := rec
	if existing := t.findLocked(rec.Hash, rec.ID); existing != nil {
		t.mergeLocked(existing, rec)
		tracked = existing
	} else {
		t.history = append([]*Record{rec}, t.history...)
		if len(t.history) > HistoryCap {
			for _, dropped := range t.history[HistoryCap:] {
				if dropped.Hash != "" {
					delete(t.pending, dropped.Hash)
				}
			}
			t.history = t.history[:HistoryCap]
		}
	}

	t.trackPendingLocked(tracked)
	t.notifyLocked()
}

// ApplyStatus advances a record through its lifecycle, stamping the matching
// milestone, and commits the result. Transitions into InBlock that carry a
// dispatch error downgrade the displayed outcome to Failed while keeping the
// already-recorded inBlock timestamp: the action was included but did not
// apply.
func (t *Tracker) ApplyStatus(rec *Record, status Status, up Update) {
	t.mu.Lock()

	target := rec
	if existing := t.findLocked(rec.Hash, rec.ID); existing != nil {
		target = existing
	}

	if up.Hash != "" && target.Hash == "" {
		target.Hash = up.Hash
	}

	now := t.now()
	switch status {
	case StatusReady:
		target.stamp(MilestoneReady, now)
		target.StatusText = "Ready"
	case StatusBroadcasting:
		target.stamp(MilestoneBroadcast, now)
		target.StatusText = "Broadcasting"
	case StatusInBlock:
		target.stamp(MilestoneInBlock, now)
		target.StatusText = "In Block"
		if up.BlockRef != "" {
			target.BlockRef = up.BlockRef
		}
		if up.DispatchErr != nil {
			// Included but rejected by the ledger's application logic.
			status = StatusFailed
			target.StatusText = "Failed: " + up.DispatchErr.Section + "." + up.DispatchErr.Name
			t.log.WithFields(logrus.Fields{
				"tx":    target.ID,
				"error": up.DispatchErr.Error(),
			}).Warn("transaction failed in block")
		}
	case StatusFinalized:
		target.stamp(MilestoneFinalized, now)
		target.StatusText = "Finalized"
		if up.FinalizedRef != "" {
			target.FinalizedRef = up.FinalizedRef
		}
	case StatusInvalid:
		target.stamp(MilestoneInvalid, now)
		target.StatusText = "Invalid"
	case StatusFailed:
		target.StatusText = "Failed"
	}
	target.Status = status

	if status.Terminal() && target.Hash != "" {
		delete(t.pending, target.Hash)
	}

	// Mirror onto the caller's record so in-flight submission handlers see
	// the same view as history readers.
	if target != rec {
		*rec = *target
	}

	t.notifyLocked()
	t.mu.Unlock()
}

// MarkInvalid flags a record whose submission never reached the gateway.
// The record stays in history for user visibility but leaves the pending set.
func (t *Tracker) MarkInvalid(rec *Record, reason string) {
	t.ApplyStatus(rec, StatusInvalid, Update{})
	if reason != "" {
		t.mu.Lock()
		if target := t.findLocked(rec.Hash, rec.ID); target != nil {
			target.StatusText = "Invalid: " + reason
		}
		t.mu.Unlock()
	}
}

// History returns a most-recent-first copy of all retained records.
func (t *Tracker) History() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.historyLocked()
}

// PendingCount returns the size of the pending working set.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Clear drops all history and pending records.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = nil
	t.pending = make(map[string]*Record)
	t.notifyLocked()
}

// Restore seeds history from persisted records, newest first, respecting the
// cap. Used at startup; fires a single notification.
func (t *Tracker) Restore(records []Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = nil
	for i := range records {
		if i == HistoryCap {
			break
		}
		rec := records[i].clone()
		t.history = append(t.history, &rec)
	}
	t.notifyLocked()
}

// findLocked locates a record by hash (preferred, when known) or id.
// Assumes the lock is held by the caller.
func (t *Tracker) findLocked(hash string, id uuid.UUID) *Record {
	for _, rec := range t.history {
		if hash != "" && rec.Hash == hash {
			return rec
		}
		if rec.ID == id {
			return rec
		}
	}
	return nil
}

// mergeLocked folds src's known fields into dst without losing earlier
// timestamps. Assumes the lock is held by the caller.
func (t *Tracker) mergeLocked(dst, src *Record) {
	if src.Hash != "" {
		dst.Hash = src.Hash
	}
	if src.BlockRef != "" {
		dst.BlockRef = src.BlockRef
	}
	if src.FinalizedRef != "" {
		dst.FinalizedRef = src.FinalizedRef
	}
	if src.Status != "" {
		dst.Status = src.Status
		dst.StatusText = src.StatusText
	}
	for m, ts := range src.Timing {
		if _, ok := dst.Timing[m]; !ok {
			dst.Timing[m] = ts
		}
	}
}

// trackPendingLocked adds or removes the record from the pending set based on
// its status. Assumes the lock is held by the caller.
func (t *Tracker) trackPendingLocked(rec *Record) {
	if rec.Hash == "" {
		return
	}
	if rec.Status.Terminal() {
		delete(t.pending, rec.Hash)
	} else {
		t.pending[rec.Hash] = rec
	}
}

// historyLocked deep-copies history. Assumes the lock is held by the caller.
func (t *Tracker) historyLocked() []Record {
	out := make([]Record, len(t.history))
	for i, rec := range t.history {
		out[i] = rec.clone()
	}
	return out
}

// notifyLocked fires observers with a history snapshot.
// Assumes the lock is held by the caller.
func (t *Tracker) notifyLocked() {
	if len(t.observers) == 0 {
		return
	}
	snap := t.historyLocked()
	for _, fn := range t.observers {
		fn(snap)
	}
}
