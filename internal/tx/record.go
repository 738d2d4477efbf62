// internal/tx/record.go
package tx

import (
	"time"

	"github.com/google/uuid"
)

// Status is the tracker's view of a submitted action's lifecycle.
type Status string

const (
	StatusPending      Status = "pending"
	StatusReady        Status = "ready"
	StatusBroadcasting Status = "broadcasting"
	StatusInBlock      Status = "inBlock"
	StatusFinalized    Status = "finalized"
	StatusFailed       Status = "failed"
	StatusInvalid      Status = "invalid"
)

// Terminal reports whether the record will receive no further updates.
func (s Status) Terminal() bool {
	return s == StatusFinalized || s == StatusFailed || s == StatusInvalid
}

// Milestone names a point in the lifecycle at which a timestamp is captured.
type Milestone string

const (
	MilestoneSubmitted Milestone = "submitted"
	MilestoneReady     Milestone = "ready"
	MilestoneBroadcast Milestone = "broadcast"
	MilestoneInBlock   Milestone = "inBlock"
	MilestoneFinalized Milestone = "finalized"
	MilestoneInvalid   Milestone = "invalid"
)

// Record tracks one submission attempt. ID is locally generated and unique
// per attempt; Hash is assigned by the gateway once known.
type Record struct {
	ID           uuid.UUID               `json:"id"`
	Kind         string                  `json:"kind"`
	Submitter    string                  `json:"submitter"`
	Target       string                  `json:"target"`
	Description  string                  `json:"description"`
	Status       Status                  `json:"status"`
	StatusText   string                  `json:"statusText"`
	Hash         string                  `json:"hash,omitempty"`
	BlockRef     string                  `json:"blockRef,omitempty"`
	FinalizedRef string                  `json:"finalizedRef,omitempty"`
	Timing       map[Milestone]time.Time `json:"timing"`
}

// MilestoneAt returns the timestamp for a milestone and whether it was set.
func (r *Record) MilestoneAt(m Milestone) (time.Time, bool) {
	t, ok := r.Timing[m]
	return t, ok
}

// stamp records a milestone timestamp if not already set. Never retroactive:
// a milestone observed twice keeps its first timestamp.
func (r *Record) stamp(m Milestone, at time.Time) {
	if _, ok := r.Timing[m]; ok {
		return
	}
	r.Timing[m] = at
}

// clone returns a deep copy safe to hand to observers.
func (r *Record) clone() Record {
	out := *r
	out.Timing = make(map[Milestone]time.Time, len(r.Timing))
	for k, v := range r.Timing {
		out.Timing[k] = v
	}
	return out
}
