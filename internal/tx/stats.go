// internal/tx/stats.go
package tx

import "time"

// MilestoneStats aggregates elapsed-since-submission durations for one
// milestone across all records that reached it.
type MilestoneStats struct {
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
	Count int
}

// Stats holds per-milestone latency aggregates. A milestone with Count zero
// simply had no data.
type Stats struct {
	Ready     MilestoneStats
	InBlock   MilestoneStats
	Finalized MilestoneStats
}

// Stats computes latency statistics for the Ready, InBlock and Finalized
// milestones independently: a record contributes to every milestone it
// reached, whether or not it completed the full lifecycle. Returns nil when
// no record has reached any of the three.
func (t *Tracker) Stats() *Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ready, inBlock, finalized []time.Duration
	for _, rec := range t.history {
		submitted, ok := rec.Timing[MilestoneSubmitted]
		if !ok {
			continue
		}
		if ts, ok := rec.Timing[MilestoneReady]; ok {
			ready = append(ready, ts.Sub(submitted))
		}
		if ts, ok := rec.Timing[MilestoneInBlock]; ok {
			inBlock = append(inBlock, ts.Sub(submitted))
		}
		if ts, ok := rec.Timing[MilestoneFinalized]; ok {
			finalized = append(finalized, ts.Sub(submitted))
		}
	}

	if len(ready) == 0 && len(inBlock) == 0 && len(finalized) == 0 {
		return nil
	}
	return &Stats{
		Ready:     aggregate(ready),
		InBlock:   aggregate(inBlock),
		Finalized: aggregate(finalized),
	}
}

func aggregate(ds []time.Duration) MilestoneStats {
	if len(ds) == 0 {
		return MilestoneStats{}
	}
	min, max := ds[0], ds[0]
	var sum time.Duration
	for _, d := range ds {
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
		sum += d
	}
	return MilestoneStats{
		Min:   min,
		Max:   max,
		Avg:   sum / time.Duration(len(ds)),
		Count: len(ds),
	}
}
