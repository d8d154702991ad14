package batch

import (
	"context"
	"time"

	"edusched/internal/schedule"
)

// ConflictStore is the read surface the detector needs.
type ConflictStore interface {
	ListActiveByEducator(ctx context.Context, educatorID, excludeID string, days []string) ([]Batch, error)
}

// Detector decides whether a candidate schedule would double-book an
// educator against their existing active batches.
type Detector struct {
	batches ConflictStore
}

// NewDetector creates a detector over a batch store.
func NewDetector(batches ConflictStore) *Detector {
	return &Detector{batches: batches}
}

// HasConflict reports whether the educator already runs a batch that
// collides with the candidate. A collision needs all three: a shared
// weekday, overlapping calendar date ranges, and overlapping class
// hours. Batches sharing a weekday pattern in disjoint calendar
// quarters, or overlapping calendars with disjoint hours, do not
// conflict. excludeBatchID skips the batch being updated.
func (d *Detector) HasConflict(ctx context.Context, educatorID string, cand Schedule, startDate, endDate time.Time, excludeBatchID string) (bool, error) {
	if cand.Empty() {
		return false, nil
	}

	peers, err := d.batches.ListActiveByEducator(ctx, educatorID, excludeBatchID, cand.DaysOfWeek)
	if err != nil {
		return false, err
	}

	candStart, candEnd := cand.Minutes()
	for _, peer := range peers {
		if !schedule.DateRangesOverlap(startDate, endDate, peer.StartDate, peer.EndDate) {
			continue
		}
		peerStart, peerEnd := peer.Schedule.Minutes()
		if schedule.TimeRangesOverlap(candStart, candEnd, peerStart, peerEnd) {
			return true, nil
		}
	}
	return false, nil
}
