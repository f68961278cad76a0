package engine

import "time"

// EstimateETA projects the completion time of a run by linear extrapolation
// from the items completed so far. Returns nil when nothing has been
// processed yet (no data to extrapolate), when no time has elapsed, or when
// the run is already done. Deliberately not smoothed: the same inputs always
// give the same answer.
func EstimateETA(itemsDone, totalItems int, startTime, now time.Time) *time.Time {
	if itemsDone <= 0 || itemsDone >= totalItems {
		return nil
	}

	elapsed := now.Sub(startTime)
	if elapsed <= 0 {
		return nil
	}
	avgPerItem := elapsed / time.Duration(itemsDone)
	remaining := avgPerItem * time.Duration(totalItems-itemsDone)

	eta := now.Add(remaining)
	return &eta
}
