package schedule

import (
	"strconv"
	"strings"
	"time"
)

// NoTime marks an absent wall-clock value in minute space.
const NoTime = -1

// TimeToMinutes parses an "HH:MM" string into minutes since midnight.
// ok is false for malformed input (empty, missing colon, non-numeric,
// out of range); callers decide whether a missing time is an error or
// simply no constraint.
func TimeToMinutes(s string) (int, bool) {
	if s == "" {
		return NoTime, false
	}
	h, m, found := strings.Cut(s, ":")
	if !found {
		return NoTime, false
	}
	hh, err := strconv.Atoi(h)
	if err != nil {
		return NoTime, false
	}
	mm, err := strconv.Atoi(m)
	if err != nil {
		return NoTime, false
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return NoTime, false
	}
	return hh*60 + mm, true
}

// DateRangesOverlap reports whether two inclusive day-level ranges
// intersect. A zero end collapses the range to the single day of its
// start. Zero starts mean "no range" and never overlap anything.
func DateRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aStart.IsZero() || bStart.IsZero() {
		return false
	}
	if aEnd.IsZero() {
		aEnd = aStart
	}
	if bEnd.IsZero() {
		bEnd = bStart
	}
	return !aStart.After(bEnd) && !bStart.After(aEnd)
}

// TimeRangesOverlap reports whether two minute-space ranges intersect
// as open intervals: back-to-back ranges (10:00-11:00 vs 11:00-12:00)
// do not overlap. A NoTime end collapses the range to an instant at its
// start. NoTime starts never overlap anything.
func TimeRangesOverlap(aStart, aEnd, bStart, bEnd int) bool {
	if aStart == NoTime || bStart == NoTime {
		return false
	}
	if aEnd == NoTime {
		aEnd = aStart
	}
	if bEnd == NoTime {
		bEnd = bStart
	}
	return aStart < bEnd && bStart < aEnd
}
