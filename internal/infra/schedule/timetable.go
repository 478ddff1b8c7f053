package schedule

import (
	"fmt"
	"sort"
	"time"

	"progress_report_bot/internal/domain/progress"
)

// MergeTimes builds the wake timetable: the default times-of-day united
// with every channel's custom time, sorted and deduplicated.
func MergeTimes(defaults, custom []progress.TimeOfDay) []progress.TimeOfDay {
	seen := make(map[progress.TimeOfDay]struct{}, len(defaults)+len(custom))
	merged := make([]progress.TimeOfDay, 0, len(defaults)+len(custom))
	for _, t := range defaults {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		merged = append(merged, t)
	}
	for _, t := range custom {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		merged = append(merged, t)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Before(merged[j]) })
	return merged
}

// NearestOccurrence returns the instant at timeOfDay on whichever of
// yesterday, today or tomorrow (relative to the reference instant's
// UTC date) lies closest to the reference. Only a strictly smaller
// absolute difference replaces the incumbent, so on a tie the earlier
// day offset wins.
//
// The chosen candidate is always within 24h of the reference; a larger
// difference means the comparison logic regressed or the caller passed
// an invalid pair, so it panics rather than returning garbage.
func NearestOccurrence(reference time.Time, timeOfDay progress.TimeOfDay) time.Time {
	ref := reference.UTC()
	var nearest time.Time
	diff := time.Duration(1<<63 - 1)
	for offset := -1; offset <= 1; offset++ {
		candidate := timeOfDay.On(ref.AddDate(0, 0, offset))
		if d := absDuration(candidate.Sub(ref)); d < diff {
			nearest = candidate
			diff = d
		}
	}
	if diff >= 24*time.Hour {
		panic(fmt.Sprintf("nearest occurrence of %s from %s is %s away, want < 24h", timeOfDay, ref, diff))
	}
	return nearest
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
