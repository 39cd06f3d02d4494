package feed

import "time"

// Poll interval bounds and growth steps, all in minutes. Intervals halve
// on observed change and grow by outcome-specific steps otherwise, always
// clamped to [MinInterval, MaxInterval].
const (
	MinInterval = 60
	MaxInterval = 24 * 60

	growNotModified     = 10
	growUnchanged       = 20
	growServerError     = 120
	growRedirectFailure = 60

	// expiredInterval is applied when a JSON feed declares itself
	// finished: three days between polls.
	expiredInterval = 3 * 24 * 60
)

func ClampInterval(minutes int) int {
	if minutes < MinInterval {
		return MinInterval
	}
	if minutes > MaxInterval {
		return MaxInterval
	}
	return minutes
}

// NextDuePoll schedules the poll after this one: the moment the source
// was polled plus its (already clamped) interval.
func NextDuePoll(polledAt time.Time, intervalMinutes int) time.Time {
	return polledAt.Add(time.Duration(intervalMinutes) * time.Minute)
}
