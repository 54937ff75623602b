package investment

import (
	"sort"
	"time"

	"github.com/classvest/achievement-engine/pkg/timeutil"
)

// ComputeStreak returns the number of consecutive calendar days, ending today
// or yesterday in loc, on which the student invested at least once.
//
// Several investments on one day count once. If the latest investment day is
// more than one day before now the streak is broken and 0 is returned.
// Entries dated after today count as today.
func ComputeStreak(history []Investment, now time.Time, loc *time.Location) int {
	if len(history) == 0 {
		return 0
	}

	today := timeutil.DayOf(now, loc)
	seen := make(map[timeutil.CalendarDay]struct{}, len(history))
	days := make([]timeutil.CalendarDay, 0, len(history))
	for _, inv := range history {
		d := timeutil.DayOf(inv.Date, loc)
		if today.Before(d) {
			d = today
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		days = append(days, d)
	}

	sort.Slice(days, func(i, j int) bool { return days[j].Before(days[i]) })

	if days[0].DaysUntil(today) > 1 {
		return 0
	}

	streak := 1
	for i := 1; i < len(days); i++ {
		if days[i].DaysUntil(days[i-1]) != 1 {
			break
		}
		streak++
	}
	return streak
}
