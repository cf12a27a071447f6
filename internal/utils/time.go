package utils

import (
	"fmt"
	"time"
)

// TimeWindow is a half-open [From, To) interval used by analytics queries.
type TimeWindow struct {
	From time.Time
	To   time.Time
}

func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

// ParseTimeRange resolves the named ranges accepted by the analytics
// endpoints (7d, 30d, 90d, 1y) into a window ending at now.
func ParseTimeRange(rangeStr string, now time.Time) (TimeWindow, error) {
	var days int
	switch rangeStr {
	case "", "30d":
		days = 30
	case "7d":
		days = 7
	case "90d":
		days = 90
	case "1y":
		days = 365
	default:
		return TimeWindow{}, fmt.Errorf("unknown time range: %q", rangeStr)
	}
	return TimeWindow{
		From: now.AddDate(0, 0, -days),
		To:   now,
	}, nil
}
