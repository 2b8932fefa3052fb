package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

// PeriodDuration converts a chart period such as "1d", "5d", "3mo", "1y" or "max" into
// a lookback window. "ytd" is resolved against now.
func PeriodDuration(period string, now time.Time) (time.Duration, error) {
	p := strings.ToLower(strings.TrimSpace(period))
	switch p {
	case "":
		return 0, fmt.Errorf("empty period")
	case "max":
		return 50 * 365 * day, nil
	case "ytd":
		start := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
		return now.Sub(start), nil
	}

	i := 0
	for i < len(p) && p[i] >= '0' && p[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, fmt.Errorf("invalid period %q", period)
	}
	n, err := strconv.Atoi(p[:i])
	if err != nil {
		return 0, fmt.Errorf("invalid period %q: %w", period, err)
	}

	switch p[i:] {
	case "d", "day", "days":
		return time.Duration(n) * day, nil
	case "w", "wk", "week", "weeks":
		return time.Duration(n) * 7 * day, nil
	case "m", "mo", "month", "months":
		return time.Duration(n) * 30 * day, nil
	case "y", "year", "years":
		return time.Duration(n) * 365 * day, nil
	}
	return 0, fmt.Errorf("invalid period unit in %q", period)
}
