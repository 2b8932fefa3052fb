package price

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// MarketHours selects quote TTLs from the U.S. equity trading session.
type MarketHours struct {
	loc         *time.Location
	realTimeTTL time.Duration
	quoteTTL    time.Duration
}

// NewMarketHours creates a MarketHours for the named IANA timezone.
func NewMarketHours(timezone string, realTimeTTL, quoteTTL time.Duration) (*MarketHours, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load market timezone %q: %w", timezone, err)
	}
	return &MarketHours{loc: loc, realTimeTTL: realTimeTTL, quoteTTL: quoteTTL}, nil
}

// IsOpen reports whether t falls Monday to Friday, 09:30 <= t < 16:00 local market time.
// Exchange holidays are not considered.
func (m *MarketHours) IsOpen(t time.Time) bool {
	local := t.In(m.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= 9*60+30 && minutes < 16*60
}

// QuoteTTL returns the TTL for a quote stored at t.
func (m *MarketHours) QuoteTTL(t time.Time) time.Duration {
	if m.IsOpen(t) {
		return m.realTimeTTL
	}
	return m.quoteTTL
}
