package utils

import (
	"testing"
	"time"
)

func TestManualClock(t *testing.T) {
	start := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewManualClock(start)
	c.Advance(10 * time.Second)
	if got := c.Now(); !got.Equal(start.Add(10 * time.Second)) {
		t.Errorf("Now() = %v, want %v", got, start.Add(10*time.Second))
	}
	c.Set(start)
	if got := c.Now(); !got.Equal(start) {
		t.Errorf("Now() after Set = %v, want %v", got, start)
	}
}

func TestGetExpirationTime(t *testing.T) {
	testCases := []struct {
		name string
		ttl  []time.Duration
		want time.Duration
	}{
		{"omitted", nil, time.Minute},
		{"explicit", []time.Duration{time.Second}, time.Second},
		{"zero falls back", []time.Duration{0}, time.Minute},
		{"negative falls back", []time.Duration{-time.Second}, time.Minute},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := GetExpirationTime(time.Minute, tc.ttl...); got != tc.want {
				t.Errorf("GetExpirationTime() = %v, want %v", got, tc.want)
			}
		})
	}
}
