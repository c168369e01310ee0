package engine

import (
	"testing"
	"time"
)

func TestShouldSkip(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	cooldown := 60 * time.Minute

	ago := func(d time.Duration) *time.Time {
		ts := now.Add(-d)
		return &ts
	}

	cases := []struct {
		name        string
		lastFiredAt *time.Time
		cooldown    time.Duration
		want        bool
	}{
		{"never fired", nil, cooldown, false},
		{"fired 30m ago inside 60m cooldown", ago(30 * time.Minute), cooldown, true},
		{"fired 90m ago outside cooldown", ago(90 * time.Minute), cooldown, false},
		{"fired exactly cooldown ago", ago(60 * time.Minute), cooldown, false},
		{"zero cooldown never skips", ago(time.Minute), 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := shouldSkip(tc.lastFiredAt, tc.cooldown, now); got != tc.want {
				t.Fatalf("shouldSkip = %v, want %v", got, tc.want)
			}
		})
	}
}
