// Package quiet decides whether a user's do-not-disturb window covers a
// given instant.
package quiet

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"coin-price-alerts/internal/storage"
)

// IsQuietTime reports whether now falls inside the user's quiet window.
//
// The check fails open: a disabled or incomplete config, an unknown
// timezone, or a malformed HH:MM value yields false (not suppressed) so that
// misconfiguration never silently eats alerts. The returned error carries
// the parse/resolve failure for the caller to log as a warning.
func IsQuietTime(cfg storage.QuietTimeConfig, now time.Time) (bool, error) {
	if !cfg.Enabled || cfg.Start == "" || cfg.End == "" || cfg.Timezone == "" {
		return false, nil
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return false, fmt.Errorf("resolve timezone %q: %w", cfg.Timezone, err)
	}

	startMinutes, err := parseClock(cfg.Start)
	if err != nil {
		return false, fmt.Errorf("parse quiet start: %w", err)
	}
	endMinutes, err := parseClock(cfg.End)
	if err != nil {
		return false, fmt.Errorf("parse quiet end: %w", err)
	}

	// start == end is a zero-duration window, never active.
	if startMinutes == endMinutes {
		return false, nil
	}

	local := now.In(loc)
	nowMinutes := local.Hour()*60 + local.Minute()

	// Start boundary inclusive, end boundary exclusive.
	if startMinutes < endMinutes {
		return nowMinutes >= startMinutes && nowMinutes < endMinutes, nil
	}
	// Overnight window, e.g. 22:00-07:00.
	return nowMinutes >= startMinutes || nowMinutes < endMinutes, nil
}

func parseClock(value string) (int, error) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("bad hour in %q: %w", value, err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("bad minute in %q: %w", value, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("clock value out of range: %q", value)
	}
	return hour*60 + minute, nil
}
