package engine

import "time"

// shouldSkip reports whether a rule is still inside its cooldown window and
// must not be re-evaluated this pass. A rule that has never fired is never
// skipped. Cooldown is uniform across all rules.
func shouldSkip(lastFiredAt *time.Time, cooldown time.Duration, now time.Time) bool {
	if lastFiredAt == nil || cooldown <= 0 {
		return false
	}
	return lastFiredAt.After(now.Add(-cooldown))
}
