package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// RuleKind enumerates the supported alert condition types.
type RuleKind string

const (
	KindPriceAbove  RuleKind = "price_above"
	KindPriceBelow  RuleKind = "price_below"
	KindPctIncrease RuleKind = "pct_increase"
	KindPctDecrease RuleKind = "pct_decrease"
)

// Asset is immutable reference data for a tracked instrument.
type Asset struct {
	ID     int64
	Symbol string
	Name   string
}

// PricePoint is one sampled price observation for an asset.
type PricePoint struct {
	ID        int64
	AssetID   int64
	Price     decimal.Decimal
	Timestamp time.Time
}

// QuietTimeConfig is a user's recurring do-not-disturb window. It is either
// fully present or treated as absent; partial configuration never suppresses.
type QuietTimeConfig struct {
	Enabled  bool
	Start    string // HH:MM
	End      string // HH:MM
	Timezone string // IANA identifier
}

// User owns tracked assets and receives notifications.
type User struct {
	ID       int64
	Email    string
	Phone    string
	Quiet    QuietTimeConfig
	Channels []string
}

// Rule is a user-defined alert condition on one tracked asset. Percentage
// kinds carry a lookback window in hours; price-target kinds do not.
type Rule struct {
	ID             int64
	TrackedAssetID int64
	Kind           RuleKind
	Threshold      decimal.Decimal
	WindowHours    *int
	Enabled        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// FiringRecord is one append-only trigger record for a rule. One is written
// for every condition-met evaluation, whether or not the notification was
// suppressed by quiet time.
type FiringRecord struct {
	ID              int64
	RuleID          int64
	TriggeringPrice decimal.Decimal
	FiredAt         time.Time
}

// RuleContext bundles a rule with everything one evaluation pass needs: the
// owning user, the asset, and the instant of the rule's most recent firing
// (nil when the rule has never fired).
type RuleContext struct {
	Rule        Rule
	Asset       Asset
	User        User
	LastFiredAt *time.Time
}
