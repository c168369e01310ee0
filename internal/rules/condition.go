// Package rules turns stored rule rows into evaluatable conditions.
package rules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"coin-price-alerts/internal/storage"
)

const (
	// MinWindowHours and MaxWindowHours bound the lookback window of
	// percentage-kind rules.
	MinWindowHours = 1
	MaxWindowHours = 72
)

var (
	// ErrUnknownKind indicates an unrecognised rule kind value.
	ErrUnknownKind = errors.New("rules: unknown rule kind")
)

var hundred = decimal.NewFromInt(100)

// HistoricalLookup resolves the earliest price point at or after the given
// instant for an asset. Returns nil when no such point exists.
type HistoricalLookup func(ctx context.Context, assetID int64, at time.Time) (*storage.PricePoint, error)

// Condition is a fully-validated alert condition. Each kind carries only the
// fields it needs; window presence is enforced at construction, not at
// evaluation time.
type Condition interface {
	// Evaluate reports whether the condition is met against the latest
	// price. Percentage kinds consult the lookup; price-target kinds
	// never touch it.
	Evaluate(ctx context.Context, latest storage.PricePoint, lookup HistoricalLookup) (bool, error)
}

// PriceAbove fires when the latest price strictly exceeds the threshold.
type PriceAbove struct {
	Threshold decimal.Decimal
}

func (c PriceAbove) Evaluate(_ context.Context, latest storage.PricePoint, _ HistoricalLookup) (bool, error) {
	return latest.Price.GreaterThan(c.Threshold), nil
}

// PriceBelow fires when the latest price is strictly under the threshold.
type PriceBelow struct {
	Threshold decimal.Decimal
}

func (c PriceBelow) Evaluate(_ context.Context, latest storage.PricePoint, _ HistoricalLookup) (bool, error) {
	return latest.Price.LessThan(c.Threshold), nil
}

// PctIncrease fires when the price rose by at least Threshold percent over
// the lookback window.
type PctIncrease struct {
	Threshold   decimal.Decimal
	WindowHours int
}

func (c PctIncrease) Evaluate(ctx context.Context, latest storage.PricePoint, lookup HistoricalLookup) (bool, error) {
	pct, ok, err := percentChange(ctx, latest, c.WindowHours, lookup)
	if err != nil || !ok {
		return false, err
	}
	return pct.GreaterThanOrEqual(c.Threshold), nil
}

// PctDecrease fires when the price fell by at least Threshold percent over
// the lookback window. The threshold is a non-negative magnitude.
type PctDecrease struct {
	Threshold   decimal.Decimal
	WindowHours int
}

func (c PctDecrease) Evaluate(ctx context.Context, latest storage.PricePoint, lookup HistoricalLookup) (bool, error) {
	pct, ok, err := percentChange(ctx, latest, c.WindowHours, lookup)
	if err != nil || !ok {
		return false, err
	}
	return pct.LessThanOrEqual(c.Threshold.Abs().Neg()), nil
}

// percentChange computes the percentage move from the historical reference
// point to the latest price. ok is false when no historical point exists or
// its price is zero; both mean insufficient data, never an infinite change.
func percentChange(ctx context.Context, latest storage.PricePoint, windowHours int, lookup HistoricalLookup) (decimal.Decimal, bool, error) {
	if lookup == nil {
		return decimal.Decimal{}, false, errors.New("rules: historical lookup not provided")
	}

	windowStart := latest.Timestamp.Add(-time.Duration(windowHours) * time.Hour)
	historical, err := lookup(ctx, latest.AssetID, windowStart)
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("historical lookup: %w", err)
	}
	if historical == nil || historical.Price.IsZero() {
		return decimal.Decimal{}, false, nil
	}

	pct := latest.Price.Sub(historical.Price).Div(historical.Price).Mul(hundred)
	return pct, true, nil
}

// Build validates a stored rule and constructs its Condition. Percentage
// kinds must carry a window in [MinWindowHours, MaxWindowHours]; price-target
// kinds must not carry one.
func Build(rule storage.Rule) (Condition, error) {
	switch rule.Kind {
	case storage.KindPriceAbove, storage.KindPriceBelow:
		if rule.WindowHours != nil {
			return nil, fmt.Errorf("rule %d: kind %s does not take a window", rule.ID, rule.Kind)
		}
		if rule.Kind == storage.KindPriceAbove {
			return PriceAbove{Threshold: rule.Threshold}, nil
		}
		return PriceBelow{Threshold: rule.Threshold}, nil

	case storage.KindPctIncrease, storage.KindPctDecrease:
		if rule.WindowHours == nil {
			return nil, fmt.Errorf("rule %d: kind %s requires a window", rule.ID, rule.Kind)
		}
		window := *rule.WindowHours
		if window < MinWindowHours || window > MaxWindowHours {
			return nil, fmt.Errorf("rule %d: window %dh outside [%d,%d]", rule.ID, window, MinWindowHours, MaxWindowHours)
		}
		if rule.Threshold.IsNegative() {
			return nil, fmt.Errorf("rule %d: percentage threshold must be a non-negative magnitude", rule.ID)
		}
		if rule.Kind == storage.KindPctIncrease {
			return PctIncrease{Threshold: rule.Threshold, WindowHours: window}, nil
		}
		return PctDecrease{Threshold: rule.Threshold, WindowHours: window}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, rule.Kind)
	}
}
