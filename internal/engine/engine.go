// Package engine runs rule evaluation passes: it decides which alert rules
// fired, records every firing, and routes the non-suppressed ones to the
// notification dispatcher.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"coin-price-alerts/internal/alerting"
	"coin-price-alerts/internal/quiet"
	"coin-price-alerts/internal/rules"
	"coin-price-alerts/internal/storage"
)

// Options configure the evaluation engine.
type Options struct {
	Cooldown        time.Duration
	AdvisoryLockKey int64
	// Clock overrides time.Now for deterministic passes in tests.
	Clock func() time.Time
}

// Engine coordinates one evaluation pass over all enabled rules.
type Engine struct {
	ruleStore  storage.RuleStore
	priceStore storage.PriceStore
	firings    storage.FiringStore
	dispatcher alerting.Dispatcher
	locker     storage.AdvisoryLocker
	opts       Options
	logger     zerolog.Logger
}

// New constructs an Engine. The dispatcher may be nil, in which case met
// rules are still recorded but nothing is delivered.
func New(ruleStore storage.RuleStore, priceStore storage.PriceStore, firings storage.FiringStore, dispatcher alerting.Dispatcher, opts Options, logger zerolog.Logger) *Engine {
	e := &Engine{
		ruleStore:  ruleStore,
		priceStore: priceStore,
		firings:    firings,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger.With().Str("component", "engine").Logger(),
	}
	if e.opts.Clock == nil {
		e.opts.Clock = time.Now
	}
	if locker, ok := firings.(storage.AdvisoryLocker); ok {
		e.locker = locker
	}
	return e
}

// RunPass executes one evaluation pass. A failure loading the rule or price
// sets aborts the pass; everything after that point is isolated per rule.
func (e *Engine) RunPass(ctx context.Context) error {
	unlock, proceed, err := e.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		e.logger.Debug().Msg("skip pass because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	contexts, err := e.ruleStore.EnabledRulesWithContext(ctx)
	if err != nil {
		return fmt.Errorf("load enabled rules: %w", err)
	}
	if len(contexts) == 0 {
		e.logger.Debug().Msg("no enabled rules; nothing to evaluate")
		return nil
	}

	latest, err := e.priceStore.LatestPrices(ctx, distinctAssetIDs(contexts))
	if err != nil {
		return fmt.Errorf("load latest prices: %w", err)
	}

	// One instant for the whole pass so every cooldown and quiet-time
	// decision is mutually consistent.
	now := e.opts.Clock().UTC()

	var (
		records   []storage.FiringRecord
		notifySet []alerting.FiringEvent
		skipped   int
		noPrice   int
	)

	for _, rc := range contexts {
		latestPrice, ok := latest[rc.Asset.ID]
		if !ok {
			noPrice++
			continue
		}

		if shouldSkip(rc.LastFiredAt, e.opts.Cooldown, now) {
			skipped++
			continue
		}

		met, triggering := e.evaluateRule(ctx, rc, latestPrice)
		if !met {
			continue
		}

		records = append(records, storage.FiringRecord{
			RuleID:          rc.Rule.ID,
			TriggeringPrice: triggering,
			FiredAt:         now,
		})

		suppressed, quietErr := quiet.IsQuietTime(rc.User.Quiet, now)
		if quietErr != nil {
			// Fail open: a broken quiet-time config never suppresses.
			e.logger.Warn().Err(quietErr).
				Int64("user_id", rc.User.ID).
				Msg("quiet-time config unusable; not suppressing")
		}
		if suppressed {
			e.logger.Info().Int64("rule_id", rc.Rule.ID).
				Str("asset", rc.Asset.Symbol).
				Msg("firing recorded but suppressed by quiet time")
			continue
		}

		notifySet = append(notifySet, alerting.FiringEvent{
			RuleID:          rc.Rule.ID,
			Kind:            rc.Rule.Kind,
			Threshold:       rc.Rule.Threshold,
			WindowHours:     rc.Rule.WindowHours,
			AssetSymbol:     rc.Asset.Symbol,
			AssetName:       rc.Asset.Name,
			TriggeringPrice: triggering,
			FiredAt:         now,
			Email:           rc.User.Email,
			Phone:           rc.User.Phone,
			Channels:        rc.User.Channels,
		})
	}

	if written, err := e.firings.RecordFirings(ctx, records); err != nil {
		e.logger.Error().Err(err).Int("firings", len(records)).Msg("failed to persist firing records")
	} else if written < len(records) {
		e.logger.Debug().Int("written", written).Int("batch", len(records)).Msg("some firing records were duplicates")
	}

	if len(notifySet) > 0 && e.dispatcher != nil {
		result := e.dispatcher.Dispatch(ctx, notifySet)
		e.logger.Info().Int("sent", result.Sent).Int("failed", result.Failed).Msg("dispatched notifications")
	}

	e.logger.Info().
		Int("rules", len(contexts)).
		Int("skipped_cooldown", skipped).
		Int("no_price", noPrice).
		Int("fired", len(records)).
		Int("notified", len(notifySet)).
		Msg("evaluation pass complete")

	return nil
}

// evaluateRule applies the rule's condition against the latest price. Any
// error, including a malformed rule or a failed historical lookup, is logged
// with the rule identity and treated as not met so sibling rules in the
// batch are unaffected.
func (e *Engine) evaluateRule(ctx context.Context, rc storage.RuleContext, latest storage.PricePoint) (bool, decimal.Decimal) {
	condition, err := rules.Build(rc.Rule)
	if err != nil {
		e.logger.Warn().Err(err).Int64("rule_id", rc.Rule.ID).Msg("skipping malformed rule")
		return false, decimal.Decimal{}
	}

	met, err := condition.Evaluate(ctx, latest, e.priceStore.EarliestPriceAtOrAfter)
	if err != nil {
		e.logger.Error().Err(err).Int64("rule_id", rc.Rule.ID).Msg("rule evaluation failed; treating as not met")
		return false, decimal.Decimal{}
	}
	return met, latest.Price
}

func (e *Engine) acquireLock(ctx context.Context) (func(), bool, error) {
	if e.opts.AdvisoryLockKey == 0 || e.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := e.locker.TryAdvisoryLock(ctx, e.opts.AdvisoryLockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func distinctAssetIDs(contexts []storage.RuleContext) []int64 {
	seen := make(map[int64]struct{}, len(contexts))
	ids := make([]int64, 0, len(contexts))
	for _, rc := range contexts {
		if _, ok := seen[rc.Asset.ID]; ok {
			continue
		}
		seen[rc.Asset.ID] = struct{}{}
		ids = append(ids, rc.Asset.ID)
	}
	return ids
}
