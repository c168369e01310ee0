package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"coin-price-alerts/internal/engine"
	"coin-price-alerts/internal/storage"
)

// SimulateOptions describe a synthetic rule firing.
type SimulateOptions struct {
	Symbol    string
	Kind      storage.RuleKind
	Threshold decimal.Decimal
	Price     decimal.Decimal
}

// SimulateAlert 用给定的价格与规则跑一遍完整的评估流程，验证告警通道连通。
// Nothing is persisted; the synthetic firing only reaches the dispatcher.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	dispatcher := a.newDispatcher()
	if dispatcher == nil {
		return errors.New("未配置任何告警通道")
	}

	now := time.Now().UTC()
	stub := &staticStores{
		contexts: []storage.RuleContext{{
			Rule: storage.Rule{
				ID:        1,
				Kind:      opts.Kind,
				Threshold: opts.Threshold,
				Enabled:   true,
			},
			Asset: storage.Asset{ID: 1, Symbol: opts.Symbol, Name: opts.Symbol},
			User:  storage.User{ID: 1, Channels: nil},
		}},
		latest: storage.PricePoint{ID: 1, AssetID: 1, Price: opts.Price, Timestamp: now},
	}

	eng := engine.New(stub, stub, stub, dispatcher, engine.Options{}, a.Logger)
	return eng.RunPass(ctx)
}

// staticStores serve one synthetic rule and price point from memory.
type staticStores struct {
	contexts []storage.RuleContext
	latest   storage.PricePoint
}

func (s *staticStores) EnabledRulesWithContext(ctx context.Context) ([]storage.RuleContext, error) {
	return s.contexts, nil
}

func (s *staticStores) LatestPrices(ctx context.Context, assetIDs []int64) (map[int64]storage.PricePoint, error) {
	return map[int64]storage.PricePoint{s.latest.AssetID: s.latest}, nil
}

func (s *staticStores) EarliestPriceAtOrAfter(ctx context.Context, assetID int64, at time.Time) (*storage.PricePoint, error) {
	return nil, nil
}

func (s *staticStores) InsertPricePoints(ctx context.Context, points []storage.PricePoint) (int, error) {
	return len(points), nil
}

func (s *staticStores) RecordFirings(ctx context.Context, firings []storage.FiringRecord) (int, error) {
	return len(firings), nil
}

func (s *staticStores) ListRecentFirings(ctx context.Context, limit int) ([]storage.FiringRecord, error) {
	return nil, nil
}

var _ storage.RuleStore = (*staticStores)(nil)
var _ storage.PriceStore = (*staticStores)(nil)
var _ storage.FiringStore = (*staticStores)(nil)
