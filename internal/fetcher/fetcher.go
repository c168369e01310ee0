package fetcher

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"coin-price-alerts/internal/storage"
)

// PriceFetcher retrieves the current price for a set of assets, keyed by
// asset id. Assets the source does not know are absent from the map.
type PriceFetcher interface {
	FetchPrices(ctx context.Context, assets []storage.Asset) (map[int64]decimal.Decimal, error)
}

// RangeFetcher retrieves historical prices for one asset over a window.
type RangeFetcher interface {
	FetchRange(ctx context.Context, asset storage.Asset, from, to time.Time) ([]storage.PricePoint, error)
}
