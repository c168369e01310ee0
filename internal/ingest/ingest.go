// Package ingest samples current prices for all tracked assets and appends
// them to the price history.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"coin-price-alerts/internal/fetcher"
	"coin-price-alerts/internal/storage"
)

// AssetSource lists the assets that need price samples.
type AssetSource interface {
	ListTrackedAssets(ctx context.Context) ([]storage.Asset, error)
}

// Service runs one sampling pass per scheduler tick.
type Service struct {
	assets   AssetSource
	store    storage.PriceStore
	primary  fetcher.PriceFetcher
	fallback fetcher.PriceFetcher
	logger   zerolog.Logger
}

// New constructs the ingestion service. fallback may be nil.
func New(assets AssetSource, store storage.PriceStore, primary, fallback fetcher.PriceFetcher, logger zerolog.Logger) *Service {
	return &Service{
		assets:   assets,
		store:    store,
		primary:  primary,
		fallback: fallback,
		logger:   logger.With().Str("component", "ingest").Logger(),
	}
}

// ProcessBucket samples prices for every tracked asset and stores them
// against the bucket instant. Assets the primary source cannot price are
// retried against the fallback source before being skipped.
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	assets, err := s.assets.ListTrackedAssets(ctx)
	if err != nil {
		return fmt.Errorf("list tracked assets: %w", err)
	}
	if len(assets) == 0 {
		s.logger.Debug().Msg("no tracked assets; nothing to sample")
		return nil
	}

	prices, err := s.primary.FetchPrices(ctx, assets)
	if err != nil {
		return fmt.Errorf("fetch prices: %w", err)
	}

	if s.fallback != nil {
		missing := make([]storage.Asset, 0)
		for _, asset := range assets {
			if _, ok := prices[asset.ID]; !ok {
				missing = append(missing, asset)
			}
		}
		if len(missing) > 0 {
			fallbackPrices, fbErr := s.fallback.FetchPrices(ctx, missing)
			if fbErr != nil {
				s.logger.Warn().Err(fbErr).Int("assets", len(missing)).Msg("fallback price source failed")
			} else {
				for id, price := range fallbackPrices {
					prices[id] = price
				}
			}
		}
	}

	points := make([]storage.PricePoint, 0, len(prices))
	for _, asset := range assets {
		price, ok := prices[asset.ID]
		if !ok {
			s.logger.Warn().Str("symbol", asset.Symbol).Msg("no price available this bucket")
			continue
		}
		if price.LessThan(decimal.Zero) {
			s.logger.Warn().Str("symbol", asset.Symbol).Str("price", price.String()).Msg("negative price discarded")
			continue
		}
		points = append(points, storage.PricePoint{
			AssetID:   asset.ID,
			Price:     price,
			Timestamp: bucket,
		})
	}

	written, err := s.store.InsertPricePoints(ctx, points)
	if err != nil {
		return fmt.Errorf("insert price points: %w", err)
	}

	s.logger.Info().Time("bucket", bucket).
		Int("assets", len(assets)).
		Int("sampled", written).
		Msg("price samples recorded")
	return nil
}
