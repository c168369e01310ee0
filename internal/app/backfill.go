package app

import (
	"context"
	"errors"
	"fmt"
)

// Backfill 拉取历史价格并写入 price_points。
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	if !opts.From.Before(opts.To) {
		return errors.New("回填范围为空，请检查 --from/--to")
	}

	store, closeStore, err := a.mustOpenStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	asset, err := store.AssetBySymbol(ctx, opts.Symbol)
	if err != nil {
		return err
	}
	if asset == nil {
		return fmt.Errorf("unknown asset symbol %q", opts.Symbol)
	}

	market := a.newMarketFetcher()
	points, err := market.FetchRange(ctx, *asset, opts.From.UTC(), opts.To.UTC())
	if err != nil {
		return fmt.Errorf("fetch historical prices: %w", err)
	}
	if len(points) == 0 {
		a.Logger.Info().Str("symbol", asset.Symbol).Msg("no historical prices in range")
		return nil
	}

	if opts.DryRun {
		a.Logger.Warn().Int("points", len(points)).Msg("回填 dry-run：不会写入数据库")
		return nil
	}

	written, err := store.InsertPricePoints(ctx, points)
	if err != nil {
		return fmt.Errorf("insert historical prices: %w", err)
	}

	a.Logger.Info().Str("symbol", asset.Symbol).
		Int("fetched", len(points)).
		Int("written", written).
		Msg("回填完成")
	return nil
}
