package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	enabledRulesWithContextSQL = `SELECT
        r.id,
        r.tracked_asset_id,
        r.kind,
        r.threshold,
        r.window_hours,
        r.enabled,
        r.created_at,
        r.updated_at,
        a.id,
        a.symbol,
        a.name,
        u.id,
        u.email,
        u.phone,
        u.quiet_enabled,
        u.quiet_start,
        u.quiet_end,
        u.quiet_tz,
        u.channels,
        f.fired_at
    FROM rules r
    JOIN tracked_assets ta ON ta.id = r.tracked_asset_id
    JOIN assets a ON a.id = ta.asset_id
    JOIN users u ON u.id = ta.user_id
    LEFT JOIN LATERAL (
        SELECT fired_at
        FROM firings
        WHERE rule_id = r.id
        ORDER BY fired_at DESC
        LIMIT 1
    ) f ON TRUE
    WHERE r.enabled
    ORDER BY r.id;`

	latestPricesSQL = `SELECT DISTINCT ON (asset_id)
        id, asset_id, price, ts
    FROM price_points
    WHERE asset_id = ANY($1)
    ORDER BY asset_id, ts DESC, id DESC;`

	earliestPriceAtOrAfterSQL = `SELECT id, asset_id, price, ts
    FROM price_points
    WHERE asset_id = $1
      AND ts >= $2
    ORDER BY ts ASC, id ASC
    LIMIT 1;`

	insertFiringSQL = `INSERT INTO firings (rule_id, triggering_price, fired_at)
    VALUES ($1, $2, $3)
    ON CONFLICT DO NOTHING;`

	insertPricePointSQL = `INSERT INTO price_points (asset_id, price, ts)
    VALUES ($1, $2, $3)
    ON CONFLICT (asset_id, ts) DO NOTHING;`

	listRecentFiringsSQL = `SELECT id, rule_id, triggering_price, fired_at
    FROM firings
    ORDER BY fired_at DESC
    LIMIT $1;`

	listPricesBetweenSQL = `SELECT id, asset_id, price, ts
    FROM price_points
    WHERE asset_id = $1
      AND ts >= $2
      AND ts < $3
    ORDER BY ts;`

	deletePricesBeforeSQL = `DELETE FROM price_points WHERE ts < $1;`

	countPricePointsSQL = `SELECT COUNT(*) FROM price_points;`

	listTrackedAssetsSQL = `SELECT DISTINCT a.id, a.symbol, a.name
    FROM assets a
    JOIN tracked_assets ta ON ta.asset_id = a.id
    JOIN rules r ON r.tracked_asset_id = ta.id
    WHERE r.enabled
    ORDER BY a.id;`

	assetBySymbolSQL = `SELECT id, symbol, name FROM assets WHERE LOWER(symbol) = LOWER($1);`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RuleStore exposes the read side the evaluation pass needs.
type RuleStore interface {
	EnabledRulesWithContext(ctx context.Context) ([]RuleContext, error)
}

// PriceStore defines price history reads and ingestion writes.
type PriceStore interface {
	LatestPrices(ctx context.Context, assetIDs []int64) (map[int64]PricePoint, error)
	EarliestPriceAtOrAfter(ctx context.Context, assetID int64, at time.Time) (*PricePoint, error)
	InsertPricePoints(ctx context.Context, points []PricePoint) (int, error)
}

// FiringStore persists and lists rule firings.
type FiringStore interface {
	RecordFirings(ctx context.Context, firings []FiringRecord) (int, error)
	ListRecentFirings(ctx context.Context, limit int) ([]FiringRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates Postgres access for rules, prices, and firings.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnabledRulesWithContext loads every enabled rule joined with its asset,
// owning user, and most recent firing instant.
func (s *Store) EnabledRulesWithContext(ctx context.Context) ([]RuleContext, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, enabledRulesWithContextSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("load enabled rules: %w", queryErr)
	}
	defer rows.Close()

	contexts := make([]RuleContext, 0)
	for rows.Next() {
		rc, scanErr := scanRuleContext(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		contexts = append(contexts, rc)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return contexts, nil
}

// LatestPrices bulk-loads the single most recent price point per asset.
// Assets with no price history are absent from the returned map.
func (s *Store) LatestPrices(ctx context.Context, assetIDs []int64) (map[int64]PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if len(assetIDs) == 0 {
		return map[int64]PricePoint{}, nil
	}

	rows, queryErr := pool.Query(ctx, latestPricesSQL, assetIDs)
	if queryErr != nil {
		return nil, fmt.Errorf("load latest prices: %w", queryErr)
	}
	defer rows.Close()

	latest := make(map[int64]PricePoint, len(assetIDs))
	for rows.Next() {
		point, scanErr := scanPricePoint(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		latest[point.AssetID] = point
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return latest, nil
}

// EarliestPriceAtOrAfter returns the earliest point with ts >= at, breaking
// equal-timestamp ties by lowest id. Returns nil when no such point exists.
func (s *Store) EarliestPriceAtOrAfter(ctx context.Context, assetID int64, at time.Time) (*PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, earliestPriceAtOrAfterSQL, assetID, at)
	if queryErr != nil {
		return nil, fmt.Errorf("load historical price: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	point, scanErr := scanPricePoint(rows)
	if scanErr != nil {
		return nil, scanErr
	}
	return &point, nil
}

// RecordFirings batch-inserts firing records. Tolerates an empty batch and
// benign duplicate inserts; returns the number of rows actually written.
func (s *Store) RecordFirings(ctx context.Context, firings []FiringRecord) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	if len(firings) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, firing := range firings {
		batch.Queue(insertFiringSQL, firing.RuleID, firing.TriggeringPrice.String(), firing.FiredAt)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	written := 0
	for range firings {
		tag, execErr := results.Exec()
		if execErr != nil {
			return written, fmt.Errorf("record firing: %w", execErr)
		}
		written += int(tag.RowsAffected())
	}
	return written, nil
}

// InsertPricePoints batch-inserts sampled prices, skipping duplicates.
func (s *Store) InsertPricePoints(ctx context.Context, points []PricePoint) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	if len(points) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, point := range points {
		batch.Queue(insertPricePointSQL, point.AssetID, point.Price.String(), point.Timestamp)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	written := 0
	for range points {
		tag, execErr := results.Exec()
		if execErr != nil {
			return written, fmt.Errorf("insert price point: %w", execErr)
		}
		written += int(tag.RowsAffected())
	}
	return written, nil
}

// ListRecentFirings lists the most recent firings ordered by descending time.
func (s *Store) ListRecentFirings(ctx context.Context, limit int) ([]FiringRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentFiringsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent firings: %w", queryErr)
	}
	defer rows.Close()

	firings := make([]FiringRecord, 0, limit)
	for rows.Next() {
		var rec FiringRecord
		var priceStr string
		if err := rows.Scan(&rec.ID, &rec.RuleID, &priceStr, &rec.FiredAt); err != nil {
			return nil, err
		}
		price, convErr := decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse triggering price: %w", convErr)
		}
		rec.TriggeringPrice = price
		firings = append(firings, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return firings, nil
}

// ListPricesBetween lists an asset's price points within a time window.
func (s *Store) ListPricesBetween(ctx context.Context, assetID int64, from, to time.Time) ([]PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPricesBetweenSQL, assetID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list prices between: %w", queryErr)
	}
	defer rows.Close()

	points := make([]PricePoint, 0)
	for rows.Next() {
		point, scanErr := scanPricePoint(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		points = append(points, point)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

// DeletePricesBefore prunes historical price points.
func (s *Store) DeletePricesBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deletePricesBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete prices before: %w", execErr)
	}
	return nil
}

// CountPricePoints counts stored price points.
func (s *Store) CountPricePoints(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countPricePointsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count price points: %w", scanErr)
	}
	return count, nil
}

// ListTrackedAssets lists the distinct assets referenced by enabled rules.
func (s *Store) ListTrackedAssets(ctx context.Context) ([]Asset, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listTrackedAssetsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list tracked assets: %w", queryErr)
	}
	defer rows.Close()

	assets := make([]Asset, 0)
	for rows.Next() {
		var asset Asset
		if err := rows.Scan(&asset.ID, &asset.Symbol, &asset.Name); err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return assets, nil
}

// AssetBySymbol resolves one asset by its symbol, case-insensitively.
func (s *Store) AssetBySymbol(ctx context.Context, symbol string) (*Asset, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var asset Asset
	if scanErr := pool.QueryRow(ctx, assetBySymbolSQL, symbol).Scan(&asset.ID, &asset.Symbol, &asset.Name); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load asset by symbol: %w", scanErr)
	}
	return &asset, nil
}

func scanPricePoint(rows pgx.Rows) (PricePoint, error) {
	var (
		point    PricePoint
		priceStr string
	)
	if err := rows.Scan(&point.ID, &point.AssetID, &priceStr, &point.Timestamp); err != nil {
		return PricePoint{}, err
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return PricePoint{}, fmt.Errorf("parse price: %w", err)
	}
	point.Price = price
	return point, nil
}

func scanRuleContext(rows pgx.Rows) (RuleContext, error) {
	var (
		rc           RuleContext
		thresholdStr string
		windowHours  sql.NullInt64
		phone        sql.NullString
		quietStart   sql.NullString
		quietEnd     sql.NullString
		quietTZ      sql.NullString
		lastFiredAt  sql.NullTime
	)

	if err := rows.Scan(
		&rc.Rule.ID,
		&rc.Rule.TrackedAssetID,
		&rc.Rule.Kind,
		&thresholdStr,
		&windowHours,
		&rc.Rule.Enabled,
		&rc.Rule.CreatedAt,
		&rc.Rule.UpdatedAt,
		&rc.Asset.ID,
		&rc.Asset.Symbol,
		&rc.Asset.Name,
		&rc.User.ID,
		&rc.User.Email,
		&phone,
		&rc.User.Quiet.Enabled,
		&quietStart,
		&quietEnd,
		&quietTZ,
		&rc.User.Channels,
		&lastFiredAt,
	); err != nil {
		return RuleContext{}, err
	}

	threshold, err := decimal.NewFromString(thresholdStr)
	if err != nil {
		return RuleContext{}, fmt.Errorf("parse threshold: %w", err)
	}
	rc.Rule.Threshold = threshold

	if windowHours.Valid {
		value := int(windowHours.Int64)
		rc.Rule.WindowHours = &value
	}
	if phone.Valid {
		rc.User.Phone = phone.String
	}
	if quietStart.Valid {
		rc.User.Quiet.Start = quietStart.String
	}
	if quietEnd.Valid {
		rc.User.Quiet.End = quietEnd.String
	}
	if quietTZ.Valid {
		rc.User.Quiet.Timezone = quietTZ.String
	}
	if lastFiredAt.Valid {
		value := lastFiredAt.Time
		rc.LastFiredAt = &value
	}

	return rc, nil
}
