package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"coin-price-alerts/internal/storage"
)

const (
	simplePricePath = "/simple/price"
	rangePathFormat = "/coins/%s/market_chart/range"
)

// MarketOptions parameterise the market API fetcher.
type MarketOptions struct {
	BaseURL    string
	VsCurrency string
	Timeout    time.Duration
	UserAgent  string
}

// Market fetches spot and historical prices from a CoinGecko-compatible API.
type Market struct {
	opts    MarketOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	coins   *CoinListCache
}

// NewMarket constructs a market fetcher.
func NewMarket(opts MarketOptions, coins *CoinListCache, logger zerolog.Logger) *Market {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}

	if opts.VsCurrency == "" {
		opts.VsCurrency = "usd"
	}

	return &Market{
		opts:    opts,
		logger:  logger.With().Str("component", "market_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		coins:   coins,
	}
}

// FetchPrices retrieves current prices for every asset in one bulk call.
// Symbols the market API does not know are skipped with a warning.
func (m *Market) FetchPrices(ctx context.Context, assets []storage.Asset) (map[int64]decimal.Decimal, error) {
	if len(assets) == 0 {
		return map[int64]decimal.Decimal{}, nil
	}
	if m.coins == nil {
		return nil, errors.New("coin list cache not configured")
	}

	assetByCoinID := make(map[string]int64, len(assets))
	coinIDs := make([]string, 0, len(assets))
	for _, asset := range assets {
		coinID, ok, err := m.coins.CoinID(ctx, asset.Symbol)
		if err != nil {
			return nil, fmt.Errorf("resolve coin id for %s: %w", asset.Symbol, err)
		}
		if !ok {
			m.logger.Warn().Str("symbol", asset.Symbol).Msg("symbol unknown to market api; skipping")
			continue
		}
		assetByCoinID[coinID] = asset.ID
		coinIDs = append(coinIDs, coinID)
	}
	if len(coinIDs) == 0 {
		return map[int64]decimal.Decimal{}, nil
	}

	query := url.Values{}
	query.Set("ids", strings.Join(coinIDs, ","))
	query.Set("vs_currencies", m.opts.VsCurrency)

	payload, err := m.get(ctx, m.baseURL+simplePricePath+"?"+query.Encode())
	if err != nil {
		return nil, err
	}

	var body map[string]map[string]json.Number
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("decode simple price response: %w", err)
	}

	prices := make(map[int64]decimal.Decimal, len(body))
	for coinID, quotes := range body {
		assetID, ok := assetByCoinID[coinID]
		if !ok {
			continue
		}
		raw, ok := quotes[m.opts.VsCurrency]
		if !ok {
			continue
		}
		price, convErr := decimal.NewFromString(raw.String())
		if convErr != nil {
			m.logger.Warn().Str("coin", coinID).Str("value", raw.String()).Msg("unparseable price; skipping")
			continue
		}
		prices[assetID] = price
	}

	return prices, nil
}

// FetchRange retrieves historical prices for one asset between from and to.
func (m *Market) FetchRange(ctx context.Context, asset storage.Asset, from, to time.Time) ([]storage.PricePoint, error) {
	if m.coins == nil {
		return nil, errors.New("coin list cache not configured")
	}

	coinID, ok, err := m.coins.CoinID(ctx, asset.Symbol)
	if err != nil {
		return nil, fmt.Errorf("resolve coin id for %s: %w", asset.Symbol, err)
	}
	if !ok {
		return nil, fmt.Errorf("symbol %s unknown to market api", asset.Symbol)
	}

	query := url.Values{}
	query.Set("vs_currency", m.opts.VsCurrency)
	query.Set("from", fmt.Sprintf("%d", from.Unix()))
	query.Set("to", fmt.Sprintf("%d", to.Unix()))

	endpoint := m.baseURL + fmt.Sprintf(rangePathFormat, url.PathEscape(coinID)) + "?" + query.Encode()
	payload, err := m.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var body struct {
		Prices [][2]json.Number `json:"prices"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("decode market chart response: %w", err)
	}

	points := make([]storage.PricePoint, 0, len(body.Prices))
	for _, pair := range body.Prices {
		millis, convErr := pair[0].Int64()
		if convErr != nil {
			continue
		}
		price, convErr := decimal.NewFromString(pair[1].String())
		if convErr != nil {
			continue
		}
		points = append(points, storage.PricePoint{
			AssetID:   asset.ID,
			Price:     price,
			Timestamp: time.UnixMilli(millis).UTC(),
		})
	}

	return points, nil
}

func (m *Market) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(m.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "coinalert/1.0")
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}
	return payload, nil
}

type errorResponse struct {
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
	Error string `json:"error"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Status.ErrorMessage != "" {
			return fmt.Errorf("market api error (%d): %s", status, apiErr.Status.ErrorMessage)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("market api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("market api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("market api error (%d)", status)
}

var _ PriceFetcher = (*Market)(nil)
var _ RangeFetcher = (*Market)(nil)
