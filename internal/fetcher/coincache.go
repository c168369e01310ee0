package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Clock abstracts time.Now for deterministic cache expiry in tests.
type Clock func() time.Time

// CoinListCache maps exchange symbols to the market API's coin identifiers,
// refreshing the full list at most once per TTL. The clock is injected so
// expiry is testable.
type CoinListCache struct {
	baseURL string
	client  *http.Client
	ttl     time.Duration
	clock   Clock
	logger  zerolog.Logger

	mu        sync.Mutex
	bySymbol  map[string]string
	fetchedAt time.Time
}

// NewCoinListCache constructs a cache over the market API coin list.
func NewCoinListCache(baseURL string, timeout, ttl time.Duration, clock Clock, logger zerolog.Logger) *CoinListCache {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if clock == nil {
		clock = time.Now
	}
	return &CoinListCache{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		ttl:     ttl,
		clock:   clock,
		logger:  logger.With().Str("component", "coin_list_cache").Logger(),
	}
}

// CoinID resolves a symbol to the market API coin id, refreshing the cached
// list when stale. Returns false when the symbol is unknown.
func (c *CoinListCache) CoinID(ctx context.Context, symbol string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	if c.bySymbol == nil || now.Sub(c.fetchedAt) >= c.ttl {
		if err := c.refresh(ctx); err != nil {
			// A stale list beats no list at all.
			if c.bySymbol == nil {
				return "", false, err
			}
			c.logger.Warn().Err(err).Msg("coin list refresh failed; using stale cache")
		} else {
			c.fetchedAt = now
		}
	}

	id, ok := c.bySymbol[strings.ToLower(symbol)]
	return id, ok, nil
}

func (c *CoinListCache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/coins/list", nil)
	if err != nil {
		return fmt.Errorf("create coin list request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch coin list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coin list returned status %d", resp.StatusCode)
	}

	var coins []struct {
		ID     string `json:"id"`
		Symbol string `json:"symbol"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&coins); err != nil {
		return fmt.Errorf("decode coin list: %w", err)
	}

	bySymbol := make(map[string]string, len(coins))
	for _, coin := range coins {
		symbol := strings.ToLower(coin.Symbol)
		// First id wins for duplicated symbols; deterministic given the
		// API returns a stable ordering.
		if _, exists := bySymbol[symbol]; !exists {
			bySymbol[symbol] = coin.ID
		}
	}

	c.bySymbol = bySymbol
	c.logger.Debug().Int("coins", len(bySymbol)).Msg("coin list refreshed")
	return nil
}
