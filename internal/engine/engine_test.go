package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"coin-price-alerts/internal/alerting"
	"coin-price-alerts/internal/storage"
)

// passNow is the captured instant every test pass runs at:
// 19:00 UTC = 14:00 in America/New_York.
var passNow = time.Date(2024, 1, 15, 19, 0, 0, 0, time.UTC)

type stubStores struct {
	contexts   []storage.RuleContext
	contextErr error

	latest    map[int64]storage.PricePoint
	latestErr error

	historical    map[int64]*storage.PricePoint
	historicalErr map[int64]error

	recorded  []storage.FiringRecord
	recordErr error
}

func (s *stubStores) EnabledRulesWithContext(ctx context.Context) ([]storage.RuleContext, error) {
	return s.contexts, s.contextErr
}

func (s *stubStores) LatestPrices(ctx context.Context, assetIDs []int64) (map[int64]storage.PricePoint, error) {
	if s.latestErr != nil {
		return nil, s.latestErr
	}
	return s.latest, nil
}

func (s *stubStores) EarliestPriceAtOrAfter(ctx context.Context, assetID int64, at time.Time) (*storage.PricePoint, error) {
	if err := s.historicalErr[assetID]; err != nil {
		return nil, err
	}
	return s.historical[assetID], nil
}

func (s *stubStores) InsertPricePoints(ctx context.Context, points []storage.PricePoint) (int, error) {
	return len(points), nil
}

func (s *stubStores) RecordFirings(ctx context.Context, firings []storage.FiringRecord) (int, error) {
	if s.recordErr != nil {
		return 0, s.recordErr
	}
	s.recorded = append(s.recorded, firings...)
	return len(firings), nil
}

func (s *stubStores) ListRecentFirings(ctx context.Context, limit int) ([]storage.FiringRecord, error) {
	return nil, nil
}

type recordingDispatcher struct {
	batches [][]alerting.FiringEvent
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, events []alerting.FiringEvent) alerting.DispatchResult {
	d.batches = append(d.batches, events)
	return alerting.DispatchResult{Sent: len(events)}
}

func intPtr(v int) *int { return &v }

func priceAboveContext(ruleID, assetID int64, threshold float64) storage.RuleContext {
	return storage.RuleContext{
		Rule: storage.Rule{
			ID:        ruleID,
			Kind:      storage.KindPriceAbove,
			Threshold: decimal.NewFromFloat(threshold),
			Enabled:   true,
		},
		Asset: storage.Asset{ID: assetID, Symbol: "btc", Name: "Bitcoin"},
		User:  storage.User{ID: 7, Email: "user@example.com"},
	}
}

func newTestEngine(stores *stubStores, dispatcher alerting.Dispatcher, cooldown time.Duration) *Engine {
	return New(stores, stores, stores, dispatcher, Options{
		Cooldown: cooldown,
		Clock:    func() time.Time { return passNow },
	}, zerolog.Nop())
}

func TestRunPassRecordsAndNotifies(t *testing.T) {
	stores := &stubStores{
		contexts: []storage.RuleContext{priceAboveContext(1, 10, 100)},
		latest: map[int64]storage.PricePoint{
			10: {ID: 1, AssetID: 10, Price: decimal.NewFromInt(150), Timestamp: passNow},
		},
	}
	dispatcher := &recordingDispatcher{}

	if err := newTestEngine(stores, dispatcher, time.Hour).RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	if len(stores.recorded) != 1 {
		t.Fatalf("expected 1 firing record, got %d", len(stores.recorded))
	}
	rec := stores.recorded[0]
	if rec.RuleID != 1 {
		t.Fatalf("wrong rule id: %d", rec.RuleID)
	}
	if !rec.TriggeringPrice.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("triggering price = %s, want 150", rec.TriggeringPrice)
	}
	if !rec.FiredAt.Equal(passNow) {
		t.Fatalf("fired_at = %s, want captured pass instant", rec.FiredAt)
	}

	if len(dispatcher.batches) != 1 || len(dispatcher.batches[0]) != 1 {
		t.Fatalf("expected a single one-event batch, got %#v", dispatcher.batches)
	}
	event := dispatcher.batches[0][0]
	if event.RuleID != 1 || event.AssetSymbol != "btc" || event.Email != "user@example.com" {
		t.Fatalf("event carries wrong identity: %#v", event)
	}
}

func TestRunPassCooldownSkips(t *testing.T) {
	fired := passNow.Add(-30 * time.Minute)
	rc := priceAboveContext(1, 10, 100)
	rc.LastFiredAt = &fired

	stores := &stubStores{
		contexts: []storage.RuleContext{rc},
		latest: map[int64]storage.PricePoint{
			10: {ID: 1, AssetID: 10, Price: decimal.NewFromInt(150), Timestamp: passNow},
		},
	}
	dispatcher := &recordingDispatcher{}

	if err := newTestEngine(stores, dispatcher, time.Hour).RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	if len(stores.recorded) != 0 {
		t.Fatal("rule inside cooldown must not be re-evaluated or recorded")
	}
	if len(dispatcher.batches) != 0 {
		t.Fatal("rule inside cooldown must not be dispatched")
	}
}

func TestRunPassQuietTimeRecordsWithoutNotifying(t *testing.T) {
	rc := priceAboveContext(1, 10, 100)
	// 14:00 local at passNow, inside the window.
	rc.User.Quiet = storage.QuietTimeConfig{
		Enabled:  true,
		Start:    "09:00",
		End:      "17:00",
		Timezone: "America/New_York",
	}

	stores := &stubStores{
		contexts: []storage.RuleContext{rc},
		latest: map[int64]storage.PricePoint{
			10: {ID: 1, AssetID: 10, Price: decimal.NewFromInt(150), Timestamp: passNow},
		},
	}
	dispatcher := &recordingDispatcher{}

	if err := newTestEngine(stores, dispatcher, time.Hour).RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	if len(stores.recorded) != 1 {
		t.Fatalf("suppressed firing must still be recorded, got %d records", len(stores.recorded))
	}
	if len(dispatcher.batches) != 0 {
		t.Fatal("suppressed firing must not be dispatched")
	}
}

func TestRunPassBrokenQuietConfigFailsOpen(t *testing.T) {
	rc := priceAboveContext(1, 10, 100)
	rc.User.Quiet = storage.QuietTimeConfig{
		Enabled:  true,
		Start:    "09:00",
		End:      "17:00",
		Timezone: "Not/AZone",
	}

	stores := &stubStores{
		contexts: []storage.RuleContext{rc},
		latest: map[int64]storage.PricePoint{
			10: {ID: 1, AssetID: 10, Price: decimal.NewFromInt(150), Timestamp: passNow},
		},
	}
	dispatcher := &recordingDispatcher{}

	if err := newTestEngine(stores, dispatcher, time.Hour).RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	if len(dispatcher.batches) != 1 {
		t.Fatal("unusable quiet config must not suppress delivery")
	}
}

func TestRunPassMissingLatestPrice(t *testing.T) {
	stores := &stubStores{
		contexts: []storage.RuleContext{priceAboveContext(1, 10, 100)},
		latest:   map[int64]storage.PricePoint{},
	}
	dispatcher := &recordingDispatcher{}

	if err := newTestEngine(stores, dispatcher, time.Hour).RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	if len(stores.recorded) != 0 || len(dispatcher.batches) != 0 {
		t.Fatal("rule without a latest price must be skipped silently")
	}
}

func TestRunPassIsolatesFailingRule(t *testing.T) {
	broken := storage.RuleContext{
		Rule: storage.Rule{
			ID:          1,
			Kind:        storage.KindPctIncrease,
			Threshold:   decimal.NewFromInt(5),
			WindowHours: intPtr(24),
			Enabled:     true,
		},
		Asset: storage.Asset{ID: 10, Symbol: "btc", Name: "Bitcoin"},
		User:  storage.User{ID: 7, Email: "user@example.com"},
	}
	healthy := priceAboveContext(2, 20, 100)
	healthy.Asset.Symbol = "eth"

	stores := &stubStores{
		contexts: []storage.RuleContext{broken, healthy},
		latest: map[int64]storage.PricePoint{
			10: {ID: 1, AssetID: 10, Price: decimal.NewFromInt(150), Timestamp: passNow},
			20: {ID: 2, AssetID: 20, Price: decimal.NewFromInt(150), Timestamp: passNow},
		},
		historicalErr: map[int64]error{10: errors.New("malformed historical query")},
	}
	dispatcher := &recordingDispatcher{}

	if err := newTestEngine(stores, dispatcher, time.Hour).RunPass(context.Background()); err != nil {
		t.Fatalf("one failing rule must not abort the pass: %v", err)
	}

	if len(stores.recorded) != 1 || stores.recorded[0].RuleID != 2 {
		t.Fatalf("sibling rule should still be recorded, got %#v", stores.recorded)
	}
	if len(dispatcher.batches) != 1 || dispatcher.batches[0][0].RuleID != 2 {
		t.Fatal("sibling rule should still be notified")
	}
}

func TestRunPassMalformedRuleIsNotMet(t *testing.T) {
	rc := priceAboveContext(1, 10, 100)
	rc.Rule.WindowHours = intPtr(24) // price kinds reject a window

	stores := &stubStores{
		contexts: []storage.RuleContext{rc},
		latest: map[int64]storage.PricePoint{
			10: {ID: 1, AssetID: 10, Price: decimal.NewFromInt(150), Timestamp: passNow},
		},
	}
	dispatcher := &recordingDispatcher{}

	if err := newTestEngine(stores, dispatcher, time.Hour).RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	if len(stores.recorded) != 0 || len(dispatcher.batches) != 0 {
		t.Fatal("malformed rule must be treated as not met")
	}
}

func TestRunPassBulkLoadFailureAborts(t *testing.T) {
	stores := &stubStores{contextErr: errors.New("db down")}
	if err := newTestEngine(stores, nil, time.Hour).RunPass(context.Background()); err == nil {
		t.Fatal("rule load failure must abort the pass")
	}

	stores = &stubStores{
		contexts:  []storage.RuleContext{priceAboveContext(1, 10, 100)},
		latestErr: errors.New("db down"),
	}
	if err := newTestEngine(stores, nil, time.Hour).RunPass(context.Background()); err == nil {
		t.Fatal("price load failure must abort the pass")
	}
}

func TestRunPassFiringWriteFailureIsNotFatal(t *testing.T) {
	stores := &stubStores{
		contexts: []storage.RuleContext{priceAboveContext(1, 10, 100)},
		latest: map[int64]storage.PricePoint{
			10: {ID: 1, AssetID: 10, Price: decimal.NewFromInt(150), Timestamp: passNow},
		},
		recordErr: errors.New("insert failed"),
	}
	dispatcher := &recordingDispatcher{}

	if err := newTestEngine(stores, dispatcher, time.Hour).RunPass(context.Background()); err != nil {
		t.Fatalf("firing write failure must not fail the pass: %v", err)
	}
	if len(dispatcher.batches) != 1 {
		t.Fatal("notification should still go out after a failed record write")
	}
}
