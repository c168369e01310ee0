package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"coin-price-alerts/internal/alerting"
	"coin-price-alerts/internal/config"
	"coin-price-alerts/internal/engine"
	"coin-price-alerts/internal/fetcher"
	"coin-price-alerts/internal/ingest"
	"coin-price-alerts/internal/scheduler"
	"coin-price-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newMarketFetcher() *fetcher.Market {
	coins := fetcher.NewCoinListCache(
		a.Config.Market.BaseURL,
		a.Config.Market.RequestTimeout,
		a.Config.Market.CoinListTTL,
		nil,
		a.Logger,
	)
	return fetcher.NewMarket(fetcher.MarketOptions{
		BaseURL:    a.Config.Market.BaseURL,
		VsCurrency: a.Config.Market.VsCurrency,
		Timeout:    a.Config.Market.RequestTimeout,
		UserAgent:  a.Config.Market.UserAgent,
	}, coins, a.Logger)
}

func (a *App) newFallbackFetcher() fetcher.PriceFetcher {
	if !a.Config.Chainlink.Enabled {
		return nil
	}
	return fetcher.NewChainlink(fetcher.ChainlinkOptions{
		RPCURL:  a.Config.Chainlink.RPCURL,
		Feeds:   a.Config.Chainlink.Feeds,
		Timeout: a.Config.Chainlink.RequestTimeout,
	}, a.Logger)
}

func (a *App) newDispatcher() alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if a.Config.Notify.Telegram.Enabled {
		cfg := a.Config.Notify.Telegram
		notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
	}
	if a.Config.Notify.Email.Enabled {
		cfg := a.Config.Notify.Email
		notifiers = append(notifiers, alerting.NewEmailNotifier(alerting.EmailOptions{
			Host:     cfg.Host,
			Port:     cfg.Port,
			From:     cfg.From,
			Username: cfg.Username,
			Password: cfg.Password,
		}, a.Logger))
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanoutDispatcher(notifiers, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) mustOpenStore(ctx context.Context) (*storage.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, errors.New("database.dsn not configured")
	}
	return store, closeStore, nil
}

func (a *App) newEngine(store *storage.Store, dispatcher alerting.Dispatcher) *engine.Engine {
	return engine.New(store, store, store, dispatcher, engine.Options{
		Cooldown:        a.Config.Evaluation.Cooldown,
		AdvisoryLockKey: a.Config.Evaluation.AdvisoryLockKey,
	}, a.Logger)
}

// Run executes the long-running fetch and evaluation loops.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.mustOpenStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	market := a.newMarketFetcher()
	ingestor := ingest.New(store, store, market, a.newFallbackFetcher(), a.Logger)
	eng := a.newEngine(store, a.newDispatcher())

	fetchSched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Fetch.Interval,
		AlignToStart: a.Config.Fetch.AlignToBucket,
		StartupDelay: a.Config.Fetch.StartupDelay,
	}, a.Logger)

	evalSched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Evaluation.Interval,
		AlignToStart: true,
		StartupDelay: a.Config.Evaluation.StartupDelay,
	}, a.Logger)

	a.Logger.Info().Msg("starting price sampling and rule evaluation loops")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return fetchSched.Run(groupCtx, func(tickCtx context.Context, bucket time.Time) error {
			if err := ingestor.ProcessBucket(tickCtx, bucket); err != nil {
				return err
			}
			if retention := a.Config.Fetch.Retention; retention > 0 {
				if err := store.DeletePricesBefore(tickCtx, bucket.Add(-retention)); err != nil {
					a.Logger.Warn().Err(err).Msg("price retention cleanup failed")
				}
			}
			return nil
		})
	})
	group.Go(func() error {
		return evalSched.Run(groupCtx, func(tickCtx context.Context, _ time.Time) error {
			return eng.RunPass(tickCtx)
		})
	})

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("service stopped")
	return nil
}

// FetchOnce runs a single price sampling pass.
func (a *App) FetchOnce(ctx context.Context) error {
	store, closeStore, err := a.mustOpenStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	ingestor := ingest.New(store, store, a.newMarketFetcher(), a.newFallbackFetcher(), a.Logger)
	bucket := time.Now().UTC().Truncate(a.Config.Fetch.Interval)
	return ingestor.ProcessBucket(ctx, bucket)
}

// EvaluateOnce runs a single rule evaluation pass.
func (a *App) EvaluateOnce(ctx context.Context) error {
	store, closeStore, err := a.mustOpenStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	return a.newEngine(store, a.newDispatcher()).RunPass(ctx)
}

// ExportOptions hold parameters for exporting price history.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// BackfillOptions configure the historical price backfill job.
type BackfillOptions struct {
	Symbol string
	From   time.Time
	To     time.Time
	DryRun bool
}
