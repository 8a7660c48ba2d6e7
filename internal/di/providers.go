package di

import (
	"fmt"

	"klinecast/internal/bus"
	"klinecast/internal/domain/repository"
	"klinecast/internal/handler/api"
	"klinecast/internal/handler/ws"
	internalrepo "klinecast/internal/repository"
	"klinecast/internal/service/binance"
	"klinecast/internal/service/forecast"
	"klinecast/internal/usecase"
	"klinecast/pkg/config"
	"klinecast/pkg/logger"
	"klinecast/pkg/metrics"
	pkgmongo "klinecast/pkg/mongo"
	"klinecast/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}

// ProvideMongoClient connects to MongoDB.
func ProvideMongoClient(cfg *config.Config) (*pkgmongo.Client, error) {
	client, err := pkgmongo.NewClient(
		pkgmongo.WithHost(cfg.Mongo.Host),
		pkgmongo.WithPort(cfg.Mongo.Port),
		pkgmongo.WithDatabase(cfg.Mongo.Database),
		pkgmongo.WithCredentials(cfg.Mongo.User, cfg.Mongo.Password),
		pkgmongo.WithDialTimeout(cfg.Mongo.DialTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("mongo client: %w", err)
	}
	return client, nil
}

// ProvideStore creates the MongoDB-backed candle and prediction store.
func ProvideStore(client *pkgmongo.Client) repository.Store {
	return internalrepo.NewMongoStore(client.Database())
}

// ProvideSource creates the Binance kline source.
func ProvideSource(cfg *config.Config, lgr *logger.Logger) repository.Source {
	return binance.New(cfg.Binance.BaseURL, cfg.Binance.Interval, lgr,
		binance.WithRetry(cfg.Binance.MaxRetries, cfg.Binance.RetryBase, cfg.Binance.RetryCap),
		binance.WithRequestLimit(cfg.Binance.RequestLimit),
		binance.WithBatchPause(cfg.Binance.BatchPause),
		binance.WithHTTPTimeout(cfg.Binance.HTTPTimeout),
	)
}

// ProvideBus creates the sync-event bus for the configured backend.
func ProvideBus(cfg *config.Config, lgr *logger.Logger) (repository.Bus, error) {
	return bus.New(cfg, lgr)
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideClock supplies the wall clock.
func ProvideClock() repository.Clock {
	return repository.SystemClock{}
}

// ProvideIngestor creates the periodic sync use case.
func ProvideIngestor(
	cfg *config.Config,
	source repository.Source,
	store repository.Store,
	evbus repository.Bus,
	m repository.Metrics,
	clock repository.Clock,
	lgr *logger.Logger,
) (*usecase.Ingestor, error) {
	bootstrapMs, err := cfg.BootstrapMillis()
	if err != nil {
		return nil, err
	}
	return usecase.NewIngestor(usecase.IngestorParams{
		Source:      source,
		Store:       store,
		Bus:         evbus,
		Metrics:     m,
		Clock:       clock,
		Logger:      lgr,
		Symbols:     cfg.Ingestor.Symbols,
		Interval:    cfg.Ingestor.Interval,
		BootstrapMs: bootstrapMs,
		Workers:     cfg.Ingestor.Workers,
	}), nil
}

// ProvideArtifacts creates the on-disk model artifact manager.
func ProvideArtifacts(cfg *config.Config) *forecast.Manager {
	return forecast.NewManager(cfg.Predictor.ModelsDir)
}

// ProvidePredictor creates the hour-block prediction use case, or nil
// when disabled. Predictor symbols default to the sync set.
func ProvidePredictor(
	cfg *config.Config,
	store repository.Store,
	m repository.Metrics,
	clock repository.Clock,
	lgr *logger.Logger,
	artifacts *forecast.Manager,
) *usecase.Predictor {
	if !cfg.Predictor.Enabled {
		return nil
	}
	symbols := cfg.Predictor.Symbols
	if len(symbols) == 0 {
		symbols = cfg.Ingestor.Symbols
	}
	return usecase.NewPredictor(usecase.PredictorParams{
		Store:     store,
		Metrics:   m,
		Clock:     clock,
		Logger:    lgr,
		Artifacts: artifacts,
		Symbols:   symbols,
		Interval:  cfg.Predictor.Interval,
	})
}

// ProvideAPIHandler creates the REST handler.
func ProvideAPIHandler(lgr *logger.Logger, store repository.Store, ingestor *usecase.Ingestor) *api.Handler {
	return api.NewHandler(lgr, store, ingestor)
}

// ProvideBroker creates the websocket push broker.
func ProvideBroker(cfg *config.Config, evbus repository.Bus, m repository.Metrics, lgr *logger.Logger) *ws.Broker {
	return ws.NewBroker(evbus, m, lgr, cfg.WS.QueueSize)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	lgr *logger.Logger,
	mongoClient *pkgmongo.Client,
	evbus repository.Bus,
	ingestor *usecase.Ingestor,
	predictor *usecase.Predictor,
	apiHandler *api.Handler,
	broker *ws.Broker,
) *server.App {
	return server.New(cfg, lgr, mongoClient, evbus, ingestor, predictor, apiHandler, broker)
}
