package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	drepo "klinecast/internal/domain/repository"
	"klinecast/internal/handler/api"
	"klinecast/internal/handler/ws"
	"klinecast/internal/usecase"
	"klinecast/pkg/config"
	xhttp "klinecast/pkg/http"
	applogger "klinecast/pkg/logger"
	pkgmongo "klinecast/pkg/mongo"
)

// App encapsulates the entire application lifecycle: background loops,
// the HTTP server and the infrastructure clients they share.
type App struct {
	cfg    *config.Config
	logger *applogger.Logger

	mongoClient *pkgmongo.Client
	bus         drepo.Bus

	ingestor   *usecase.Ingestor
	predictor  *usecase.Predictor
	apiHandler *api.Handler
	broker     *ws.Broker

	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	lgr *applogger.Logger,
	mongoClient *pkgmongo.Client,
	bus drepo.Bus,
	ingestor *usecase.Ingestor,
	predictor *usecase.Predictor,
	apiHandler *api.Handler,
	broker *ws.Broker,
) *App {
	return &App{
		cfg:         cfg,
		logger:      lgr,
		mongoClient: mongoClient,
		bus:         bus,
		ingestor:    ingestor,
		predictor:   predictor,
		apiHandler:  apiHandler,
		broker:      broker,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := a.logger

	metricsPath := ""
	if a.cfg.Metrics.Enabled {
		metricsPath = a.cfg.Metrics.Path
	}
	a.httpServer = xhttp.NewServer(a.routes(),
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(l),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithRequestMetrics(l, time.Second),
	)

	// The broker must be consuming the bus before the first sync lands.
	if err := a.broker.Start(ctx); err != nil {
		l.Error("broker start error", applogger.Error(err))
		return err
	}

	if err := a.ingestor.Start(ctx); err != nil {
		l.Error("ingestor start error", applogger.Error(err))
		return err
	}
	l.Info("ingestor started", applogger.Strings("symbols", a.ingestor.Symbols()))

	if a.predictor != nil {
		if err := a.predictor.Start(ctx); err != nil {
			l.Error("predictor start error", applogger.Error(err))
			return err
		}
		l.Info("predictor started")
	}

	if err := a.httpServer.Start(); err != nil {
		l.Error("http server start error", applogger.Error(err))
		return err
	}
	l.Info("http server started", applogger.Int("port", a.cfg.Server.Port))

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	l.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// routes composes the REST handler and the websocket broker into one
// route registrar.
func (a *App) routes() xhttp.Handler {
	return handlerChain{a.apiHandler, a.broker}
}

type handlerChain []xhttp.Handler

func (hs handlerChain) RegisterRoutes(e *echo.Echo) {
	for _, h := range hs {
		h.RegisterRoutes(e)
	}
}

// shutdown gracefully stops all services. Producers stop before
// consumers: no new syncs, then no new predictions, then the push and
// HTTP surfaces, then the shared clients.
func (a *App) shutdown(ctx context.Context) error {
	l := a.logger

	a.ingestor.Stop()
	if a.predictor != nil {
		a.predictor.Stop()
	}

	a.broker.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		l.Error("http shutdown error", applogger.Error(err))
	}

	if err := a.bus.Close(); err != nil {
		l.Warn("bus close error", applogger.Error(err))
	}

	if a.mongoClient != nil {
		if err := a.mongoClient.Close(shutdownCtx); err != nil {
			l.Warn("mongo close error", applogger.Error(err))
		}
	}

	l.Info("shutdown complete")
	return nil
}
