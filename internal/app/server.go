package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/auranym/dicechat/api/ws"
	"github.com/auranym/dicechat/internal/config"
	"github.com/auranym/dicechat/internal/relay"
	"github.com/auranym/dicechat/pkg/logger"
)

// App wires the relay server together: identifier registry, routing
// hub and the HTTP listener.
type App struct {
	cfg        config.Config
	logger     logger.Logger
	hub        *relay.Hub
	redisReg   *relay.RedisRegistry
	httpServer *http.Server
}

// NewApp initializes the relay and its dependencies. With a Redis URL
// configured the identifier registry is shared; otherwise claims are
// process-local.
func NewApp(cfg config.Config) (*App, error) {
	baseLogger := logger.NewLogger(cfg.LogLevel)
	log := baseLogger.WithModule("app")
	log.Infof("initializing relay components")

	var (
		registry relay.Registry
		redisReg *relay.RedisRegistry
	)
	if cfg.RedisURL != "" {
		r, err := relay.NewRedisRegistry(context.Background(), cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		registry = r
		redisReg = r
		log.Infof("using shared Redis registry")
	} else {
		registry = relay.NewMemoryRegistry()
		log.Infof("using in-memory registry")
	}

	hub := relay.NewHub(registry, baseLogger.WithModule("relay"))

	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.RelayPort),
		Handler: ws.SetupRelayRoutes(ws.WSConfig{
			Hub:    hub,
			Logger: baseLogger,
		}),
	}

	return &App{
		cfg:        cfg,
		logger:     log,
		hub:        hub,
		redisReg:   redisReg,
		httpServer: httpServer,
	}, nil
}

// Start runs the relay and blocks until a shutdown signal arrives.
func (a *App) Start() error {
	a.logger.Infof("relay listening on port %d", a.cfg.RelayPort)

	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Fatalf("HTTP server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	a.logger.Infof("received signal %s, shutting down", sig)

	return a.Stop()
}

// Stop gracefully shuts down the relay and closes all connections.
func (a *App) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Errorf("HTTP server shutdown error: %v", err)
	}

	a.hub.Close()

	if a.redisReg != nil {
		a.logger.Infof("closing Redis connection")
		if err := a.redisReg.Close(); err != nil {
			a.logger.Errorf("Redis close error: %v", err)
		}
	}

	a.logger.Infof("shutdown complete")
	return nil
}
