// ABOUTME: Gateway orchestrator that coordinates the HTTP API and the optional gRPC server
// ABOUTME: Owns the account store, key cache and authentication pipeline lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/2389/scheduler-gateway/internal/account"
	"github.com/2389/scheduler-gateway/internal/auth"
	"github.com/2389/scheduler-gateway/internal/config"
	"github.com/2389/scheduler-gateway/internal/keycache"
	"github.com/2389/scheduler-gateway/internal/store"
)

// Gateway orchestrates the scheduler-gateway server components.
type Gateway struct {
	config     *config.Config
	store      store.AccountStore
	keys       store.KeySlotStore // the key cache when Redis is enabled, otherwise store
	keyCache   *keycache.Store
	redis      *redis.Client
	accounts   *account.Service
	authn      *auth.Pipeline
	httpServer *http.Server
	grpcServer *grpc.Server // nil when server.grpc_addr is empty
	health     *health.Server
	logger     *slog.Logger
}

// initStore opens the account store selected by database.driver.
func initStore(ctx context.Context, cfg *config.Config) (store.AccountStore, error) {
	switch cfg.Database.Driver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "postgres":
		s, err := store.OpenPostgresStore(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		return s, nil
	default:
		s, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		return s, nil
	}
}

// initKeyCache connects to Redis and fronts backing with the shared key cache.
func initKeyCache(ctx context.Context, cfg config.RedisConfig, backing store.KeySlotStore, logger *slog.Logger) (*keycache.Store, *redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	cache := keycache.New(keycache.Config{
		Backing: backing,
		Client:  rdb,
		Prefix:  cfg.KeyPrefix,
		Logger:  logger,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cache.Ping(pingCtx); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	return cache, rdb, nil
}

// New creates a new Gateway instance with the given configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	gw := &Gateway{
		config: cfg,
		store:  s,
		keys:   s,
		logger: logger.With("component", "gateway"),
	}

	if cfg.Cache.Redis.Enabled {
		cache, rdb, err := initKeyCache(ctx, cfg.Cache.Redis, s, logger)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		gw.keyCache, gw.redis, gw.keys = cache, rdb, cache
		logger.Info("redis key cache enabled", "addr", cfg.Cache.Redis.Addr)
	}

	gw.accounts, err = account.NewService(s, gw.keys, account.Config{
		Creation: account.CreationMode(cfg.Auth.AccountCreation),
		Code:     cfg.Auth.AccountCreationCode,
	}, logger)
	if err != nil {
		gw.closeStores()
		return nil, err
	}

	gw.authn = auth.NewPipeline(s, gw.keys)

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)

	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	gw.registerHTTPAPIRoutes(mux, logger.With("component", "auth"))

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	gw.health = health.NewServer()
	if cfg.Server.GRPCAddr != "" {
		gw.grpcServer = createGRPCServer(gw.authn, gw.health, logger)
	}

	return gw, nil
}

// Handler returns the HTTP handler serving the API.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// GRPCServer returns the gRPC server so callers can register services before Run.
// Returns nil when gRPC is disabled.
func (g *Gateway) GRPCServer() *grpc.Server {
	return g.grpcServer
}

// Authenticator returns the pipeline that guards both transports.
func (g *Gateway) Authenticator() auth.Authenticator {
	return g.authn
}

// setupListeners creates TCP listeners for HTTP and, when configured, gRPC.
func (g *Gateway) setupListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.grpcServer != nil {
		grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
		if err != nil {
			_ = httpLn.Close()
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	return grpcLn, httpLn, nil
}

// startServers starts the servers in goroutines, returning error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		g.health.Resume()
		go func() {
			g.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the gateway servers and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupListeners()
	if err != nil {
		return err
	}

	errCh := g.startServers(grpcListener, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	if g.grpcServer == nil {
		return
	}
	g.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

func (g *Gateway) closeStores() []error {
	var errs []error
	if g.redis != nil {
		errs = appendCloseError(errs, "redis close", g.redis.Close())
	}
	return appendCloseError(errs, "store close", g.store.Close())
}

// Shutdown gracefully stops all gateway servers and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)

	errs = append(errs, g.closeStores()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the account store and key cache answer.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "dependency", "store", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	if g.keyCache != nil {
		if err := g.keyCache.Ping(ctx); err != nil {
			g.logger.Warn("readiness check failed", "dependency", "redis", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("key cache unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
