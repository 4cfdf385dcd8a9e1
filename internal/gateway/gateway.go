// ABOUTME: Gateway orchestrator that wires store, cache, presence, and HTTP together
// ABOUTME: Manages the HTTP/websocket server lifecycle and health endpoints

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/2389/relay-gateway/internal/auth"
	"github.com/2389/relay-gateway/internal/blob"
	"github.com/2389/relay-gateway/internal/cache"
	"github.com/2389/relay-gateway/internal/config"
	"github.com/2389/relay-gateway/internal/conversation"
	"github.com/2389/relay-gateway/internal/presence"
	"github.com/2389/relay-gateway/internal/session"
	"github.com/2389/relay-gateway/internal/store"
)

// startupTimeout bounds connecting to the store and cache backend.
const startupTimeout = 10 * time.Second

// Gateway orchestrates the relay-gateway server components.
type Gateway struct {
	config       *config.Config
	store        store.Store
	backend      cache.Backend
	cache        *cache.Layer
	registry     *session.Registry
	router       *presence.Router
	conversation *conversation.Service
	auth         *auth.Authenticator
	blacklist    *auth.Blacklist
	uploader     *blob.DiskUploader
	limiter      *ipRateLimiter
	upgrader     websocket.Upgrader
	httpServer   *http.Server
	logger       *slog.Logger
}

// OpenStore opens the store selected by database.driver.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	var (
		s   store.Store
		err error
	)
	switch cfg.Database.Driver {
	case config.DriverMongo:
		s, err = store.NewMongoStore(ctx, cfg.Database.MongoURI, cfg.Database.MongoDatabase)
	case config.DriverMemory:
		s = store.NewMockStore()
	default:
		s, err = store.NewSQLiteStore(cfg.Database.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initCache opens the cache backend selected by cache.driver.
func initCache(ctx context.Context, cfg *config.Config) (cache.Backend, error) {
	if cfg.Cache.Driver == config.CacheRedis {
		backend, err := cache.NewRedisBackend(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("initializing cache: %w", err)
		}
		return backend, nil
	}
	return newMemoryBackend(cfg.Cache.MaxEntries), nil
}

// newMemoryBackend builds the in-process backend. Token revocations share it
// with cached reads, so they are pinned outside the size cap.
func newMemoryBackend(maxEntries int) *cache.MemoryBackend {
	return cache.NewMemoryBackend(maxEntries, cache.WithPinnedPrefix(auth.BlacklistPrefix))
}

// New creates a new Gateway instance with the given configuration.
// An unreachable store or cache backend is fatal.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	s, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	backend, err := initCache(ctx, cfg)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	gw, err := newGateway(cfg, s, backend, logger)
	if err != nil {
		_ = backend.Close()
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// newGateway assembles a Gateway around an already opened store and backend.
func newGateway(cfg *config.Config, s store.Store, backend cache.Backend, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	uploader, err := blob.NewDiskUploader(cfg.Uploads.Dir, cfg.Uploads.BaseURL, cfg.Messages.MaxImageBytes, logger)
	if err != nil {
		return nil, fmt.Errorf("creating uploader: %w", err)
	}

	layer := cache.NewLayer(backend, logger,
		cache.WithUserListTTL(cfg.Cache.UserListTTL),
		cache.WithConversationTTL(cfg.Cache.ConversationTTL),
	)

	registry := session.NewRegistry(logger)
	router := presence.NewRouter(registry, s, layer, logger)
	convService := conversation.New(s, layer, router, uploader, logger,
		conversation.WithDeleteWindow(cfg.Messages.DeleteWindow),
		conversation.WithMaxTextLength(cfg.Messages.MaxTextLength),
	)

	blacklist := auth.NewBlacklist(backend)

	gw := &Gateway{
		config:       cfg,
		store:        s,
		backend:      backend,
		cache:        layer,
		registry:     registry,
		router:       router,
		conversation: convService,
		auth:         auth.NewAuthenticator(s, verifier, blacklist, logger),
		blacklist:    blacklist,
		uploader:     uploader,
		logger:       logger.With("component", "gateway"),
	}

	if cfg.RateLimit.RequestsPerSecond > 0 {
		gw.limiter = newIPRateLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst)
	}

	gw.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     gw.originAllowed,
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler builds the HTTP handler serving health, uploads, the socket, and the API.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	mux.HandleFunc("GET /socket", g.handleSocket)

	// Uploaded images are served locally when the base URL is a path on this server
	if base := strings.TrimSuffix(g.config.Uploads.BaseURL, "/"); strings.HasPrefix(base, "/") {
		fs := http.FileServer(http.Dir(g.uploader.Dir()))
		mux.Handle("GET "+base+"/", http.StripPrefix(base+"/", fs))
	}

	mux.Handle("/api/", g.rateLimit(g.apiHandler()))

	return g.accessLog(g.cors(mux))
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln until ctx is canceled, then shuts down.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests, closes every socket, and releases the
// cache backend and store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	// Hijacked websocket connections are not tracked by the HTTP server
	g.router.Close()

	if g.limiter != nil {
		g.limiter.Close()
	}

	errs = appendCloseError(errs, "cache close", g.backend.Close())
	errs = appendCloseError(errs, "store close", g.store.Close())

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

// handleReady returns 200 OK when both the store and the cache backend answer a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "dependency", "store", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	if err := g.backend.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "dependency", "cache", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("cache unavailable"))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d online, %d connections)", len(g.router.OnlineUsers()), g.router.ConnectionCount())
}
