// ABOUTME: Gateway orchestrator that wires the store, token codec and license services to HTTP
// ABOUTME: Manages the HTTP server, the expiry sweeper and health endpoints lifecycle

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/2389/license-gateway/internal/auth"
	"github.com/2389/license-gateway/internal/config"
	"github.com/2389/license-gateway/internal/entitlement"
	"github.com/2389/license-gateway/internal/obs"
	"github.com/2389/license-gateway/internal/session"
	"github.com/2389/license-gateway/internal/store"
	"github.com/2389/license-gateway/internal/tenant"
)

// Gateway owns every long-lived component of the license gateway.
type Gateway struct {
	config     *config.Config
	store      store.Store
	codec      *auth.TokenCodec
	authn      *auth.Authenticator
	policy     *auth.Policy
	sessions   *session.Issuer
	denylist   session.Denylist
	cookie     session.Cookie
	resolver   *entitlement.Resolver
	licenses   *entitlement.Manager
	quota      *entitlement.Accountant
	tenants    *tenant.Service
	sweeper    *entitlement.Sweeper
	limiter    *loginLimiter
	httpServer *http.Server
	logger     *slog.Logger

	// sweeperCancel stops the sweeper goroutine; sweeperWG waits for it
	sweeperCancel context.CancelFunc
	sweeperWG     sync.WaitGroup
}

// OpenStore opens the store selected by the database config.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		s, err := store.OpenPostgresStore(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("initializing postgres store: %w", err)
		}
		return s, nil
	case "", "sqlite":
		s, err := store.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("initializing sqlite store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// openDenylist connects to Redis when an address is configured.
func openDenylist(ctx context.Context, cfg config.RedisConfig) (session.Denylist, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	d, err := session.OpenRedisDenylist(ctx, cfg.Addr, cfg.Password, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("initializing refresh denylist: %w", err)
	}
	return d, nil
}

// New creates a gateway, opening the store and the optional Redis denylist.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	denylist, err := openDenylist(ctx, cfg.Redis)
	if err != nil {
		s.Close()
		return nil, err
	}

	gw, err := NewWithStore(cfg, s, denylist, logger)
	if err != nil {
		s.Close()
		closeDenylist(denylist)
		return nil, err
	}
	return gw, nil
}

// NewWithStore creates a gateway over an already opened store. denylist may be nil.
func NewWithStore(cfg *config.Config, s store.Store, denylist session.Denylist, logger *slog.Logger) (*Gateway, error) {
	codec, err := auth.NewTokenCodec([]byte(cfg.Auth.JWTSecret), auth.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		return nil, fmt.Errorf("creating token codec: %w", err)
	}

	sameSite, err := session.ParseSameSite(cfg.Cookie.SameSite)
	if err != nil {
		return nil, err
	}

	licenses := entitlement.NewManager(s, s, s, logger)
	gw := &Gateway{
		config: cfg,
		store:  s,
		codec:  codec,
		authn:  auth.NewAuthenticator(s, logger),
		policy: auth.NewPolicy(s),
		sessions: session.NewIssuer(codec, s, denylist, session.Config{
			AccessTTL:  cfg.Auth.AccessTTL,
			RefreshTTL: cfg.Auth.RefreshTTL,
			SuperEmail: cfg.Auth.SuperEmail,
		}, logger),
		denylist: denylist,
		cookie: session.Cookie{
			Name:     cfg.Cookie.Name,
			Domain:   cfg.Cookie.Domain,
			Path:     cfg.Cookie.Path,
			Secure:   cfg.Cookie.Secure,
			SameSite: sameSite,
		},
		resolver: entitlement.NewResolver(s, logger),
		licenses: licenses,
		quota:    entitlement.NewAccountant(s, logger),
		tenants:  tenant.NewService(s, logger),
		limiter:  newLoginLimiter(cfg.RateLimit.LoginRPS, cfg.RateLimit.LoginBurst),
		logger:   logger.With("component", "gateway"),
	}
	if cfg.Licenses.SweepInterval > 0 {
		gw.sweeper = entitlement.NewSweeper(licenses, cfg.Licenses.SweepInterval, logger)
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the fully wrapped HTTP handler.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	g.registerRoutes(mux)

	var h http.Handler = mux
	h = logRequests(g.logger, h)
	if g.config.Metrics.Enabled {
		obs.Register()
		h = obs.Instrument(h)
	}
	return requestID(h)
}

// startServer starts the HTTP server in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	return errCh
}

// startSweeper runs the expiry sweeper until Shutdown.
func (g *Gateway) startSweeper() {
	if g.sweeper == nil {
		g.logger.Info("license sweeper disabled")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	g.sweeperCancel = cancel
	g.sweeperWG.Add(1)
	go func() {
		defer g.sweeperWG.Done()
		g.sweeper.Run(ctx)
	}()
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the HTTP server and the sweeper and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := g.startServer(ln)
	g.startSweeper()
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout,
// since the run context is already canceled.
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

func closeDenylist(d session.Denylist) error {
	if c, ok := d.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// Shutdown stops the HTTP server and the sweeper, then closes the store and denylist.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.sweeperCancel != nil {
		g.sweeperCancel()
		g.sweeperWG.Wait()
	}

	errs = appendCloseError(errs, "store close", g.store.Close())
	errs = appendCloseError(errs, "denylist close", closeDenylist(g.denylist))

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// pinger is implemented by dependencies the readiness check probes.
type pinger interface {
	Ping(ctx context.Context) error
}

// handleReady returns 200 OK when the store and the denylist respond.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness: store unavailable", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	if p, ok := g.denylist.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			g.logger.Warn("readiness: denylist unavailable", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("denylist unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
