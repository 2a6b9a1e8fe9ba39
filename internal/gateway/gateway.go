// ABOUTME: Gateway orchestrator: wires store, tools, assistant, and HTTP server.
// ABOUTME: Manages TCP or Tailscale listeners and graceful shutdown.

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/tsnet"

	"github.com/larderhq/larder-gateway/internal/actions"
	"github.com/larderhq/larder-gateway/internal/assistant"
	"github.com/larderhq/larder-gateway/internal/auth"
	"github.com/larderhq/larder-gateway/internal/chat"
	"github.com/larderhq/larder-gateway/internal/config"
	"github.com/larderhq/larder-gateway/internal/store"
	"github.com/larderhq/larder-gateway/internal/tools"
	"github.com/larderhq/larder-gateway/internal/turnguard"
)

// guardMargin is added to the turn timeout to size the turn guard TTL, so
// the safety sweep only fires on genuinely abandoned turns.
const guardMargin = time.Minute

// Gateway owns the larder-gateway server components: the store, the
// assistant pipeline, and the HTTP server that fronts them.
type Gateway struct {
	config      *config.Config
	store       store.Store
	chat        *chat.Service
	actions     *actions.Service
	guard       *turnguard.Guard
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// initStore creates the store from config, honoring the LARDER_DB_PATH
// environment override.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("LARDER_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a Gateway from configuration: store, tool registry and
// router, assistant provider, turn guard, and the HTTP route table.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry(logger.With("component", "tools"))
	kitchen, err := tools.KitchenPack(s)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("building kitchen pack: %w", err)
	}
	if err := registry.RegisterPack(kitchen); err != nil {
		s.Close()
		return nil, fmt.Errorf("registering kitchen pack: %w", err)
	}
	router := tools.NewRouter(tools.RouterConfig{
		Registry: registry,
		Logger:   logger.With("component", "tools"),
	})

	provider, err := assistant.New(cfg.Assistant, router, logger.With("component", "assistant"))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating assistant provider: %w", err)
	}
	logger.Info("assistant provider ready", "provider", cfg.Assistant.Provider)

	guard := turnguard.New(cfg.Assistant.TurnTimeout + guardMargin)

	gw := &Gateway{
		config: cfg,
		store:  s,
		guard:  guard,
		logger: logger.With("component", "gateway"),
	}
	gw.chat = chat.NewService(chat.ServiceConfig{
		Store:       s,
		Provider:    provider,
		Guard:       guard,
		Logger:      logger.With("component", "chat"),
		TurnTimeout: cfg.Assistant.TurnTimeout,
	})
	gw.actions = actions.NewService(actions.ServiceConfig{
		Store:  s,
		Logger: logger.With("component", "actions"),
	})

	mux := http.NewServeMux()

	// Health and docs need no auth.
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)
	mux.HandleFunc("/docs", gw.handleDocs)
	mux.HandleFunc("/docs/", gw.handleDocs)

	gw.registerAPIRoutes(mux, cfg, logger)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// registerAPIRoutes mounts the /api routes behind JWT auth when a secret is
// configured, or behind the shared anonymous owner otherwise.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux, cfg *config.Config, logger *slog.Logger) {
	var middleware func(http.Handler) http.Handler
	if cfg.Auth.JWTSecret != "" {
		verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		middleware = auth.HTTPAuthMiddleware(verifier)
		logger.Info("HTTP auth middleware enabled")
	} else {
		middleware = auth.AnonymousMiddleware()
		logger.Warn("HTTP auth disabled - no jwt_secret configured")
	}

	mux.Handle("/api/conversations", middleware(http.HandlerFunc(g.handleConversations)))
	mux.Handle("/api/conversations/", middleware(http.HandlerFunc(g.handleConversationRoutes)))
	mux.Handle("/api/actions/", middleware(http.HandlerFunc(g.handleActionRoutes)))
}

// Run starts the gateway and blocks until the context is canceled or the
// server fails. Returns nil after a clean shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	listener, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := g.startServer(listener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// setupListener creates the HTTP listener: Tailscale when enabled,
// otherwise plain TCP.
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr,
			)
		}
		return g.setupTailscaleListener(ctx)
	}

	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)
	listener, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return listener, nil
}

// resolveTailscaleStateDir returns the state directory, using the default
// under the user's home when not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "larder-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener starts a tsnet node and returns the HTTP listener:
// Funnel on :443 when enabled, TLS with provisioned certs when cert files
// are configured, plain tailnet HTTP on :80 otherwise.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node",
		"hostname", tsCfg.Hostname,
		"state_dir", stateDir,
		"ephemeral", tsCfg.Ephemeral,
	)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready",
		"hostname", tsCfg.Hostname,
		"tailscale_ip", tsAddr,
		"dns_name", dnsName,
	)

	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		listener, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return listener, nil
	case tsCfg.CertFile != "" && tsCfg.KeyFile != "":
		return g.setupTailscaleTLSListener(tsCfg.CertFile, tsCfg.KeyFile)
	default:
		listener, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return listener, nil
	}
}

// setupTailscaleTLSListener serves HTTPS inside the tailnet using certs
// minted by `tailscale cert <hostname>`.
func (g *Gateway) setupTailscaleTLSListener(certFile, keyFile string) (net.Listener, error) {
	g.logger.Info("enabling HTTPS with tailscale certs on :443")

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("loading tailscale cert: %w", err)
	}

	listener, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	return tls.NewListener(listener, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}), nil
}

// startServer starts the HTTP server in a goroutine, returning its error
// channel.
func (g *Gateway) startServer(listener net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", listener.Addr().String())
		if err := g.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or a server error.
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

// gracefulShutdown shuts down with a fresh context because the run context
// is already canceled by the time shutdown starts.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends a labeled error when err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, the tailscale node, the turn guard, and
// the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}

	g.guard.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK while the process is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// readinessProbeOwner scopes the readiness query to an owner no real
// request can collide with.
const readinessProbeOwner = "readiness-probe"

// handleReady returns 200 OK when the database answers queries.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, _, _, err := g.store.ListConversations(ctx, readinessProbeOwner, 1, 0); err != nil {
		g.logger.Error("readiness probe failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
