// Package server provides the public entry point for assembling the context
// plane: storage backend, versioned store, notifier, webhook forwarding,
// tool runtime, orchestrator, retention janitor and the HTTP handler.
//
// This package lives in pkg/ (not internal/) so embedders can compose the
// server and wrap its handler with their own middleware.
//
// Usage:
//
//	cfg, _ := config.Load()
//	srv, err := server.New(ctx, cfg)
//	defer srv.Close(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/agentoven/agentoven/context-plane/internal/api"
	"github.com/agentoven/agentoven/context-plane/internal/api/handlers"
	"github.com/agentoven/agentoven/context-plane/internal/config"
	"github.com/agentoven/agentoven/context-plane/internal/mcpserver"
	"github.com/agentoven/agentoven/context-plane/internal/metrics"
	"github.com/agentoven/agentoven/context-plane/internal/notify"
	"github.com/agentoven/agentoven/context-plane/internal/orchestrator"
	"github.com/agentoven/agentoven/context-plane/internal/retention"
	"github.com/agentoven/agentoven/context-plane/internal/store"
	"github.com/agentoven/agentoven/context-plane/internal/telemetry"
	"github.com/agentoven/agentoven/context-plane/internal/tools"
	"github.com/agentoven/agentoven/context-plane/pkg/contracts"
	mcpsrv "github.com/mark3labs/mcp-go/server"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized context plane.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	Store        *store.ContextStore
	Orchestrator contracts.OrchestratorService
	Tools        *tools.Registry
	Metrics      *metrics.Metrics

	// Janitor is nil when retention is disabled.
	Janitor *retention.Janitor

	Config *config.Config

	notifier  *notify.Notifier
	webhooks  *notify.WebhookForwarder
	remote    *tools.MCPCapability
	telemetry telemetry.Shutdown
}

// New initializes every component described by cfg and returns a ready
// Server. Components that fail after the backend is open are unwound.
func New(ctx context.Context, cfg *config.Config) (_ *Server, err error) {
	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Version,
		telemetry.AttrStorageDriver.String(cfg.Storage.Driver),
	)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	srv := &Server{
		Config:    cfg,
		Metrics:   metrics.New(),
		telemetry: shutdown,
	}
	defer func() {
		if err != nil {
			srv.Close(context.Background())
		}
	}()

	backend, err := store.OpenBackend(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Storage.Driver, err)
	}
	notifier := notify.New(
		notify.WithMaxBacklog(cfg.Notify.MaxBacklog),
		notify.WithMetrics(srv.Metrics),
	)
	srv.notifier = notifier
	srv.Store = store.New(backend,
		store.WithNotifier(notifier),
		store.WithMetrics(srv.Metrics),
	)
	log.Info().Str("driver", cfg.Storage.Driver).Msg("✅ Context store initialized")

	if len(cfg.Notify.WebhookURLs) > 0 {
		srv.webhooks = notify.NewWebhookForwarder(notify.WebhookConfig{
			URLs:       cfg.Notify.WebhookURLs,
			Secret:     cfg.Notify.WebhookSecret,
			Events:     cfg.Notify.WebhookEvents,
			Timeout:    cfg.Notify.WebhookTimeout,
			MaxRetries: uint64(max(cfg.Notify.WebhookRetries, 0)),
		})
		srv.webhooks.Attach(notifier)
		log.Info().Int("urls", len(cfg.Notify.WebhookURLs)).Msg("✅ Webhook forwarding enabled")
	}

	srv.Tools = tools.NewRegistry()
	if cfg.Tools.MCPEndpoint != "" {
		srv.remote, err = tools.DialMCP(ctx, cfg.Tools.MCPEndpoint, cfg.Tools.MCPTimeout)
		if err != nil {
			return nil, fmt.Errorf("connect tool server %s: %w", cfg.Tools.MCPEndpoint, err)
		}
		srv.Tools.SetFallback(srv.remote)
		log.Info().Str("endpoint", cfg.Tools.MCPEndpoint).Msg("✅ MCP tool runtime connected")
	}

	srv.Orchestrator = orchestrator.New(srv.Store, srv.Tools,
		orchestrator.WithConflictRetries(cfg.Orchestrator.ConflictRetries),
		orchestrator.WithMetrics(srv.Metrics),
	)

	if cfg.Retention.Enabled {
		var opts []retention.Option
		if cfg.Retention.ArchiveDir != "" {
			archiver := retention.NewLocalFileArchiver(cfg.Retention.ArchiveDir, cfg.Retention.Gzip)
			if err := archiver.HealthCheck(ctx); err != nil {
				return nil, err
			}
			opts = append(opts, retention.WithArchiver(archiver))
		}
		srv.Janitor, err = retention.NewJanitor(srv.Store, cfg.Retention.TTL, cfg.Retention.Schedule, opts...)
		if err != nil {
			return nil, err
		}
	}

	srv.Handler = api.NewRouter(cfg, handlers.New(srv.Store, srv.Orchestrator), srv.Metrics)
	return srv, nil
}

// MCP returns an MCP server exposing the store and orchestrator as tools.
func (s *Server) MCP() *mcpsrv.MCPServer {
	return mcpserver.New(s.Store, s.Orchestrator, s.Config.Version)
}

// Run starts background work (the retention janitor) and blocks until ctx
// is canceled.
func (s *Server) Run(ctx context.Context) {
	if s.Janitor == nil {
		<-ctx.Done()
		return
	}
	s.Janitor.Start(ctx)
}

// Close releases everything New acquired, in reverse order.
func (s *Server) Close(ctx context.Context) error {
	var errs []error
	if s.remote != nil {
		errs = append(errs, s.remote.Close())
	}
	if s.webhooks != nil {
		s.webhooks.Close()
	}
	if s.Store != nil {
		errs = append(errs, s.Store.Close())
	}
	if s.notifier != nil {
		s.notifier.Close()
	}
	if s.telemetry != nil {
		errs = append(errs, s.telemetry(ctx))
	}
	return errors.Join(errs...)
}
