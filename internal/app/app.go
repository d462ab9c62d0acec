// Package app wires the application together: database pool, stores,
// external clients, wizard factories, and the HTTP server.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quickdesk/quickdesk/internal/config"
	"github.com/quickdesk/quickdesk/internal/conversation"
	"github.com/quickdesk/quickdesk/internal/gateway"
	"github.com/quickdesk/quickdesk/internal/generator"
	"github.com/quickdesk/quickdesk/internal/graph"
	"github.com/quickdesk/quickdesk/internal/history"
	"github.com/quickdesk/quickdesk/internal/jira"
	"github.com/quickdesk/quickdesk/internal/messaging"
	"github.com/quickdesk/quickdesk/internal/ticket"
	"github.com/quickdesk/quickdesk/internal/web"
	"github.com/quickdesk/quickdesk/internal/web/handlers"
	"github.com/quickdesk/quickdesk/internal/workspace"
)

// App is the assembled application.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Pool       *pgxpool.Pool
	Hub        *messaging.Hub
	History    *history.Store
	Workspaces *workspace.Store
	Messaging  *messaging.Store
	Jira       *jira.Client
	Gateway    *gateway.Client
	Server     *web.Server
}

// Setup builds the application from configuration. Everything that can
// fail at startup fails here, before the server accepts traffic.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	hub := messaging.NewHub(logger)

	messagingStore, err := messaging.NewStore(pool, hub, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating messaging store: %w", err)
	}
	workspaceStore, err := workspace.NewStore(pool, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating workspace store: %w", err)
	}
	connStore, err := graph.NewConnectionStore(pool, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating teams connection store: %w", err)
	}

	historyStore, err := history.Open(cfg.DataDir, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("opening history store: %w", err)
	}

	jiraClient := jira.NewClient(
		cfg.Jira.BaseURL, cfg.Jira.Email, cfg.Jira.APIToken, cfg.Jira.ProjectKey,
		jira.WithBoardID(cfg.Jira.BoardID),
		jira.WithLogger(logger),
	)
	gatewayClient := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey,
		gateway.WithLogger(logger))
	graphClient := graph.NewClient(graph.Config{
		TenantID:     cfg.Graph.TenantID,
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
		RedirectURI:  cfg.Graph.RedirectURI,
	}, graph.WithLogger(logger))

	syncer, err := graph.NewSyncer(graphClient, connStore, messagingStore, logger)
	if err != nil {
		closeStores(pool, historyStore)
		return nil, fmt.Errorf("creating teams syncer: %w", err)
	}
	teamsService, err := graph.NewService(graphClient, connStore, syncer, logger)
	if err != nil {
		closeStores(pool, historyStore)
		return nil, fmt.Errorf("creating teams service: %w", err)
	}

	wizards, err := handlers.NewWizards(handlers.WizardsConfig{
		Logger: logger,
		NewTicket: func(t *conversation.Transcript) (handlers.Driver, error) {
			return ticket.NewWizard(ticket.Config{
				Jira:       jiraClient,
				Transcript: t,
				Logger:     logger,
			})
		},
		NewGenerator: func(kind generator.Kind, tenantID string, t *conversation.Transcript) (handlers.Driver, error) {
			return generator.NewWizard(generator.Config{
				Kind:       kind,
				TenantID:   tenantID,
				Gateway:    gatewayClient,
				Workspaces: workspaceStore,
				History:    historyStore,
				Transcript: t,
				Logger:     logger,
			})
		},
	})
	if err != nil {
		closeStores(pool, historyStore)
		return nil, fmt.Errorf("creating wizard handler: %w", err)
	}

	jiraHandler, err := handlers.NewJira(jiraClient, logger)
	if err != nil {
		closeStores(pool, historyStore)
		return nil, err
	}
	historyHandler, err := handlers.NewHistory(historyStore, logger)
	if err != nil {
		closeStores(pool, historyStore)
		return nil, err
	}
	workspaceHandler, err := handlers.NewWorkspaces(workspaceStore, gatewayClient, logger)
	if err != nil {
		closeStores(pool, historyStore)
		return nil, err
	}
	conversationHandler, err := handlers.NewConversations(messagingStore, hub, logger)
	if err != nil {
		closeStores(pool, historyStore)
		return nil, err
	}
	teamsHandler, err := handlers.NewTeams(teamsService, logger)
	if err != nil {
		closeStores(pool, historyStore)
		return nil, err
	}

	server, err := web.NewServer(web.ServerConfig{
		Logger:        logger,
		APIToken:      cfg.APIToken,
		CORSOrigins:   cfg.CORSOrigins,
		TrustProxy:    cfg.TrustProxy,
		RateBurst:     cfg.RateBurst,
		Wizards:       wizards,
		Jira:          jiraHandler,
		History:       historyHandler,
		Workspaces:    workspaceHandler,
		Conversations: conversationHandler,
		Teams:         teamsHandler,
		Health:        handlers.NewHealth(pool),
	})
	if err != nil {
		closeStores(pool, historyStore)
		return nil, fmt.Errorf("creating HTTP server: %w", err)
	}

	return &App{
		Config:     cfg,
		Logger:     logger,
		Pool:       pool,
		Hub:        hub,
		History:    historyStore,
		Workspaces: workspaceStore,
		Messaging:  messagingStore,
		Jira:       jiraClient,
		Gateway:    gatewayClient,
		Server:     server,
	}, nil
}

func closeStores(pool *pgxpool.Pool, hist *history.Store) {
	pool.Close()
	_ = hist.Close()
}

// Close releases everything Setup acquired.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")

	a.Hub.Close()
	err := a.History.Close()
	a.Pool.Close()
	if err != nil {
		return fmt.Errorf("closing history store: %w", err)
	}
	return nil
}
