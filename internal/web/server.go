// Package web provides the QuickDesk HTTP server: the wizard session
// API, the Jira and history surfaces, workspace management, team
// conversations, and the Teams integration.
package web

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/quickdesk/quickdesk/internal/web/handlers"
)

// Server is the QuickDesk HTTP server.
type Server struct {
	handler http.Handler
	logger  *slog.Logger
}

// ServerConfig contains everything the server routes to.
type ServerConfig struct {
	Logger *slog.Logger

	// APIToken protects every route except the health probes. Required.
	APIToken string

	// CORSOrigins lists allowed browser origins. "*" allows all.
	CORSOrigins []string

	// TrustProxy honors X-Forwarded-For for rate limiting.
	TrustProxy bool

	// RateBurst is the per-client token bucket size. Requests refill at
	// one fifth of the burst per second.
	RateBurst int

	Wizards       *handlers.Wizards
	Jira          *handlers.Jira
	History       *handlers.History
	Workspaces    *handlers.Workspaces
	Conversations *handlers.Conversations
	Teams         *handlers.Teams
	Health        *handlers.Health
}

// NewServer creates the server with all routes configured. Handlers
// may be nil; their routes are simply not registered, so a deployment
// without Jira credentials still serves the generator wizards.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.APIToken == "" {
		return nil, errors.New("API token is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 60
	}

	mux := http.NewServeMux()

	if cfg.Health != nil {
		cfg.Health.RegisterRoutes(mux)
	}
	if cfg.Wizards != nil {
		cfg.Wizards.RegisterRoutes(mux)
	}
	if cfg.Jira != nil {
		cfg.Jira.RegisterRoutes(mux)
	}
	if cfg.History != nil {
		cfg.History.RegisterRoutes(mux)
	}
	if cfg.Workspaces != nil {
		cfg.Workspaces.RegisterRoutes(mux)
	}
	if cfg.Conversations != nil {
		cfg.Conversations.RegisterRoutes(mux)
	}
	if cfg.Teams != nil {
		cfg.Teams.RegisterRoutes(mux)
	}

	// Middleware stack, outermost first:
	// Recovery, RequestID, Logging, CORS, RateLimit, Auth, routes.
	var h http.Handler = mux
	h = AuthMiddleware(cfg.APIToken)(h)
	h = RateLimitMiddleware(float64(cfg.RateBurst)/5, cfg.RateBurst, cfg.TrustProxy)(h)
	h = CORSMiddleware(cfg.CORSOrigins)(h)
	h = LoggingMiddleware(cfg.Logger)(h)
	h = RequestIDMiddleware(h)
	h = RecoveryMiddleware(cfg.Logger)(h)

	return &Server{handler: h, logger: cfg.Logger}, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
