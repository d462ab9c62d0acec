package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/quickdesk/quickdesk/internal/graph"
)

// TeamsService is the Teams integration surface the handler exposes.
type TeamsService interface {
	Connect(ctx context.Context, tenantID, userID, code string) (graph.Connection, error)
	Sync(ctx context.Context, tenantID, userID string) (graph.Result, error)
	Connection(ctx context.Context, tenantID, userID string) (graph.Connection, error)
	Disconnect(ctx context.Context, tenantID, userID string) error
}

// Teams serves the Microsoft Teams connection lifecycle.
type Teams struct {
	service TeamsService
	logger  *slog.Logger
}

// NewTeams creates the Teams handler.
func NewTeams(service TeamsService, logger *slog.Logger) (*Teams, error) {
	if service == nil {
		return nil, errors.New("teams service is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Teams{service: service, logger: logger}, nil
}

// RegisterRoutes registers the Teams routes.
func (h *Teams) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/teams/connect", h.connect)
	mux.HandleFunc("POST /api/teams/sync", h.sync)
	mux.HandleFunc("GET /api/teams/connection", h.connection)
	mux.HandleFunc("DELETE /api/teams/connection", h.disconnect)
}

// requireUser enforces the user header; connections are per-user.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := userID(r)
	if user == "" {
		respondError(w, http.StatusBadRequest, "X-User-ID header is required")
		return "", false
	}
	return user, true
}

func (h *Teams) connect(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" {
		respondError(w, http.StatusBadRequest, "authorization code is required")
		return
	}

	conn, err := h.service.Connect(r.Context(), tenantID(r), user, req.Code)
	if err != nil {
		if errors.Is(err, graph.ErrTokenRejected) {
			respondError(w, http.StatusUnprocessableEntity, "Microsoft rejected the authorization code")
			return
		}
		h.logger.Error("teams connect failed", "user", user, "error", err)
		respondError(w, http.StatusBadGateway, "could not establish Teams connection")
		return
	}
	respondJSON(w, http.StatusCreated, conn)
}

func (h *Teams) sync(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	result, err := h.service.Sync(r.Context(), tenantID(r), user)
	if err != nil {
		switch {
		case errors.Is(err, graph.ErrConnectionNotFound):
			respondError(w, http.StatusNotFound, "no Teams connection for this user")
		case errors.Is(err, graph.ErrUnauthorized), errors.Is(err, graph.ErrTokenRejected):
			respondError(w, http.StatusBadGateway, "Teams credentials are no longer valid, reconnect to continue")
		default:
			h.logger.Error("teams sync failed", "user", user, "error", err)
			respondError(w, http.StatusBadGateway, "Teams sync failed")
		}
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Teams) connection(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	conn, err := h.service.Connection(r.Context(), tenantID(r), user)
	if err != nil {
		if errors.Is(err, graph.ErrConnectionNotFound) {
			respondError(w, http.StatusNotFound, "no Teams connection for this user")
			return
		}
		h.logger.Error("teams connection lookup failed", "user", user, "error", err)
		respondError(w, http.StatusInternalServerError, "could not load Teams connection")
		return
	}
	respondJSON(w, http.StatusOK, conn)
}

func (h *Teams) disconnect(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.service.Disconnect(r.Context(), tenantID(r), user); err != nil {
		if errors.Is(err, graph.ErrConnectionNotFound) {
			respondError(w, http.StatusNotFound, "no Teams connection for this user")
			return
		}
		h.logger.Error("teams disconnect failed", "user", user, "error", err)
		respondError(w, http.StatusInternalServerError, "could not remove Teams connection")
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}
