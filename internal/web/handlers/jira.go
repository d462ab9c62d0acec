package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/quickdesk/quickdesk/internal/jira"
)

// JiraAPI is the slice of the Jira client the handler needs.
type JiraAPI interface {
	Metadata(ctx context.Context) (jira.Metadata, error)
	MyTickets(ctx context.Context, filter jira.Filter) (jira.TicketPage, error)
}

// Jira serves project metadata and the caller's ticket list.
type Jira struct {
	client JiraAPI
	logger *slog.Logger
}

// NewJira creates the Jira handler.
func NewJira(client JiraAPI, logger *slog.Logger) (*Jira, error) {
	if client == nil {
		return nil, errors.New("jira client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Jira{client: client, logger: logger}, nil
}

// RegisterRoutes registers the Jira routes.
func (h *Jira) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/jira/metadata", h.metadata)
	mux.HandleFunc("GET /api/jira/my-tickets", h.myTickets)
}

func (h *Jira) metadata(w http.ResponseWriter, r *http.Request) {
	meta, err := h.client.Metadata(r.Context())
	if err != nil {
		h.logger.Error("metadata fetch failed", "error", err)
		respondError(w, http.StatusBadGateway, "Jira is unavailable")
		return
	}
	respondJSON(w, http.StatusOK, meta)
}

func (h *Jira) myTickets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := jira.Filter{
		IssueType:   q.Get("issue_type"),
		Status:      q.Get("status"),
		SearchQuery: q.Get("search"),
	}
	if v := q.Get("max_results"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "invalid max_results")
			return
		}
		filter.MaxResults = n
	}
	if v := q.Get("start_at"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid start_at")
			return
		}
		filter.StartAt = n
	}

	page, err := h.client.MyTickets(r.Context(), filter)
	if err != nil {
		if errors.Is(err, jira.ErrUnauthorized) {
			respondError(w, http.StatusBadGateway, "Jira rejected the configured credentials")
			return
		}
		h.logger.Error("ticket list failed", "error", err)
		respondError(w, http.StatusBadGateway, "Jira is unavailable")
		return
	}
	respondJSON(w, http.StatusOK, page)
}
