package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/quickdesk/quickdesk/internal/history"
)

// HistoryStore is the slice of the history store the handler needs.
type HistoryStore interface {
	List(ctx context.Context, f history.Filter) ([]history.Entry, error)
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}

// History serves the local generation history.
type History struct {
	store  HistoryStore
	logger *slog.Logger
}

// NewHistory creates the history handler.
func NewHistory(store HistoryStore, logger *slog.Logger) (*History, error) {
	if store == nil {
		return nil, errors.New("history store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &History{store: store, logger: logger}, nil
}

// RegisterRoutes registers the history routes.
func (h *History) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/history", h.list)
	mux.HandleFunc("DELETE /api/history", h.purge)
}

func (h *History) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := history.Filter{
		WorkspaceID: q.Get("workspace_id"),
		Kind:        q.Get("kind"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	entries, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("history list failed", "error", err)
		respondError(w, http.StatusInternalServerError, "could not read history")
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

// purge removes entries older than the given number of days
// (older_than_days, default 30).
func (h *History) purge(w http.ResponseWriter, r *http.Request) {
	days := 30
	if v := r.URL.Query().Get("older_than_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid older_than_days")
			return
		}
		days = n
	}

	removed, err := h.store.Purge(r.Context(), time.Now().AddDate(0, 0, -days))
	if err != nil {
		h.logger.Error("history purge failed", "error", err)
		respondError(w, http.StatusInternalServerError, "could not purge history")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}
