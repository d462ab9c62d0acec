package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/quickdesk/quickdesk/internal/gateway"
	"github.com/quickdesk/quickdesk/internal/stream"
	"github.com/quickdesk/quickdesk/internal/web/sse"
	"github.com/quickdesk/quickdesk/internal/workspace"
)

// WorkspaceStore is the slice of the workspace store the handler needs.
type WorkspaceStore interface {
	Create(ctx context.Context, tenantID, name, owner string) (workspace.Workspace, error)
	Get(ctx context.Context, id uuid.UUID) (workspace.Workspace, error)
	List(ctx context.Context, tenantID string) ([]workspace.Workspace, error)
	Delete(ctx context.Context, id uuid.UUID) error
	AddFile(ctx context.Context, f workspace.File) (workspace.File, error)
	ListFiles(ctx context.Context, workspaceID uuid.UUID) ([]workspace.File, error)
	DeleteFile(ctx context.Context, id uuid.UUID) error
	BuildContext(ctx context.Context, workspaceID uuid.UUID) (gateway.Context, error)
}

// ChatGateway is the generation slice used by the workspace chat route.
type ChatGateway interface {
	Generate(ctx context.Context, ep gateway.Endpoint, req gateway.GenerateRequest) (io.ReadCloser, error)
}

// Workspaces serves workspace and workspace file management, plus the
// workspace AI chat stream.
type Workspaces struct {
	store   WorkspaceStore
	gateway ChatGateway
	logger  *slog.Logger
}

// NewWorkspaces creates the workspace handler. gw may be nil, which
// disables the chat route.
func NewWorkspaces(store WorkspaceStore, gw ChatGateway, logger *slog.Logger) (*Workspaces, error) {
	if store == nil {
		return nil, errors.New("workspace store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Workspaces{store: store, gateway: gw, logger: logger}, nil
}

// RegisterRoutes registers the workspace routes.
func (h *Workspaces) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/workspaces", h.create)
	mux.HandleFunc("GET /api/workspaces", h.list)
	mux.HandleFunc("GET /api/workspaces/{id}", h.get)
	mux.HandleFunc("DELETE /api/workspaces/{id}", h.delete)
	mux.HandleFunc("POST /api/workspaces/{id}/files", h.addFile)
	mux.HandleFunc("GET /api/workspaces/{id}/files", h.listFiles)
	mux.HandleFunc("DELETE /api/workspaces/{id}/files/{fileID}", h.deleteFile)
	if h.gateway != nil {
		mux.HandleFunc("POST /api/workspaces/{id}/chat", h.chat)
	}
}

// resolve loads the workspace named in the path and enforces tenant
// ownership.
func (h *Workspaces) resolve(w http.ResponseWriter, r *http.Request) (workspace.Workspace, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid workspace id")
		return workspace.Workspace{}, false
	}
	ws, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, workspace.ErrNotFound) {
			respondError(w, http.StatusNotFound, "workspace not found")
			return workspace.Workspace{}, false
		}
		h.logger.Error("workspace lookup failed", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "could not load workspace")
		return workspace.Workspace{}, false
	}
	if ws.TenantID != tenantID(r) {
		respondError(w, http.StatusNotFound, "workspace not found")
		return workspace.Workspace{}, false
	}
	return ws, true
}

func (h *Workspaces) create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "workspace name is required")
		return
	}

	ws, err := h.store.Create(r.Context(), tenantID(r), req.Name, userID(r))
	if err != nil {
		h.logger.Error("workspace creation failed", "error", err)
		respondError(w, http.StatusInternalServerError, "could not create workspace")
		return
	}
	respondJSON(w, http.StatusCreated, ws)
}

func (h *Workspaces) list(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.List(r.Context(), tenantID(r))
	if err != nil {
		h.logger.Error("workspace list failed", "error", err)
		respondError(w, http.StatusInternalServerError, "could not list workspaces")
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *Workspaces) get(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.resolve(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, ws)
}

func (h *Workspaces) delete(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.resolve(w, r)
	if !ok {
		return
	}
	if err := h.store.Delete(r.Context(), ws.ID); err != nil {
		h.logger.Error("workspace deletion failed", "id", ws.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "could not delete workspace")
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (h *Workspaces) addFile(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.resolve(w, r)
	if !ok {
		return
	}
	var req struct {
		Kind      string `json:"kind"`
		Name      string `json:"name"`
		SizeBytes int64  `json:"size_bytes"`
		Content   string `json:"content"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	f, err := h.store.AddFile(r.Context(), workspace.File{
		WorkspaceID: ws.ID,
		Kind:        req.Kind,
		Name:        req.Name,
		SizeBytes:   req.SizeBytes,
		Content:     req.Content,
	})
	if err != nil {
		// Kind and name validation happen in the store.
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, f)
}

func (h *Workspaces) listFiles(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.resolve(w, r)
	if !ok {
		return
	}
	files, err := h.store.ListFiles(r.Context(), ws.ID)
	if err != nil {
		h.logger.Error("file list failed", "workspace_id", ws.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "could not list files")
		return
	}
	respondJSON(w, http.StatusOK, files)
}

// chat streams an AI conversation grounded in the workspace's files.
// Deltas go out as SSE events carrying the accumulated text; a stream
// failure keeps whatever was already delivered.
func (h *Workspaces) chat(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.resolve(w, r)
	if !ok {
		return
	}
	var req struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	gc, err := h.store.BuildContext(r.Context(), ws.ID)
	if err != nil {
		h.logger.Error("context build failed", "workspace_id", ws.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "could not build workspace context")
		return
	}

	body, err := h.gateway.Generate(r.Context(), gateway.EndpointWorkspaceChat, gateway.GenerateRequest{
		WorkspaceID: ws.ID.String(),
		Query:       req.Message,
		Context:     gc,
	})
	if err != nil {
		respondError(w, http.StatusBadGateway, gateway.UserMessage(err))
		return
	}
	defer func() { _ = body.Close() }()

	writer, err := sse.NewWriter(w)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	type chatDelta struct {
		Content string `json:"content"`
	}
	asm := stream.NewAssembler(stream.WithLogger(h.logger))
	final, err := asm.Run(r.Context(), body, func(total string) error {
		return writer.WriteJSON(r.Context(), "delta", chatDelta{Content: total})
	})
	if err != nil {
		h.logger.Warn("workspace chat stream failed", "workspace_id", ws.ID, "error", err)
		_ = writer.WriteJSON(r.Context(), "error", errorBody{Error: "the stream was interrupted, output above is kept"})
		return
	}
	_ = writer.WriteJSON(r.Context(), "done", chatDelta{Content: final})
}

func (h *Workspaces) deleteFile(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.resolve(w, r); !ok {
		return
	}
	fileID, err := uuid.Parse(r.PathValue("fileID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid file id")
		return
	}
	if err := h.store.DeleteFile(r.Context(), fileID); err != nil {
		if errors.Is(err, workspace.ErrNotFound) {
			respondError(w, http.StatusNotFound, "file not found")
			return
		}
		h.logger.Error("file deletion failed", "id", fileID, "error", err)
		respondError(w, http.StatusInternalServerError, "could not delete file")
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}
