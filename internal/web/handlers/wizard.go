package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quickdesk/quickdesk/internal/conversation"
	"github.com/quickdesk/quickdesk/internal/flow"
	"github.com/quickdesk/quickdesk/internal/generator"
	"github.com/quickdesk/quickdesk/internal/web/sse"
)

// Driver is the wizard surface the session handler drives. Both the
// ticket wizard and the generator wizards satisfy it.
type Driver interface {
	Start(ctx context.Context)
	Reset(ctx context.Context)
	HandleInput(ctx context.Context, text string) error
	HandleOption(ctx context.Context, opt conversation.Option) error
	Phase() flow.Phase
}

// generatorKinds maps session kinds to generator wizards. "ticket" is
// handled separately.
var generatorKinds = map[string]generator.Kind{
	"scenario": generator.KindScenario,
	"testcase": generator.KindTestCase,
	"xpath":    generator.KindXPath,
	"code":     generator.KindCode,
}

// session is one live wizard conversation.
type session struct {
	id         uuid.UUID
	kind       string
	tenantID   string
	transcript *conversation.Transcript
	driver     Driver
	bus        *bus

	mu       sync.Mutex
	lastSeen time.Time
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// sessionIdleAge is how long an untouched session survives. Expired
// sessions are swept when new ones are created.
const sessionIdleAge = 2 * time.Hour

// heartbeatInterval keeps idle SSE connections from being reaped by
// proxies.
const heartbeatInterval = 15 * time.Second

// WizardsConfig assembles the session handler. The factories bind a
// fresh transcript to a fresh wizard so sessions never share state.
type WizardsConfig struct {
	Logger       *slog.Logger
	NewTicket    func(t *conversation.Transcript) (Driver, error)
	NewGenerator func(kind generator.Kind, tenantID string, t *conversation.Transcript) (Driver, error)
}

// Wizards owns the live wizard sessions.
type Wizards struct {
	logger       *slog.Logger
	newTicket    func(t *conversation.Transcript) (Driver, error)
	newGenerator func(kind generator.Kind, tenantID string, t *conversation.Transcript) (Driver, error)

	mu       sync.Mutex
	sessions map[uuid.UUID]*session
}

// NewWizards creates the session handler.
func NewWizards(cfg WizardsConfig) (*Wizards, error) {
	if cfg.NewTicket == nil || cfg.NewGenerator == nil {
		return nil, errors.New("wizard factories are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Wizards{
		logger:       cfg.Logger,
		newTicket:    cfg.NewTicket,
		newGenerator: cfg.NewGenerator,
		sessions:     make(map[uuid.UUID]*session),
	}, nil
}

// RegisterRoutes registers the wizard session routes.
func (h *Wizards) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/wizard/sessions", h.create)
	mux.HandleFunc("GET /api/wizard/sessions/{id}", h.get)
	mux.HandleFunc("DELETE /api/wizard/sessions/{id}", h.delete)
	mux.HandleFunc("POST /api/wizard/sessions/{id}/input", h.input)
	mux.HandleFunc("POST /api/wizard/sessions/{id}/option", h.option)
	mux.HandleFunc("POST /api/wizard/sessions/{id}/reset", h.reset)
	mux.HandleFunc("GET /api/wizard/sessions/{id}/events", h.events)
}

type sessionState struct {
	ID       uuid.UUID              `json:"id"`
	Kind     string                 `json:"kind"`
	Phase    string                 `json:"phase"`
	Messages []conversation.Message `json:"messages"`
}

func (h *Wizards) state(s *session) sessionState {
	return sessionState{
		ID:       s.id,
		Kind:     s.kind,
		Phase:    string(s.driver.Phase()),
		Messages: s.transcript.Messages(),
	}
}

func (h *Wizards) create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind string `json:"kind"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	b := newBus()
	t := conversation.NewTranscript(b.publish)

	var (
		driver Driver
		err    error
	)
	switch {
	case req.Kind == "ticket":
		driver, err = h.newTicket(t)
	default:
		kind, ok := generatorKinds[req.Kind]
		if !ok {
			respondError(w, http.StatusBadRequest, "unknown wizard kind")
			return
		}
		driver, err = h.newGenerator(kind, tenantID(r), t)
	}
	if err != nil {
		h.logger.Error("wizard construction failed", "kind", req.Kind, "error", err)
		respondError(w, http.StatusInternalServerError, "could not start wizard")
		return
	}

	s := &session{
		id:         uuid.New(),
		kind:       req.Kind,
		tenantID:   tenantID(r),
		transcript: t,
		driver:     driver,
		bus:        b,
		lastSeen:   time.Now(),
	}
	s.driver.Start(r.Context())

	h.mu.Lock()
	h.sweepLocked()
	h.sessions[s.id] = s
	h.mu.Unlock()

	h.logger.Debug("wizard session created", "id", s.id, "kind", s.kind)
	respondJSON(w, http.StatusCreated, h.state(s))
}

// sweepLocked drops sessions idle past sessionIdleAge. Caller holds mu.
func (h *Wizards) sweepLocked() {
	cutoff := time.Now().Add(-sessionIdleAge)
	for id, s := range h.sessions {
		if s.idleSince().Before(cutoff) {
			s.bus.close()
			delete(h.sessions, id)
		}
	}
}

func (h *Wizards) lookup(w http.ResponseWriter, r *http.Request) (*session, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid session id")
		return nil, false
	}
	h.mu.Lock()
	s, ok := h.sessions[id]
	h.mu.Unlock()
	if !ok {
		respondError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	if s.tenantID != tenantID(r) {
		respondError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	s.touch()
	return s, true
}

func (h *Wizards) get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, h.state(s))
}

func (h *Wizards) delete(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.mu.Lock()
	delete(h.sessions, s.id)
	h.mu.Unlock()
	s.bus.close()
	respondJSON(w, http.StatusNoContent, nil)
}

func (h *Wizards) input(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.dispatch(w, r, s, func(ctx context.Context) error {
		return s.driver.HandleInput(ctx, req.Text)
	})
}

func (h *Wizards) option(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req conversation.Option
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.dispatch(w, r, s, func(ctx context.Context) error {
		return s.driver.HandleOption(ctx, req)
	})
}

func (h *Wizards) reset(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	s.driver.Reset(r.Context())
	respondJSON(w, http.StatusOK, h.state(s))
}

// dispatch runs one wizard action and maps flow errors to statuses.
// Failures the wizard reports inside the transcript (validation,
// upstream errors) come back as nil and a normal 200 state.
func (h *Wizards) dispatch(w http.ResponseWriter, r *http.Request, s *session, action func(ctx context.Context) error) {
	err := action(r.Context())
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, h.state(s))
	case errors.Is(err, flow.ErrBusy):
		respondError(w, http.StatusConflict, "another action is in progress")
	case errors.Is(err, flow.ErrInputNotAccepted):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, flow.ErrUnknownPhase):
		respondError(w, http.StatusConflict, "session is in an unexpected state")
	default:
		// The wizard already reported the failure in the transcript;
		// the state response lets the client render it.
		h.logger.Warn("wizard action failed", "session", s.id, "error", err)
		respondJSON(w, http.StatusOK, h.state(s))
	}
}

// events streams the session transcript: a full snapshot first, then
// live appended/patched/reset events.
func (h *Wizards) events(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, cancel := s.bus.subscribe()
	defer cancel()

	if err := writer.WriteJSON(r.Context(), "snapshot", h.state(s)); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if err := writer.WriteComment("heartbeat"); err != nil {
				return
			}
		case ev, open := <-events:
			if !open {
				return
			}
			if err := writer.WriteJSON(r.Context(), string(ev.Type), ev.Message); err != nil {
				return
			}
		}
	}
}
