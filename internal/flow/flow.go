// Package flow implements the conversation step engine shared by the
// ticket wizard and the generator wizards.
//
// A wizard is a table of phases. Each phase knows what prompt to show,
// what input it accepts (free text, an option selection, or either), how
// to apply the answer to the draft entity, and which phase follows. The
// engine owns phase bookkeeping only; external calls (duplicate search,
// ticket creation, streaming generation) belong to the consuming wizard,
// reached through the per-phase OnEnter hook and the Finalize hook.
//
// The table is explicit so phase coverage and reachability are checkable
// in tests without any rendering involved.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/quickdesk/quickdesk/internal/conversation"
)

// Phase is a wizard's discrete step. Exactly one phase is active at a time.
type Phase string

// InputMode restricts what a phase accepts.
type InputMode int

const (
	// InputAny accepts free text or an option selection.
	InputAny InputMode = iota

	// InputFreeText accepts typed text only.
	InputFreeText

	// InputOptionOnly accepts a selection from the presented options.
	InputOptionOnly
)

// Sentinel errors returned by the engine.
var (
	// ErrBusy indicates an action arrived while a previous one is still
	// in flight. The wizard disables input during loading; this guards
	// against duplicate submissions racing past that.
	ErrBusy = errors.New("wizard action already in flight")

	// ErrUnknownPhase indicates the transition table has no entry for
	// the current phase.
	ErrUnknownPhase = errors.New("unknown phase")

	// ErrInputNotAccepted indicates the active phase rejects this input
	// form (e.g. free text where a selection is required).
	ErrInputNotAccepted = errors.New("input not accepted in this phase")
)

// Step describes one phase of a wizard.
type Step[D any] struct {
	// Prompt returns the assistant message text and optional selectable
	// options shown when the phase is entered.
	Prompt func(d D) (string, []conversation.Option)

	// OnEnter, if set, runs before the prompt is emitted. Used for
	// side effects tied to reaching a phase (e.g. duplicate search
	// before confirmation). Errors are the hook's own problem: it
	// reports them into the transcript and the flow continues.
	OnEnter func(ctx context.Context, d D, t *conversation.Transcript)

	// Input restricts the accepted input form.
	Input InputMode

	// Apply stores the answer into the draft. A validation error keeps
	// the phase active and is surfaced as an inline error message.
	Apply func(d D, value string) error

	// Next is the successor phase entered after a successful Apply.
	Next Phase
}

// Config assembles an Engine.
type Config[D any] struct {
	// Table maps every non-terminal phase to its step definition.
	Table map[Phase]Step[D]

	// Initial is the phase seeded on Start and Reset. Its prompt is the
	// greeting: Start/Reset emit exactly one message.
	Initial Phase

	// Confirmation marks the phase whose input is interpreted as a
	// finalization decision rather than a field answer. Optional.
	Confirmation Phase

	// Done is the phase entered after a successful Finalize. It is
	// terminal: replaying the confirmation answer there cannot finalize
	// again. Optional; when empty the phase stays on Confirmation.
	Done Phase

	// Finalize runs when the confirmation phase receives an affirmative
	// answer. It owns its success messaging; on error the engine
	// appends nothing, keeps the draft intact, and stays on the
	// confirmation phase so the user can retry.
	Finalize func(ctx context.Context, d D) error

	// Reject runs when the confirmation phase receives a non-affirmative
	// answer. If nil, the confirmation prompt is re-emitted.
	Reject func(ctx context.Context, d D, t *conversation.Transcript)

	// NewDraft produces a fresh draft for Start/Reset.
	NewDraft func() D

	// Transcript receives all engine messages.
	Transcript *conversation.Transcript

	Logger *slog.Logger
}

// Engine drives one wizard session. Not safe for concurrent use beyond
// the busy latch: one session belongs to one user.
type Engine[D any] struct {
	cfg   Config[D]
	mu    sync.Mutex
	busy  bool
	phase Phase
	draft D

	// editReturn, when set, overrides the next transition once. Used by
	// the ticket wizard's "edit a field, then come back to confirmation"
	// path.
	editReturn Phase
}

// New validates the configuration and creates an engine.
func New[D any](cfg Config[D]) (*Engine[D], error) {
	if cfg.Transcript == nil {
		return nil, errors.New("transcript is required")
	}
	if cfg.NewDraft == nil {
		return nil, errors.New("new draft constructor is required")
	}
	if _, ok := cfg.Table[cfg.Initial]; !ok {
		return nil, fmt.Errorf("%w: initial phase %q not in table", ErrUnknownPhase, cfg.Initial)
	}
	if cfg.Done != "" {
		if _, ok := cfg.Table[cfg.Done]; !ok {
			return nil, fmt.Errorf("%w: done phase %q not in table", ErrUnknownPhase, cfg.Done)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine[D]{cfg: cfg}, nil
}

// Phase returns the active phase.
func (e *Engine[D]) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Draft returns the draft entity. Callers must treat it as read-only;
// only the active phase's Apply mutates it.
func (e *Engine[D]) Draft() D {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draft
}

// Start seeds a fresh draft and emits the greeting (the initial phase's
// prompt) as the single opening message.
func (e *Engine[D]) Start(ctx context.Context) {
	e.Reset(ctx)
}

// Reset clears the transcript and draft, returns to the initial phase,
// and re-emits the greeting. After Reset the transcript holds exactly
// one message.
func (e *Engine[D]) Reset(_ context.Context) {
	e.mu.Lock()
	e.cfg.Transcript.Reset()
	e.draft = e.cfg.NewDraft()
	e.phase = e.cfg.Initial
	e.editReturn = ""
	e.busy = false
	step := e.cfg.Table[e.cfg.Initial]
	draft := e.draft
	e.mu.Unlock()

	e.emitPrompt(step, draft)
}

// JumpTo moves directly to a phase (the ticket wizard's Edit action) and
// arranges for the phase after the edited field to be returnTo instead of
// the table successor. Pass an empty returnTo to follow the table.
func (e *Engine[D]) JumpTo(ctx context.Context, phase Phase, returnTo Phase) error {
	e.mu.Lock()
	if e.busy {
		e.mu.Unlock()
		return ErrBusy
	}
	step, ok := e.cfg.Table[phase]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownPhase, phase)
	}
	e.phase = phase
	e.editReturn = returnTo
	draft := e.draft
	e.mu.Unlock()

	e.enterPhase(ctx, step, draft)
	return nil
}

// HandleInput processes free text typed by the user.
func (e *Engine[D]) HandleInput(ctx context.Context, raw string) error {
	return e.handle(ctx, strings.TrimSpace(raw), "", false)
}

// HandleOption processes an option selection. The option's label is
// echoed as the user message; its value feeds the transition.
func (e *Engine[D]) HandleOption(ctx context.Context, opt conversation.Option) error {
	label := opt.Label
	if label == "" {
		label = opt.Value
	}
	return e.handle(ctx, opt.Value, label, true)
}

// isAffirmative reports whether a confirmation-phase answer finalizes.
func isAffirmative(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "confirm", "yes":
		return true
	}
	return false
}

func (e *Engine[D]) handle(ctx context.Context, value, echo string, selected bool) error {
	e.mu.Lock()
	if e.busy {
		e.mu.Unlock()
		return ErrBusy
	}
	step, ok := e.cfg.Table[e.phase]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownPhase, e.phase)
	}
	if selected && step.Input == InputFreeText {
		e.mu.Unlock()
		return fmt.Errorf("%w: expected free text", ErrInputNotAccepted)
	}
	if !selected && step.Input == InputOptionOnly {
		e.mu.Unlock()
		return fmt.Errorf("%w: expected a selection", ErrInputNotAccepted)
	}
	e.busy = true
	phase := e.phase
	draft := e.draft
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.busy = false
		e.mu.Unlock()
	}()

	if echo == "" {
		echo = value
	}
	e.cfg.Transcript.Append(conversation.Partial{
		Role:    conversation.RoleUser,
		Kind:    conversation.KindText,
		Content: echo,
	})

	if phase == e.cfg.Confirmation && e.cfg.Confirmation != "" {
		return e.handleConfirmation(ctx, step, draft, value)
	}

	if step.Apply != nil {
		if err := step.Apply(draft, value); err != nil {
			// Validation failure: report inline, stay on the phase.
			e.cfg.Transcript.Append(conversation.Partial{
				Role:    conversation.RoleAssistant,
				Kind:    conversation.KindError,
				Content: err.Error(),
			})
			return nil
		}
	}

	return e.advance(ctx, step, draft)
}

// handleConfirmation interprets the confirmation answer. "confirm"/"yes"
// finalizes; "cancel" (or anything else) routes to the Reject hook so
// the user can adjust the draft.
func (e *Engine[D]) handleConfirmation(ctx context.Context, step Step[D], draft D, value string) error {
	if !isAffirmative(value) {
		if e.cfg.Reject != nil {
			e.cfg.Reject(ctx, draft, e.cfg.Transcript)
			return nil
		}
		e.emitPrompt(step, draft)
		return nil
	}

	if e.cfg.Finalize == nil {
		return nil
	}
	if err := e.cfg.Finalize(ctx, draft); err != nil {
		// The finalizer reported the failure into the transcript.
		// Phase stays on confirmation and the draft is intact so the
		// user retries without re-entering fields.
		e.cfg.Logger.Warn("finalize failed", "phase", e.cfg.Confirmation, "error", err)
		return nil
	}

	// Success is terminal. A replayed confirm (double-click, duplicate
	// POST) lands on the done phase instead of finalizing twice.
	if e.cfg.Done != "" {
		e.mu.Lock()
		e.phase = e.cfg.Done
		e.editReturn = ""
		e.mu.Unlock()
	}
	return nil
}

// advance moves to the successor phase and emits its prompt.
func (e *Engine[D]) advance(ctx context.Context, step Step[D], draft D) error {
	e.mu.Lock()
	next := step.Next
	if e.editReturn != "" {
		next = e.editReturn
		e.editReturn = ""
	}
	nextStep, ok := e.cfg.Table[next]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: successor %q", ErrUnknownPhase, next)
	}
	e.phase = next
	e.mu.Unlock()

	e.enterPhase(ctx, nextStep, draft)
	return nil
}

// enterPhase runs the OnEnter hook, then emits the phase prompt.
func (e *Engine[D]) enterPhase(ctx context.Context, step Step[D], draft D) {
	if step.OnEnter != nil {
		step.OnEnter(ctx, draft, e.cfg.Transcript)
	}
	e.emitPrompt(step, draft)
}

func (e *Engine[D]) emitPrompt(step Step[D], draft D) {
	if step.Prompt == nil {
		return
	}
	text, options := step.Prompt(draft)
	kind := conversation.KindText
	if len(options) > 0 {
		kind = conversation.KindOptionSelect
	}
	e.cfg.Transcript.Append(conversation.Partial{
		Role:    conversation.RoleAssistant,
		Kind:    kind,
		Content: text,
		Options: options,
	})
}

// Acquire takes the busy latch for an action the wizard runs outside
// HandleInput/HandleOption (the generator's convert path). Returns
// ErrBusy if another action is in flight. Release must follow.
func (e *Engine[D]) Acquire() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		return ErrBusy
	}
	e.busy = true
	return nil
}

// Release frees the busy latch taken by Acquire.
func (e *Engine[D]) Release() {
	e.mu.Lock()
	e.busy = false
	e.mu.Unlock()
}

// SetPhase forces the active phase without emitting a prompt. Reserved
// for wizards that run a phase's work themselves (the generator's
// generating state) and for reverting after a failed external call.
func (e *Engine[D]) SetPhase(p Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
}

// Reachable verifies every phase in the table is reachable from the
// initial phase by Next edges plus the given extra edges (e.g. phases
// reachable only via JumpTo or SetPhase). Used by wizard tests.
func Reachable[D any](table map[Phase]Step[D], initial Phase, extra map[Phase][]Phase) []Phase {
	seen := map[Phase]bool{initial: true}
	queue := []Phase{initial}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if step, ok := table[p]; ok && step.Next != "" && !seen[step.Next] {
			seen[step.Next] = true
			queue = append(queue, step.Next)
		}
		for _, n := range extra[p] {
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}

	var missing []Phase
	for p := range table {
		if !seen[p] {
			missing = append(missing, p)
		}
	}
	return missing
}
