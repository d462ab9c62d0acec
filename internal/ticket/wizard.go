// Package ticket implements the guided Jira ticket wizard: a fixed
// sequence of field phases ending in a preview, a duplicate check, and a
// single creation call on confirmation.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/quickdesk/quickdesk/internal/conversation"
	"github.com/quickdesk/quickdesk/internal/flow"
	"github.com/quickdesk/quickdesk/internal/jira"
)

// Wizard phases, in walk order.
const (
	PhaseSummary      flow.Phase = "summary"
	PhaseDescription  flow.Phase = "description"
	PhaseIssueType    flow.Phase = "issue_type"
	PhasePriority     flow.Phase = "priority"
	PhaseModule       flow.Phase = "module"
	PhaseSprint       flow.Phase = "sprint"
	PhaseAssignee     flow.Phase = "assignee"
	PhaseAttachments  flow.Phase = "attachments"
	PhaseConfirmation flow.Phase = "confirmation"

	// PhaseCreated is terminal: the ticket is filed and only a restart
	// starts a new one.
	PhaseCreated flow.Phase = "created"
)

// editablePhases maps the edit-picker values to wizard phases.
var editablePhases = map[string]flow.Phase{
	"summary":     PhaseSummary,
	"description": PhaseDescription,
	"issue_type":  PhaseIssueType,
	"priority":    PhasePriority,
	"module":      PhaseModule,
	"sprint":      PhaseSprint,
	"assignee":    PhaseAssignee,
	"attachments": PhaseAttachments,
}

// JiraClient is the slice of the Jira API the wizard needs.
type JiraClient interface {
	CreateTicket(ctx context.Context, req jira.CreateRequest) (jira.Ticket, error)
	SearchDuplicates(ctx context.Context, summary, description string) ([]jira.Duplicate, error)
	Metadata(ctx context.Context) (jira.Metadata, error)
}

// Config assembles a Wizard.
type Config struct {
	Jira       JiraClient
	Transcript *conversation.Transcript
	Logger     *slog.Logger
}

// Wizard drives one ticket-filing session.
type Wizard struct {
	jira       JiraClient
	transcript *conversation.Transcript
	logger     *slog.Logger
	engine     *flow.Engine[*Draft]

	mu   sync.Mutex
	meta jira.Metadata
}

// metadataTimeout bounds the session-start metadata fetch.
const metadataTimeout = 10 * time.Second

// duplicateSearchTimeout bounds the advisory duplicate search.
const duplicateSearchTimeout = 5 * time.Second

// NewWizard builds the wizard and its transition table.
func NewWizard(cfg Config) (*Wizard, error) {
	if cfg.Jira == nil {
		return nil, errors.New("jira client is required")
	}
	if cfg.Transcript == nil {
		return nil, errors.New("transcript is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	w := &Wizard{
		jira:       cfg.Jira,
		transcript: cfg.Transcript,
		logger:     cfg.Logger,
	}

	engine, err := flow.New(flow.Config[*Draft]{
		Table:        w.table(),
		Initial:      PhaseSummary,
		Confirmation: PhaseConfirmation,
		Done:         PhaseCreated,
		Finalize:     w.finalize,
		Reject:       w.reject,
		NewDraft:     func() *Draft { return &Draft{} },
		Transcript:   cfg.Transcript,
		Logger:       cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	w.engine = engine
	return w, nil
}

// Table exposes the transition table for reachability checks.
func (w *Wizard) Table() map[flow.Phase]flow.Step[*Draft] {
	return w.table()
}

// Phase returns the active phase.
func (w *Wizard) Phase() flow.Phase {
	return w.engine.Phase()
}

// Draft returns the in-progress draft for inspection.
func (w *Wizard) Draft() *Draft {
	return w.engine.Draft()
}

// Start fetches project metadata and opens the session with the
// greeting. A metadata failure degrades to the fixed fallback options.
func (w *Wizard) Start(ctx context.Context) {
	w.refreshMetadata(ctx)
	w.engine.Start(ctx)
}

func (w *Wizard) refreshMetadata(ctx context.Context) {
	mctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	meta, err := w.jira.Metadata(mctx)
	if err != nil {
		w.logger.Warn("metadata fetch failed, using fallback options", "error", err)
	}
	w.mu.Lock()
	w.meta = meta
	w.mu.Unlock()
}

// Reset discards the session and re-emits the greeting.
func (w *Wizard) Reset(ctx context.Context) {
	w.engine.Reset(ctx)
}

// HandleInput processes free text typed by the user.
func (w *Wizard) HandleInput(ctx context.Context, text string) error {
	return w.engine.HandleInput(ctx, text)
}

// HandleOption processes an option selection. Wizard-level actions
// (cancel, edit, restart) are dispatched here; field answers go to the
// engine.
func (w *Wizard) HandleOption(ctx context.Context, opt conversation.Option) error {
	switch {
	case opt.Value == "cancel":
		w.engine.Reset(ctx)
		return nil

	case opt.Value == "restart":
		// A fresh ticket gets fresh project metadata.
		w.refreshMetadata(ctx)
		w.engine.Reset(ctx)
		return nil

	case opt.Value == "edit":
		w.echo(opt)
		w.emitEditPicker()
		return nil

	case strings.HasPrefix(opt.Value, "edit:"):
		field := strings.TrimPrefix(opt.Value, "edit:")
		phase, ok := editablePhases[field]
		if !ok {
			return fmt.Errorf("%w: unknown field %q", flow.ErrInputNotAccepted, field)
		}
		w.echo(opt)
		return w.engine.JumpTo(ctx, phase, PhaseConfirmation)
	}

	return w.engine.HandleOption(ctx, opt)
}

// echo records an intercepted selection as the user's message, matching
// what the engine does for delegated selections.
func (w *Wizard) echo(opt conversation.Option) {
	label := opt.Label
	if label == "" {
		label = opt.Value
	}
	w.transcript.Append(conversation.Partial{
		Role:    conversation.RoleUser,
		Kind:    conversation.KindText,
		Content: label,
	})
}

func (w *Wizard) emitEditPicker() {
	opts := []conversation.Option{
		{ID: "edit-summary", Label: "Summary", Value: "edit:summary"},
		{ID: "edit-description", Label: "Description", Value: "edit:description"},
		{ID: "edit-issue-type", Label: "Issue type", Value: "edit:issue_type"},
		{ID: "edit-priority", Label: "Priority", Value: "edit:priority"},
		{ID: "edit-module", Label: "Module", Value: "edit:module"},
		{ID: "edit-sprint", Label: "Sprint", Value: "edit:sprint"},
		{ID: "edit-assignee", Label: "Assignee", Value: "edit:assignee"},
		{ID: "edit-attachments", Label: "Attachments", Value: "edit:attachments"},
	}
	w.transcript.Append(conversation.Partial{
		Role:    conversation.RoleAssistant,
		Kind:    conversation.KindOptionSelect,
		Content: "Which field would you like to change?",
		Options: opts,
	})
}

func (w *Wizard) metadata() jira.Metadata {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.meta
}

func (w *Wizard) table() map[flow.Phase]flow.Step[*Draft] {
	return map[flow.Phase]flow.Step[*Draft]{
		PhaseSummary: {
			Prompt: func(*Draft) (string, []conversation.Option) {
				return "Hi! I'll help you file a ticket. What's a one-line summary of the issue?", nil
			},
			Input: flow.InputFreeText,
			Apply: applySummary,
			Next:  PhaseDescription,
		},
		PhaseDescription: {
			Prompt: func(*Draft) (string, []conversation.Option) {
				return "Got it. Now describe the issue in detail: steps to reproduce, expected and actual behavior.", nil
			},
			Input: flow.InputFreeText,
			Apply: applyDescription,
			Next:  PhaseIssueType,
		},
		PhaseIssueType: {
			Prompt: func(*Draft) (string, []conversation.Option) {
				return "What type of issue is this?", w.issueTypeOptions()
			},
			Input: flow.InputOptionOnly,
			Apply: func(d *Draft, v string) error {
				d.IssueType = v
				return nil
			},
			Next: PhasePriority,
		},
		PhasePriority: {
			Prompt: func(*Draft) (string, []conversation.Option) {
				return "How urgent is it?", priorityOptions()
			},
			Input: flow.InputOptionOnly,
			Apply: func(d *Draft, v string) error {
				d.Priority = v
				return nil
			},
			Next: PhaseModule,
		},
		PhaseModule: {
			Prompt: func(*Draft) (string, []conversation.Option) {
				return "Which module does this affect? Pick one or type your own.", w.moduleOptions()
			},
			Input: flow.InputAny,
			Apply: func(d *Draft, v string) error {
				d.Module = v
				return nil
			},
			Next: PhaseSprint,
		},
		PhaseSprint: {
			Prompt: func(*Draft) (string, []conversation.Option) {
				return "Which sprint should this go into?", w.sprintOptions()
			},
			Input: flow.InputOptionOnly,
			Apply: func(d *Draft, v string) error {
				d.SprintID = v
				d.SprintName = w.sprintName(v)
				return nil
			},
			Next: PhaseAssignee,
		},
		PhaseAssignee: {
			Prompt: func(*Draft) (string, []conversation.Option) {
				return "Who should work on this?", w.assigneeOptions()
			},
			Input: flow.InputOptionOnly,
			Apply: func(d *Draft, v string) error {
				d.AssigneeID = v
				d.AssigneeName = w.assigneeName(v)
				return nil
			},
			Next: PhaseAttachments,
		},
		PhaseAttachments: {
			Prompt: func(*Draft) (string, []conversation.Option) {
				return "Any links to logs, screenshots, or recordings? Paste them here, or type skip.", nil
			},
			Input: flow.InputFreeText,
			Apply: applyAttachments,
			Next:  PhaseConfirmation,
		},
		PhaseConfirmation: {
			OnEnter: w.enterConfirmation,
		},
		PhaseCreated: {
			Input: flow.InputOptionOnly,
			Apply: func(*Draft, string) error {
				return fmt.Errorf("this ticket was already created, choose Create another ticket to start a new one")
			},
		},
	}
}

func (w *Wizard) issueTypeOptions() []conversation.Option {
	meta := w.metadata()
	if len(meta.IssueTypes) == 0 {
		return []conversation.Option{
			{ID: "type-bug", Label: "Bug", Value: "Bug"},
			{ID: "type-task", Label: "Task", Value: "Task"},
			{ID: "type-story", Label: "Story", Value: "Story"},
		}
	}
	opts := make([]conversation.Option, 0, len(meta.IssueTypes))
	for _, it := range meta.IssueTypes {
		opts = append(opts, conversation.Option{ID: "type-" + it.ID, Label: it.Name, Value: it.Name})
	}
	return opts
}

func priorityOptions() []conversation.Option {
	names := []string{"Highest", "High", "Medium", "Low", "Lowest"}
	opts := make([]conversation.Option, 0, len(names))
	for _, n := range names {
		opts = append(opts, conversation.Option{ID: "prio-" + strings.ToLower(n), Label: n, Value: n})
	}
	return opts
}

func (w *Wizard) moduleOptions() []conversation.Option {
	meta := w.metadata()
	opts := make([]conversation.Option, 0, len(meta.Modules)+1)
	for _, m := range meta.Modules {
		opts = append(opts, conversation.Option{ID: "module-" + m.ID, Label: m.Name, Value: m.Name})
	}
	return append(opts, conversation.Option{ID: "module-skip", Label: "Skip", Value: ""})
}

func (w *Wizard) sprintOptions() []conversation.Option {
	meta := w.metadata()
	opts := make([]conversation.Option, 0, len(meta.Sprints)+1)
	for _, s := range meta.Sprints {
		opts = append(opts, conversation.Option{ID: "sprint-" + s.ID, Label: s.Name, Value: s.ID})
	}
	return append(opts, conversation.Option{ID: "sprint-backlog", Label: "Backlog", Value: ""})
}

func (w *Wizard) assigneeOptions() []conversation.Option {
	meta := w.metadata()
	opts := make([]conversation.Option, 0, len(meta.Users)+1)
	for _, u := range meta.Users {
		opts = append(opts, conversation.Option{ID: "user-" + u.ID, Label: u.Name, Value: u.ID})
	}
	return append(opts, conversation.Option{ID: "user-skip", Label: "Unassigned", Value: ""})
}

func (w *Wizard) sprintName(id string) string {
	for _, s := range w.metadata().Sprints {
		if s.ID == id {
			return s.Name
		}
	}
	return ""
}

func (w *Wizard) assigneeName(id string) string {
	for _, u := range w.metadata().Users {
		if u.ID == id {
			return u.Name
		}
	}
	return ""
}

// enterConfirmation runs the advisory duplicate search and shows the
// preview. The search never blocks creation: failures are logged and
// skipped, hits are shown as a warning alongside the preview.
func (w *Wizard) enterConfirmation(ctx context.Context, d *Draft, t *conversation.Transcript) {
	sctx, cancel := context.WithTimeout(ctx, duplicateSearchTimeout)
	defer cancel()

	dups, err := w.jira.SearchDuplicates(sctx, d.Summary, d.Description)
	switch {
	case err != nil:
		w.logger.Warn("duplicate search failed", "error", err)
	case len(dups) > 0:
		warnings := make([]conversation.Warning, 0, len(dups))
		for _, dup := range dups {
			warnings = append(warnings, conversation.Warning{
				Key:       dup.Key,
				Summary:   dup.Summary,
				URL:       dup.URL,
				MatchedBy: dup.MatchedBy,
			})
		}
		t.Append(conversation.Partial{
			Role:     conversation.RoleAssistant,
			Kind:     conversation.KindDuplicateWarning,
			Content:  fmt.Sprintf("I found %d existing ticket(s) that look similar. Please check they don't already cover this issue.", len(dups)),
			Warnings: warnings,
		})
	}

	t.Append(conversation.Partial{
		Role:    conversation.RoleAssistant,
		Kind:    conversation.KindTicketPreview,
		Content: "Here's your ticket. Create it?",
		Fields:  previewFields(d),
		Options: []conversation.Option{
			{ID: "confirm", Label: "Create ticket", Value: "confirm"},
			{ID: "edit", Label: "Edit a field", Value: "edit"},
			{ID: "cancel", Label: "Cancel", Value: "cancel"},
		},
	})
}

// finalize creates the ticket. On failure it reports inline and returns
// the error so the engine keeps the phase and draft for a manual retry.
func (w *Wizard) finalize(ctx context.Context, d *Draft) error {
	created, err := w.jira.CreateTicket(ctx, jira.CreateRequest{
		Summary:     d.Summary,
		Description: w.describeWithAttachments(d),
		IssueType:   d.IssueType,
		Priority:    d.Priority,
		Module:      d.Module,
		Sprint:      d.SprintID,
		Assignee:    d.AssigneeID,
		Attachments: d.Attachments,
	})
	if err != nil {
		w.logger.Error("ticket creation failed", "error", err)
		w.transcript.Append(conversation.Partial{
			Role:    conversation.RoleAssistant,
			Kind:    conversation.KindError,
			Content: "I couldn't create the ticket: " + creationFailureReason(err) + " Your draft is unchanged, choose Create ticket to try again.",
		})
		return err
	}

	w.transcript.Append(conversation.Partial{
		Role:    conversation.RoleAssistant,
		Kind:    conversation.KindResult,
		Content: fmt.Sprintf("Done! I created %s for you.", created.Key),
		Meta:    map[string]string{"key": created.Key, "url": created.URL},
		Options: []conversation.Option{
			{ID: "restart", Label: "Create another ticket", Value: "restart"},
		},
	})
	return nil
}

// describeWithAttachments appends attachment links to the description,
// since link attachments live in the issue body rather than as uploads.
func (w *Wizard) describeWithAttachments(d *Draft) string {
	if len(d.Attachments) == 0 {
		return d.Description
	}
	return d.Description + "\n\nAttachments:\n" + strings.Join(d.Attachments, "\n")
}

func creationFailureReason(err error) string {
	switch {
	case errors.Is(err, jira.ErrUnauthorized):
		return "Jira rejected the configured credentials."
	case errors.Is(err, jira.ErrNotFound):
		return "the configured Jira project was not found."
	default:
		return "Jira did not accept the request."
	}
}

// reject handles a typed non-affirmative answer at the confirmation
// phase. The draft stays intact; explicit Cancel resets the session.
func (w *Wizard) reject(_ context.Context, _ *Draft, t *conversation.Transcript) {
	t.Append(conversation.Partial{
		Role:    conversation.RoleAssistant,
		Kind:    conversation.KindOptionSelect,
		Content: "No problem, nothing was created. You can create the ticket, edit a field, or cancel.",
		Options: []conversation.Option{
			{ID: "confirm", Label: "Create ticket", Value: "confirm"},
			{ID: "edit", Label: "Edit a field", Value: "edit"},
			{ID: "cancel", Label: "Cancel", Value: "cancel"},
		},
	})
}
