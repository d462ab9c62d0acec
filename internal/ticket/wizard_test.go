package ticket

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickdesk/quickdesk/internal/conversation"
	"github.com/quickdesk/quickdesk/internal/flow"
	"github.com/quickdesk/quickdesk/internal/jira"
	"github.com/quickdesk/quickdesk/internal/log"
)

type fakeJira struct {
	createFn     func(ctx context.Context, req jira.CreateRequest) (jira.Ticket, error)
	duplicatesFn func(ctx context.Context, summary, description string) ([]jira.Duplicate, error)
	metadataFn   func(ctx context.Context) (jira.Metadata, error)

	createCalls []jira.CreateRequest
}

func (f *fakeJira) CreateTicket(ctx context.Context, req jira.CreateRequest) (jira.Ticket, error) {
	f.createCalls = append(f.createCalls, req)
	if f.createFn != nil {
		return f.createFn(ctx, req)
	}
	return jira.Ticket{Key: "QD-1", URL: "https://jira.example.com/browse/QD-1"}, nil
}

func (f *fakeJira) SearchDuplicates(ctx context.Context, summary, description string) ([]jira.Duplicate, error) {
	if f.duplicatesFn != nil {
		return f.duplicatesFn(ctx, summary, description)
	}
	return nil, nil
}

func (f *fakeJira) Metadata(ctx context.Context) (jira.Metadata, error) {
	if f.metadataFn != nil {
		return f.metadataFn(ctx)
	}
	return jira.Metadata{}, nil
}

func newTestWizard(t *testing.T, fj *fakeJira) *Wizard {
	t.Helper()
	w, err := NewWizard(Config{
		Jira:       fj,
		Transcript: conversation.NewTranscript(nil),
		Logger:     log.NewNop(),
	})
	require.NoError(t, err)
	return w
}

// walkToConfirmation answers every field phase in order.
func walkToConfirmation(t *testing.T, w *Wizard) {
	t.Helper()
	ctx := t.Context()

	require.NoError(t, w.HandleInput(ctx, "Login fails on Android"))
	require.NoError(t, w.HandleInput(ctx, "Tapping login does nothing on Pixel 8."))
	require.NoError(t, w.HandleOption(ctx, conversation.Option{Label: "Bug", Value: "Bug"}))
	require.NoError(t, w.HandleOption(ctx, conversation.Option{Label: "High", Value: "High"}))
	require.NoError(t, w.HandleInput(ctx, "Auth"))
	require.NoError(t, w.HandleOption(ctx, conversation.Option{Label: "Backlog", Value: ""}))
	require.NoError(t, w.HandleOption(ctx, conversation.Option{Label: "Unassigned", Value: ""}))
	require.NoError(t, w.HandleInput(ctx, "skip"))

	require.Equal(t, PhaseConfirmation, w.Phase())
}

func lastOfKind(t *testing.T, w *Wizard, kind conversation.Kind) conversation.Message {
	t.Helper()
	for _, m := range reverseMessages(w) {
		if m.Kind == kind {
			return m
		}
	}
	t.Fatalf("no message of kind %q", kind)
	return conversation.Message{}
}

func reverseMessages(w *Wizard) []conversation.Message {
	msgs := w.transcript.Messages()
	out := make([]conversation.Message, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		out = append(out, msgs[i])
	}
	return out
}

func TestHappyPathCreatesTicket(t *testing.T) {
	fj := &fakeJira{}
	w := newTestWizard(t, fj)
	w.Start(t.Context())

	assert.Equal(t, 1, w.transcript.Len())
	walkToConfirmation(t, w)

	preview := lastOfKind(t, w, conversation.KindTicketPreview)
	require.Len(t, preview.Fields, 8)
	assert.Equal(t, "Login fails on Android", preview.Fields[0].Value)
	assert.Equal(t, "Bug", preview.Fields[2].Value)
	assert.Equal(t, "—", preview.Fields[6].Value)

	require.NoError(t, w.HandleOption(t.Context(), conversation.Option{Label: "Create ticket", Value: "confirm"}))

	require.Len(t, fj.createCalls, 1)
	req := fj.createCalls[0]
	assert.Equal(t, "Login fails on Android", req.Summary)
	assert.Equal(t, "Bug", req.IssueType)
	assert.Equal(t, "High", req.Priority)
	assert.Equal(t, "Auth", req.Module)
	assert.Empty(t, req.Assignee)

	result := lastOfKind(t, w, conversation.KindResult)
	assert.Contains(t, result.Content, "QD-1")
	assert.Equal(t, "https://jira.example.com/browse/QD-1", result.Meta["url"])
	assert.Equal(t, PhaseCreated, w.Phase())
}

func TestReplayedConfirmDoesNotDuplicateTicket(t *testing.T) {
	fj := &fakeJira{}
	w := newTestWizard(t, fj)
	w.Start(t.Context())
	walkToConfirmation(t, w)

	require.NoError(t, w.HandleOption(t.Context(), conversation.Option{Value: "confirm"}))
	require.Len(t, fj.createCalls, 1)
	require.Equal(t, PhaseCreated, w.Phase())

	// A duplicate submit of the same confirm action files nothing.
	require.NoError(t, w.HandleOption(t.Context(), conversation.Option{Value: "confirm"}))
	assert.Len(t, fj.createCalls, 1)
	assert.Equal(t, PhaseCreated, w.Phase())
	last, ok := w.transcript.Last()
	require.True(t, ok)
	assert.Equal(t, conversation.KindError, last.Kind)

	// Typed text after creation is rejected outright.
	err := w.HandleInput(t.Context(), "confirm")
	assert.ErrorIs(t, err, flow.ErrInputNotAccepted)
	assert.Len(t, fj.createCalls, 1)
}

func TestFieldsCollectedInFixedOrder(t *testing.T) {
	w := newTestWizard(t, &fakeJira{})
	w.Start(t.Context())

	want := []flow.Phase{
		PhaseSummary, PhaseDescription, PhaseIssueType, PhasePriority,
		PhaseModule, PhaseSprint, PhaseAssignee, PhaseAttachments,
	}
	assert.Equal(t, want[0], w.Phase())

	ctx := t.Context()
	steps := []func() error{
		func() error { return w.HandleInput(ctx, "A summary") },
		func() error { return w.HandleInput(ctx, "A description") },
		func() error { return w.HandleOption(ctx, conversation.Option{Value: "Bug"}) },
		func() error { return w.HandleOption(ctx, conversation.Option{Value: "Low"}) },
		func() error { return w.HandleInput(ctx, "Core") },
		func() error { return w.HandleOption(ctx, conversation.Option{Value: ""}) },
		func() error { return w.HandleOption(ctx, conversation.Option{Value: ""}) },
		func() error { return w.HandleInput(ctx, "skip") },
	}
	for i, step := range steps {
		assert.Equal(t, want[i], w.Phase())
		require.NoError(t, step())
	}
	assert.Equal(t, PhaseConfirmation, w.Phase())
}

func TestValidationKeepsPhase(t *testing.T) {
	w := newTestWizard(t, &fakeJira{})
	w.Start(t.Context())

	require.NoError(t, w.HandleInput(t.Context(), ""))
	assert.Equal(t, PhaseSummary, w.Phase())

	last, ok := w.transcript.Last()
	require.True(t, ok)
	assert.Equal(t, conversation.KindError, last.Kind)
}

func TestTypedTextRejectedInOptionPhase(t *testing.T) {
	w := newTestWizard(t, &fakeJira{})
	w.Start(t.Context())

	require.NoError(t, w.HandleInput(t.Context(), "A summary"))
	require.NoError(t, w.HandleInput(t.Context(), "A description"))
	require.Equal(t, PhaseIssueType, w.Phase())

	err := w.HandleInput(t.Context(), "Bug")
	assert.ErrorIs(t, err, flow.ErrInputNotAccepted)
	assert.Equal(t, PhaseIssueType, w.Phase())
}

func TestDuplicateWarningIsAdvisory(t *testing.T) {
	var gotSummary, gotDescription string
	fj := &fakeJira{
		duplicatesFn: func(_ context.Context, summary, description string) ([]jira.Duplicate, error) {
			gotSummary = summary
			gotDescription = description
			return []jira.Duplicate{{
				Key:       "QD-7",
				Summary:   "Login broken",
				URL:       "https://jira.example.com/browse/QD-7",
				MatchedBy: "login",
			}}, nil
		},
	}
	w := newTestWizard(t, fj)
	w.Start(t.Context())
	walkToConfirmation(t, w)

	// The search sees both collected fields.
	assert.Equal(t, "Login fails on Android", gotSummary)
	assert.Equal(t, "Tapping login does nothing on Pixel 8.", gotDescription)

	warning := lastOfKind(t, w, conversation.KindDuplicateWarning)
	require.Len(t, warning.Warnings, 1)
	assert.Equal(t, "QD-7", warning.Warnings[0].Key)
	assert.Equal(t, "login", warning.Warnings[0].MatchedBy)

	// The warning does not block creation.
	require.NoError(t, w.HandleOption(t.Context(), conversation.Option{Value: "confirm"}))
	assert.Len(t, fj.createCalls, 1)
}

func TestDuplicateSearchFailureIsSilent(t *testing.T) {
	fj := &fakeJira{
		duplicatesFn: func(context.Context, string, string) ([]jira.Duplicate, error) {
			return nil, errors.New("jira down")
		},
	}
	w := newTestWizard(t, fj)
	w.Start(t.Context())
	walkToConfirmation(t, w)

	for _, m := range w.transcript.Messages() {
		assert.NotEqual(t, conversation.KindDuplicateWarning, m.Kind)
		assert.NotEqual(t, conversation.KindError, m.Kind)
	}
	last, ok := w.transcript.Last()
	require.True(t, ok)
	assert.Equal(t, conversation.KindTicketPreview, last.Kind)
}

func TestCreationFailureKeepsDraftAndPhase(t *testing.T) {
	fj := &fakeJira{
		createFn: func(context.Context, jira.CreateRequest) (jira.Ticket, error) {
			return jira.Ticket{}, jira.ErrRequestFailed
		},
	}
	w := newTestWizard(t, fj)
	w.Start(t.Context())
	walkToConfirmation(t, w)

	require.NoError(t, w.HandleOption(t.Context(), conversation.Option{Value: "confirm"}))

	assert.Equal(t, PhaseConfirmation, w.Phase())
	assert.Equal(t, "Login fails on Android", w.Draft().Summary)
	last, ok := w.transcript.Last()
	require.True(t, ok)
	assert.Equal(t, conversation.KindError, last.Kind)

	// The user retries manually; only then is a second attempt made.
	fj.createFn = nil
	require.NoError(t, w.HandleOption(t.Context(), conversation.Option{Value: "confirm"}))
	assert.Len(t, fj.createCalls, 2)
	result := lastOfKind(t, w, conversation.KindResult)
	assert.Contains(t, result.Content, "QD-1")
}

func TestCancelResetsSession(t *testing.T) {
	fj := &fakeJira{}
	w := newTestWizard(t, fj)
	w.Start(t.Context())
	walkToConfirmation(t, w)

	require.NoError(t, w.HandleOption(t.Context(), conversation.Option{Value: "cancel"}))

	assert.Empty(t, fj.createCalls)
	assert.Equal(t, PhaseSummary, w.Phase())
	assert.Equal(t, 1, w.transcript.Len())
	assert.Empty(t, w.Draft().Summary)
}

func TestTypedRejectionKeepsDraft(t *testing.T) {
	fj := &fakeJira{}
	w := newTestWizard(t, fj)
	w.Start(t.Context())
	walkToConfirmation(t, w)

	require.NoError(t, w.HandleInput(t.Context(), "hmm not yet"))

	assert.Empty(t, fj.createCalls)
	assert.Equal(t, PhaseConfirmation, w.Phase())
	assert.Equal(t, "Login fails on Android", w.Draft().Summary)
}

func TestEditFieldReturnsToConfirmation(t *testing.T) {
	fj := &fakeJira{}
	w := newTestWizard(t, fj)
	w.Start(t.Context())
	walkToConfirmation(t, w)

	require.NoError(t, w.HandleOption(t.Context(), conversation.Option{Label: "Edit a field", Value: "edit"}))
	last, ok := w.transcript.Last()
	require.True(t, ok)
	assert.Equal(t, conversation.KindOptionSelect, last.Kind)
	require.Len(t, last.Options, 8)

	require.NoError(t, w.HandleOption(t.Context(), conversation.Option{Label: "Summary", Value: "edit:summary"}))
	assert.Equal(t, PhaseSummary, w.Phase())

	require.NoError(t, w.HandleInput(t.Context(), "Login crashes the app"))
	assert.Equal(t, PhaseConfirmation, w.Phase())

	// Last value wins in the preview and the create call.
	preview := lastOfKind(t, w, conversation.KindTicketPreview)
	assert.Equal(t, "Login crashes the app", preview.Fields[0].Value)

	require.NoError(t, w.HandleOption(t.Context(), conversation.Option{Value: "confirm"}))
	require.Len(t, fj.createCalls, 1)
	assert.Equal(t, "Login crashes the app", fj.createCalls[0].Summary)
}

func TestRestartAfterSuccess(t *testing.T) {
	fj := &fakeJira{}
	w := newTestWizard(t, fj)
	w.Start(t.Context())
	walkToConfirmation(t, w)
	require.NoError(t, w.HandleOption(t.Context(), conversation.Option{Value: "confirm"}))

	require.NoError(t, w.HandleOption(t.Context(), conversation.Option{Value: "restart"}))
	assert.Equal(t, PhaseSummary, w.Phase())
	assert.Equal(t, 1, w.transcript.Len())
	assert.Empty(t, w.Draft().Summary)
}

func TestMetadataDrivenOptions(t *testing.T) {
	fj := &fakeJira{
		metadataFn: func(context.Context) (jira.Metadata, error) {
			return jira.Metadata{
				IssueTypes: []jira.MetaOption{{ID: "1", Name: "Defect"}},
				Sprints:    []jira.MetaOption{{ID: "31", Name: "Sprint 12"}},
				Users:      []jira.MetaOption{{ID: "u1", Name: "Dana"}},
			}, nil
		},
	}
	w := newTestWizard(t, fj)
	w.Start(t.Context())

	ctx := t.Context()
	require.NoError(t, w.HandleInput(ctx, "A summary"))
	require.NoError(t, w.HandleInput(ctx, "A description"))

	last, ok := w.transcript.Last()
	require.True(t, ok)
	require.Len(t, last.Options, 1)
	assert.Equal(t, "Defect", last.Options[0].Value)

	require.NoError(t, w.HandleOption(ctx, last.Options[0]))
	require.NoError(t, w.HandleOption(ctx, conversation.Option{Value: "Medium"}))
	require.NoError(t, w.HandleInput(ctx, ""))
	require.NoError(t, w.HandleOption(ctx, conversation.Option{Value: "31"}))
	require.NoError(t, w.HandleOption(ctx, conversation.Option{Value: "u1"}))
	require.NoError(t, w.HandleInput(ctx, "skip"))

	d := w.Draft()
	assert.Equal(t, "Defect", d.IssueType)
	assert.Equal(t, "Sprint 12", d.SprintName)
	assert.Equal(t, "Dana", d.AssigneeName)
}

func TestMetadataFailureFallsBack(t *testing.T) {
	fj := &fakeJira{
		metadataFn: func(context.Context) (jira.Metadata, error) {
			return jira.Metadata{}, errors.New("jira down")
		},
	}
	w := newTestWizard(t, fj)
	w.Start(t.Context())

	ctx := t.Context()
	require.NoError(t, w.HandleInput(ctx, "A summary"))
	require.NoError(t, w.HandleInput(ctx, "A description"))

	last, ok := w.transcript.Last()
	require.True(t, ok)
	require.Len(t, last.Options, 3)
	assert.Equal(t, "Bug", last.Options[0].Value)
}

func TestAttachmentsParsing(t *testing.T) {
	w := newTestWizard(t, &fakeJira{})
	w.Start(t.Context())
	ctx := t.Context()

	require.NoError(t, w.HandleInput(ctx, "A summary"))
	require.NoError(t, w.HandleInput(ctx, "A description"))
	require.NoError(t, w.HandleOption(ctx, conversation.Option{Value: "Bug"}))
	require.NoError(t, w.HandleOption(ctx, conversation.Option{Value: "High"}))
	require.NoError(t, w.HandleInput(ctx, "Core"))
	require.NoError(t, w.HandleOption(ctx, conversation.Option{Value: ""}))
	require.NoError(t, w.HandleOption(ctx, conversation.Option{Value: ""}))

	// A non-link answer keeps the phase with an inline error.
	require.NoError(t, w.HandleInput(ctx, "see my desk"))
	assert.Equal(t, PhaseAttachments, w.Phase())

	require.NoError(t, w.HandleInput(ctx, "https://logs.example.com/1, https://img.example.com/2"))
	assert.Equal(t, PhaseConfirmation, w.Phase())
	assert.Equal(t, []string{"https://logs.example.com/1", "https://img.example.com/2"}, w.Draft().Attachments)
}

func TestAllPhasesReachable(t *testing.T) {
	w := newTestWizard(t, &fakeJira{})
	missing := flow.Reachable(w.Table(), PhaseSummary, map[flow.Phase][]flow.Phase{
		PhaseConfirmation: {PhaseCreated},
	})
	assert.Empty(t, missing)
}
