// Package generator implements the four AI generation wizards: test
// scenarios, test cases, XPath extraction, and code conversion. All four
// share one engine shape; they differ in the gateway endpoint, the
// result rendering, and the setup question.
package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quickdesk/quickdesk/internal/conversation"
	"github.com/quickdesk/quickdesk/internal/flow"
	"github.com/quickdesk/quickdesk/internal/gateway"
	"github.com/quickdesk/quickdesk/internal/history"
	"github.com/quickdesk/quickdesk/internal/stream"
	"github.com/quickdesk/quickdesk/internal/workspace"
)

// Kind selects which generator a wizard session runs.
type Kind string

const (
	KindScenario Kind = "scenario"
	KindTestCase Kind = "testcase"
	KindXPath    Kind = "xpath"
	KindCode     Kind = "code"
)

// Wizard phases.
const (
	PhaseSetup      flow.Phase = "setup"
	PhaseWorkspace  flow.Phase = "workspace"
	PhaseModule     flow.Phase = "module"
	PhaseReady      flow.Phase = "ready_for_query"
	PhaseGenerating flow.Phase = "generating"
	PhaseGenerated  flow.Phase = "generated"
)

// Draft accumulates the generation configuration and the latest output.
type Draft struct {
	Framework     string
	Platform      string
	WorkspaceID   uuid.UUID
	WorkspaceName string
	Module        string
	Query         string
	Output        string
}

// Gateway is the slice of the AI gateway client the wizard needs.
type Gateway interface {
	Generate(ctx context.Context, ep gateway.Endpoint, req gateway.GenerateRequest) (io.ReadCloser, error)
}

// WorkspaceSource lists workspaces and builds generation context.
type WorkspaceSource interface {
	List(ctx context.Context, tenantID string) ([]workspace.Workspace, error)
	BuildContext(ctx context.Context, id uuid.UUID) (gateway.Context, error)
}

// History records finished generations. Failures are logged, never
// surfaced.
type History interface {
	Record(ctx context.Context, kind, workspaceID, query, result string) (history.Entry, error)
}

// kindSpec fixes the per-kind differences.
type kindSpec struct {
	endpoint    gateway.Endpoint
	resultKind  conversation.Kind
	transform   stream.Transform
	setupPrompt string
	setupOpts   []conversation.Option
	applySetup  func(d *Draft, v string) error
	queryPrompt string
	convertible bool
}

func specFor(kind Kind) (kindSpec, error) {
	frameworks := []conversation.Option{
		{ID: "fw-selenium", Label: "Selenium", Value: "Selenium"},
		{ID: "fw-appium", Label: "Appium", Value: "Appium"},
		{ID: "fw-playwright", Label: "Playwright", Value: "Playwright"},
		{ID: "fw-cypress", Label: "Cypress", Value: "Cypress"},
	}
	platforms := []conversation.Option{
		{ID: "pf-web", Label: "Web", Value: "Web"},
		{ID: "pf-android", Label: "Android", Value: "Android"},
		{ID: "pf-ios", Label: "iOS", Value: "iOS"},
	}
	applyFramework := func(d *Draft, v string) error {
		if v == "" {
			return fmt.Errorf("please pick or type a framework")
		}
		d.Framework = v
		return nil
	}

	switch kind {
	case KindScenario:
		return kindSpec{
			endpoint:    gateway.EndpointScenario,
			resultKind:  conversation.KindText,
			setupPrompt: "Let's generate a test scenario. Which automation framework do you use?",
			setupOpts:   frameworks,
			applySetup:  applyFramework,
			queryPrompt: "Ready! Describe the flow you want a scenario for.",
			convertible: true,
		}, nil
	case KindTestCase:
		return kindSpec{
			endpoint:    gateway.EndpointTestCase,
			resultKind:  conversation.KindText,
			setupPrompt: "Let's write test cases. Which automation framework do you use?",
			setupOpts:   frameworks,
			applySetup:  applyFramework,
			queryPrompt: "Ready! Describe the feature you want test cases for.",
		}, nil
	case KindXPath:
		return kindSpec{
			endpoint:    gateway.EndpointXPath,
			resultKind:  conversation.KindXPathTable,
			setupPrompt: "Let's extract XPath locators. Which platform is the app on?",
			setupOpts:   platforms,
			applySetup: func(d *Draft, v string) error {
				if v == "" {
					return fmt.Errorf("please pick a platform")
				}
				d.Platform = v
				return nil
			},
			queryPrompt: "Ready! Paste the page source or describe the elements you need locators for.",
		}, nil
	case KindCode:
		return kindSpec{
			endpoint:    gateway.EndpointScenarioToCode,
			resultKind:  conversation.KindCodeDisplay,
			transform:   stream.StripCodeFences,
			setupPrompt: "Let's turn a scenario into code. Which automation framework should I target?",
			setupOpts:   frameworks,
			applySetup:  applyFramework,
			queryPrompt: "Ready! Paste the scenario you want converted to code.",
		}, nil
	default:
		return kindSpec{}, fmt.Errorf("unknown generator kind %q", kind)
	}
}

// Config assembles a Wizard.
type Config struct {
	Kind       Kind
	TenantID   string
	Gateway    Gateway
	Workspaces WorkspaceSource
	History    History
	Transcript *conversation.Transcript
	Logger     *slog.Logger
}

// Wizard drives one generator session.
type Wizard struct {
	kind       Kind
	spec       kindSpec
	tenantID   string
	gateway    Gateway
	workspaces WorkspaceSource
	history    History
	transcript *conversation.Transcript
	logger     *slog.Logger
	engine     *flow.Engine[*Draft]

	mu   sync.Mutex
	list []workspace.Workspace
}

const (
	workspaceFetchTimeout = 10 * time.Second
	contextBuildTimeout   = 10 * time.Second
	historyRecordTimeout  = 5 * time.Second
)

// NewWizard builds a generator wizard of the given kind.
func NewWizard(cfg Config) (*Wizard, error) {
	spec, err := specFor(cfg.Kind)
	if err != nil {
		return nil, err
	}
	if cfg.Gateway == nil {
		return nil, errors.New("gateway client is required")
	}
	if cfg.Workspaces == nil {
		return nil, errors.New("workspace source is required")
	}
	if cfg.Transcript == nil {
		return nil, errors.New("transcript is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	w := &Wizard{
		kind:       cfg.Kind,
		spec:       spec,
		tenantID:   cfg.TenantID,
		gateway:    cfg.Gateway,
		workspaces: cfg.Workspaces,
		history:    cfg.History,
		transcript: cfg.Transcript,
		logger:     cfg.Logger.With("generator", string(cfg.Kind)),
	}

	engine, err := flow.New(flow.Config[*Draft]{
		Table:      w.table(),
		Initial:    PhaseSetup,
		NewDraft:   func() *Draft { return &Draft{} },
		Transcript: cfg.Transcript,
		Logger:     cfg.Logger,
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

// Start fetches the workspace list and opens the session.
func (w *Wizard) Start(ctx context.Context) {
	lctx, cancel := context.WithTimeout(ctx, workspaceFetchTimeout)
	defer cancel()

	list, err := w.workspaces.List(lctx, w.tenantID)
	if err != nil {
		w.logger.Warn("workspace list fetch failed", "error", err)
	}
	w.mu.Lock()
	w.list = list
	w.mu.Unlock()

	w.engine.Start(ctx)
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
// (convert to code, restart) are dispatched here.
func (w *Wizard) HandleOption(ctx context.Context, opt conversation.Option) error {
	switch opt.Value {
	case "restart":
		w.engine.Reset(ctx)
		return nil

	case "convert":
		// The conversion streams outside the engine's handle path, so it
		// takes the busy latch itself to keep the one-action-at-a-time
		// guarantee.
		if err := w.engine.Acquire(); err != nil {
			return err
		}
		defer w.engine.Release()
		if !w.spec.convertible || w.engine.Phase() != PhaseGenerated {
			return fmt.Errorf("%w: nothing to convert", flow.ErrInputNotAccepted)
		}
		w.echo(opt)
		w.convert(ctx)
		return nil
	}

	return w.engine.HandleOption(ctx, opt)
}

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

func (w *Wizard) table() map[flow.Phase]flow.Step[*Draft] {
	return map[flow.Phase]flow.Step[*Draft]{
		PhaseSetup: {
			Prompt: func(*Draft) (string, []conversation.Option) {
				return w.spec.setupPrompt, w.spec.setupOpts
			},
			Input: flow.InputAny,
			Apply: w.spec.applySetup,
			Next:  PhaseWorkspace,
		},
		PhaseWorkspace: {
			Prompt: func(*Draft) (string, []conversation.Option) {
				return "Which workspace should I use for context?", w.workspaceOptions()
			},
			Input: flow.InputOptionOnly,
			Apply: w.applyWorkspace,
			Next:  PhaseModule,
		},
		PhaseModule: {
			Prompt: func(*Draft) (string, []conversation.Option) {
				return "Which module or feature area is this about? Type it, or skip.",
					[]conversation.Option{{ID: "module-skip", Label: "Skip", Value: ""}}
			},
			Input: flow.InputAny,
			Apply: func(d *Draft, v string) error {
				d.Module = v
				return nil
			},
			Next: PhaseReady,
		},
		PhaseReady: {
			Prompt: func(*Draft) (string, []conversation.Option) {
				return w.spec.queryPrompt, nil
			},
			Input: flow.InputFreeText,
			Apply: applyQuery,
			Next:  PhaseGenerating,
		},
		PhaseGenerating: {
			OnEnter: w.generate,
		},
		PhaseGenerated: {
			Input: flow.InputFreeText,
			Apply: applyQuery,
			Next:  PhaseGenerating,
		},
	}
}

func applyQuery(d *Draft, v string) error {
	if v == "" {
		return fmt.Errorf("please describe what you want me to generate")
	}
	d.Query = v
	return nil
}

func (w *Wizard) workspaceOptions() []conversation.Option {
	w.mu.Lock()
	list := w.list
	w.mu.Unlock()

	if len(list) == 0 {
		return []conversation.Option{
			{ID: "ws-none", Label: "Continue without a workspace", Value: ""},
		}
	}
	opts := make([]conversation.Option, 0, len(list))
	for _, ws := range list {
		opts = append(opts, conversation.Option{ID: "ws-" + ws.ID.String(), Label: ws.Name, Value: ws.ID.String()})
	}
	return opts
}

func (w *Wizard) applyWorkspace(d *Draft, v string) error {
	if v == "" {
		d.WorkspaceID = uuid.Nil
		d.WorkspaceName = ""
		return nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return fmt.Errorf("please pick a workspace from the list")
	}
	d.WorkspaceID = id
	w.mu.Lock()
	for _, ws := range w.list {
		if ws.ID == id {
			d.WorkspaceName = ws.Name
			break
		}
	}
	w.mu.Unlock()
	return nil
}

// generate runs the primary generation for the stored query.
func (w *Wizard) generate(ctx context.Context, d *Draft, t *conversation.Transcript) {
	w.run(ctx, d, t, runParams{
		endpoint:    w.spec.endpoint,
		query:       d.Query,
		resultKind:  w.spec.resultKind,
		transform:   w.spec.transform,
		historyKind: string(w.kind),
		revertTo:    PhaseReady,
	})
}

// convert re-generates the latest scenario as code via the conversion
// endpoint. Scenario wizard only.
func (w *Wizard) convert(ctx context.Context) {
	d := w.engine.Draft()
	w.run(ctx, d, w.transcript, runParams{
		endpoint:    gateway.EndpointScenarioToCode,
		query:       d.Output,
		resultKind:  conversation.KindCodeDisplay,
		transform:   stream.StripCodeFences,
		historyKind: string(KindCode),
		revertTo:    PhaseGenerated,
		isConvert:   true,
	})
}

type runParams struct {
	endpoint    gateway.Endpoint
	query       string
	resultKind  conversation.Kind
	transform   stream.Transform
	historyKind string
	revertTo    flow.Phase
	isConvert   bool
}

// run performs one streaming generation: open the stream, grow a
// placeholder message delta by delta, then record history and offer
// follow-ups. Any failure reverts the phase so the user resubmits
// manually; whatever streamed before the failure stays visible.
func (w *Wizard) run(ctx context.Context, d *Draft, t *conversation.Transcript, p runParams) {
	req := gateway.GenerateRequest{
		Framework: d.Framework,
		Platform:  d.Platform,
		Module:    d.Module,
		Query:     p.query,
	}
	if d.WorkspaceID != uuid.Nil {
		req.WorkspaceID = d.WorkspaceID.String()
		cctx, cancel := context.WithTimeout(ctx, contextBuildTimeout)
		gc, err := w.workspaces.BuildContext(cctx, d.WorkspaceID)
		cancel()
		if err != nil {
			w.logger.Warn("context build failed, generating without context", "error", err)
		} else {
			req.Context = gc
		}
	}

	body, err := w.gateway.Generate(ctx, p.endpoint, req)
	if err != nil {
		w.logger.Warn("generation request failed", "endpoint", p.endpoint, "error", err)
		t.Append(conversation.Partial{
			Role:    conversation.RoleAssistant,
			Kind:    conversation.KindError,
			Content: gateway.UserMessage(err),
		})
		w.engine.SetPhase(p.revertTo)
		return
	}
	defer body.Close()

	placeholder := t.Append(conversation.Partial{
		Role: conversation.RoleAssistant,
		Kind: p.resultKind,
	})

	opts := []stream.AssemblerOption{stream.WithLogger(w.logger)}
	if p.transform != nil {
		opts = append(opts, stream.WithTransform(p.transform))
	}
	asm := stream.NewAssembler(opts...)

	final, err := asm.Run(ctx, body, func(total string) error {
		t.SetContent(placeholder.ID, total)
		return nil
	})
	if err != nil {
		// The placeholder keeps whatever streamed before the failure.
		w.logger.Warn("generation stream failed", "endpoint", p.endpoint, "error", err)
		t.Append(conversation.Partial{
			Role:    conversation.RoleAssistant,
			Kind:    conversation.KindError,
			Content: "The generation was interrupted. The partial output above is kept; please try again.",
		})
		w.engine.SetPhase(p.revertTo)
		return
	}

	t.SetContent(placeholder.ID, final)
	if !p.isConvert {
		d.Output = final
	}
	w.recordHistory(ctx, d, p, final)
	w.engine.SetPhase(PhaseGenerated)

	followUps := []conversation.Option{}
	if w.spec.convertible && !p.isConvert {
		followUps = append(followUps, conversation.Option{ID: "convert", Label: "Convert to code", Value: "convert"})
	}
	followUps = append(followUps, conversation.Option{ID: "restart", Label: "Start over", Value: "restart"})
	t.Append(conversation.Partial{
		Role:    conversation.RoleAssistant,
		Kind:    conversation.KindOptionSelect,
		Content: "Done. Type a new request to generate again, or pick an action.",
		Options: followUps,
	})
}

func (w *Wizard) recordHistory(ctx context.Context, d *Draft, p runParams, result string) {
	if w.history == nil {
		return
	}
	hctx, cancel := context.WithTimeout(ctx, historyRecordTimeout)
	defer cancel()

	wsID := ""
	if d.WorkspaceID != uuid.Nil {
		wsID = d.WorkspaceID.String()
	}
	if _, err := w.history.Record(hctx, p.historyKind, wsID, p.query, result); err != nil {
		w.logger.Warn("history record failed", "error", err)
	}
}
