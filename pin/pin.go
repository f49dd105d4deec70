// Package pin applies artifactEdit responses to the pinned files of a
// project, keeps a one-step undo record and drives the repair loop.
package pin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"

	"github.com/sokinpui/pin/internal/fs"
	"github.com/sokinpui/pin/internal/llm"
	"github.com/sokinpui/pin/internal/parser"
	"github.com/sokinpui/pin/internal/patcher"
	"github.com/sokinpui/pin/internal/repair"
	"github.com/sokinpui/pin/internal/runner"
	"github.com/sokinpui/pin/internal/scope"
	"github.com/sokinpui/pin/internal/state"
	"github.com/sokinpui/pin/internal/term"
	"github.com/sokinpui/pin/model"
)

// ErrNoGenerator is returned by operations that need a model when none is set.
var ErrNoGenerator = errors.New("no generator configured")

// PinSource supplies the current pins.
type PinSource interface {
	Pins() []string
}

// StaticPins is a fixed list of pins.
type StaticPins []string

func (p StaticPins) Pins() []string {
	return p
}

// DetailedError enhances a standard error with a stack trace.
type DetailedError struct {
	Err   error
	Stack []byte
}

func (e *DetailedError) Error() string {
	return e.Err.Error()
}

func (e *DetailedError) Unwrap() error {
	return e.Err
}

// StackTrace returns the stack captured when the panic was recovered.
func (e *DetailedError) StackTrace() []byte {
	return e.Stack
}

// recoverPanic turns a panic into a DetailedError. It must be deferred.
func recoverPanic(err *error) {
	if r := recover(); r != nil {
		*err = &DetailedError{
			Err:   fmt.Errorf("internal panic: %v", r),
			Stack: debug.Stack(),
		}
	}
}

// App orchestrates the edit pipeline.
type App struct {
	pins         PinSource
	store        *state.Store
	ws           fs.Workspace
	generator    llm.Generator
	executor     runner.Executor
	capturer     term.Capturer
	unwrapFences bool
	repair       repair.Config
	logger       *slog.Logger
}

// Option configures an App.
type Option func(*App)

// WithWorkspace replaces the disk workspace.
func WithWorkspace(ws fs.Workspace) Option {
	return func(a *App) { a.ws = ws }
}

// WithGenerator sets the model used by Ask and Fix.
func WithGenerator(g llm.Generator) Option {
	return func(a *App) { a.generator = g }
}

// WithExecutor sets how Fix runs commands.
func WithExecutor(e runner.Executor) Option {
	return func(a *App) { a.executor = e }
}

// WithCapturer sets how read-only terminal pins are captured.
func WithCapturer(c term.Capturer) Option {
	return func(a *App) { a.capturer = c }
}

// WithUnwrapFences strips a markdown fence wrapping a directive body.
func WithUnwrapFences(unwrap bool) Option {
	return func(a *App) { a.unwrapFences = unwrap }
}

// WithRepairConfig bounds the repair loop.
func WithRepairConfig(cfg repair.Config) Option {
	return func(a *App) { a.repair = cfg }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// New creates an App over the given pins and undo store.
func New(pins PinSource, store *state.Store, opts ...Option) *App {
	a := &App{
		pins:     pins,
		store:    store,
		ws:       fs.NewOS(),
		executor: runner.Shell{},
		capturer: term.Tmux{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Outcome is the result of processing one response.
type Outcome struct {
	Summary    model.Summary
	Report     patcher.Report
	Operation  model.Operation
	Violations []scope.Violation
	// ParseErrors are the directives dropped by the parser.
	ParseErrors []error
	// Conversation holds the response when it carried no directives.
	Conversation string
}

// IsBatch reports whether the response carried directives.
func (o Outcome) IsBatch() bool {
	return o.Conversation == ""
}

// Apply processes a response obtained elsewhere, starting a new undo record.
func (a *App) Apply(ctx context.Context, response string) (out Outcome, err error) {
	defer recoverPanic(&err)
	return a.process(ctx, response, state.ModeReplace)
}

// Ask sends message with the pinned context to the generator and applies
// the reply.
func (a *App) Ask(ctx context.Context, message, clipboard string) (out Outcome, err error) {
	defer recoverPanic(&err)

	if a.generator == nil {
		return Outcome{}, ErrNoGenerator
	}
	prompt, err := a.Prompt(ctx, message, clipboard)
	if err != nil {
		return Outcome{}, err
	}
	reply, err := a.generator.Generate(ctx, prompt.Build())
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to generate response: %w", err)
	}
	return a.process(ctx, reply, state.ModeReplace)
}

// Prompt gathers the pinned files, terminal captures and clipboard text.
func (a *App) Prompt(ctx context.Context, message, clipboard string) (llm.Prompt, error) {
	pins := a.pins.Pins()
	set, err := scope.Build(ctx, pins)
	if err != nil {
		return llm.Prompt{}, err
	}

	prompt := llm.Prompt{Clipboard: clipboard, Message: message}
	for _, path := range set.Files() {
		data, err := a.ws.ReadFile(path)
		if err != nil {
			a.logger.Warn("skipping unreadable pinned file", "path", path, "error", err)
			continue
		}
		prompt.Files = append(prompt.Files, llm.File{Path: path, Content: string(data)})
	}

	for _, p := range pins {
		session, ok := term.Session(p)
		if !ok {
			continue
		}
		content, err := a.capturer.Capture(ctx, session)
		prompt.Terminals = append(prompt.Terminals, llm.Terminal{Identifier: p, Content: content, Err: err})
	}
	return prompt, nil
}

// Context renders the pinned context without a request, for copying.
func (a *App) Context(ctx context.Context) (text string, err error) {
	defer recoverPanic(&err)

	prompt, err := a.Prompt(ctx, "", "")
	if err != nil {
		return "", err
	}
	return prompt.Build(), nil
}

// Undo reverses the most recent batch or repair run.
func (a *App) Undo(ctx context.Context) (report state.UndoReport, err error) {
	defer recoverPanic(&err)
	return a.store.Undo(ctx, a.ws)
}

// Fix runs command and asks the generator to fix it until it passes or no
// edit is made. observe, when set, receives every applied response.
func (a *App) Fix(ctx context.Context, command string, observe func(repair.Iteration, Outcome)) (res repair.Result, err error) {
	defer recoverPanic(&err)

	if a.generator == nil {
		return repair.Result{}, ErrNoGenerator
	}

	f := &fixer{app: a}
	loop := repair.Loop{
		Executor: a.executor,
		Fixer:    f,
		Config:   a.repair,
		Logger:   a.logger,
	}
	if observe != nil {
		loop.OnIteration = func(it repair.Iteration) {
			observe(it, f.last)
			f.last = Outcome{}
		}
	}
	return loop.Run(ctx, command)
}

type fixer struct {
	app  *App
	last Outcome
}

// Fix applies one repair iteration. The first iteration replaces the undo
// record; later ones append to it so undo reverts the whole run.
func (f *fixer) Fix(ctx context.Context, command string, failure runner.Result, first bool) (model.Operation, error) {
	prompt, err := f.app.Prompt(ctx, llm.FailureMessage(command, failure), "")
	if err != nil {
		return model.Operation{}, err
	}
	reply, err := f.app.generator.Generate(ctx, prompt.Build())
	if err != nil {
		return model.Operation{}, fmt.Errorf("failed to generate fix: %w", err)
	}

	mode := state.ModeAppend
	if first {
		mode = state.ModeReplace
	}
	out, err := f.app.process(ctx, reply, mode)
	if err != nil {
		return model.Operation{}, err
	}
	f.last = out
	return out.Operation, nil
}

// process runs parse, scope validation, patching and the undo record for
// one response.
func (a *App) process(ctx context.Context, response string, mode state.Mode) (Outcome, error) {
	parsed := parser.ParseWithOptions(response, parser.Options{UnwrapFences: a.unwrapFences})
	for _, perr := range parsed.Errors {
		a.logger.Warn("dropped malformed directive", "error", perr)
	}

	if !parsed.IsBatch() {
		out := Outcome{ParseErrors: parsed.Errors, Conversation: response}
		out.Summary = summarize(patcher.Report{}, nil, parsed.Errors)
		out.Summary.Message = "No edits in response."
		if strings.TrimSpace(response) == "" {
			out.Conversation = ""
			out.Summary.Message = "Response is empty. Nothing to process."
		}
		return out, nil
	}

	set, err := scope.Build(ctx, a.pins.Pins())
	if err != nil {
		return Outcome{}, err
	}
	kept, violations := set.Filter(parsed.Directives, a.ws.Exists)
	for _, v := range violations {
		a.logger.Warn("dropped directive outside scope", "identifier", v.Identifier, "reason", v.Reason)
	}

	rec := a.store.Begin(mode)
	report := patcher.ApplyBatch(ctx, parser.Group(kept), a.ws, rec)
	op, err := rec.Commit(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to save undo record: %w", err)
	}

	a.logger.Info("applied batch",
		"directives", len(parsed.Directives),
		"mutations", report.Mutations(),
		"failed", len(report.Failed),
		"skipped", len(report.Skipped)+len(violations)+parsed.Skipped,
	)

	return Outcome{
		Summary:     summarize(report, violations, parsed.Errors),
		Report:      report,
		Operation:   op,
		Violations:  violations,
		ParseErrors: parsed.Errors,
	}, nil
}

func summarize(report patcher.Report, violations []scope.Violation, parseErrors []error) model.Summary {
	var s model.Summary
	for _, r := range report.Results {
		switch r.Action {
		case model.ActionAdded:
			s.Created = append(s.Created, r.Path)
		case model.ActionUpdated:
			s.Modified = append(s.Modified, r.Path)
		case model.ActionRemoved:
			s.Removed = append(s.Removed, r.Path)
		}
	}
	for _, perr := range parseErrors {
		f := model.Failure{Path: "response", Reason: perr.Error()}
		var pe *parser.ParseError
		if errors.As(perr, &pe) {
			f = model.Failure{Path: fmt.Sprintf("directive at offset %d", pe.Offset), Reason: pe.Reason}
		}
		s.Skipped = append(s.Skipped, f)
	}
	for _, v := range violations {
		s.Skipped = append(s.Skipped, model.Failure{Path: v.Identifier, Reason: v.Reason})
	}
	s.Skipped = append(s.Skipped, report.Skipped...)
	s.Failed = append(s.Failed, report.Failed...)
	return s
}

// PinInfo describes one pin for listing.
type PinInfo struct {
	Pin   string
	Kind  string
	Files int
}

// Pin kinds.
const (
	KindFile      = "file"
	KindDirectory = "directory"
	KindTerminal  = "terminal"
	KindMissing   = "missing"
)

// Describe lists the pins with the number of editable files each one adds
// to the scope, and the size of the whole scope.
func (a *App) Describe(ctx context.Context) (infos []PinInfo, total int, err error) {
	defer recoverPanic(&err)

	pins := a.pins.Pins()
	for _, p := range pins {
		info := PinInfo{Pin: p}
		switch {
		case scope.IsReadOnly(p):
			info.Kind = KindTerminal
		default:
			stat, statErr := os.Stat(p)
			switch {
			case statErr != nil:
				info.Kind = KindMissing
			case stat.IsDir():
				info.Kind = KindDirectory
			default:
				info.Kind = KindFile
			}
			if info.Kind != KindMissing {
				set, err := scope.Build(ctx, []string{p})
				if err != nil {
					return nil, 0, err
				}
				info.Files = set.Len()
			}
		}
		infos = append(infos, info)
	}

	set, err := scope.Build(ctx, pins)
	if err != nil {
		return nil, 0, err
	}
	return infos, set.Len(), nil
}
