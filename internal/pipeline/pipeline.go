package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Romern/syncMyMoodle/internal/crawler"
	"github.com/Romern/syncMyMoodle/internal/database"
	"github.com/Romern/syncMyMoodle/internal/download"
	"github.com/Romern/syncMyMoodle/internal/model"
	"github.com/Romern/syncMyMoodle/internal/moodle"
)

// State is shared by the steps of one sync.
type State struct {
	Report *model.SyncReport

	// SessKey is the session key of the logged in Moodle session.
	SessKey string

	// Token is the mobile app web service token.
	Token string

	// OpencastToken is the token of the Opencast service. It is empty when
	// Opencast is disabled or the token could not be obtained.
	OpencastToken string

	SiteInfo *moodle.SiteInfo
	API      API
	Crawl    *crawler.Result
	Summary  *download.Summary
	Run      *database.Run
}

// NewState returns a State for report.
func NewState(report *model.SyncReport) *State {
	return &State{Report: report}
}

// Step is one stage of a sync.
type Step interface {
	// Do executes the step. Failures of single files or modules are
	// recorded in the state; a returned error aborts the sync.
	Do(ctx context.Context, state *State) error

	// Name returns the step's name for logging purposes.
	Name() string
}

// Pipeline runs steps in order.
type Pipeline struct {
	steps  []Step
	logger *slog.Logger

	// continueOnError keeps running later steps after a failure.
	continueOnError bool
}

// Option is a function that configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a custom logger for the pipeline.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithContinueOnError configures the pipeline to continue execution
// even when a step fails.
func WithContinueOnError(continueOnError bool) Option {
	return func(p *Pipeline) {
		p.continueOnError = continueOnError
	}
}

// New creates a new Pipeline with the given options.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{steps: make([]Step, 0)}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// AddStep appends a step to the pipeline.
func (p *Pipeline) AddStep(step Step) {
	p.steps = append(p.steps, step)
}

// AddSteps appends multiple steps to the pipeline.
func (p *Pipeline) AddSteps(steps ...Step) {
	p.steps = append(p.steps, steps...)
}

// Execute runs all steps in sequence. Cancellation is checked before each
// step. The first error is recorded in the report and returned unless
// the pipeline continues on errors.
func (p *Pipeline) Execute(ctx context.Context, state *State) error {
	report := state.Report
	var firstErr error

	for _, step := range p.steps {
		select {
		case <-ctx.Done():
			p.logger.Warn("sync canceled", "step", step.Name(), "reason", ctx.Err())
			report.Canceled = true
			if report.Error == nil {
				report.Fail(ctx.Err())
			}
			return ctx.Err()
		default:
		}

		p.logger.Info("executing step", "step", step.Name(), "user", report.User)

		if err := step.Do(ctx, state); err != nil {
			p.logger.Error("step failed", "step", step.Name(), "error", err)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				report.Canceled = true
			}
			if report.Error == nil {
				report.Fail(err)
			}
			report.PerformedSteps = append(report.PerformedSteps, step.Name())
			if !p.continueOnError {
				return err
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		p.logger.Debug("step completed", "step", step.Name())
		report.PerformedSteps = append(report.PerformedSteps, step.Name())
	}
	return firstErr
}

// StepCount returns the number of steps in the pipeline.
func (p *Pipeline) StepCount() int {
	return len(p.steps)
}

// StepNames returns the names of all steps in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, step := range p.steps {
		names[i] = step.Name()
	}
	return names
}
