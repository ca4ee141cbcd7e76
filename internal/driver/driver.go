// Package driver orchestrates the whole run: it resolves the revisions to
// build, schedules one isolated pipeline per revision, collects the outputs
// into the shared output tree and triggers root-level rendering.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/polybuild/internal/builder"
	"git.home.luguber.info/inful/polybuild/internal/environment"
	perrors "git.home.luguber.info/inful/polybuild/internal/errors"
	"git.home.luguber.info/inful/polybuild/internal/logfields"
	"git.home.luguber.info/inful/polybuild/internal/metadata"
	"git.home.luguber.info/inful/polybuild/internal/metrics"
	"git.home.luguber.info/inful/polybuild/internal/rootrender"
	"git.home.luguber.info/inful/polybuild/internal/selector"
	"git.home.luguber.info/inful/polybuild/internal/util/sets"
	"git.home.luguber.info/inful/polybuild/internal/vcs"
	"git.home.luguber.info/inful/polybuild/internal/workspace"
)

// PipelineState names the stages of one revision's pipeline.
type PipelineState string

const (
	StatePending       PipelineState = "pending"
	StateCheckingOut   PipelineState = "checking_out"
	StateEnvSetup      PipelineState = "env_setup"
	StateBuilding      PipelineState = "building"
	StateCopyingOutput PipelineState = "copying_output"
	StateDone          PipelineState = "done"
	StateFailed        PipelineState = "failed"
)

// Outcome classifies a whole run.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomePartialFailure
	OutcomeTotalFailure
	OutcomeNothingToBuild
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomePartialFailure:
		return "partial"
	case OutcomeTotalFailure:
		return "failed"
	case OutcomeNothingToBuild:
		return "empty"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// ExitCode maps the outcome onto the process exit status.
func (o Outcome) ExitCode() int {
	switch o {
	case OutcomeSuccess:
		return 0
	case OutcomePartialFailure:
		return 2
	case OutcomeNothingToBuild:
		return 3
	default:
		return 1
	}
}

// GlobalState is the frozen, read-only state shared by every pipeline and
// the root-render step. It is fixed before any pipeline starts.
type GlobalState struct {
	Revisions  []vcs.Revision
	OutputRoot string
}

// RevisionResult records the terminal state of one pipeline.
type RevisionResult struct {
	Revision vcs.Revision
	Name     string
	ID       string // pipeline build ID, distinct from the run's
	State    PipelineState
	Err      error
	Duration time.Duration
}

// RunResult aggregates a whole run.
type RunResult struct {
	Outcome Outcome
	Results []RevisionResult
	Built   []vcs.Revision
}

// RootDataFactory computes the payload handed to root templates. Built holds
// the successfully built revisions in canonical order.
type RootDataFactory func(state *GlobalState, built []vcs.Revision) map[string]any

// Driver coordinates the per-revision pipelines.
type Driver struct {
	provider  vcs.Provider
	predicate vcs.Predicate
	root      string
	outputDir string

	builders     map[string]builder.Builder
	environments map[string]environment.Factory
	selector     selector.Selector

	data     metadata.DataFactory
	rootData RootDataFactory
	renderer *rootrender.Renderer
	recorder metrics.Recorder

	concurrency int
	buildID     string
}

// Option configures a Driver.
type Option func(*Driver)

// WithPredicate filters the candidate revisions.
func WithPredicate(p vcs.Predicate) Option {
	return func(d *Driver) { d.predicate = p }
}

// WithBuilders installs the keyed builder table. The selector.DefaultKey
// entry is required.
func WithBuilders(builders map[string]builder.Builder) Option {
	return func(d *Driver) { d.builders = builders }
}

// WithEnvironments installs the keyed environment factory table. The
// selector.DefaultKey entry is required.
func WithEnvironments(envs map[string]environment.Factory) Option {
	return func(d *Driver) { d.environments = envs }
}

// WithSelector sets the configuration selection policy.
func WithSelector(s selector.Selector) Option {
	return func(d *Driver) { d.selector = s }
}

// WithDataFactory substitutes the per-revision metadata factory.
func WithDataFactory(f metadata.DataFactory) Option {
	return func(d *Driver) { d.data = f }
}

// WithRootDataFactory substitutes the root template data factory.
func WithRootDataFactory(f RootDataFactory) Option {
	return func(d *Driver) { d.rootData = f }
}

// WithRenderer sets the root artifact renderer.
func WithRenderer(r *rootrender.Renderer) Option {
	return func(d *Driver) { d.renderer = r }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(d *Driver) { d.recorder = r }
}

// WithConcurrency bounds the number of concurrently running pipelines.
// Zero means one pipeline per available processor.
func WithConcurrency(n int) Option {
	return func(d *Driver) { d.concurrency = n }
}

// New creates a driver building from the repository at root into outputDir.
func New(provider vcs.Provider, root, outputDir string, opts ...Option) *Driver {
	d := &Driver{
		provider:  provider,
		root:      root,
		outputDir: outputDir,
		builders: map[string]builder.Builder{
			selector.DefaultKey: builder.NewSphinx("docs"),
		},
		environments: map[string]environment.Factory{
			selector.DefaultKey: environment.NoopFactory(""),
		},
		selector: selector.Static{},
		data:     metadata.DefaultData,
		renderer: rootrender.New("", ""),
		recorder: metrics.NoopRecorder{},
		buildID:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.rootData == nil {
		d.rootData = defaultRootData
	}
	return d
}

func defaultRootData(state *GlobalState, built []vcs.Revision) map[string]any {
	return map[string]any{
		"Revisions": built,
		"All":       state.Revisions,
	}
}

// Run executes the full multi-revision build.
func (d *Driver) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	slog.Info("Starting documentation build",
		logfields.BuildID(d.buildID),
		logfields.Path(d.root),
		logfields.Output(d.outputDir))

	targets, err := d.provider.Revisions(ctx, d.root, d.predicate)
	if err != nil {
		return nil, perrors.Wrap(err, perrors.CategoryCheckout, perrors.SeverityFatal, "enumerate revisions")
	}
	vcs.SortRevisions(targets)

	state := &GlobalState{Revisions: targets, OutputRoot: d.outputDir}

	names, err := d.preflight(targets)
	if err != nil {
		return nil, err
	}

	if err := ensureDir(d.outputDir); err != nil {
		return nil, err
	}

	if len(targets) == 0 {
		slog.Warn("No revisions matched the configured filters")
		if err := d.renderRoot(state, nil); err != nil {
			return nil, err
		}
		return d.finish(start, &RunResult{Outcome: OutcomeNothingToBuild}), nil
	}

	results := make([]RevisionResult, len(targets))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(d.limit())

	for i, rev := range targets {
		i, rev := i, rev
		group.Go(func() error {
			results[i] = d.buildRevision(gctx, state, rev, names[i])
			return nil
		})
	}
	// pipelines contain their own failures; only cancellation surfaces here
	if err := group.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := d.collect(results)
	if err := d.renderRoot(state, result.Built); err != nil {
		return nil, err
	}
	return d.finish(start, result), nil
}

// preflight computes the output names and rejects collisions between
// revisions and with root-level artifacts before any pipeline starts.
func (d *Driver) preflight(targets []vcs.Revision) ([]string, error) {
	if _, ok := d.builders[selector.DefaultKey]; !ok {
		return nil, perrors.ConfigError("no default builder configured")
	}
	if _, ok := d.environments[selector.DefaultKey]; !ok {
		return nil, perrors.ConfigError("no default environment configured")
	}

	names := make([]string, len(targets))
	seen := make(map[string]vcs.Revision, len(targets))
	for i, rev := range targets {
		name := d.provider.Name(rev)
		if prev, dup := seen[name]; dup {
			return nil, perrors.ConfigError(fmt.Sprintf(
				"revisions %q and %q map to the same output directory %q", prev.Name, rev.Name, name))
		}
		seen[name] = rev
		names[i] = name
	}

	rootNames, err := d.renderer.RootNames()
	if err != nil {
		return nil, perrors.Wrap(err, perrors.CategoryConfig, perrors.SeverityFatal, "inspect root artifacts")
	}
	rootNames = append(rootNames, metadata.VersionsFile)
	rootSet := sets.New(rootNames...)
	for name, rev := range seen {
		if rootSet.Has(name) {
			return nil, perrors.ConfigError(fmt.Sprintf(
				"revision %q collides with root-level artifact %q", rev.Name, name))
		}
	}
	return names, nil
}

// buildRevision runs one pipeline through its states. All failures are
// contained here and reported through the result.
func (d *Driver) buildRevision(ctx context.Context, state *GlobalState, rev vcs.Revision, name string) RevisionResult {
	start := time.Now()
	result := RevisionResult{Revision: rev, Name: name, ID: uuid.NewString(), State: StatePending}

	fail := func(stage PipelineState, err error) RevisionResult {
		result.State = StateFailed
		result.Err = err
		result.Duration = time.Since(start)
		slog.Error("Revision build failed",
			logfields.Revision(rev.Name),
			logfields.PipelineID(result.ID),
			logfields.Stage(string(stage)),
			logfields.Error(err))
		d.recorder.IncPipelineOutcome("failed")
		d.recorder.ObservePipelineDuration(name, result.Duration)
		return result
	}

	scope := workspace.NewScope("polybuild-" + name)
	defer func() {
		if err := scope.Release(); err != nil {
			slog.Warn("Failed to release checkout", logfields.Revision(rev.Name), logfields.Error(err))
		}
	}()

	// checkout
	result.State = StateCheckingOut
	slog.Info("Checking out revision",
		logfields.Revision(rev.Name),
		logfields.PipelineID(result.ID),
		logfields.Commit(rev.ShortHash()))
	dir, err := scope.Enter()
	if err != nil {
		return fail(StateCheckingOut, perrors.Wrap(err, perrors.CategoryCheckout, perrors.SeverityError, "create checkout directory"))
	}
	if err := d.provider.Checkout(ctx, d.root, rev, dir); err != nil {
		return fail(StateCheckingOut, perrors.Wrap(err, perrors.CategoryCheckout, perrors.SeverityError, "materialize revision"))
	}

	return d.buildFrom(ctx, state, rev, name, result.ID, dir, start, fail)
}

// buildFrom runs the environment, build and copy stages against an existing
// source directory. Shared by the real and local pipelines.
func (d *Driver) buildFrom(
	ctx context.Context,
	state *GlobalState,
	rev vcs.Revision,
	name, id, dir string,
	start time.Time,
	fail func(PipelineState, error) RevisionResult,
) RevisionResult {
	result := RevisionResult{Revision: rev, Name: name, ID: id}

	key, err := d.selector.Select(ctx, rev, state.Revisions)
	if err != nil {
		return fail(StateEnvSetup, perrors.Wrap(err, perrors.CategoryInternal, perrors.SeverityError, "select configuration"))
	}
	bld, envFactory := d.configFor(key)

	// environment setup with guaranteed teardown
	result.State = StateEnvSetup
	env := envFactory(dir, name)
	defer func() {
		if err := env.Teardown(); err != nil {
			slog.Warn("Environment teardown failed", logfields.Revision(rev.Name), logfields.Error(err))
		}
	}()
	if err := env.Setup(ctx); err != nil {
		return fail(StateEnvSetup, err)
	}

	// build into a staging dir inside the scope; only successful output
	// reaches the shared tree
	result.State = StateBuilding
	staging := filepath.Join(dir, ".polybuild-out")
	payload := d.data(state.Revisions, rev)
	if err := bld.Build(ctx, env, staging, payload); err != nil {
		if be, ok := err.(*builder.BuildError); ok {
			slog.Debug("Build command output",
				logfields.Revision(rev.Name),
				slog.String("stdout", be.Stdout),
				slog.String("stderr", be.Stderr))
			err = perrors.Wrap(be, perrors.CategoryBuild, perrors.SeverityError, "build failed").
				WithContext("stdout", be.Stdout).
				WithContext("stderr", be.Stderr)
		}
		return fail(StateBuilding, err)
	}

	result.State = StateCopyingOutput
	target := filepath.Join(state.OutputRoot, name)
	if err := copyTree(staging, target, nil); err != nil {
		return fail(StateCopyingOutput, perrors.Wrap(err, perrors.CategoryInternal, perrors.SeverityError, "copy output"))
	}

	result.State = StateDone
	result.Duration = time.Since(start)
	slog.Info("Revision built",
		logfields.Revision(rev.Name),
		logfields.PipelineID(id),
		logfields.Output(target),
		logfields.DurationMS(float64(result.Duration.Milliseconds())))
	d.recorder.IncPipelineOutcome("success")
	d.recorder.ObservePipelineDuration(name, result.Duration)
	return result
}

func (d *Driver) configFor(key string) (builder.Builder, environment.Factory) {
	bld, ok := d.builders[key]
	if !ok {
		bld = d.builders[selector.DefaultKey]
	}
	env, ok := d.environments[key]
	if !ok {
		env = d.environments[selector.DefaultKey]
	}
	return bld, env
}

func (d *Driver) limit() int {
	if d.concurrency > 0 {
		return d.concurrency
	}
	return runtime.GOMAXPROCS(0)
}

// collect classifies the terminal pipeline states into a run result.
func (d *Driver) collect(results []RevisionResult) *RunResult {
	run := &RunResult{Results: results}
	for _, r := range results {
		if r.State == StateDone {
			run.Built = append(run.Built, r.Revision)
		}
	}
	vcs.SortRevisions(run.Built)

	switch {
	case len(run.Built) == len(results):
		run.Outcome = OutcomeSuccess
	case len(run.Built) == 0:
		run.Outcome = OutcomeTotalFailure
	default:
		run.Outcome = OutcomePartialFailure
	}
	return run
}

// renderRoot runs the root-data step: versions.json plus configured
// templates and static files. Runs exactly once, strictly after all
// pipelines reached a terminal state.
func (d *Driver) renderRoot(state *GlobalState, built []vcs.Revision) error {
	if built == nil {
		built = []vcs.Revision{}
	}
	if err := metadata.WriteVersions(state.OutputRoot, built); err != nil {
		return perrors.RenderError(err, "write versions file")
	}
	return d.renderer.Render(state.OutputRoot, d.rootData(state, built))
}

// finish logs the summary and records run metrics.
func (d *Driver) finish(start time.Time, run *RunResult) *RunResult {
	duration := time.Since(start)
	d.recorder.ObserveRunDuration(duration)
	d.recorder.IncRunOutcome(run.Outcome.String())

	var failed []string
	for _, r := range run.Results {
		if r.State == StateFailed {
			failed = append(failed, r.Revision.Name)
		}
	}
	slog.Info("Build summary",
		logfields.BuildID(d.buildID),
		slog.Int("succeeded", len(run.Built)),
		slog.Int("failed", len(failed)),
		slog.Any("failed_revisions", failed),
		logfields.DurationMS(float64(duration.Milliseconds())))
	return run
}
