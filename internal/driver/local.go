package driver

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	perrors "git.home.luguber.info/inful/polybuild/internal/errors"
	"git.home.luguber.info/inful/polybuild/internal/logfields"
	"git.home.luguber.info/inful/polybuild/internal/vcs"
	"git.home.luguber.info/inful/polybuild/internal/workspace"
)

// RunLocal builds only the current working tree under a synthetic revision
// name, against a mocked revision set. Used during authoring to preview the
// full site layout without checking anything out.
func (d *Driver) RunLocal(ctx context.Context, localName string, mock []vcs.Revision) (*RunResult, error) {
	start := time.Now()

	current, err := d.localRevision(localName)
	if err != nil {
		return nil, err
	}
	targets := appendCurrent(mock, current)
	vcs.SortRevisions(targets)

	slog.Info("Starting local build",
		logfields.BuildID(d.buildID),
		logfields.Revision(current.Name),
		logfields.Output(d.outputDir))

	state := &GlobalState{Revisions: targets, OutputRoot: d.outputDir}
	if _, err := d.preflight([]vcs.Revision{current}); err != nil {
		return nil, err
	}
	if err := ensureDir(d.outputDir); err != nil {
		return nil, err
	}

	result := d.buildLocal(ctx, state, current)
	run := &RunResult{Results: []RevisionResult{result}}
	if result.State == StateDone {
		run.Outcome = OutcomeSuccess
		run.Built = targets
	} else {
		run.Outcome = OutcomeTotalFailure
	}

	if err := d.renderRoot(state, run.Built); err != nil {
		return nil, err
	}
	return d.finish(start, run), nil
}

// localRevision synthesizes the descriptor for the working tree.
func (d *Driver) localRevision(localName string) (vcs.Revision, error) {
	rev := vcs.Revision{
		Name: localName,
		Hash: "local",
		Ref:  "refs/heads/" + localName,
		Kind: vcs.KindBranch,
		Date: time.Now().UTC(),
	}
	// providers tracking a real head can pin the synthetic revision to it
	if hp, ok := d.provider.(interface {
		Head(root, name string) (vcs.Revision, error)
	}); ok {
		if head, err := hp.Head(d.root, localName); err == nil {
			rev = head
			rev.Name = localName
		}
	}
	return rev, nil
}

// appendCurrent adds the current revision to the mocked set unless a
// revision with the same name is already present.
func appendCurrent(mock []vcs.Revision, current vcs.Revision) []vcs.Revision {
	for _, rev := range mock {
		if rev.Name == current.Name {
			return mock
		}
	}
	return append(append([]vcs.Revision{}, mock...), current)
}

// buildLocal copies the working tree into a scope and runs the build stages
// against the copy, so the build cannot dirty the checkout.
func (d *Driver) buildLocal(ctx context.Context, state *GlobalState, current vcs.Revision) RevisionResult {
	start := time.Now()
	name := d.provider.Name(current)
	result := RevisionResult{Revision: current, Name: name, ID: uuid.NewString(), State: StatePending}

	fail := func(stage PipelineState, err error) RevisionResult {
		result.State = StateFailed
		result.Err = err
		result.Duration = time.Since(start)
		slog.Error("Local build failed",
			logfields.Revision(current.Name),
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
			slog.Warn("Failed to release working copy", logfields.Error(err))
		}
	}()

	result.State = StateCheckingOut
	dir, err := scope.Enter()
	if err != nil {
		return fail(StateCheckingOut, perrors.Wrap(err, perrors.CategoryCheckout, perrors.SeverityError, "create working copy directory"))
	}
	if err := copyTree(d.root, dir, d.localSkip()); err != nil {
		return fail(StateCheckingOut, perrors.Wrap(err, perrors.CategoryCheckout, perrors.SeverityError, "copy working tree"))
	}

	return d.buildFrom(ctx, state, current, name, result.ID, dir, start, fail)
}

// localSkip excludes the output tree and git metadata from the working
// tree copy.
func (d *Driver) localSkip() skipFunc {
	absOut, err := filepath.Abs(d.outputDir)
	if err != nil {
		absOut = d.outputDir
	}
	absRoot, err := filepath.Abs(d.root)
	if err != nil {
		absRoot = d.root
	}
	relOut, err := filepath.Rel(absRoot, absOut)
	if err != nil {
		relOut = ""
	}
	return func(rel string, d fs.DirEntry) bool {
		if rel == ".git" {
			return true
		}
		return relOut != "" && rel == relOut
	}
}

func ensureDir(path string) error {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return perrors.Wrap(err, perrors.CategoryInternal, perrors.SeverityFatal, "create output root")
	}
	return nil
}
