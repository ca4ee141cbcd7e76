package environment

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	perrors "git.home.luguber.info/inful/polybuild/internal/errors"
	"git.home.luguber.info/inful/polybuild/internal/logfields"
)

// VirtualEnv provisions an isolated Python virtual environment outside the
// source tree and optionally installs dependencies with pip before the
// build runs.
type VirtualEnv struct {
	base
	python      string
	installArgs []string
	venvDir     string
}

// VirtualEnvOption configures a VirtualEnv.
type VirtualEnvOption func(*VirtualEnv)

// WithPython overrides the interpreter used to create the venv.
func WithPython(python string) VirtualEnvOption {
	return func(e *VirtualEnv) { e.python = python }
}

// WithPipInstall passes args to `pip install` after the venv is created.
// Empty args skip the install step.
func WithPipInstall(args ...string) VirtualEnvOption {
	return func(e *VirtualEnv) { e.installArgs = args }
}

// WithEnvFile merges the named dotenv file (relative to the source dir) into
// every command environment.
func WithEnvFile(name string) VirtualEnvOption {
	return func(e *VirtualEnv) { e.envFile = name }
}

// VirtualEnvFactory returns a Factory producing VirtualEnv instances.
func VirtualEnvFactory(opts ...VirtualEnvOption) Factory {
	return func(path, name string) Environment {
		e := &VirtualEnv{
			base:   base{path: path, name: name},
			python: "python3",
		}
		for _, opt := range opts {
			opt(e)
		}
		return e
	}
}

// Setup creates the venv and installs dependencies. Failures leave the
// instance safe for Teardown.
func (e *VirtualEnv) Setup(ctx context.Context) error {
	if err := e.enterSetup(); err != nil {
		return err
	}

	dir, err := os.MkdirTemp("", "polybuild-venv-")
	if err != nil {
		return perrors.Wrap(err, perrors.CategoryProvision, perrors.SeverityError, "create venv directory")
	}
	e.venvDir = dir

	slog.Info("Creating virtual environment", logfields.Revision(e.name), logfields.Path(dir))
	if err := e.provision(ctx, []string{e.python, "-m", "venv", dir}); err != nil {
		return err
	}

	if len(e.installArgs) > 0 {
		slog.Info("Installing dependencies", logfields.Revision(e.name))
		args := append([]string{"pip", "install"}, e.installArgs...)
		if err := e.provision(ctx, args); err != nil {
			return err
		}
	}
	e.markReady()
	return nil
}

// provision runs one provisioning command with the venv activated and maps
// failures to provision errors carrying the captured output.
func (e *VirtualEnv) provision(ctx context.Context, args []string) error {
	env, err := e.processEnv(e.activate(nil))
	if err != nil {
		return perrors.Wrap(err, perrors.CategoryProvision, perrors.SeverityError, "build environment variables")
	}
	result, err := execute(ctx, e.path, env, args)
	if err != nil {
		return perrors.Wrap(err, perrors.CategoryProvision, perrors.SeverityError,
			fmt.Sprintf("run %s", args[0]))
	}
	if result.ExitCode != 0 {
		return perrors.New(perrors.CategoryProvision, perrors.SeverityError,
			fmt.Sprintf("%s exited with code %d", strings.Join(args, " "), result.ExitCode)).
			WithContext("stdout", result.Stdout).
			WithContext("stderr", result.Stderr)
	}
	return nil
}

// activate overlays venv activation onto the extra command variables.
func (e *VirtualEnv) activate(extra map[string]string) map[string]string {
	overlay := make(map[string]string, len(extra)+2)
	for k, v := range extra {
		overlay[k] = v
	}
	if e.venvDir != "" {
		overlay["VIRTUAL_ENV"] = e.venvDir
		overlay["PATH"] = filepath.Join(e.venvDir, "bin") + string(os.PathListSeparator) + os.Getenv("PATH")
	}
	return overlay
}

// Run executes the command with the venv activated.
func (e *VirtualEnv) Run(ctx context.Context, cmd Command) (*RunResult, error) {
	if err := e.requireReady(); err != nil {
		return nil, err
	}
	env, err := e.processEnv(e.activate(cmd.Env))
	if err != nil {
		return nil, err
	}
	return execute(ctx, workdir(cmd, e.path), env, cmd.Args)
}

// Teardown removes the venv directory. Safe after partial Setup.
func (e *VirtualEnv) Teardown() error {
	if !e.enterTeardown() {
		return nil
	}
	if e.venvDir == "" {
		return nil
	}
	if err := os.RemoveAll(e.venvDir); err != nil {
		return fmt.Errorf("remove venv %s: %w", e.venvDir, err)
	}
	e.venvDir = ""
	return nil
}

// Poetry provisions an isolated environment through `poetry install` and
// locates the created venv with `poetry env info --path`. The venv is placed
// outside the source tree so the checkout stays pristine.
type Poetry struct {
	base
	installArgs []string
	venvRoot    string // POETRY_VIRTUALENVS_PATH
	venvDir     string // actual venv reported by poetry
}

// PoetryFactory returns a Factory producing Poetry environments. Args are
// passed to `poetry install`.
func PoetryFactory(envFile string, installArgs ...string) Factory {
	return func(path, name string) Environment {
		return &Poetry{
			base:        base{path: path, name: name, envFile: envFile},
			installArgs: installArgs,
		}
	}
}

// Setup runs `poetry install` into a temporary venv root and resolves the
// venv location.
func (e *Poetry) Setup(ctx context.Context) error {
	if err := e.enterSetup(); err != nil {
		return err
	}

	root, err := os.MkdirTemp("", "polybuild-poetry-")
	if err != nil {
		return perrors.Wrap(err, perrors.CategoryProvision, perrors.SeverityError, "create venv root")
	}
	e.venvRoot = root

	overlay := map[string]string{
		"POETRY_VIRTUALENVS_IN_PROJECT": "False",
		"POETRY_VIRTUALENVS_PATH":       root,
		// never reuse an activated venv from the calling shell
		"VIRTUAL_ENV": "",
	}
	env, err := e.processEnv(overlay)
	if err != nil {
		return perrors.Wrap(err, perrors.CategoryProvision, perrors.SeverityError, "build environment variables")
	}

	args := append([]string{"poetry", "install"}, e.installArgs...)
	slog.Info("Running poetry install", logfields.Revision(e.name))
	result, err := execute(ctx, e.path, env, args)
	if err != nil {
		return perrors.Wrap(err, perrors.CategoryProvision, perrors.SeverityError, "run poetry")
	}
	if result.ExitCode != 0 {
		return perrors.New(perrors.CategoryProvision, perrors.SeverityError,
			fmt.Sprintf("poetry install exited with code %d", result.ExitCode)).
			WithContext("stdout", result.Stdout).
			WithContext("stderr", result.Stderr)
	}

	// poetry names the venv folder itself; ask it where it ended up
	result, err = execute(ctx, e.path, env, []string{"poetry", "env", "info", "--path"})
	if err != nil {
		return perrors.Wrap(err, perrors.CategoryProvision, perrors.SeverityError, "locate poetry venv")
	}
	if result.ExitCode != 0 {
		return perrors.New(perrors.CategoryProvision, perrors.SeverityError,
			fmt.Sprintf("poetry env info exited with code %d", result.ExitCode)).
			WithContext("stderr", result.Stderr)
	}
	e.venvDir = strings.TrimSpace(result.Stdout)
	slog.Debug("Poetry venv located", logfields.Path(e.venvDir))
	e.markReady()
	return nil
}

// Run executes the command with the poetry venv activated.
func (e *Poetry) Run(ctx context.Context, cmd Command) (*RunResult, error) {
	if err := e.requireReady(); err != nil {
		return nil, err
	}
	overlay := make(map[string]string, len(cmd.Env)+2)
	for k, v := range cmd.Env {
		overlay[k] = v
	}
	if e.venvDir != "" {
		overlay["VIRTUAL_ENV"] = e.venvDir
		overlay["PATH"] = filepath.Join(e.venvDir, "bin") + string(os.PathListSeparator) + os.Getenv("PATH")
	}
	env, err := e.processEnv(overlay)
	if err != nil {
		return nil, err
	}
	return execute(ctx, workdir(cmd, e.path), env, cmd.Args)
}

// Teardown removes the venv root. Safe after partial Setup.
func (e *Poetry) Teardown() error {
	if !e.enterTeardown() {
		return nil
	}
	if e.venvRoot == "" {
		return nil
	}
	if err := os.RemoveAll(e.venvRoot); err != nil {
		return fmt.Errorf("remove venv root %s: %w", e.venvRoot, err)
	}
	e.venvRoot = ""
	return nil
}
