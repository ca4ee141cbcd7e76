// Package environment provides isolated execution contexts for build
// commands. All variants share one lifecycle: Setup provisions the
// environment, Run executes commands with captured output, Teardown releases
// provisioned resources. Teardown is safe after a partially failed Setup and
// is idempotent.
package environment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// State tracks the environment lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateTornDown:
		return "torn_down"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Command is one subprocess invocation inside an environment.
type Command struct {
	Args []string          // argv, Args[0] is the program
	Env  map[string]string // extra environment variables
	Dir  string            // working directory; defaults to the environment path
}

// RunResult carries the captured outcome of a command.
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Environment is an execution context for build commands.
//
// Setup must be called exactly once before Run; calling it twice is a
// programming error. Teardown must be called exactly once per instance via
// scoped acquisition (defer), and is safe even when Setup failed.
type Environment interface {
	Setup(ctx context.Context) error
	Run(ctx context.Context, cmd Command) (*RunResult, error)
	Teardown() error

	// Path is the source directory the environment is rooted at.
	Path() string
	// Name identifies the environment, usually the revision name.
	Name() string
}

// Factory creates an environment for a checked-out revision. Bound lazily
// per revision so configuration can vary by revision.
type Factory func(path, name string) Environment

// base carries the shared state machine and env-file handling.
type base struct {
	path        string
	name        string
	state       State
	setupCalled bool
	envFile     string // optional dotenv file name relative to path
}

func (b *base) Path() string { return b.path }
func (b *base) Name() string { return b.name }

// enterSetup guards against repeated Setup calls. The READY transition is
// deferred to markReady so a failed provisioning never yields a runnable
// environment.
func (b *base) enterSetup() error {
	if b.setupCalled {
		return fmt.Errorf("environment %s: setup already called", b.name)
	}
	if b.state != StateUninitialized {
		return fmt.Errorf("environment %s: setup called in state %s", b.name, b.state)
	}
	b.setupCalled = true
	return nil
}

// markReady records that provisioning completed; Run is rejected until then.
func (b *base) markReady() {
	b.state = StateReady
}

func (b *base) requireReady() error {
	if b.state != StateReady {
		return fmt.Errorf("environment %s: run called in state %s", b.name, b.state)
	}
	return nil
}

// enterTeardown marks the environment torn down. Returns false when teardown
// already ran, so implementations can skip their cleanup.
func (b *base) enterTeardown() bool {
	if b.state == StateTornDown {
		return false
	}
	b.state = StateTornDown
	return true
}

// processEnv builds the subprocess environment: the parent environment,
// overlaid with the optional dotenv file and the per-command variables.
func (b *base) processEnv(extra map[string]string) ([]string, error) {
	env := environMap()

	if b.envFile != "" {
		file := filepath.Join(b.path, b.envFile)
		if _, err := os.Stat(file); err == nil {
			vars, err := godotenv.Read(file)
			if err != nil {
				return nil, fmt.Errorf("read env file %s: %w", file, err)
			}
			for k, v := range vars {
				env[k] = v
			}
		}
	}
	for k, v := range extra {
		env[k] = v
	}
	return flattenEnv(env), nil
}

// Noop runs commands directly in the checkout with no isolation.
type Noop struct {
	base
}

// NoopFactory returns a factory for Noop environments. An optional dotenv
// file name (relative to the source dir) is merged into command
// environments when present.
func NoopFactory(envFile string) Factory {
	return func(path, name string) Environment {
		return &Noop{base: base{path: path, name: name, envFile: envFile}}
	}
}

// Setup transitions the environment to READY; nothing is provisioned.
func (e *Noop) Setup(_ context.Context) error {
	if err := e.enterSetup(); err != nil {
		return err
	}
	e.markReady()
	return nil
}

// Run executes the command in the checkout directory.
func (e *Noop) Run(ctx context.Context, cmd Command) (*RunResult, error) {
	if err := e.requireReady(); err != nil {
		return nil, err
	}
	env, err := e.processEnv(cmd.Env)
	if err != nil {
		return nil, err
	}
	return execute(ctx, workdir(cmd, e.path), env, cmd.Args)
}

// Teardown releases nothing but still enforces the state machine.
func (e *Noop) Teardown() error {
	e.enterTeardown()
	return nil
}

func workdir(cmd Command, fallback string) string {
	if cmd.Dir != "" {
		return cmd.Dir
	}
	return fallback
}
