// Package builder turns a checked-out revision into rendered documentation
// by running external commands inside a build environment.
package builder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/shell"

	"git.home.luguber.info/inful/polybuild/internal/environment"
	"git.home.luguber.info/inful/polybuild/internal/logfields"
	"git.home.luguber.info/inful/polybuild/internal/metadata"
)

// Placeholders usable in configured command lines. They are substituted per
// token before the command runs.
const (
	PlaceholderSource = "{sourcedir}"
	PlaceholderOutput = "{outputdir}"
)

// Builder produces the documentation output for one revision.
//
// Build writes only under outputDir and never rolls partial output back; a
// failed revision's output directory is undefined and must not be served.
type Builder interface {
	Build(ctx context.Context, env environment.Environment, outputDir string, data *metadata.Payload) error
}

// BuildError reports a build command that exited non-zero, with its captured
// output.
type BuildError struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build command %q exited with code %d", e.Command, e.ExitCode)
}

// Command runs a fixed sequence of user-supplied commands inside the
// environment: optional pre commands, the main command, optional post
// commands. Lines are split with shell word rules at construction time so
// configuration errors surface before any pipeline starts.
type Command struct {
	source string
	pre    [][]string
	main   [][]string
	post   [][]string
}

// CommandOption configures a Command builder.
type CommandOption func(*Command) error

// WithPre adds a command line run before the main command.
func WithPre(line string) CommandOption {
	return func(b *Command) error {
		args, err := splitLine(line)
		if err != nil {
			return err
		}
		b.pre = append(b.pre, args)
		return nil
	}
}

// WithPost adds a command line run after the main command.
func WithPost(line string) CommandOption {
	return func(b *Command) error {
		args, err := splitLine(line)
		if err != nil {
			return err
		}
		b.post = append(b.post, args)
		return nil
	}
}

// NewCommand creates a command builder. source is the documentation source
// directory relative to the checkout root; line is the main build command.
func NewCommand(source, line string, opts ...CommandOption) (*Command, error) {
	args, err := splitLine(line)
	if err != nil {
		return nil, err
	}
	b := &Command{source: source, main: [][]string{args}}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// NewSphinx creates a builder invoking sphinx-build with the computed source
// and output directories plus any extra args.
func NewSphinx(source string, args ...string) *Command {
	argv := append([]string{"sphinx-build", "--color"}, args...)
	argv = append(argv, PlaceholderSource, PlaceholderOutput)
	return &Command{source: source, main: [][]string{argv}}
}

// splitLine splits a configured command line using shell word rules;
// $VAR references expand from the polybuild process environment.
func splitLine(line string) ([]string, error) {
	args, err := shell.Fields(line, os.Getenv)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", line, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command %q", line)
	}
	return args, nil
}

// Build runs the configured commands with the metadata payload exposed via
// the env channel. The first non-zero exit aborts with a BuildError.
func (b *Command) Build(ctx context.Context, env environment.Environment, outputDir string, data *metadata.Payload) error {
	sourceDir := filepath.Join(env.Path(), filepath.FromSlash(b.source))

	encoded, err := data.Encode()
	if err != nil {
		return err
	}
	cmdEnv := map[string]string{metadata.EnvVar: encoded}

	if err := os.MkdirAll(outputDir, 0o750); err != nil {
		return fmt.Errorf("create output directory %s: %w", outputDir, err)
	}

	groups := [][][]string{b.pre, b.main, b.post}
	for _, group := range groups {
		for _, args := range group {
			argv := substitute(args, sourceDir, outputDir)
			slog.Info("Running build command",
				logfields.Revision(env.Name()),
				logfields.Command(strings.Join(argv, " ")))

			result, err := env.Run(ctx, environment.Command{Args: argv, Env: cmdEnv})
			if err != nil {
				return err
			}
			slog.Debug("Build command output", logfields.Revision(env.Name()),
				slog.String("stdout", result.Stdout))
			if result.ExitCode != 0 {
				return &BuildError{
					Command:  strings.Join(argv, " "),
					ExitCode: result.ExitCode,
					Stdout:   result.Stdout,
					Stderr:   result.Stderr,
				}
			}
		}
	}
	return nil
}

// substitute replaces placeholders in each token.
func substitute(args []string, sourceDir, outputDir string) []string {
	replacer := strings.NewReplacer(
		PlaceholderSource, sourceDir,
		PlaceholderOutput, outputDir,
	)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = replacer.Replace(a)
	}
	return out
}
