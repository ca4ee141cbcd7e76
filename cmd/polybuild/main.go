package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/polybuild/internal/config"
	"git.home.luguber.info/inful/polybuild/internal/driver"
	perrors "git.home.luguber.info/inful/polybuild/internal/errors"
	"git.home.luguber.info/inful/polybuild/internal/logfields"
	"git.home.luguber.info/inful/polybuild/internal/metrics"
	"git.home.luguber.info/inful/polybuild/internal/vcs"
	"git.home.luguber.info/inful/polybuild/internal/watch"
)

var CLI struct {
	Config string `arg:"" help:"Configuration file path" type:"existingfile"`
	Output string `arg:"" optional:"" help:"Output directory (overrides the configured one)"`

	Override   map[string]string `short:"o" help:"Configuration overrides as KEY=VALUE pairs"`
	Verbose    int               `short:"v" type:"counter" help:"Increase log verbosity (repeatable)"`
	Local      bool              `short:"l" name:"local" help:"Build only the current working tree against a mocked revision set"`
	Sequential bool              `help:"Build revisions one at a time"`
	Jobs       int               `short:"j" help:"Maximum number of concurrent revision builds"`
	Watch      bool              `short:"w" help:"With --local, rebuild whenever files change"`
}

func main() {
	kong.Parse(&CLI,
		kong.Name("polybuild"),
		kong.Description("Build documentation for multiple git revisions into one static site."))

	setupLogging(CLI.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx))
}

func setupLogging(verbosity int) {
	level := slog.LevelError
	switch {
	case verbosity == 1:
		level = slog.LevelInfo
	case verbosity >= 2:
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

func run(ctx context.Context) int {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		slog.Error("Failed to load configuration", logfields.Error(err))
		return 1
	}
	if err := cfg.ApplyOverrides(CLI.Override); err != nil {
		slog.Error("Invalid configuration override", logfields.Error(err))
		return 1
	}
	if CLI.Output != "" {
		cfg.Output = CLI.Output
	}
	if CLI.Sequential {
		cfg.Concurrency = 1
	} else if CLI.Jobs > 0 {
		cfg.Concurrency = CLI.Jobs
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", logfields.Error(err))
		return 1
	}

	root, err := repositoryRoot(cfg)
	if err != nil {
		slog.Error("Failed to locate repository", logfields.Error(err))
		return 1
	}

	d, recorder, err := driver.FromConfig(cfg, root)
	if err != nil {
		slog.Error("Failed to assemble build driver", logfields.Error(err))
		return 1
	}

	if CLI.Local {
		return runLocal(ctx, d, cfg, root, recorder)
	}
	result, err := d.Run(ctx)
	return report(result, err, cfg, recorder)
}

// repositoryRoot resolves the git root from the configuration file's
// directory, so polybuild works from anywhere inside the repository.
func repositoryRoot(cfg *config.Config) (string, error) {
	provider, err := vcs.NewGit(cfg.BranchRegex, cfg.TagRegex)
	if err != nil {
		return "", err
	}
	start := filepath.Dir(CLI.Config)
	return provider.Root(start)
}

func runLocal(ctx context.Context, d *driver.Driver, cfg *config.Config, root string, recorder *metrics.PrometheusRecorder) int {
	mock := mockRevisions(cfg)

	result, err := d.RunLocal(ctx, cfg.LocalName, mock)
	code := report(result, err, cfg, recorder)
	if !CLI.Watch || result == nil {
		return code
	}

	w := watch.New(root, watch.WithIgnore(func(rel string) bool {
		return rel == cfg.Output || strings.HasPrefix(rel, cfg.Output+"/")
	}))
	err = w.Run(ctx, func(ctx context.Context) {
		result, err := d.RunLocal(ctx, cfg.LocalName, mock)
		report(result, err, cfg, recorder)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Watch failed", logfields.Error(err))
		return 1
	}
	return 0
}

// mockRevisions builds the synthetic revision set shown next to the working
// tree in local mode, one per override key so selection stays exercised.
func mockRevisions(cfg *config.Config) []vcs.Revision {
	var mock []vcs.Revision
	for _, name := range cfg.OverrideKeys() {
		mock = append(mock, vcs.Revision{
			Name: name,
			Hash: "mock",
			Kind: vcs.KindTag,
		})
	}
	return mock
}

func report(result *driver.RunResult, err error, cfg *config.Config, recorder *metrics.PrometheusRecorder) int {
	if recorder != nil && cfg.MetricsFile != "" {
		if werr := recorder.WriteTextfile(cfg.MetricsFile); werr != nil {
			slog.Warn("Failed to write metrics file", logfields.Path(cfg.MetricsFile), logfields.Error(werr))
		}
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Warn("Build interrupted")
			return 1
		}
		slog.Error("Build failed",
			slog.String("category", string(perrors.GetCategory(err))),
			logfields.Error(err))
		return 1
	}
	return result.Outcome.ExitCode()
}
