package driver

import (
	"fmt"

	"git.home.luguber.info/inful/polybuild/internal/builder"
	"git.home.luguber.info/inful/polybuild/internal/config"
	"git.home.luguber.info/inful/polybuild/internal/environment"
	perrors "git.home.luguber.info/inful/polybuild/internal/errors"
	"git.home.luguber.info/inful/polybuild/internal/metrics"
	"git.home.luguber.info/inful/polybuild/internal/rootrender"
	"git.home.luguber.info/inful/polybuild/internal/selector"
	"git.home.luguber.info/inful/polybuild/internal/vcs"
)

// FromConfig assembles a ready-to-run driver from the loaded configuration.
// The returned recorder is non-nil when a metrics file is configured.
func FromConfig(cfg *config.Config, root string, extra ...Option) (*Driver, *metrics.PrometheusRecorder, error) {
	provider, err := vcs.NewGit(cfg.BranchRegex, cfg.TagRegex, gitOptions(cfg)...)
	if err != nil {
		return nil, nil, perrors.Wrap(err, perrors.CategoryConfig, perrors.SeverityFatal, "build revision provider")
	}

	builders, err := builderTable(cfg)
	if err != nil {
		return nil, nil, err
	}
	envs, err := environmentTable(cfg)
	if err != nil {
		return nil, nil, err
	}
	sel := selectorFrom(cfg, provider, root)

	opts := []Option{
		WithBuilders(builders),
		WithEnvironments(envs),
		WithSelector(sel),
		WithRenderer(rootrender.New(cfg.StaticDir, cfg.TemplateDir)),
		WithConcurrency(cfg.Concurrency),
	}
	if len(cfg.DocsPaths) > 0 {
		opts = append(opts, WithPredicate(vcs.FilePredicate(cfg.DocsPaths...)))
	}

	var recorder *metrics.PrometheusRecorder
	if cfg.MetricsFile != "" {
		recorder = metrics.NewPrometheusRecorder()
		opts = append(opts, WithRecorder(recorder))
	}
	opts = append(opts, extra...)

	return New(provider, root, cfg.Output, opts...), recorder, nil
}

func gitOptions(cfg *config.Config) []vcs.GitOption {
	if cfg.Remote == "" {
		return nil
	}
	return []vcs.GitOption{vcs.WithRemote(cfg.Remote)}
}

// builderTable maps selection keys to builders: the default entry plus one
// entry per override revision.
func builderTable(cfg *config.Config) (map[string]builder.Builder, error) {
	table := make(map[string]builder.Builder)
	def, err := builderFrom(&cfg.Build)
	if err != nil {
		return nil, err
	}
	table[selector.DefaultKey] = def

	for _, name := range cfg.OverrideKeys() {
		o := cfg.OverrideFor(name)
		bc := o.Build
		if bc == nil {
			table[name] = def
			continue
		}
		merged := mergeBuild(&cfg.Build, bc)
		b, err := builderFrom(merged)
		if err != nil {
			return nil, perrors.Wrap(err, perrors.CategoryConfig, perrors.SeverityFatal,
				fmt.Sprintf("build override for %q", name))
		}
		table[name] = b
	}
	return table, nil
}

// mergeBuild overlays an override section onto the default build settings.
func mergeBuild(def, over *config.BuildConfig) *config.BuildConfig {
	merged := *over
	if merged.Source == "" {
		merged.Source = def.Source
	}
	if merged.Command == "" && len(merged.SphinxArgs) == 0 {
		merged.Command = def.Command
		merged.SphinxArgs = def.SphinxArgs
	}
	return &merged
}

func builderFrom(bc *config.BuildConfig) (builder.Builder, error) {
	var (
		b   *builder.Command
		err error
	)
	if bc.Command == "" {
		b = builder.NewSphinx(bc.Source, bc.SphinxArgs...)
	} else {
		b, err = builder.NewCommand(bc.Source, bc.Command)
		if err != nil {
			return nil, perrors.Wrap(err, perrors.CategoryConfig, perrors.SeverityFatal, "parse build command")
		}
	}
	for _, line := range bc.PreCommands {
		if err := builder.WithPre(line)(b); err != nil {
			return nil, perrors.Wrap(err, perrors.CategoryConfig, perrors.SeverityFatal, "parse pre command")
		}
	}
	for _, line := range bc.PostCommands {
		if err := builder.WithPost(line)(b); err != nil {
			return nil, perrors.Wrap(err, perrors.CategoryConfig, perrors.SeverityFatal, "parse post command")
		}
	}
	return b, nil
}

// environmentTable maps selection keys to environment factories, mirroring
// builderTable.
func environmentTable(cfg *config.Config) (map[string]environment.Factory, error) {
	table := make(map[string]environment.Factory)
	table[selector.DefaultKey] = environmentFrom(&cfg.Environment)

	for _, name := range cfg.OverrideKeys() {
		o := cfg.OverrideFor(name)
		if o.Environment == nil {
			table[name] = table[selector.DefaultKey]
			continue
		}
		table[name] = environmentFrom(o.Environment)
	}
	return table, nil
}

func environmentFrom(ec *config.EnvironmentConfig) environment.Factory {
	switch ec.Type {
	case config.EnvVenv:
		opts := []environment.VirtualEnvOption{
			environment.WithPython(ec.Python),
			environment.WithEnvFile(ec.EnvFile),
		}
		if len(ec.PipInstall) > 0 {
			opts = append(opts, environment.WithPipInstall(ec.PipInstall...))
		}
		return environment.VirtualEnvFactory(opts...)
	case config.EnvPoetry:
		return environment.PoetryFactory(ec.EnvFile, ec.PoetryArgs...)
	default:
		return environment.NoopFactory(ec.EnvFile)
	}
}

func selectorFrom(cfg *config.Config, ancestry vcs.AncestryProvider, root string) selector.Selector {
	keys := cfg.OverrideKeys()
	if len(keys) == 0 {
		return selector.Static{}
	}
	if cfg.Selection == config.SelectionClosestPredecessor {
		return selector.NewClosestPredecessor(ancestry, root, keys...)
	}
	return selector.NewMapping(keys...)
}
