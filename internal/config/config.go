// Package config loads and validates the polybuild configuration. The
// configuration is populated once at startup (file, then CLI overrides) and
// treated as immutable for the remainder of the run.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"

	perrors "git.home.luguber.info/inful/polybuild/internal/errors"
)

// Environment types recognized in configuration.
const (
	EnvNone   = "none"
	EnvVenv   = "venv"
	EnvPoetry = "poetry"
)

// Selection policies recognized in configuration.
const (
	SelectionMapping            = "mapping"
	SelectionClosestPredecessor = "closest_predecessor"
)

// EnvironmentConfig describes how to provision the build environment.
type EnvironmentConfig struct {
	Type       string   `yaml:"type"`
	Python     string   `yaml:"python"`
	PipInstall []string `yaml:"pip_install"`
	PoetryArgs []string `yaml:"poetry_args"`
	EnvFile    string   `yaml:"env_file"`
}

// BuildConfig describes the commands producing one revision's docs.
// An empty Command selects the sphinx builder with SphinxArgs.
type BuildConfig struct {
	Source       string   `yaml:"source"`
	Command      string   `yaml:"command"`
	PreCommands  []string `yaml:"pre_commands"`
	PostCommands []string `yaml:"post_commands"`
	SphinxArgs   []string `yaml:"sphinx_args"`
}

// OverrideConfig binds alternate build/environment settings to specific
// revisions. Unset sections inherit the defaults.
type OverrideConfig struct {
	Revisions   []string           `yaml:"revisions"`
	Build       *BuildConfig       `yaml:"build"`
	Environment *EnvironmentConfig `yaml:"environment"`
}

// Config is the full orchestration configuration.
type Config struct {
	BranchRegex string   `yaml:"branch_regex"`
	TagRegex    string   `yaml:"tag_regex"`
	Remote      string   `yaml:"remote"`
	DocsPaths   []string `yaml:"docs_paths"`

	Build       BuildConfig       `yaml:"build"`
	Environment EnvironmentConfig `yaml:"environment"`
	Overrides   []OverrideConfig  `yaml:"overrides"`
	Selection   string            `yaml:"selection"`

	Output      string `yaml:"output"`
	StaticDir   string `yaml:"static_dir"`
	TemplateDir string `yaml:"template_dir"`
	Concurrency int    `yaml:"concurrency"`
	MetricsFile string `yaml:"metrics_file"`
	LocalName   string `yaml:"local_name"`
}

// Load reads and parses the configuration file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, perrors.Wrap(err, perrors.CategoryConfig, perrors.SeverityFatal, "read config file")
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, perrors.Wrap(err, perrors.CategoryConfig, perrors.SeverityFatal, "parse config file")
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BranchRegex == "" {
		c.BranchRegex = "main|master"
	}
	if c.TagRegex == "" {
		c.TagRegex = `v\d+.*`
	}
	if c.Build.Source == "" {
		c.Build.Source = "docs"
	}
	if c.Environment.Type == "" {
		c.Environment.Type = EnvNone
	}
	if c.Environment.Python == "" {
		c.Environment.Python = "python3"
	}
	if c.Selection == "" {
		c.Selection = SelectionMapping
	}
	if c.Output == "" {
		c.Output = "site"
	}
	if c.LocalName == "" {
		c.LocalName = "local"
	}
	for i := range c.Overrides {
		if o := c.Overrides[i].Environment; o != nil && o.Python == "" {
			o.Python = c.Environment.Python
		}
	}
}

// ApplyOverrides applies `-o KEY=VALUE` command line overrides. Values are
// strings; only the keys listed here are recognized.
func (c *Config) ApplyOverrides(overrides map[string]string) error {
	for key, value := range overrides {
		switch key {
		case "branch_regex":
			c.BranchRegex = value
		case "tag_regex":
			c.TagRegex = value
		case "remote":
			c.Remote = value
		case "output":
			c.Output = value
		case "static_dir":
			c.StaticDir = value
		case "template_dir":
			c.TemplateDir = value
		case "metrics_file":
			c.MetricsFile = value
		case "local_name":
			c.LocalName = value
		case "selection":
			c.Selection = value
		case "source":
			c.Build.Source = value
		case "command":
			c.Build.Command = value
		case "environment":
			c.Environment.Type = value
		case "env_file":
			c.Environment.EnvFile = value
		case "concurrency":
			n, err := strconv.Atoi(value)
			if err != nil {
				return perrors.ConfigError(fmt.Sprintf("invalid concurrency override %q", value))
			}
			c.Concurrency = n
		default:
			return perrors.ConfigError(fmt.Sprintf("unknown configuration option %q", key))
		}
	}
	return nil
}

// Validate checks the configuration before orchestration begins.
func (c *Config) Validate() error {
	if _, err := regexp.Compile(c.BranchRegex); err != nil {
		return perrors.Wrap(err, perrors.CategoryConfig, perrors.SeverityFatal,
			fmt.Sprintf("invalid branch_regex %q", c.BranchRegex))
	}
	if _, err := regexp.Compile(c.TagRegex); err != nil {
		return perrors.Wrap(err, perrors.CategoryConfig, perrors.SeverityFatal,
			fmt.Sprintf("invalid tag_regex %q", c.TagRegex))
	}
	if err := validateEnvironment(&c.Environment); err != nil {
		return err
	}
	switch c.Selection {
	case SelectionMapping, SelectionClosestPredecessor:
	default:
		return perrors.ConfigError(fmt.Sprintf("unknown selection policy %q", c.Selection))
	}
	if c.Concurrency < 0 {
		return perrors.ConfigError("concurrency must not be negative")
	}
	for i, o := range c.Overrides {
		if len(o.Revisions) == 0 {
			return perrors.ConfigError(fmt.Sprintf("override %d lists no revisions", i))
		}
		if o.Environment != nil {
			if err := validateEnvironment(o.Environment); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateEnvironment(e *EnvironmentConfig) error {
	switch e.Type {
	case EnvNone, EnvVenv, EnvPoetry:
		return nil
	default:
		return perrors.ConfigError(fmt.Sprintf("unknown environment type %q", e.Type))
	}
}

// OverrideKeys returns the revision names with explicit override
// configuration, in declaration order.
func (c *Config) OverrideKeys() []string {
	var keys []string
	for _, o := range c.Overrides {
		keys = append(keys, o.Revisions...)
	}
	return keys
}

// OverrideFor returns the override section naming the revision, or nil.
func (c *Config) OverrideFor(name string) *OverrideConfig {
	for i := range c.Overrides {
		for _, rev := range c.Overrides[i].Revisions {
			if rev == name {
				return &c.Overrides[i]
			}
		}
	}
	return nil
}
