package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	perrors "git.home.luguber.info/inful/polybuild/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "polybuild.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "output: public\n"))
	require.NoError(t, err)

	require.Equal(t, "main|master", cfg.BranchRegex)
	require.Equal(t, `v\d+.*`, cfg.TagRegex)
	require.Equal(t, "docs", cfg.Build.Source)
	require.Equal(t, EnvNone, cfg.Environment.Type)
	require.Equal(t, "python3", cfg.Environment.Python)
	require.Equal(t, SelectionMapping, cfg.Selection)
	require.Equal(t, "public", cfg.Output)
	require.Equal(t, "local", cfg.LocalName)
}

func TestLoad_FullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
branch_regex: main
tag_regex: 'v[12].*'
docs_paths: [docs]
build:
  source: documentation
  command: make html
environment:
  type: venv
  pip_install: [sphinx]
overrides:
  - revisions: [v1.0]
    build:
      command: make legacy-html
selection: closest_predecessor
concurrency: 4
metrics_file: /tmp/polybuild.prom
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "documentation", cfg.Build.Source)
	require.Equal(t, EnvVenv, cfg.Environment.Type)
	require.Equal(t, []string{"v1.0"}, cfg.OverrideKeys())
	require.Equal(t, 4, cfg.Concurrency)

	o := cfg.OverrideFor("v1.0")
	require.NotNil(t, o)
	require.Equal(t, "make legacy-html", o.Build.Command)
	require.Nil(t, cfg.OverrideFor("v2.0"))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	require.True(t, perrors.IsCategory(err, perrors.CategoryConfig))
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "build: [not: a: mapping\n"))
	require.Error(t, err)
	require.True(t, perrors.IsCategory(err, perrors.CategoryConfig))
}

func TestApplyOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	require.NoError(t, cfg.ApplyOverrides(map[string]string{
		"branch_regex": "main|release/.*",
		"output":       "public",
		"command":      "make html",
		"concurrency":  "8",
	}))
	require.Equal(t, "main|release/.*", cfg.BranchRegex)
	require.Equal(t, "public", cfg.Output)
	require.Equal(t, "make html", cfg.Build.Command)
	require.Equal(t, 8, cfg.Concurrency)
}

func TestApplyOverrides_UnknownKey(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	err = cfg.ApplyOverrides(map[string]string{"no_such_option": "x"})
	require.Error(t, err)
	require.True(t, perrors.IsCategory(err, perrors.CategoryConfig))
}

func TestApplyOverrides_BadConcurrency(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	require.Error(t, cfg.ApplyOverrides(map[string]string{"concurrency": "many"}))
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad branch regex", func(c *Config) { c.BranchRegex = "(" }},
		{"bad tag regex", func(c *Config) { c.TagRegex = "[" }},
		{"unknown environment", func(c *Config) { c.Environment.Type = "conda" }},
		{"unknown selection", func(c *Config) { c.Selection = "newest" }},
		{"negative concurrency", func(c *Config) { c.Concurrency = -1 }},
		{"override without revisions", func(c *Config) {
			c.Overrides = []OverrideConfig{{}}
		}},
		{"override with bad environment", func(c *Config) {
			c.Overrides = []OverrideConfig{{
				Revisions:   []string{"v1.0"},
				Environment: &EnvironmentConfig{Type: "conda"},
			}}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, ""))
			require.NoError(t, err)
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestOverrideEnvironment_InheritsPython(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
environment:
  python: python3.12
overrides:
  - revisions: [v1.0]
    environment:
      type: venv
`))
	require.NoError(t, err)
	require.Equal(t, "python3.12", cfg.OverrideFor("v1.0").Environment.Python)
}
