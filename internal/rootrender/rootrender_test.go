package rootrender

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRender_CopiesStaticFiles(t *testing.T) {
	static := t.TempDir()
	out := t.TempDir()
	writeFile(t, filepath.Join(static, "style.css"), "body {}")
	writeFile(t, filepath.Join(static, "img", "logo.svg"), "<svg/>")

	r := New(static, "")
	require.NoError(t, r.Render(out, nil))

	content, err := os.ReadFile(filepath.Join(out, "style.css"))
	require.NoError(t, err)
	require.Equal(t, "body {}", string(content))

	_, err = os.Stat(filepath.Join(out, "img", "logo.svg"))
	require.NoError(t, err)
}

func TestRender_ExpandsTemplates(t *testing.T) {
	templates := t.TempDir()
	out := t.TempDir()
	writeFile(t, filepath.Join(templates, "index.html"), "latest: {{.Latest}}")

	r := New("", templates)
	require.NoError(t, r.Render(out, map[string]any{"Latest": "v2.0"}))

	content, err := os.ReadFile(filepath.Join(out, "index.html"))
	require.NoError(t, err)
	require.Equal(t, "latest: v2.0", string(content))
}

func TestRender_MarkdownTemplatesBecomeHTML(t *testing.T) {
	templates := t.TempDir()
	out := t.TempDir()
	writeFile(t, filepath.Join(templates, "index.md"), "# {{.Title}}")

	r := New("", templates)
	require.NoError(t, r.Render(out, map[string]any{"Title": "Versions"}))

	_, err := os.Stat(filepath.Join(out, "index.md"))
	require.True(t, os.IsNotExist(err), "markdown source must not be copied")

	content, err := os.ReadFile(filepath.Join(out, "index.html"))
	require.NoError(t, err)
	require.Contains(t, string(content), "<h1")
	require.Contains(t, string(content), "Versions")
}

func TestRender_MissingTemplateKeyFails(t *testing.T) {
	templates := t.TempDir()
	out := t.TempDir()
	writeFile(t, filepath.Join(templates, "index.html"), "{{.Missing}}")

	r := New("", templates)
	err := r.Render(out, map[string]any{"Present": true})
	require.Error(t, err)
}

func TestRender_MissingDirectoriesAreNoops(t *testing.T) {
	out := t.TempDir()
	r := New(filepath.Join(out, "no-static"), filepath.Join(out, "no-templates"))
	require.NoError(t, r.Render(out, nil))

	r = New("", "")
	require.NoError(t, r.Render(out, nil))
}

func TestRootNames_ListsArtifactsWithRenderedExtensions(t *testing.T) {
	static := t.TempDir()
	templates := t.TempDir()
	writeFile(t, filepath.Join(static, "style.css"), "")
	writeFile(t, filepath.Join(templates, "index.md"), "")
	writeFile(t, filepath.Join(templates, "about.html"), "")

	r := New(static, templates)
	names, err := r.RootNames()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"style.css", "index.html", "about.html"}, names)
}

func TestRootNames_EmptyRenderer(t *testing.T) {
	r := New("", "")
	names, err := r.RootNames()
	require.NoError(t, err)
	require.Empty(t, names)
}
