// Package rootrender produces the root-level artifacts that tie the
// per-revision outputs together: a landing page and shared static assets.
package rootrender

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/yuin/goldmark"

	perrors "git.home.luguber.info/inful/polybuild/internal/errors"
	"git.home.luguber.info/inful/polybuild/internal/logfields"
)

// Renderer copies static files and renders templates into the output root.
// Both directories are optional; a nil-equivalent Renderer is a no-op.
type Renderer struct {
	StaticDir   string
	TemplateDir string
	markdown    goldmark.Markdown
}

// New creates a renderer for the given source directories. Empty paths
// disable the respective step.
func New(staticDir, templateDir string) *Renderer {
	return &Renderer{
		StaticDir:   staticDir,
		TemplateDir: templateDir,
		markdown:    goldmark.New(),
	}
}

// RootNames returns the root-level file names this renderer will create,
// used by pre-flight collision validation against revision directory names.
func (r *Renderer) RootNames() ([]string, error) {
	var names []string
	for _, dir := range []string{r.StaticDir, r.TemplateDir} {
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", dir, err)
		}
		for _, e := range entries {
			name := e.Name()
			if !e.IsDir() && strings.HasSuffix(name, ".md") && dir == r.TemplateDir {
				name = strings.TrimSuffix(name, ".md") + ".html"
			}
			names = append(names, name)
		}
	}
	return names, nil
}

// Render writes all root artifacts into outputDir using the given template
// data. Any failure is fatal to the overall run.
func (r *Renderer) Render(outputDir string, data map[string]any) error {
	if err := r.copyStatic(outputDir); err != nil {
		return perrors.RenderError(err, "copy static files")
	}
	if err := r.renderTemplates(outputDir, data); err != nil {
		return perrors.RenderError(err, "render templates")
	}
	return nil
}

func (r *Renderer) copyStatic(outputDir string) error {
	if r.StaticDir == "" {
		return nil
	}
	if _, err := os.Stat(r.StaticDir); os.IsNotExist(err) {
		return nil
	}

	slog.Info("Copying static files", logfields.Path(r.StaticDir))
	return filepath.WalkDir(r.StaticDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(r.StaticDir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(outputDir, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o750)
		}
		return copyFile(path, target)
	})
}

func (r *Renderer) renderTemplates(outputDir string, data map[string]any) error {
	if r.TemplateDir == "" {
		return nil
	}
	if _, err := os.Stat(r.TemplateDir); os.IsNotExist(err) {
		return nil
	}

	slog.Info("Rendering root templates", logfields.Path(r.TemplateDir))
	return filepath.WalkDir(r.TemplateDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(r.TemplateDir, path)
		if err != nil {
			return err
		}
		return r.renderOne(path, rel, outputDir, data)
	})
}

// renderOne expands one template file. Markdown templates are additionally
// converted to HTML after expansion.
func (r *Renderer) renderOne(path, rel, outputDir string, data map[string]any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read template %s: %w", rel, err)
	}

	tpl, err := template.New(rel).Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return fmt.Errorf("parse template %s: %w", rel, err)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("render template %s: %w", rel, err)
	}

	out := buf.Bytes()
	target := filepath.Join(outputDir, rel)
	if strings.HasSuffix(rel, ".md") {
		var html bytes.Buffer
		if err := r.markdown.Convert(out, &html); err != nil {
			return fmt.Errorf("convert markdown %s: %w", rel, err)
		}
		out = html.Bytes()
		target = strings.TrimSuffix(target, ".md") + ".html"
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return err
	}
	if err := os.WriteFile(target, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	slog.Debug("Rendered root file", logfields.Path(target))
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return nil
}
