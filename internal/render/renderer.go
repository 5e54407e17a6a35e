package render

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	models "scrapbook/internal/domain/models/docsystem"
)

// Engines
const (
	EngineLatex    = "latex"
	EnginePDFLatex = "pdflatex"
)

// Artifact is what the core supplies to rendering: the text body plus metadata
type Artifact struct {
	Kind   models.Kind
	ID     string
	Title  string
	Author string
	Body   string
}

// Output is a rendered file
type Output struct {
	Filename    string
	ContentType string
	Body        []byte
}

// Renderer produces a document artifact
type Renderer interface {
	Render(ctx context.Context, a Artifact) (*Output, error)
}

// New returns the renderer for engine
func New(engine string, timeout time.Duration, logger *slog.Logger) (Renderer, error) {
	registry, err := NewRegistry()
	if err != nil {
		return nil, err
	}

	switch engine {
	case "", EngineLatex:
		return &LatexRenderer{registry: registry}, nil
	case EnginePDFLatex:
		return &PDFLatexRenderer{
			registry: registry,
			binary:   "pdflatex",
			timeout:  timeout,
			logger:   logger,
		}, nil
	default:
		return nil, fmt.Errorf("unknown PDF_ENGINE %q (supported: latex, pdflatex)", engine)
	}
}

// LatexRenderer returns the LaTeX source without compiling it
type LatexRenderer struct {
	registry *Registry
}

// Render executes the template for a's kind
func (r *LatexRenderer) Render(ctx context.Context, a Artifact) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filename, source, err := r.registry.Execute(a)
	if err != nil {
		return nil, err
	}
	return &Output{Filename: filename, ContentType: "application/x-tex", Body: source}, nil
}

// PDFLatexRenderer compiles the LaTeX source with pdflatex in a scratch directory
type PDFLatexRenderer struct {
	registry *Registry
	binary   string
	timeout  time.Duration
	logger   *slog.Logger
}

// Render compiles a to PDF. Runs pdflatex twice so the table of contents resolves.
func (r *PDFLatexRenderer) Render(ctx context.Context, a Artifact) (*Output, error) {
	filename, source, err := r.registry.Execute(a)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "scrapbook-render-*")
	if err != nil {
		return nil, fmt.Errorf("create render dir: %w", err)
	}
	defer os.RemoveAll(dir)

	texPath := filepath.Join(dir, filename)
	if err := os.WriteFile(texPath, source, 0o600); err != nil {
		return nil, fmt.Errorf("write latex source: %w", err)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	passes := 1
	if a.Kind == models.KindBook {
		passes = 2
	}
	for i := 0; i < passes; i++ {
		cmd := exec.CommandContext(ctx, r.binary, "-interaction=nonstopmode", "-halt-on-error", "-no-shell-escape", filename)
		cmd.Dir = dir
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := cmd.Run(); err != nil {
			r.logger.Warn("pdflatex failed", "file", filename, "pass", i+1, "output", tail(out.String(), 2000))
			return nil, fmt.Errorf("run pdflatex: %w", err)
		}
	}

	pdfName := strings.TrimSuffix(filename, filepath.Ext(filename)) + ".pdf"
	body, err := os.ReadFile(filepath.Join(dir, pdfName))
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	return &Output{Filename: pdfName, ContentType: "application/pdf", Body: body}, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
