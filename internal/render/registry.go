// Package render turns document text into LaTeX sources and PDFs.
package render

import (
	"embed"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"

	models "scrapbook/internal/domain/models/docsystem"
)

//go:embed templates/*.yaml
var templateFiles embed.FS

// TemplateSpec is one entry of templates/latex.yaml
type TemplateSpec struct {
	Kind     models.Kind `yaml:"kind"`
	Filename string      `yaml:"filename"`
	Source   string      `yaml:"source"`
}

type templateFile struct {
	Templates []TemplateSpec `yaml:"templates"`
}

type compiled struct {
	filename *template.Template
	source   *template.Template
}

// Registry holds the compiled templates per document kind
type Registry struct {
	templates map[models.Kind]*compiled
	mu        sync.RWMutex
}

// NewRegistry loads and compiles the embedded templates
func NewRegistry() (*Registry, error) {
	r := &Registry{templates: make(map[models.Kind]*compiled)}
	if err := r.loadFile("templates/latex.yaml"); err != nil {
		return nil, fmt.Errorf("failed to load latex templates: %w", err)
	}
	return r, nil
}

// loadFile loads a template YAML file
func (r *Registry) loadFile(filename string) error {
	data, err := templateFiles.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}

	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filename, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, spec := range file.Templates {
		if !spec.Kind.Valid() {
			return fmt.Errorf("%s: unknown kind %q", filename, spec.Kind)
		}
		c, err := compile(spec)
		if err != nil {
			return fmt.Errorf("%s: %w", filename, err)
		}
		r.templates[spec.Kind] = c
	}
	return nil
}

func compile(spec TemplateSpec) (*compiled, error) {
	funcs := template.FuncMap{"latex": EscapeLatex}
	name := string(spec.Kind)

	filename, err := template.New(name + "-filename").Funcs(funcs).Parse(spec.Filename)
	if err != nil {
		return nil, fmt.Errorf("parse %s filename: %w", name, err)
	}
	source, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(spec.Source)
	if err != nil {
		return nil, fmt.Errorf("parse %s template: %w", name, err)
	}
	return &compiled{filename: filename, source: source}, nil
}

// Execute renders the LaTeX source and file name for a
func (r *Registry) Execute(a Artifact) (filename string, source []byte, err error) {
	r.mu.RLock()
	c, ok := r.templates[a.Kind]
	r.mu.RUnlock()
	if !ok {
		return "", nil, fmt.Errorf("no template for kind %q", a.Kind)
	}

	var name, body strings.Builder
	if err := c.filename.Execute(&name, a); err != nil {
		return "", nil, fmt.Errorf("render filename: %w", err)
	}
	if err := c.source.Execute(&body, a); err != nil {
		return "", nil, fmt.Errorf("render %s template: %w", a.Kind, err)
	}
	return name.String(), []byte(body.String()), nil
}

// EscapeLatex escapes LaTeX special characters in metadata values
func EscapeLatex(s string) string {
	return latexEscaper.Replace(s)
}

var latexEscaper = strings.NewReplacer(
	`\`, `\textbackslash{}`,
	`{`, `\{`,
	`}`, `\}`,
	`$`, `\$`,
	`&`, `\&`,
	`#`, `\#`,
	`^`, `\textasciicircum{}`,
	`_`, `\_`,
	`~`, `\textasciitilde{}`,
	`%`, `\%`,
)
