// Package query renders the parameterized SQL used to ingest data into the
// warehouse. Templates are embedded and parsed once; rendering fails on any
// key the template references but the data does not provide.
package query

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/kbukum/batchpredict/errors"
)

// IngestTemplate is the name of the embedded ingestion query.
const IngestTemplate = "ingest.sql"

//go:embed queries/*.sql
var embedded embed.FS

// IngestParams are the values the ingestion query is rendered with.
type IngestParams struct {
	SourceDataset    string
	SourceTable      string
	FilterColumn     string
	FilterStartValue string
}

// Templater renders named SQL templates.
type Templater struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

// New creates a Templater loaded with the embedded queries.
func New() (*Templater, error) {
	sub, err := fs.Sub(embedded, "queries")
	if err != nil {
		return nil, errors.Internal(err)
	}
	return NewFromFS(sub)
}

// NewFromFS creates a Templater from every *.sql file at the root of fsys.
func NewFromFS(fsys fs.FS) (*Templater, error) {
	t := &Templater{templates: make(map[string]*template.Template)}
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, errors.Internal(err)
	}
	for _, name := range names {
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, errors.TemplateError(name, err)
		}
		if err := t.Add(name, string(raw)); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Add parses text and registers it under name, replacing any previous template.
func (t *Templater) Add(name, text string) error {
	tmpl, err := template.New(path.Base(name)).Option("missingkey=error").Parse(text)
	if err != nil {
		return errors.TemplateError(name, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.templates[name] = tmpl
	return nil
}

// Names returns the registered template names, sorted.
func (t *Templater) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.templates))
	for name := range t.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render executes the named template with data. Maps must carry every key the
// template uses; structs must have every referenced field.
func (t *Templater) Render(name string, data any) (string, error) {
	t.mu.RLock()
	tmpl, ok := t.templates[name]
	t.mu.RUnlock()
	if !ok {
		return "", errors.TemplateError(name, fmt.Errorf("template not found"))
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", errors.TemplateError(name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// RenderIngest renders the embedded ingestion query.
func (t *Templater) RenderIngest(p IngestParams) (string, error) {
	switch {
	case p.SourceDataset == "":
		return "", errors.TemplateError(IngestTemplate, errors.MissingField("source_dataset"))
	case p.SourceTable == "":
		return "", errors.TemplateError(IngestTemplate, errors.MissingField("source_table"))
	case p.FilterStartValue != "" && p.FilterColumn == "":
		return "", errors.TemplateError(IngestTemplate, errors.MissingField("filter_column"))
	}
	return t.Render(IngestTemplate, p)
}
