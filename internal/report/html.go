package report

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ncruces/go-strftime"

	"github.com/vincentbai/navtrace/internal/models"
)

//go:embed templates/index.html.tmpl
var templateFS embed.FS

const IndexFile = "index.html"

var funcs = template.FuncMap{
	"comma":    func(n int) string { return humanize.Comma(int64(n)) },
	"inc":      func(i int) int { return i + 1 },
	"stamp":    func(t time.Time) string { return strftime.Format("%Y-%m-%d %H:%M:%S %Z", t) },
	"clock":    func(t time.Time) string { return strftime.Format("%H:%M:%S.%L", t.UTC()) },
	"tracking": func(s models.Session) models.TrackingType { return s.ResolvedTrackingType() },
}

type Generator struct {
	tmpl *template.Template
}

func NewGenerator() (*Generator, error) {
	tmpl, err := template.New("index.html.tmpl").Funcs(funcs).ParseFS(templateFS, "templates/index.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse report template: %w", err)
	}
	return &Generator{tmpl: tmpl}, nil
}

// Render executes the report template into memory.
func (g *Generator) Render(data Data) ([]byte, error) {
	var buf bytes.Buffer
	if err := g.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	return buf.Bytes(), nil
}

// Write renders the report to dir/index.html and returns the file path.
func (g *Generator) Write(dir string, data Data) (string, error) {
	html, err := g.Render(data)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, IndexFile)
	if err := os.WriteFile(path, html, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}
