// Package templates holds the embedded HTML pages served by the dashboard.
package templates

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"time"

	"crypto_dashboard/services/notifier"

	"github.com/shopspring/decimal"
)

//go:embed *.html
var TemplateFS embed.FS

// Funcs returns the helpers available to every page
func Funcs() template.FuncMap {
	return template.FuncMap{
		"usd": func(d decimal.Decimal, places int) string {
			return notifier.FormatUSD(d, int32(places))
		},
		"percent": notifier.FormatPercent,
		"gain": func(d decimal.Decimal) bool {
			return !d.IsNegative()
		},
		"datetime": func(t time.Time) string {
			return t.UTC().Format("2006-01-02 15:04:05 UTC")
		},
	}
}

// Load parses every embedded page into one template set keyed by file name
func Load() (*template.Template, error) {
	tmpl := template.New("").Funcs(Funcs())
	err := fs.WalkDir(TemplateFS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		content, err := fs.ReadFile(TemplateFS, path)
		if err != nil {
			return fmt.Errorf("failed to read template %s: %w", path, err)
		}
		if _, err := tmpl.New(path).Parse(string(content)); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tmpl, nil
}
