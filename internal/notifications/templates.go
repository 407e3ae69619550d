// internal/notifications/templates.go
package notifications

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/John-MustangGT/ntripwatch/internal/config"
)

// Renderer holds the parsed alert templates.
type Renderer struct {
	templates map[Kind]*template.Template
}

func NewRenderer(cfg config.TemplateConfig) (*Renderer, error) {
	sources := map[Kind]string{
		KindDown:      orDefault(cfg.Down, config.DefaultDownTemplate),
		KindRecovered: orDefault(cfg.Recovered, config.DefaultRecoveredTemplate),
		KindError:     orDefault(cfg.Error, config.DefaultErrorTemplate),
	}

	r := &Renderer{templates: make(map[Kind]*template.Template, len(sources))}
	for kind, text := range sources {
		tmpl, err := template.New(string(kind)).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", kind, err)
		}
		r.templates[kind] = tmpl
	}
	return r, nil
}

// Render executes the template for the alert's kind. Templates see the
// Alert fields directly, e.g. {{.Caster}} and {{.Message}}.
func (r *Renderer) Render(alert Alert) (string, error) {
	tmpl, ok := r.templates[alert.Kind]
	if !ok {
		return "", fmt.Errorf("no template for alert kind %q", alert.Kind)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, alert); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", alert.Kind, err)
	}
	return buf.String(), nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
