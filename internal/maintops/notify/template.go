package notify

import (
	"bytes"
	"errors"
	"text/template"
)

// DefaultTemplate renders a plain-text maintenance notice.
const DefaultTemplate = `[Maintops {{.EventLabel}}]
Equipment: {{.EquipmentInstance}}
Record: {{.Record}}
{{- if .Status }}
Status: {{.Status}}
{{- end }}
{{- range .Details }}
- {{ . }}
{{- end }}
Time: {{.OccurredAt}}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Event             string
	EventLabel        string
	EquipmentInstance string
	Record            string
	Status            string
	Details           []string
	OccurredAt        string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("maintops-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("notify template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
