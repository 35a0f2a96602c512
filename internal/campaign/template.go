package campaign

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/tpodg/smscampaign/internal/fault"
	"github.com/tpodg/smscampaign/internal/recipient"
)

//go:embed templates/default.txt.tmpl
var defaultTemplateText string

// Template renders the message body for one recipient. Templates use
// text/template syntax with {{.Name}} and {{.Surname}}; a plain text with two
// "{}" slots is also accepted and filled with name then surname.
type Template struct {
	source string
	tmpl   *template.Template
}

func ParseTemplate(text string) (*Template, error) {
	source := positionalToFields(text)
	tmpl, err := template.New("message").Option("missingkey=error").Parse(source)
	if err != nil {
		return nil, fault.New(fault.Config, "parse message template", err)
	}
	return &Template{source: source, tmpl: tmpl}, nil
}

func LoadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.New(fault.Config, "read message template", err)
	}
	return ParseTemplate(string(data))
}

// DefaultTemplate returns the embedded campaign message.
func DefaultTemplate() *Template {
	t, err := ParseTemplate(defaultTemplateText)
	if err != nil {
		panic(fmt.Sprintf("embedded template: %v", err))
	}
	return t
}

func (t *Template) Source() string { return t.source }

// Render is deterministic: the same recipient always yields the same message.
func (t *Template) Render(r recipient.Recipient) (string, error) {
	var buf strings.Builder
	if err := t.tmpl.Execute(&buf, r); err != nil {
		return "", fault.New(fault.Config, "render message template", err)
	}
	return buf.String(), nil
}

var positionalSlots = []string{"{{.Name}}", "{{.Surname}}"}

func positionalToFields(text string) string {
	if strings.Contains(text, "{{") || !strings.Contains(text, "{}") {
		return text
	}
	for _, slot := range positionalSlots {
		text = strings.Replace(text, "{}", slot, 1)
	}
	return text
}
