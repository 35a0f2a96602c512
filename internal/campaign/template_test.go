package campaign

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tpodg/smscampaign/internal/fault"
	"github.com/tpodg/smscampaign/internal/recipient"
)

func TestTemplateRender(t *testing.T) {
	leon := recipient.Recipient{Name: "Léon", Surname: "Blum", Number: "+33600000001"}

	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "fields",
			text: "Salut {{.Name}} {{.Surname}} ({{.Number}})",
			want: "Salut Léon Blum (+33600000001)",
		},
		{
			name: "positional slots",
			text: "Bonjour camarade {} {},",
			want: "Bonjour camarade Léon Blum,",
		},
		{
			name: "extra positional slots are left alone",
			text: "{} {} {}",
			want: "Léon Blum {}",
		},
		{
			name: "plain text",
			text: "Meeting at 18h",
			want: "Meeting at 18h",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, err := ParseTemplate(tt.text)
			if err != nil {
				t.Fatalf("ParseTemplate failed: %v", err)
			}
			got, err := tmpl.Render(leon)
			if err != nil {
				t.Fatalf("Render failed: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestDefaultTemplate(t *testing.T) {
	tmpl := DefaultTemplate()
	r := recipient.Recipient{Name: "Rosa", Surname: "Luxemburg", Number: "+33600000002"}

	first, err := tmpl.Render(r)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	want := "Bonjour camarade Rosa Luxemburg,\nCeci est un message de test pour la campagne SMS.\nCordialement,\nTrotsky\n"
	if first != want {
		t.Fatalf("expected %q, got %q", want, first)
	}

	second, err := tmpl.Render(r)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if first != second {
		t.Fatalf("expected deterministic rendering, got %q and %q", first, second)
	}
}

func TestTemplateErrors(t *testing.T) {
	if _, err := ParseTemplate("Hello {{.Name"); !errors.Is(err, fault.Config) {
		t.Fatalf("expected config error for bad syntax, got %v", err)
	}

	tmpl, err := ParseTemplate("Hello {{.Nickname}}")
	if err != nil {
		t.Fatalf("ParseTemplate failed: %v", err)
	}
	if _, err := tmpl.Render(recipient.Recipient{Name: "Léon"}); !errors.Is(err, fault.Config) {
		t.Fatalf("expected config error for unknown field, got %v", err)
	}

	if _, err := LoadTemplate(filepath.Join(t.TempDir(), "missing.tmpl")); !errors.Is(err, fault.Config) {
		t.Fatalf("expected config error for missing file, got %v", err)
	}
}

func TestLoadTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "message.tmpl")
	if err := os.WriteFile(path, []byte("Hi {}!"), 0o600); err != nil {
		t.Fatalf("failed to write template: %v", err)
	}

	tmpl, err := LoadTemplate(path)
	if err != nil {
		t.Fatalf("LoadTemplate failed: %v", err)
	}
	if tmpl.Source() != "Hi {{.Name}}!" {
		t.Fatalf("unexpected source %q", tmpl.Source())
	}
}
