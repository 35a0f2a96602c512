package campaign

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

type reportDocument struct {
	RunID    string          `yaml:"run_id"`
	Started  string          `yaml:"started"`
	Finished string          `yaml:"finished"`
	Summary  Summary         `yaml:"summary"`
	Outcomes []outcomeEntry  `yaml:"outcomes"`
	Rejected []rejectedEntry `yaml:"rejected,omitempty"`
}

type outcomeEntry struct {
	Name     string `yaml:"name"`
	Surname  string `yaml:"surname"`
	Number   string `yaml:"number"`
	Status   Status `yaml:"status"`
	Attempts int    `yaml:"attempts"`
	Kind     string `yaml:"kind,omitempty"`
	ExitCode int    `yaml:"exit_code,omitempty"`
	Error    string `yaml:"error,omitempty"`
	Stderr   string `yaml:"stderr,omitempty"`
}

type rejectedEntry struct {
	Line    int    `yaml:"line"`
	Name    string `yaml:"name"`
	Surname string `yaml:"surname"`
	Error   string `yaml:"error"`
}

func (r *Report) document() reportDocument {
	doc := reportDocument{
		RunID:    r.RunID,
		Started:  r.Started.Format(time.RFC3339),
		Finished: r.Finished.Format(time.RFC3339),
		Summary:  r.Summary(),
		Outcomes: make([]outcomeEntry, 0, len(r.Outcomes)),
	}
	for _, o := range r.Outcomes {
		entry := outcomeEntry{
			Name:     o.Recipient.Name,
			Surname:  o.Recipient.Surname,
			Number:   o.Recipient.Number,
			Status:   o.Status,
			Attempts: o.Attempts,
			ExitCode: o.ExitCode,
			Stderr:   o.Stderr,
		}
		if o.Err != nil {
			entry.Kind = o.Kind().String()
			entry.Error = o.Err.Error()
		}
		doc.Outcomes = append(doc.Outcomes, entry)
	}
	for _, rej := range r.Rejected {
		entry := rejectedEntry{Line: rej.Line, Name: rej.Name, Surname: rej.Surname}
		if rej.Err != nil {
			entry.Error = rej.Err.Error()
		}
		doc.Rejected = append(doc.Rejected, entry)
	}
	return doc
}

// WriteYAML writes the report as a YAML document.
func (r *Report) WriteYAML(w io.Writer) error {
	data, err := yaml.Marshal(r.document())
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func (r *Report) SaveYAML(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	if err := r.WriteYAML(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
