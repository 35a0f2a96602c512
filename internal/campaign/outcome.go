package campaign

import (
	"time"

	"github.com/tpodg/smscampaign/internal/fault"
	"github.com/tpodg/smscampaign/internal/recipient"
)

type Status string

const (
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Outcome is the result of dispatching to one recipient.
type Outcome struct {
	Recipient recipient.Recipient
	Status    Status
	Err       error
	// Attempts counts remote executions; zero means the recipient was never tried.
	Attempts int
	ExitCode int
	Stderr   string
	Started  time.Time
	Finished time.Time
}

func (o Outcome) Kind() fault.Kind { return fault.KindOf(o.Err) }

// Report is the ordered record of one run. Outcomes[i] belongs to the i-th
// recipient passed to Run.
type Report struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Outcomes []Outcome
	Rejected []recipient.Rejection
}

type Summary struct {
	Total     int `yaml:"total"`
	Sent      int `yaml:"sent"`
	Failed    int `yaml:"failed"`
	Cancelled int `yaml:"cancelled"`
	Rejected  int `yaml:"rejected"`
}

func (r *Report) Summary() Summary {
	s := Summary{Total: len(r.Outcomes), Rejected: len(r.Rejected)}
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusSent:
			s.Sent++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

// OK reports whether every recipient was sent and no record was rejected.
func (r *Report) OK() bool {
	s := r.Summary()
	return s.Sent == s.Total && s.Rejected == 0
}
