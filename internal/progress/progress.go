// Package progress prints per-recipient campaign progress to a terminal.
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tpodg/smscampaign/internal/campaign"
	"github.com/tpodg/smscampaign/internal/recipient"
)

const (
	warnColor  = "\x1b[33m"
	colorReset = "\x1b[0m"
)

// Printer implements campaign.Observer. Lines from concurrent workers are
// written whole and never interleaved.
type Printer struct {
	mu         sync.Mutex
	out        io.Writer
	color      bool
	concurrent bool
}

func NewPrinter(out io.Writer, color bool) *Printer {
	return &Printer{out: out, color: color}
}

// SetConcurrent makes result lines name their recipient, for runs where
// several sends can be in flight and lines would not follow their
// "Sending to" line.
func (p *Printer) SetConcurrent(on bool) {
	p.mu.Lock()
	p.concurrent = on
	p.mu.Unlock()
}

func (p *Printer) Sending(r recipient.Recipient) {
	p.printf("Sending to %s %s at %s...\n", r.Name, r.Surname, r.Number)
}

func (p *Printer) Done(o campaign.Outcome) {
	p.mu.Lock()
	concurrent := p.concurrent
	p.mu.Unlock()

	number := o.Recipient.Number
	switch {
	case o.Status == campaign.StatusSent && concurrent:
		p.printf("Sent to %s.\n", number)
	case o.Status == campaign.StatusSent:
		p.printf("Sent.\n")
	case o.Status == campaign.StatusCancelled && (concurrent || o.Attempts == 0):
		// Never announced, or announced out of order.
		p.printf("Cancelled %s.\n", number)
	case o.Status == campaign.StatusCancelled:
		p.printf("Cancelled.\n")
	case concurrent:
		p.Warnf("Failed to send to %s: %s", number, failureDetail(o))
	default:
		p.Warnf("Failed: %s", failureDetail(o))
	}
}

// Rejected reports records that were skipped before dispatch.
func (p *Printer) Rejected(rejected []recipient.Rejection) {
	for _, rej := range rejected {
		name := strings.TrimSpace(rej.Name + " " + rej.Surname)
		if name == "" {
			name = "unnamed record"
		}
		p.Warnf("Skipping %s on line %d: %v", name, rej.Line, rej.Err)
	}
}

func (p *Printer) Summary(r *campaign.Report) {
	s := r.Summary()
	line := fmt.Sprintf("Campaign %s: %d sent, %d failed, %d cancelled, %d rejected (of %d records)",
		r.RunID, s.Sent, s.Failed, s.Cancelled, s.Rejected, s.Total+s.Rejected)
	if r.OK() {
		p.printf("%s\n", line)
		return
	}
	p.Warnf("%s", line)
}

// Warnf prints a formatted warning with a colored prefix.
func (p *Printer) Warnf(format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	if p.color {
		p.printf("%sWARN: %s%s\n", warnColor, message, colorReset)
		return
	}
	p.printf("WARN: %s\n", message)
}

func (p *Printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func failureDetail(o campaign.Outcome) string {
	if o.Err == nil {
		return "unknown error"
	}
	return o.Err.Error()
}
