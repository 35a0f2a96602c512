package progress

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tpodg/smscampaign/internal/campaign"
	"github.com/tpodg/smscampaign/internal/fault"
	"github.com/tpodg/smscampaign/internal/recipient"
)

var leon = recipient.Recipient{Name: "Léon", Surname: "Blum", Number: "+33600000001"}

func TestPrinterLifecycle(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)

	p.Sending(leon)
	p.Done(campaign.Outcome{Recipient: leon, Status: campaign.StatusSent})
	p.Done(campaign.Outcome{
		Recipient: leon,
		Status:    campaign.StatusFailed,
		Err:       &fault.Error{Kind: fault.RemoteCommand, Op: "~/send_sms.sh", ExitCode: 3, Stderr: "invalid number"},
	})
	p.Done(campaign.Outcome{Recipient: leon, Status: campaign.StatusCancelled, Attempts: 1})
	p.Done(campaign.Outcome{Recipient: leon, Status: campaign.StatusCancelled})

	require.Equal(t, strings.Join([]string{
		"Sending to Léon Blum at +33600000001...",
		"Sent.",
		"WARN: Failed: remote command error: ~/send_sms.sh (exit status 3): stderr: invalid number",
		"Cancelled.",
		"Cancelled +33600000001.",
		"",
	}, "\n"), buf.String())
}

func TestPrinterConcurrentResultsNameRecipient(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)
	p.SetConcurrent(true)

	p.Done(campaign.Outcome{Recipient: leon, Status: campaign.StatusSent, Attempts: 1})
	p.Done(campaign.Outcome{
		Recipient: leon,
		Status:    campaign.StatusFailed,
		Attempts:  1,
		Err:       &fault.Error{Kind: fault.Timeout, Op: "dial", Err: errors.New("i/o timeout")},
	})
	p.Done(campaign.Outcome{Recipient: leon, Status: campaign.StatusCancelled, Attempts: 1})

	require.Equal(t, strings.Join([]string{
		"Sent to +33600000001.",
		"WARN: Failed to send to +33600000001: timeout error: dial: i/o timeout",
		"Cancelled +33600000001.",
		"",
	}, "\n"), buf.String())
}

func TestPrinterColor(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, true).Warnf("phone %s unreachable", "pixel")

	require.Equal(t, "\x1b[33mWARN: phone pixel unreachable\x1b[0m\n", buf.String())
}

func TestPrinterRejected(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, false).Rejected([]recipient.Rejection{
		{Line: 3, Name: "Jean", Surname: "Jaurès", Err: errors.New("NUMBER is empty")},
		{Line: 7, Err: errors.New("NUMBER is empty")},
	})

	require.Equal(t, "WARN: Skipping Jean Jaurès on line 3: NUMBER is empty\n"+
		"WARN: Skipping unnamed record on line 7: NUMBER is empty\n", buf.String())
}

func TestPrinterSummary(t *testing.T) {
	report := &campaign.Report{
		RunID: "run-1",
		Outcomes: []campaign.Outcome{
			{Recipient: leon, Status: campaign.StatusSent},
		},
	}

	var buf bytes.Buffer
	p := NewPrinter(&buf, false)
	p.Summary(report)
	require.Equal(t, "Campaign run-1: 1 sent, 0 failed, 0 cancelled, 0 rejected (of 1 records)\n", buf.String())

	buf.Reset()
	report.Rejected = []recipient.Rejection{{Line: 2}}
	p.Summary(report)
	require.Equal(t, "WARN: Campaign run-1: 1 sent, 0 failed, 0 cancelled, 1 rejected (of 2 records)\n", buf.String())
}

func TestPrinterConcurrentLines(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)

	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() { p.Sending(leon) })
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 50)
	for _, line := range lines {
		require.Equal(t, "Sending to Léon Blum at +33600000001...", line)
	}
}
