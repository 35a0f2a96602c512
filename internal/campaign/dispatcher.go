package campaign

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tpodg/smscampaign/internal/fault"
	"github.com/tpodg/smscampaign/internal/recipient"
	"github.com/tpodg/smscampaign/internal/remote"
	"github.com/tpodg/smscampaign/internal/shell"
)

const (
	DefaultCapability   = "~/send_sms.sh"
	DefaultPacing       = 3 * time.Second
	DefaultRetryBackoff = 2 * time.Second
)

var errFailFast = errors.New("stopped after a failed recipient (fail-fast)")

// Observer is notified as the run progresses. Calls may come from several
// workers at once when Workers > 1.
type Observer interface {
	Sending(r recipient.Recipient)
	Done(o Outcome)
}

type nopObserver struct{}

func (nopObserver) Sending(recipient.Recipient) {}
func (nopObserver) Done(Outcome)                {}

type Options struct {
	Template   *Template
	Capability string
	// Pacing is the minimum delay between the end of one remote send and the
	// start of the next, shared by all workers. With Pacing > 0 sends never overlap.
	Pacing       time.Duration
	Workers      int
	FailFast     bool
	RetryMax     int
	RetryBackoff time.Duration
	Observer     Observer
	Logger       *slog.Logger
}

// Dispatcher sends one message per recipient through a remote channel.
type Dispatcher struct {
	channel remote.Channel
	opts    Options
	pacer   *pacer
}

func NewDispatcher(ch remote.Channel, opts Options) *Dispatcher {
	if opts.Template == nil {
		opts.Template = DefaultTemplate()
	}
	if opts.Capability == "" {
		opts.Capability = DefaultCapability
	}
	if opts.Pacing < 0 {
		opts.Pacing = 0
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.RetryMax < 0 {
		opts.RetryMax = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	return &Dispatcher{
		channel: ch,
		opts:    opts,
		pacer:   newPacer(opts.Pacing),
	}
}

// Run dispatches to recipients and always returns a report with exactly one
// outcome per recipient, in input order. A failed recipient does not stop the
// run unless FailFast is set. Once ctx is done no new command is started and
// the remaining recipients are reported as cancelled.
func (d *Dispatcher) Run(ctx context.Context, recipients []recipient.Recipient) *Report {
	report := &Report{
		RunID:    uuid.NewString(),
		Started:  time.Now(),
		Outcomes: make([]Outcome, len(recipients)),
	}
	log := d.opts.Logger.With("run", report.RunID)
	log.Info("Starting campaign", "recipients", len(recipients), "workers", d.opts.Workers, "pacing", d.opts.Pacing)

	runCtx, stop := context.WithCancelCause(ctx)
	defer stop(nil)

	var mu sync.Mutex
	record := func(i int, o Outcome) {
		mu.Lock()
		report.Outcomes[i] = o
		mu.Unlock()
		d.opts.Observer.Done(o)
	}

	var g errgroup.Group
	g.SetLimit(d.opts.Workers)
	for i, r := range recipients {
		g.Go(func() error {
			if runCtx.Err() != nil {
				record(i, cancelled(r, context.Cause(runCtx)))
				return nil
			}
			o := d.send(runCtx, log, r)
			record(i, o)
			if o.Status == StatusFailed && d.opts.FailFast {
				stop(errFailFast)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Finished = time.Now()
	s := report.Summary()
	fields := []any{
		"total", s.Total,
		"sent", s.Sent,
		"failed", s.Failed,
		"cancelled", s.Cancelled,
		"duration", report.Finished.Sub(report.Started),
	}
	if s.Sent != s.Total {
		log.Warn("Campaign finished with failures", fields...)
	} else {
		log.Info("Campaign finished", fields...)
	}
	return report
}

func (d *Dispatcher) send(ctx context.Context, log *slog.Logger, r recipient.Recipient) Outcome {
	started := time.Now()

	message, err := d.opts.Template.Render(r)
	if err != nil {
		d.opts.Observer.Sending(r)
		return Outcome{Recipient: r, Status: StatusFailed, Err: err, Started: started, Finished: time.Now()}
	}
	command := shell.BuildSendCommand(d.opts.Capability, r.Number, message)

	var (
		last     error
		attempts int
		result   remote.Result
	)
	for {
		if err := d.pacer.acquire(ctx); err != nil {
			if last == nil {
				last = err
			}
			break
		}
		if attempts == 0 {
			d.opts.Observer.Sending(r)
		}

		attempts++
		result, last = d.channel.Execute(ctx, command)
		d.pacer.release(time.Now())
		if last == nil {
			log.Info("Message sent", "recipient", r.String(), "number", r.Number, "attempts", attempts)
			return Outcome{
				Recipient: r,
				Status:    StatusSent,
				Attempts:  attempts,
				ExitCode:  result.ExitCode,
				Started:   started,
				Finished:  time.Now(),
			}
		}
		last = fault.Wrap(fault.Channel, "send to "+r.Number, last)

		if attempts > d.opts.RetryMax || !retryable(last) {
			break
		}
		delay := time.Duration(attempts) * d.opts.RetryBackoff
		log.Debug("Send retry scheduled", "recipient", r.String(), "attempt", attempts+1, "delay", delay, "error", last)
		if err := sleep(ctx, delay); err != nil {
			break
		}
	}

	if attempts == 0 {
		return cancelled(r, last)
	}

	o := Outcome{
		Recipient: r,
		Status:    StatusFailed,
		Err:       last,
		Attempts:  attempts,
		ExitCode:  result.ExitCode,
		Stderr:    result.Stderr,
		Started:   started,
		Finished:  time.Now(),
	}
	if fault.KindOf(last) == fault.Cancelled {
		o.Status = StatusCancelled
	}
	log.Warn("Message failed", "recipient", r.String(), "number", r.Number, "attempts", attempts, "error", last)
	return o
}

func cancelled(r recipient.Recipient, cause error) Outcome {
	if cause == nil {
		cause = context.Canceled
	}
	now := time.Now()
	return Outcome{
		Recipient: r,
		Status:    StatusCancelled,
		Err:       fault.Wrap(fault.Cancelled, "dispatch", cause),
		Started:   now,
		Finished:  now,
	}
}

// retryable reports whether err may be retried without risking a duplicate
// message. A remote command that ran and failed may already have queued the SMS.
func retryable(err error) bool {
	var changed *remote.HostKeyChangedError
	if errors.As(err, &changed) {
		return false
	}
	switch fault.KindOf(err) {
	case fault.Timeout, fault.Channel:
		return true
	default:
		return false
	}
}

// pacer spaces remote sends by interval, measured from the end of one send to
// the start of the next. While interval > 0 it also serializes sends.
type pacer struct {
	interval time.Duration
	slot     chan struct{}
	// limiter is guarded by slot. It is re-armed at the end of every send so
	// its single token comes back interval after that send finished.
	limiter *rate.Limiter
}

func newPacer(interval time.Duration) *pacer {
	return &pacer{
		interval: interval,
		slot:     make(chan struct{}, 1),
		limiter:  rate.NewLimiter(rate.Inf, 1),
	}
}

// acquire blocks until no send is in flight and the previous one finished at
// least interval ago. The first send is immediate.
func (p *pacer) acquire(ctx context.Context) error {
	if p.interval <= 0 {
		return nil
	}
	select {
	case p.slot <- struct{}{}:
	case <-ctx.Done():
		return context.Cause(ctx)
	}
	if err := p.limiter.Wait(ctx); err != nil {
		<-p.slot
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return err
	}
	return nil
}

// release marks the send started by acquire as finished at t.
func (p *pacer) release(t time.Time) {
	if p.interval <= 0 {
		return
	}
	p.limiter = rate.NewLimiter(rate.Every(p.interval), 1)
	p.limiter.AllowN(t, 1)
	<-p.slot
}

func sleep(ctx context.Context, d time.Duration) error {
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
