// Package dispatcher turns inbound messages into independent submission tasks.
//
// OnMessage never waits for validation or execution: each non-empty message
// becomes one goroutine that validates, executes and reports to the audit
// sink. A panic inside a task is caught at the task boundary and reported as
// a runtime error for that submission only. Concurrency is unbounded unless
// WithMaxInFlight is set, which leaves the server open to being flooded.
package dispatcher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/isdmx/snipbox/auditlog"
	"github.com/isdmx/snipbox/metrics"
	"github.com/isdmx/snipbox/sandbox"
)

var (
	// ErrEmptySubmission is returned for messages that are empty after trimming.
	ErrEmptySubmission = errors.New("empty submission")
	// ErrOverloaded is returned when the in-flight bound is reached.
	ErrOverloaded = errors.New("too many submissions in flight")
	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("dispatcher is shut down")
)

// Runner executes accepted programs.
type Runner interface {
	Run(ctx context.Context, prog *sandbox.Program, output sandbox.OutputFunc) sandbox.Outcome
}

// Sink receives audit entries.
type Sink interface {
	Write(e auditlog.Entry) error
}

// Dispatcher schedules one task per submission.
type Dispatcher struct {
	logger    *zap.Logger
	runner    Runner
	sink      Sink
	metrics   *metrics.Metrics
	validate  func(text string) sandbox.Verdict
	now       func() time.Time
	admission *semaphore.Weighted

	mu     sync.RWMutex
	closed bool
	tasks  conc.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMaxInFlight bounds the number of concurrent tasks. Zero or less means unbounded.
func WithMaxInFlight(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.admission = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithValidator replaces sandbox.Validate.
func WithValidator(validate func(text string) sandbox.Verdict) Option {
	return func(d *Dispatcher) {
		d.validate = validate
	}
}

// WithClock replaces time.Now for stamping submissions.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// New creates a Dispatcher.
func New(logger *zap.Logger, runner Runner, sink Sink, m *metrics.Metrics, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:   logger,
		runner:   runner,
		sink:     sink,
		metrics:  m,
		validate: sandbox.Validate,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// OnMessage schedules text from sender and returns the submission id
// without waiting for the task.
func (d *Dispatcher) OnMessage(text, sender string) (uuid.UUID, error) {
	if strings.TrimSpace(text) == "" {
		return uuid.Nil, ErrEmptySubmission
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return uuid.Nil, ErrClosed
	}

	sub := sandbox.NewSubmission(text, sender, d.now())

	if d.admission != nil && !d.admission.TryAcquire(1) {
		d.metrics.SubmissionsTotal.WithLabelValues(metrics.ResultDropped).Inc()
		d.audit(auditlog.Rejected(sub, ErrOverloaded.Error()))
		return sub.ID, ErrOverloaded
	}

	d.metrics.InFlight.Inc()
	d.tasks.Go(func() {
		defer d.metrics.InFlight.Dec()
		if d.admission != nil {
			defer d.admission.Release(1)
		}
		d.process(sub)
	})

	return sub.ID, nil
}

// Shutdown refuses new messages and waits for in-flight tasks until ctx is done.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) process(sub sandbox.Submission) {
	var reported bool
	var pc panics.Catcher
	pc.Try(func() { d.handle(sub, &reported) })

	if r := pc.Recovered(); r != nil {
		d.logger.Error("submission task panicked",
			zap.String("submission_id", sub.ID.String()),
			zap.String("panic", r.String()))
		if !reported {
			d.metrics.OutcomesTotal.WithLabelValues(sandbox.OutcomeRuntimeError.String()).Inc()
			d.audit(auditlog.Finished(sub, sandbox.Outcome{
				Kind:   sandbox.OutcomeRuntimeError,
				Detail: "internal error: " + r.AsError().Error(),
			}))
		}
	}
}

func (d *Dispatcher) handle(sub sandbox.Submission, reported *bool) {
	verdict := d.validate(sub.Text)
	if !verdict.Accepted() {
		d.metrics.SubmissionsTotal.WithLabelValues(metrics.ResultRejected).Inc()
		d.audit(auditlog.Rejected(sub, verdict.String()))
		*reported = true
		return
	}

	d.metrics.SubmissionsTotal.WithLabelValues(metrics.ResultAccepted).Inc()
	d.audit(auditlog.Accepted(sub))

	outcome := d.runner.Run(context.Background(), verdict.Program(), func(line string) {
		d.audit(auditlog.Output(sub, line))
	})

	d.metrics.OutcomesTotal.WithLabelValues(outcome.Kind.String()).Inc()
	d.metrics.ExecutionDuration.Observe(outcome.Elapsed.Seconds())
	*reported = true
	d.audit(auditlog.Finished(sub, outcome))
}

func (d *Dispatcher) audit(e auditlog.Entry) {
	if err := d.sink.Write(e); err != nil {
		d.logger.Debug("audit write failed", zap.Error(err))
	}
}
