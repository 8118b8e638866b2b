package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/snipbox/auditlog"
	"github.com/isdmx/snipbox/metrics"
	"github.com/isdmx/snipbox/sandbox"
)

// recordingSink collects entries in arrival order.
type recordingSink struct {
	mu      sync.Mutex
	entries []auditlog.Entry
}

func (s *recordingSink) Write(e auditlog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *recordingSink) all() []auditlog.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auditlog.Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *recordingSink) kinds(id uuid.UUID) []auditlog.Kind {
	var kinds []auditlog.Kind
	for _, e := range s.all() {
		if e.Submission.ID == id {
			kinds = append(kinds, e.Kind)
		}
	}
	return kinds
}

// blockingRunner holds every execution until release is closed.
type blockingRunner struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan struct{}, 64), release: make(chan struct{})}
}

func (r *blockingRunner) Run(context.Context, *sandbox.Program, sandbox.OutputFunc) sandbox.Outcome {
	r.started <- struct{}{}
	<-r.release
	return sandbox.Outcome{Kind: sandbox.OutcomeRan}
}

func newTestDispatcher(t *testing.T, runner Runner, opts ...Option) (*Dispatcher, *recordingSink, *metrics.Metrics) {
	t.Helper()
	sink := &recordingSink{}
	m := metrics.New(prometheus.NewRegistry())
	return New(zaptest.NewLogger(t), runner, sink, m, opts...), sink, m
}

func newSandboxRunner(t *testing.T, limit int) Runner {
	t.Helper()
	exec, err := sandbox.New(zaptest.NewLogger(t), &sandbox.Config{TimeLimitSec: limit})
	require.NoError(t, err)
	return exec
}

func shutdown(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))
}

func TestDispatcherPipeline(t *testing.T) {
	d, sink, m := newTestDispatcher(t, newSandboxRunner(t, 5))

	hello, err := d.OnMessage("print('hello world')", "10.0.0.1:4000")
	require.NoError(t, err)
	bare, err := d.OnMessage("hello", "10.0.0.2:4000")
	require.NoError(t, err)
	broken, err := d.OnMessage("for i in range(3) print(i)", "10.0.0.3:4000")
	require.NoError(t, err)
	forbidden, err := d.OnMessage("open('/etc/passwd')", "10.0.0.4:4000")
	require.NoError(t, err)

	shutdown(t, d)

	assert.Equal(t, []auditlog.Kind{auditlog.KindAccepted, auditlog.KindOutput, auditlog.KindRan}, sink.kinds(hello))
	assert.Equal(t, []auditlog.Kind{auditlog.KindRejected}, sink.kinds(bare))
	assert.Equal(t, []auditlog.Kind{auditlog.KindRejected}, sink.kinds(broken))
	assert.Equal(t, []auditlog.Kind{auditlog.KindAccepted, auditlog.KindRuntimeError}, sink.kinds(forbidden))

	for _, e := range sink.all() {
		switch e.Submission.ID {
		case hello:
			assert.Equal(t, "10.0.0.1:4000", e.Submission.Sender)
			if e.Kind == auditlog.KindOutput {
				assert.Equal(t, "hello world", e.Text)
			}
		case bare:
			assert.Equal(t, "ERROR: bare literal/name is not allowed", e.Message())
		case broken:
			assert.Contains(t, e.Message(), "ERROR: syntax error")
		case forbidden:
			if e.Kind == auditlog.KindRuntimeError {
				assert.Contains(t, e.Outcome.Detail, "undefined: open")
				assert.Equal(t, "open('/etc/passwd')", e.Submission.Text)
			}
		}
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues(metrics.ResultAccepted)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues(metrics.ResultRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutcomesTotal.WithLabelValues("ran")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutcomesTotal.WithLabelValues("runtime_error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlight))
}

func TestDispatcherTimeout(t *testing.T) {
	d, sink, _ := newTestDispatcher(t, newSandboxRunner(t, 1))

	id, err := d.OnMessage("while True:\n    pass", "10.0.0.1:4000")
	require.NoError(t, err)
	shutdown(t, d)

	entries := sink.all()
	require.Len(t, entries, 2)
	assert.Equal(t, auditlog.KindTimedOut, entries[1].Kind)
	assert.Equal(t, id, entries[1].Submission.ID)
	assert.GreaterOrEqual(t, entries[1].Outcome.Elapsed, time.Second)
}

func TestDispatcherEmpty(t *testing.T) {
	d, sink, _ := newTestDispatcher(t, newBlockingRunner())

	for _, text := range []string{"", "   ", "\n\t"} {
		id, err := d.OnMessage(text, "10.0.0.1:4000")
		require.ErrorIs(t, err, ErrEmptySubmission)
		assert.Equal(t, uuid.Nil, id)
	}

	shutdown(t, d)
	assert.Empty(t, sink.all())
}

func TestDispatcherNeverBlocks(t *testing.T) {
	runner := newBlockingRunner()
	d, sink, m := newTestDispatcher(t, runner)

	const n = 10
	start := time.Now()
	for i := 0; i < n; i++ {
		_, err := d.OnMessage("print(1)", "10.0.0.1:4000")
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), time.Second)

	for i := 0; i < n; i++ {
		<-runner.started
	}
	assert.Equal(t, float64(n), testutil.ToFloat64(m.InFlight))

	close(runner.release)
	shutdown(t, d)

	ran := 0
	for _, e := range sink.all() {
		if e.Kind == auditlog.KindRan {
			ran++
		}
	}
	assert.Equal(t, n, ran)
}

func TestDispatcherAdmissionControl(t *testing.T) {
	runner := newBlockingRunner()
	d, sink, m := newTestDispatcher(t, runner, WithMaxInFlight(1))

	_, err := d.OnMessage("print(1)", "10.0.0.1:4000")
	require.NoError(t, err)
	<-runner.started

	dropped, err := d.OnMessage("print(2)", "10.0.0.2:4000")
	require.ErrorIs(t, err, ErrOverloaded)
	assert.NotEqual(t, uuid.Nil, dropped)
	assert.Equal(t, []auditlog.Kind{auditlog.KindRejected}, sink.kinds(dropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues(metrics.ResultDropped)))

	close(runner.release)
	shutdown(t, d)
}

func TestDispatcherPanicIsolation(t *testing.T) {
	validate := func(text string) sandbox.Verdict {
		if text == "boom()" {
			panic("validator exploded")
		}
		return sandbox.Validate(text)
	}
	d, sink, _ := newTestDispatcher(t, newSandboxRunner(t, 5), WithValidator(validate))

	boom, err := d.OnMessage("boom()", "10.0.0.1:4000")
	require.NoError(t, err)
	ok, err := d.OnMessage("print('fine')", "10.0.0.2:4000")
	require.NoError(t, err)

	shutdown(t, d)

	assert.Equal(t, []auditlog.Kind{auditlog.KindRuntimeError}, sink.kinds(boom))
	assert.Equal(t, []auditlog.Kind{auditlog.KindAccepted, auditlog.KindOutput, auditlog.KindRan}, sink.kinds(ok))
	for _, e := range sink.all() {
		if e.Submission.ID == boom {
			assert.Contains(t, e.Outcome.Detail, "validator exploded")
		}
	}
}

func TestDispatcherCompletionOrder(t *testing.T) {
	d, sink, _ := newTestDispatcher(t, newSandboxRunner(t, 5))

	slow, err := d.OnMessage("sleep(0.3)", "10.0.0.1:4000")
	require.NoError(t, err)
	fast, err := d.OnMessage("print(1)", "10.0.0.2:4000")
	require.NoError(t, err)

	shutdown(t, d)

	var finished []uuid.UUID
	for _, e := range sink.all() {
		if e.Kind == auditlog.KindRan {
			finished = append(finished, e.Submission.ID)
		}
	}
	assert.Equal(t, []uuid.UUID{fast, slow}, finished)
}

func TestDispatcherShutdown(t *testing.T) {
	t.Run("RejectsAfterShutdown", func(t *testing.T) {
		d, _, _ := newTestDispatcher(t, newBlockingRunner())
		shutdown(t, d)

		_, err := d.OnMessage("print(1)", "10.0.0.1:4000")
		require.ErrorIs(t, err, ErrClosed)
	})

	t.Run("HonorsContext", func(t *testing.T) {
		runner := newBlockingRunner()
		d, _, _ := newTestDispatcher(t, runner)

		_, err := d.OnMessage("print(1)", "10.0.0.1:4000")
		require.NoError(t, err)
		<-runner.started

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		require.ErrorIs(t, d.Shutdown(ctx), context.DeadlineExceeded)

		close(runner.release)
		shutdown(t, d)
	})

	t.Run("UsesClock", func(t *testing.T) {
		fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		d, sink, _ := newTestDispatcher(t, newSandboxRunner(t, 5), WithClock(func() time.Time { return fixed }))

		_, err := d.OnMessage("print(1)", "10.0.0.1:4000")
		require.NoError(t, err)
		shutdown(t, d)

		for _, e := range sink.all() {
			assert.Equal(t, fixed, e.Submission.ReceivedAt)
		}
	})
}
