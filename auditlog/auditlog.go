// Package auditlog is the single ordered sink for submission lifecycle lines.
//
// Concurrent tasks hand entries to a buffered channel; one writer goroutine
// drains it and emits each entry as one complete zap log line, so lines from
// different submissions never interleave. Tasks only block for the channel
// send, never for each other's validation or execution.
package auditlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/isdmx/snipbox/sandbox"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("audit log closed")

// Kind is the lifecycle event an entry records.
type Kind int

// Lifecycle events
const (
	KindAccepted Kind = iota
	KindRejected
	KindRan
	KindTimedOut
	KindRuntimeError
	KindOutput
)

// Entry is one audit line.
type Entry struct {
	Kind       Kind
	Submission sandbox.Submission
	Reason     string
	Outcome    sandbox.Outcome
	Text       string
}

// Accepted records that a submission passed validation.
func Accepted(sub sandbox.Submission) Entry {
	return Entry{Kind: KindAccepted, Submission: sub}
}

// Rejected records that a submission was refused before execution.
func Rejected(sub sandbox.Submission, reason string) Entry {
	return Entry{Kind: KindRejected, Submission: sub, Reason: reason}
}

// Finished records the outcome of an executed submission.
func Finished(sub sandbox.Submission, outcome sandbox.Outcome) Entry {
	kind := KindRan
	switch outcome.Kind {
	case sandbox.OutcomeTimedOut:
		kind = KindTimedOut
	case sandbox.OutcomeRuntimeError:
		kind = KindRuntimeError
	}
	return Entry{Kind: kind, Submission: sub, Outcome: outcome}
}

// Output records one line printed by an executing submission.
func Output(sub sandbox.Submission, line string) Entry {
	return Entry{Kind: KindOutput, Submission: sub, Text: line}
}

// Message renders the headline of the entry.
func (e Entry) Message() string {
	switch e.Kind {
	case KindAccepted:
		return "OK: accepted"
	case KindRejected:
		return "ERROR: " + e.Reason
	case KindRan:
		return "RAN"
	case KindTimedOut:
		return fmt.Sprintf("TIMEOUT: %s", e.Outcome.Elapsed)
	case KindRuntimeError:
		return "RUNTIME ERROR: " + lastLine(e.Outcome.Detail)
	case KindOutput:
		return "OUTPUT"
	default:
		return "UNKNOWN"
	}
}

// lastLine picks the error message out of a multi-line backtrace.
func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Log serializes entries onto a zap logger.
type Log struct {
	logger  *zap.Logger
	entries chan Entry
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// New starts the writer goroutine. buffer is the number of entries that may
// be queued before Write blocks.
func New(logger *zap.Logger, buffer int) *Log {
	if buffer < 0 {
		buffer = 0
	}
	l := &Log{
		logger:  logger,
		entries: make(chan Entry, buffer),
		done:    make(chan struct{}),
	}
	go l.drain()
	return l
}

// Write queues e for the writer. It returns ErrClosed after Close.
func (l *Log) Write(e Entry) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		l.logger.Warn("audit entry dropped after close",
			zap.String("submission_id", e.Submission.ID.String()),
			zap.String("message", e.Message()))
		return ErrClosed
	}
	l.entries <- e
	return nil
}

// Close stops intake and waits until every queued entry has been written
// or ctx is done.
func (l *Log) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.entries)
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		// Sync fails on terminals and pipes; there is nothing left to flush either way.
		_ = l.logger.Sync()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Log) drain() {
	defer close(l.done)
	for e := range l.entries {
		l.emit(e)
	}
}

func (l *Log) emit(e Entry) {
	sub := e.Submission
	fields := []zap.Field{
		zap.String("submission_id", sub.ID.String()),
		zap.String("sender", sub.Sender),
	}

	switch e.Kind {
	case KindAccepted:
		l.logger.Info(e.Message(), fields...)
	case KindRejected:
		l.logger.Warn(e.Message(), append(fields, zap.String("code", sub.Text))...)
	case KindRan:
		l.logger.Info(e.Message(), append(fields,
			zap.Duration("elapsed", e.Outcome.Elapsed),
			zap.String("code", sub.Text))...)
	case KindTimedOut:
		l.logger.Warn(e.Message(), append(fields,
			zap.Duration("elapsed", e.Outcome.Elapsed),
			zap.String("code", sub.Text))...)
	case KindRuntimeError:
		l.logger.Error(e.Message(), append(fields,
			zap.Duration("elapsed", e.Outcome.Elapsed),
			zap.String("detail", e.Outcome.Detail),
			zap.String("code", sub.Text))...)
	case KindOutput:
		l.logger.Info(e.Message(), append(fields, zap.String("text", e.Text))...)
	}
}
