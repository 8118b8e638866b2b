package sandbox

import (
	"context"
	"errors"
	"time"

	"go.starlark.net/starlark"
	"go.uber.org/zap"
)

// OutcomeKind classifies how an execution ended.
type OutcomeKind int

// Execution outcomes
const (
	OutcomeRan OutcomeKind = iota
	OutcomeTimedOut
	OutcomeRuntimeError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeRan:
		return "ran"
	case OutcomeTimedOut:
		return "timeout"
	case OutcomeRuntimeError:
		return "runtime_error"
	default:
		return "unknown"
	}
}

// Outcome is produced exactly once for every executed program.
type Outcome struct {
	Kind    OutcomeKind
	Elapsed time.Duration
	// Detail describes the failure for OutcomeRuntimeError.
	Detail string
}

// OutputFunc receives one line per print call made by the program.
type OutputFunc func(line string)

// Options bounds a single execution.
type Options struct {
	// TimeLimit is the wall-clock budget measured from the start of execution.
	TimeLimit time.Duration
	// MaxSteps caps interpreter steps; zero means no cap.
	MaxSteps uint64
}

// Execute runs prog with only caps visible, under opts.TimeLimit.
//
// Each call gets its own thread and module globals, so nothing one execution
// defines is visible to another. A Program is resolved in place and must be
// executed at most once.
func Execute(ctx context.Context, prog *Program, caps *Capabilities, opts Options, output OutputFunc) Outcome {
	start := time.Now()

	ctx, cancel := context.WithTimeoutCause(ctx, opts.TimeLimit, errDeadlineExceeded)
	defer cancel()

	thread := &starlark.Thread{
		Name: sourceName,
		Print: func(_ *starlark.Thread, msg string) {
			if output != nil {
				output(msg)
			}
		},
	}
	thread.SetLocal(contextKey, ctx)
	if opts.MaxSteps > 0 {
		thread.SetMaxExecutionSteps(opts.MaxSteps)
	}

	// The interpreter polls the cancel flag before each instruction.
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(context.Cause(ctx).Error())
	})
	defer stop()

	err := run(thread, prog, caps)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		return Outcome{Kind: OutcomeRan, Elapsed: elapsed}
	case timedOut(ctx, err):
		return Outcome{Kind: OutcomeTimedOut, Elapsed: elapsed, Detail: errDeadlineExceeded.Error()}
	default:
		return Outcome{Kind: OutcomeRuntimeError, Elapsed: elapsed, Detail: describe(err)}
	}
}

func run(thread *starlark.Thread, prog *Program, caps *Capabilities) error {
	compiled, err := starlark.FileProgram(prog.file, caps.isPredeclared)
	if err != nil {
		return err
	}
	_, err = compiled.Init(thread, caps.predeclared)
	return err
}

func timedOut(ctx context.Context, err error) bool {
	if errors.Is(err, errDeadlineExceeded) || errors.Is(context.Cause(ctx), errDeadlineExceeded) {
		return true
	}
	deadline, ok := ctx.Deadline()
	return ok && !time.Now().Before(deadline)
}

func describe(err error) string {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return evalErr.Backtrace()
	}
	return err.Error()
}

// Executor runs programs against a fixed capability set and limits.
type Executor struct {
	logger *zap.Logger
	caps   *Capabilities
	opts   Options
}

// NewExecutor creates an Executor.
func NewExecutor(logger *zap.Logger, caps *Capabilities, opts Options) *Executor {
	return &Executor{
		logger: logger,
		caps:   caps,
		opts:   opts,
	}
}

// Run executes prog and returns its outcome.
func (e *Executor) Run(ctx context.Context, prog *Program, output OutputFunc) Outcome {
	outcome := Execute(ctx, prog, e.caps, e.opts, output)
	e.logger.Debug("execution finished",
		zap.Stringer("outcome", outcome.Kind),
		zap.Duration("elapsed", outcome.Elapsed))
	return outcome
}

// Capabilities returns the executor's whitelist.
func (e *Executor) Capabilities() *Capabilities {
	return e.caps
}

// TimeLimit returns the per-execution wall-clock budget.
func (e *Executor) TimeLimit() time.Duration {
	return e.opts.TimeLimit
}
