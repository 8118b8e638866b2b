// Package sandbox provides validation and time-bounded execution of code snippets.
//
// Snippets are Starlark, a small Python dialect. Validate parses a snippet and
// rejects text that does not parse or that is a single bare literal or name.
// The Executor runs an accepted Program in a fresh thread whose only visible
// names are the configured Capabilities, under a wall-clock deadline.
//
// Security boundary: this is an advisory, single-process sandbox. The
// capability whitelist removes ambient access (Starlark has no file, network,
// process or import facilities of its own), and the deadline is enforced
// cooperatively: the interpreter checks for cancellation before every
// instruction and every capability checks the deadline on entry. A single
// capability call that loops inside Go without returning to the interpreter
// (for example max over a very large range) can run past the deadline. There
// is no OS-level isolation, memory limit or CPU limit.
//
// Usage:
//
//	caps, err := sandbox.NewCapabilities(sandbox.DefaultCapabilities)
//	exec := sandbox.NewExecutor(logger, caps, sandbox.Options{TimeLimit: time.Minute})
//	verdict := sandbox.Validate("print('hello world')")
//	if verdict.Accepted() {
//	    outcome := exec.Run(ctx, verdict.Program(), nil)
//	}
package sandbox
