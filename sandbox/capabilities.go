package sandbox

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Capability names
const (
	CapSleep     = "sleep"
	CapPrint     = "print"
	CapRange     = "range"
	CapLen       = "len"
	CapMin       = "min"
	CapMax       = "max"
	CapSum       = "sum"
	CapEnumerate = "enumerate"
)

// contextKey is the thread-local slot holding the execution context.
const contextKey = "snipbox.context"

// errDeadlineExceeded is raised by capabilities once the deadline has passed.
var errDeadlineExceeded = errors.New("time limit exceeded")

// languageConstants stay visible even though they live in the universe.
var languageConstants = map[string]bool{
	"None":  true,
	"True":  true,
	"False": true,
}

// DefaultCapabilityNames returns every capability the sandbox knows about.
func DefaultCapabilityNames() []string {
	return []string{CapSleep, CapPrint, CapRange, CapLen, CapMin, CapMax, CapSum, CapEnumerate}
}

// capabilityTable enumerates the implementation of every known capability.
func capabilityTable() map[string]*starlark.Builtin {
	return map[string]*starlark.Builtin{
		CapSleep:     guard(CapSleep, builtinSleep),
		CapPrint:     guard(CapPrint, builtinPrint),
		CapRange:     guard(CapRange, delegate(CapRange)),
		CapLen:       guard(CapLen, delegate(CapLen)),
		CapMin:       guard(CapMin, delegate(CapMin)),
		CapMax:       guard(CapMax, delegate(CapMax)),
		CapSum:       guard(CapSum, builtinSum),
		CapEnumerate: guard(CapEnumerate, delegate(CapEnumerate)),
	}
}

// Capabilities is the immutable set of names visible to executing code.
// It is safe for concurrent use by any number of executions.
type Capabilities struct {
	names       []string
	predeclared starlark.StringDict
}

// NewCapabilities builds the whitelist from an explicit list of capability
// names. Universe builtins that are not listed are shadowed so that using
// them fails as an undefined name.
func NewCapabilities(names []string) (*Capabilities, error) {
	if len(names) == 0 {
		return nil, errors.New("at least one capability is required")
	}

	table := capabilityTable()
	predeclared := make(starlark.StringDict, len(table))
	for _, name := range names {
		fn, ok := table[name]
		if !ok {
			return nil, fmt.Errorf("unknown capability: %s", name)
		}
		if _, dup := predeclared[name]; dup {
			return nil, fmt.Errorf("duplicate capability: %s", name)
		}
		predeclared[name] = fn
	}

	listed := make([]string, 0, len(predeclared))
	for name := range predeclared {
		listed = append(listed, name)
	}
	sort.Strings(listed)

	for _, name := range starlark.Universe.Keys() {
		if _, ok := predeclared[name]; ok || languageConstants[name] {
			continue
		}
		predeclared[name] = undefined(name)
	}
	predeclared.Freeze()

	return &Capabilities{names: listed, predeclared: predeclared}, nil
}

// Names returns the whitelisted capability names in sorted order.
func (c *Capabilities) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Has reports whether name is a whitelisted capability.
func (c *Capabilities) Has(name string) bool {
	i := sort.SearchStrings(c.names, name)
	return i < len(c.names) && c.names[i] == name
}

func (c *Capabilities) isPredeclared(name string) bool {
	_, ok := c.predeclared[name]
	return ok
}

type builtinFunc func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

// guard wraps fn with a deadline check on entry.
func guard(name string, fn builtinFunc) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := checkDeadline(thread); err != nil {
			return nil, err
		}
		return fn(thread, b, args, kwargs)
	})
}

// delegate forwards to the interpreter's own builtin of the same name.
func delegate(name string) builtinFunc {
	inner := starlark.Universe[name]
	return func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return starlark.Call(thread, inner, args, kwargs)
	}
}

func undefined(name string) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
		return nil, fmt.Errorf("name '%s' is not defined", name)
	})
}

func contextOf(thread *starlark.Thread) context.Context {
	if ctx, ok := thread.Local(contextKey).(context.Context); ok {
		return ctx
	}
	return context.Background()
}

func checkDeadline(thread *starlark.Thread) error {
	ctx := contextOf(thread)
	if ctx.Err() != nil {
		return errDeadlineExceeded
	}
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return errDeadlineExceeded
	}
	return nil
}

// builtinSleep suspends for the given number of seconds. The sleep counts
// against the deadline and ends early when the deadline passes.
func builtinSleep(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var secs starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &secs); err != nil {
		return nil, err
	}

	var f float64
	switch x := secs.(type) {
	case starlark.Int:
		f = float64(x.Float())
	case starlark.Float:
		f = float64(x)
	default:
		return nil, fmt.Errorf("%s: got %s, want int or float", b.Name(), secs.Type())
	}
	if math.IsNaN(f) || f < 0 {
		return nil, fmt.Errorf("%s: sleep length must be non-negative", b.Name())
	}

	d := time.Duration(math.MaxInt64)
	if f < float64(math.MaxInt64)/float64(time.Second) {
		d = time.Duration(f * float64(time.Second))
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return starlark.None, nil
	case <-contextOf(thread).Done():
		return nil, errDeadlineExceeded
	}
}

// builtinPrint joins its arguments with sep (default a single space) and
// hands the line to the thread's print hook.
func builtinPrint(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	sep := " "
	for _, kv := range kwargs {
		key, _ := starlark.AsString(kv[0])
		if key != "sep" {
			return nil, fmt.Errorf("%s: unexpected keyword argument %s", b.Name(), key)
		}
		s, ok := starlark.AsString(kv[1])
		if !ok {
			return nil, fmt.Errorf("%s: sep must be a string, not %s", b.Name(), kv[1].Type())
		}
		sep = s
	}

	var sb strings.Builder
	for i, v := range args {
		if i > 0 {
			sb.WriteString(sep)
		}
		if s, ok := starlark.AsString(v); ok {
			sb.WriteString(s)
		} else {
			sb.WriteString(v.String())
		}
	}

	if thread.Print != nil {
		thread.Print(thread, sb.String())
	}
	return starlark.None, nil
}

// builtinSum adds up an iterable starting from start (default 0), checking
// the deadline between elements.
func builtinSum(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var iterable starlark.Iterable
	var start starlark.Value = starlark.MakeInt(0)
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &iterable, &start); err != nil {
		return nil, err
	}

	iter := iterable.Iterate()
	defer iter.Done()

	acc := start
	var x starlark.Value
	for iter.Next(&x) {
		if err := checkDeadline(thread); err != nil {
			return nil, err
		}
		var err error
		acc, err = starlark.Binary(syntax.PLUS, acc, x)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
	}
	return acc, nil
}
