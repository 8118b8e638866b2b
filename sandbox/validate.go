package sandbox

import (
	"errors"
	"fmt"

	"go.starlark.net/syntax"
)

// sourceName is the filename reported in parse errors and backtraces.
const sourceName = "<submission>"

// fileOptions is shared by the validator and the executor so both see the
// same dialect. Recursion stays disabled: unbounded recursion grows the Go
// stack until the whole process dies.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// Reason identifies why a submission was rejected.
type Reason string

// Rejection reasons
const (
	ReasonSyntaxError Reason = "syntax error"
	ReasonBareLiteral Reason = "bare literal/name is not allowed"
)

// ErrBareLiteral is the error carried by a ReasonBareLiteral verdict.
var ErrBareLiteral = errors.New("bare literal/name is not allowed")

// Program is a validated, parsed submission ready for execution.
type Program struct {
	file   *syntax.File
	source string
}

// Source returns the text the program was parsed from.
func (p *Program) Source() string {
	return p.source
}

// Verdict is the result of Validate: either an accepted Program or a
// rejection reason with the underlying error.
type Verdict struct {
	program *Program
	reason  Reason
	err     error
}

// Accepted reports whether the submission may be executed.
func (v Verdict) Accepted() bool {
	return v.program != nil
}

// Program returns the parsed program, or nil for a rejected verdict.
func (v Verdict) Program() *Program {
	return v.program
}

// Reason returns the rejection reason, empty when accepted.
func (v Verdict) Reason() Reason {
	return v.reason
}

// Err returns the rejection error, nil when accepted.
func (v Verdict) Err() error {
	return v.err
}

// String renders the verdict for log lines.
func (v Verdict) String() string {
	if v.Accepted() {
		return "accepted"
	}
	if v.reason == ReasonBareLiteral {
		return string(v.reason)
	}
	return fmt.Sprintf("%s: %v", v.reason, v.err)
}

// Validate parses text and decides whether it is meaningful code.
//
// Text that does not parse is rejected with ReasonSyntaxError. A program made
// of exactly one expression statement whose value is a literal or a plain
// identifier is rejected with ReasonBareLiteral. Everything else is accepted;
// names are not resolved here, so a call to a missing capability is accepted
// and fails at execution time.
func Validate(text string) Verdict {
	f, err := fileOptions.Parse(sourceName, text, 0)
	if err != nil {
		return Verdict{reason: ReasonSyntaxError, err: err}
	}

	if isBareExpression(f) {
		return Verdict{reason: ReasonBareLiteral, err: ErrBareLiteral}
	}

	return Verdict{program: &Program{file: f, source: text}}
}

// isBareExpression reports whether f is a single literal or identifier
// expression statement, ignoring surrounding parentheses.
func isBareExpression(f *syntax.File) bool {
	if len(f.Stmts) != 1 {
		return false
	}
	stmt, ok := f.Stmts[0].(*syntax.ExprStmt)
	if !ok {
		return false
	}

	x := stmt.X
	for {
		paren, ok := x.(*syntax.ParenExpr)
		if !ok {
			break
		}
		x = paren.X
	}

	switch x.(type) {
	case *syntax.Literal, *syntax.Ident:
		return true
	default:
		return false
	}
}
