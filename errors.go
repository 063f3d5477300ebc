package loom

import (
	"fmt"
	"strings"
)

// SyntaxError reports malformed template source. It is fatal to the compile
// that produced it and carries enough position information to point at the
// offending line.
type SyntaxError struct {
	Line     int    // 1-based
	Col      int    // 1-based
	Expected string // what the parser wanted to see
	Found    string // what it saw instead
	Src      string // full template source, for Show
}

func (e *SyntaxError) Error() string {
	if e.Found != "" {
		return fmt.Sprintf("syntax error at %d:%d: expected %s, found %s", e.Line, e.Col, e.Expected, e.Found)
	}
	return fmt.Sprintf("syntax error at %d:%d: expected %s", e.Line, e.Col, e.Expected)
}

// Show renders the error with the culprit line and a caret underneath.
func (e *SyntaxError) Show() string {
	var b strings.Builder
	b.WriteString(e.Error())
	lines := strings.Split(e.Src, "\n")
	if e.Line >= 1 && e.Line <= len(lines) {
		culprit := lines[e.Line-1]
		b.WriteString("\n  ")
		b.WriteString(culprit)
		b.WriteString("\n  ")
		col := e.Col
		if col > len(culprit)+1 {
			col = len(culprit) + 1
		}
		b.WriteString(strings.Repeat(" ", col-1))
		b.WriteString("^")
	}
	return b.String()
}

// CompileErrorKind classifies semantic template errors.
type CompileErrorKind uint8

const (
	DuplicateGlobal CompileErrorKind = iota
	UnknownFunction
	DuplicateComponent
	UnknownWidget
	InvalidAttribute
	UnknownComponent
)

func (k CompileErrorKind) String() string {
	switch k {
	case DuplicateGlobal:
		return "duplicate global"
	case UnknownFunction:
		return "unknown function"
	case DuplicateComponent:
		return "duplicate component"
	case UnknownWidget:
		return "unknown widget"
	case InvalidAttribute:
		return "invalid attribute"
	case UnknownComponent:
		return "unknown component"
	}
	return "compile error"
}

// CompileError reports a semantically invalid template: the source parsed but
// names something that cannot be resolved or redefines something it must not.
// Fatal to the compile; a running tree keeps its previous program.
type CompileError struct {
	Kind CompileErrorKind
	Name string // the offending identifier
	Line int    // 1-based, 0 when unknown
}

func (e *CompileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s %q at line %d", e.Kind, e.Name, e.Line)
	}
	return fmt.Sprintf("%s %q", e.Kind, e.Name)
}

// RegistrationError reports a duplicate name handed to the registry by the
// host. Returned to the caller at registration time, never deferred.
type RegistrationError struct {
	Kind string // "component", "prototype" or "function"
	Name string
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("%s %q is already registered", e.Kind, e.Name)
}

// EvalError reports a failure evaluating one node's expressions against the
// current state: a missing path, a shape mismatch, a function call failure.
// The affected subtree renders empty; the rest of the frame is unaffected.
type EvalError struct {
	Path   string // state path or expression text involved
	Reason string
}

func (e *EvalError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("evaluation failed for %s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("evaluation failed: %s", e.Reason)
}
