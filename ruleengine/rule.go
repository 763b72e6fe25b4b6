package ruleengine

import (
	"fmt"
	"regexp"
)

// Target selects which attachment attribute a clause compares against.
type Target int

const (
	TargetName Target = iota
	TargetExt
	TargetType
	TargetDisposition
	TargetEncoding
	TargetCharset
)

var targetNames = map[string]Target{
	"name":        TargetName,
	"ext":         TargetExt,
	"type":        TargetType,
	"disposition": TargetDisposition,
	"encoding":    TargetEncoding,
	"charset":     TargetCharset,
}

func (t Target) String() string {
	switch t {
	case TargetName:
		return "name"
	case TargetExt:
		return "ext"
	case TargetType:
		return "type"
	case TargetDisposition:
		return "disposition"
	case TargetEncoding:
		return "encoding"
	case TargetCharset:
		return "charset"
	}
	return "unknown"
}

// Op is a clause comparison operator.
type Op int

const (
	OpEq       Op = iota // ==
	OpNe                 // !=
	OpMatch              // =~
	OpNotMatch           // !~
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "=="
	case OpNe:
		return "!="
	case OpMatch:
		return "=~"
	case OpNotMatch:
		return "!~"
	}
	return "??"
}

// Clause is one compiled comparison. Literal is set for OpEq/OpNe, Pattern
// for OpMatch/OpNotMatch.
type Clause struct {
	Target  Target
	Op      Op
	Literal string
	Pattern *regexp.Regexp
}

// Rule is an ordered clause set compiled from one rule definition. It is
// immutable after Compile and may be shared across concurrent scans.
type Rule struct {
	Name    string
	Clauses []Clause
}

// SyntaxError reports a malformed rule definition at compile time. The rule
// is rejected; other rules in the same configuration still load.
type SyntaxError struct {
	Rule     string
	Fragment string // offending piece of the definition, if identifiable
	Reason   string
	Err      error // underlying pattern compile error, if any
}

func (e *SyntaxError) Error() string {
	msg := fmt.Sprintf("rule %q: %s", e.Rule, e.Reason)
	if e.Fragment != "" {
		msg += fmt.Sprintf(" at %q", e.Fragment)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SyntaxError) Unwrap() error { return e.Err }
