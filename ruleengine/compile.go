package ruleengine

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// clauseStartRe locates the next "KEY OP" pair anywhere in the remaining
// definition text. Scanning instead of strict parsing keeps the legacy
// tolerance for surrounding text that is not part of any clause.
var clauseStartRe = regexp.MustCompile(`([A-Za-z_]\w*)\s*(==|!=|=~|!~)\s*`)

// delimPairs maps opening pattern delimiters to their closing counterpart for
// the m-prefixed pattern form. Any other delimiter closes with itself.
var delimPairs = map[byte]byte{
	'{': '}',
	'(': ')',
	'[': ']',
	'<': '>',
}

// Compile parses a rule definition into a Rule. Patterns are compiled here,
// once; an unknown attribute key, a malformed value, an invalid pattern, or a
// definition with no clauses at all is a *SyntaxError.
func Compile(name, definition string) (*Rule, error) {
	rule := &Rule{Name: name}
	rest := definition
	for {
		loc := clauseStartRe.FindStringSubmatchIndex(rest)
		if loc == nil {
			break
		}
		key := rest[loc[2]:loc[3]]
		op := rest[loc[4]:loc[5]]
		target, ok := targetNames[key]
		if !ok {
			return nil, &SyntaxError{Rule: name, Fragment: key, Reason: "unknown attribute key"}
		}
		value := rest[loc[1]:]
		clause, consumed, err := compileClause(name, target, op, value)
		if err != nil {
			return nil, err
		}
		rule.Clauses = append(rule.Clauses, clause)
		rest = value[consumed:]
	}
	if len(rule.Clauses) == 0 {
		return nil, &SyntaxError{Rule: name, Fragment: definition, Reason: "no valid clauses in definition"}
	}
	return rule, nil
}

// Unconsumed reports leading or trailing definition text that did not form
// part of any clause, so callers can warn about it. It re-runs the clause
// scan and returns the leftovers joined by spaces; empty means the whole
// definition was consumed.
func Unconsumed(definition string) string {
	var left []string
	rest := definition
	for {
		loc := clauseStartRe.FindStringSubmatchIndex(rest)
		if loc == nil {
			break
		}
		if skipped := strings.TrimSpace(rest[:loc[0]]); skipped != "" {
			left = append(left, skipped)
		}
		key := rest[loc[2]:loc[3]]
		if _, ok := targetNames[key]; !ok {
			return strings.TrimSpace(rest)
		}
		value := rest[loc[1]:]
		_, consumed, err := compileClause("", 0, rest[loc[4]:loc[5]], value)
		if err != nil {
			return strings.TrimSpace(rest)
		}
		rest = value[consumed:]
	}
	if trailing := strings.TrimSpace(rest); trailing != "" {
		left = append(left, trailing)
	}
	return strings.Join(left, " ")
}

func compileClause(rule string, target Target, op, value string) (Clause, int, error) {
	switch op {
	case "==", "!=":
		lit, n := scanLiteral(value)
		if n == 0 {
			return Clause{}, 0, &SyntaxError{Rule: rule, Fragment: value, Reason: "missing comparison value"}
		}
		o := OpEq
		if op == "!=" {
			o = OpNe
		}
		return Clause{Target: target, Op: o, Literal: lit}, n, nil

	case "=~", "!~":
		expr, mods, n, reason := scanPattern(value)
		if reason != "" {
			return Clause{}, 0, &SyntaxError{Rule: rule, Fragment: value, Reason: reason}
		}
		expr, err := applyModifiers(expr, mods)
		if err != nil {
			return Clause{}, 0, &SyntaxError{Rule: rule, Fragment: value, Reason: err.Error()}
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return Clause{}, 0, &SyntaxError{Rule: rule, Fragment: expr, Reason: "invalid pattern", Err: err}
		}
		o := OpMatch
		if op == "!~" {
			o = OpNotMatch
		}
		return Clause{Target: target, Op: o, Pattern: re}, n, nil
	}
	return Clause{}, 0, &SyntaxError{Rule: rule, Fragment: op, Reason: "unknown operator"}
}

// scanLiteral reads a quoted or bare value off the front of s and returns it
// with bounding quotes stripped, plus the number of bytes consumed.
func scanLiteral(s string) (string, int) {
	if s == "" {
		return "", 0
	}
	if s[0] == '"' || s[0] == '\'' {
		q := s[0]
		end := strings.IndexByte(s[1:], q)
		if end >= 0 {
			return s[1 : 1+end], end + 2
		}
		// unterminated quote: take the rest, quote stripped
		return s[1:], len(s)
	}
	end := strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '"' || r == '\''
	})
	if end < 0 {
		return s, len(s)
	}
	if end == 0 {
		return "", 0
	}
	return s[:end], end
}

// scanPattern reads a pattern value off the front of s: /re/mods, an
// m-delimited form with a custom (possibly paired) delimiter, or a plain
// literal used verbatim as a pattern. It returns the expression, its
// trailing modifiers, the bytes consumed, and a non-empty reason on failure.
func scanPattern(s string) (expr, mods string, consumed int, reason string) {
	if s == "" {
		return "", "", 0, "missing pattern"
	}

	var open, close byte
	start := 0
	switch {
	case s[0] == '/':
		open, close = '/', '/'
		start = 1
	case s[0] == 'm' && len(s) > 1 && isDelimiter(s[1]):
		open = s[1]
		close = open
		if p, ok := delimPairs[open]; ok {
			close = p
		}
		start = 2
	default:
		lit, n := scanLiteral(s)
		if n == 0 {
			return "", "", 0, "missing pattern"
		}
		return lit, "", n, ""
	}

	end := findClose(s, start, open, close)
	if end < 0 {
		return "", "", 0, "unterminated pattern"
	}
	expr = s[start:end]
	i := end + 1
	for i < len(s) && s[i] >= 'a' && s[i] <= 'z' {
		i++
	}
	return expr, s[end+1 : i], i, ""
}

func isDelimiter(b byte) bool {
	if b == ' ' || b == '\t' {
		return false
	}
	return !(b == '_' ||
		('a' <= b && b <= 'z') ||
		('A' <= b && b <= 'Z') ||
		('0' <= b && b <= '9'))
}

// findClose locates the closing delimiter, honoring backslash escapes and
// nesting for paired delimiters.
func findClose(s string, start int, open, close byte) int {
	depth := 0
	for i := start; i < len(s); i++ {
		c := s[i]
		if c == '\\' {
			i++
			continue
		}
		if c == close {
			if depth == 0 {
				return i
			}
			depth--
			continue
		}
		if c == open && open != close {
			depth++
		}
	}
	return -1
}

// applyModifiers translates trailing pattern modifiers into inline flags.
// Only i, m and s have an equivalent here; anything else rejects the rule so
// a silently different match semantic never slips through.
func applyModifiers(expr, mods string) (string, error) {
	if mods == "" {
		return expr, nil
	}
	var flags strings.Builder
	for _, m := range mods {
		switch m {
		case 'i', 'm', 's':
			flags.WriteRune(m)
		default:
			return "", fmt.Errorf("unsupported pattern modifier %q", string(m))
		}
	}
	return "(?" + flags.String() + ")" + expr, nil
}
