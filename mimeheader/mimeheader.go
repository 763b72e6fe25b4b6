// Package mimeheader parses the structured message headers that identify
// attachments: Content-Type and Content-Disposition.
//
// A structured header value consists of a primary token followed by
// ;-separated parameters:
//
//	Content-Type: application/pdf; name="report.pdf"; charset=us-ascii
//	Content-Disposition: attachment; filename*0*=utf-8''Pr%C3%A4se; filename*1*=ntation.pdf
//
// The parser tolerates malformed parameters (they are skipped) and decodes
// RFC 2231 extended and continued parameter values, including the
// charset'language' marker on the first fragment. Only a primary token that
// cannot be isolated makes the whole header unparsable.
package mimeheader

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/emersion/go-message/charset"
	"golang.org/x/text/encoding/charmap"
)

func init() {
	// Register additional charsets that are commonly used in emails
	charset.RegisterEncoding("windows-1252", charmap.Windows1252)
	charset.RegisterEncoding("iso-8859-1", charmap.ISO8859_1)
	charset.RegisterEncoding("iso-8859-15", charmap.ISO8859_15)
}

// ParseError reports a structured header whose primary token could not be
// isolated. It is local to a single header: callers count it and keep going.
type ParseError struct {
	Value  string // the raw header value that failed to parse
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse header value %q: %s", e.Value, e.Reason)
}

var (
	typeTokenRe = regexp.MustCompile(`^[\w.+-]+/[\w.+-]+$`)
	dispTokenRe = regexp.MustCompile(`^[\w.+-]+$`)

	// name*0* / name*1 continuation parameters (RFC 2231 §3); the trailing
	// asterisk marks a percent-encoded fragment.
	continuationRe = regexp.MustCompile(`^(.+?)\*(\d+)(\*)?$`)
)

// Parse decodes a structured header value into its primary token and a map of
// lower-cased parameter names to decoded values. Malformed parameters are
// skipped; an empty primary token is an error.
func Parse(raw string) (string, map[string]string, error) {
	segs := splitSegments(raw)
	token := strings.TrimSpace(segs[0])
	if token == "" {
		return "", nil, &ParseError{Value: raw, Reason: "empty primary token"}
	}
	return token, parseParams(segs[1:]), nil
}

// ParseContentType parses a Content-Type header value. The returned media
// type is lower-cased "type/subtype".
func ParseContentType(raw string) (string, map[string]string, error) {
	token, params, err := Parse(raw)
	if err != nil {
		return "", nil, err
	}
	token = strings.ToLower(token)
	if !typeTokenRe.MatchString(token) {
		return "", nil, &ParseError{Value: raw, Reason: "malformed media type"}
	}
	return token, params, nil
}

// ParseContentDisposition parses a Content-Disposition header value. The
// returned disposition token ("attachment", "inline", ...) is lower-cased.
func ParseContentDisposition(raw string) (string, map[string]string, error) {
	token, params, err := Parse(raw)
	if err != nil {
		return "", nil, err
	}
	token = strings.ToLower(token)
	if !dispTokenRe.MatchString(token) {
		return "", nil, &ParseError{Value: raw, Reason: "malformed disposition token"}
	}
	return token, params, nil
}

// splitSegments splits a header value on ';' while honoring quoted strings
// and backslash escapes inside them.
func splitSegments(s string) []string {
	var segs []string
	var b strings.Builder
	inQuote := false
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			b.WriteRune(r)
			escaped = false
		case r == '\\' && inQuote:
			b.WriteRune(r)
			escaped = true
		case r == '"':
			b.WriteRune(r)
			inQuote = !inQuote
		case r == ';' && !inQuote:
			segs = append(segs, b.String())
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	segs = append(segs, b.String())
	return segs
}

// fragment is one piece of a continued (or extended) RFC 2231 parameter value.
type fragment struct {
	index   int
	encoded bool
	value   string
}

func parseParams(segs []string) map[string]string {
	params := make(map[string]string)
	continuations := make(map[string][]fragment)

	for _, seg := range segs {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		eq := strings.Index(seg, "=")
		if eq < 1 {
			// not name=value, tolerated
			continue
		}
		name := strings.ToLower(strings.TrimSpace(seg[:eq]))
		value := strings.TrimSpace(seg[eq+1:])

		if m := continuationRe.FindStringSubmatch(name); m != nil {
			n, _ := strconv.Atoi(m[2])
			continuations[m[1]] = append(continuations[m[1]], fragment{
				index:   n,
				encoded: m[3] != "",
				value:   unquote(value),
			})
			continue
		}
		if base, ok := strings.CutSuffix(name, "*"); ok && base != "" {
			// name* single extended value, charset-prefixed and percent-encoded
			continuations[base] = append(continuations[base], fragment{
				index:   0,
				encoded: true,
				value:   unquote(value),
			})
			continue
		}
		params[name] = unquote(value)
	}

	for name, frags := range continuations {
		params[name] = assemble(frags)
	}
	return params
}

// unquote strips surrounding double quotes and undoes backslash escapes
// within them. Unquoted values pass through untouched.
func unquote(v string) string {
	if len(v) < 2 || v[0] != '"' || v[len(v)-1] != '"' {
		return v
	}
	v = v[1 : len(v)-1]
	if !strings.Contains(v, `\`) {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		if v[i] == '\\' && i+1 < len(v) {
			i++
		}
		b.WriteByte(v[i])
	}
	return b.String()
}

// assemble joins continuation fragments in ascending index order. The first
// fragment may declare a charset'language' marker; fragments flagged as
// encoded are percent-decoded, everything is concatenated as raw bytes, and
// the result is converted from the declared charset in one pass.
func assemble(frags []fragment) string {
	sort.SliceStable(frags, func(i, j int) bool { return frags[i].index < frags[j].index })

	var cs string
	if frags[0].encoded {
		if marker, rest, ok := splitCharsetMarker(frags[0].value); ok {
			cs = marker
			frags[0].value = rest
		}
	}

	var raw []byte
	for _, f := range frags {
		if f.encoded {
			raw = append(raw, percentDecode(f.value)...)
		} else {
			raw = append(raw, f.value...)
		}
	}
	return convertCharset(cs, raw)
}

// splitCharsetMarker splits a leading charset'language' prefix off an RFC 2231
// extended value. The language tag is not needed and is discarded.
func splitCharsetMarker(v string) (cs, rest string, ok bool) {
	i := strings.Index(v, "'")
	if i < 0 {
		return "", v, false
	}
	j := strings.Index(v[i+1:], "'")
	if j < 0 {
		return "", v, false
	}
	return v[:i], v[i+1+j+1:], true
}

// percentDecode decodes %XX escapes, leaving invalid escapes in place.
func percentDecode(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			hi, ok1 := unhex(s[i+1])
			lo, ok2 := unhex(s[i+2])
			if ok1 && ok2 {
				out = append(out, hi<<4|lo)
				i += 2
				continue
			}
		}
		out = append(out, s[i])
	}
	return out
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// convertCharset converts raw bytes from the declared charset to UTF-8,
// falling back to the bytes as-is when the charset is unknown or the
// conversion fails.
func convertCharset(cs string, raw []byte) string {
	switch strings.ToLower(cs) {
	case "", "us-ascii", "utf-8", "utf8":
		return string(raw)
	}
	r, err := charset.Reader(strings.ToLower(cs), bytes.NewReader(raw))
	if err != nil {
		return string(raw)
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}
