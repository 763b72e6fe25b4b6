// Package engine wires attachment extraction and rule evaluation into a
// per-message scan. An Engine is loaded once from a rule definition file and
// is then safe for concurrent use: compiled rules are immutable, and every
// scan owns its own extraction context.
package engine

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message"

	"github.com/mailva/attachsieve/attachment"
	"github.com/mailva/attachsieve/logger"
	"github.com/mailva/attachsieve/pkg/metrics"
	"github.com/mailva/attachsieve/ruleengine"
)

// ruleDirective introduces an attachment rule line in the configuration.
// Other directives belong to the host configuration and are skipped.
const ruleDirective = "attachment"

// Engine holds the compiled rule set. Rules keep their declaration order.
type Engine struct {
	rules  []*ruleengine.Rule
	byName map[string]*ruleengine.Rule
}

// New returns an empty engine.
func New() *Engine {
	return &Engine{byName: make(map[string]*ruleengine.Rule)}
}

// AddRule compiles a definition and registers it under the given name.
// Rule names are unique per engine.
func (e *Engine) AddRule(name, definition string) error {
	if _, exists := e.byName[name]; exists {
		return fmt.Errorf("rule %q already defined", name)
	}
	rule, err := ruleengine.Compile(name, definition)
	if err != nil {
		return err
	}
	if leftover := ruleengine.Unconsumed(definition); leftover != "" {
		logger.Warn("Attachment rule has unrecognized trailing text", "rule", name, "text", leftover)
	}
	e.rules = append(e.rules, rule)
	e.byName[name] = rule
	metrics.RulesLoaded.Set(float64(len(e.rules)))
	return nil
}

// LoadRules reads rule definitions, one per line:
//
//	attachment <NAME> <key> <op> <value> [...]
//
// Blank lines, #-comments and lines with other directives are skipped. A rule
// that fails to compile is logged and dropped; the remaining rules still
// load. Only a read failure is returned as an error.
func (e *Engine) LoadRules(r io.Reader) error {
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if fields[0] != ruleDirective {
			continue
		}
		if len(fields) < 2 {
			logger.Warn("Attachment rule line has no name", "line", lineNo)
			continue
		}
		name := fields[1]
		rest := strings.TrimSpace(strings.TrimPrefix(line, ruleDirective))
		definition := strings.TrimSpace(strings.TrimPrefix(rest, name))
		if err := e.AddRule(name, definition); err != nil {
			logger.Error("Failed to load attachment rule", "rule", name, "line", lineNo, "error", err)
			continue
		}
	}
	return sc.Err()
}

// LoadRulesFile loads rule definitions from a file.
func (e *Engine) LoadRulesFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open rules file: %w", err)
	}
	defer f.Close()
	if err := e.LoadRules(f); err != nil {
		return fmt.Errorf("failed to read rules file %s: %w", path, err)
	}
	return nil
}

// Rules returns the compiled rules in declaration order.
func (e *Engine) Rules() []*ruleengine.Rule {
	out := make([]*ruleengine.Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Result is the outcome of scanning one message: the extracted records and
// aggregates plus the names of the rules that matched, in rule declaration
// order. It is read-only after Scan returns.
type Result struct {
	Records   []attachment.Record
	Aggregate attachment.Aggregate
	Matches   []string
}

// Matched reports whether the named rule hit.
func (r *Result) Matched(name string) bool {
	for _, m := range r.Matches {
		if m == name {
			return true
		}
	}
	return false
}

// CountInRange reports whether the attachment count falls within the
// inclusive [min, max] range.
func (r *Result) CountInRange(min, max int) bool {
	return attachment.CountInRange(r.Records, min, max)
}

// HasMIMEError reports whether any attachment record saw a header parse
// failure.
func (r *Result) HasMIMEError() bool {
	return attachment.HasMIMEErrors(r.Records)
}

// Tags returns the message-level tags for the host reporting framework.
func (r *Result) Tags() map[string]string {
	return map[string]string{
		"attachment_count": strconv.Itoa(r.Aggregate.Count),
		"attachment_types": r.Aggregate.TypesTag(),
		"attachment_exts":  r.Aggregate.ExtsTag(),
	}
}

// Scan extracts the attachment records of a parsed message and evaluates
// every loaded rule against them.
func (e *Engine) Scan(ent *message.Entity) *Result {
	start := time.Now()

	extracted := attachment.Extract(attachment.Parts(ent))
	res := &Result{
		Records:   extracted.Records,
		Aggregate: extracted.Aggregate,
	}

	for _, rule := range e.rules {
		if rule.Match(res.Records) {
			res.Matches = append(res.Matches, rule.Name)
			metrics.RuleHits.WithLabelValues(rule.Name).Inc()
		}
	}

	metrics.MessagesScanned.Inc()
	metrics.AttachmentsSeen.Add(float64(res.Aggregate.Count))
	parseErrors := 0
	for i := range res.Records {
		parseErrors += res.Records[i].MIMEErrors
	}
	if parseErrors > 0 {
		metrics.HeaderParseErrors.Add(float64(parseErrors))
	}
	metrics.ScanDuration.Observe(time.Since(start).Seconds())

	logger.Debug("Scanned message",
		"attachments", res.Aggregate.Count,
		"matches", len(res.Matches),
		"mime_errors", parseErrors,
	)
	return res
}

// ScanMessage reads a raw message and scans it. Unknown charsets inside the
// message are tolerated; only an unreadable message structure is an error.
func (e *Engine) ScanMessage(r io.Reader) (*Result, error) {
	ent, err := message.Read(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	return e.Scan(ent), nil
}
