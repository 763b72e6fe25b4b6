package ruleengine

import "github.com/mailva/attachsieve/attachment"

// Match reports whether any single attachment record satisfies every clause
// of the rule. Records are tried in extraction order; within a record,
// clauses are checked in declaration order and the first failing clause moves
// evaluation on to the next record.
func (r *Rule) Match(records []attachment.Record) bool {
	for i := range records {
		if r.matchRecord(&records[i]) {
			return true
		}
	}
	return false
}

func (r *Rule) matchRecord(rec *attachment.Record) bool {
	for i := range r.Clauses {
		if !r.Clauses[i].eval(rec) {
			return false
		}
	}
	return true
}

func (c *Clause) eval(rec *attachment.Record) bool {
	var v string
	switch c.Target {
	case TargetName:
		v = rec.Name
	case TargetExt:
		v = rec.Ext
	case TargetType:
		v = rec.Type
	case TargetDisposition:
		v = rec.Disposition
	case TargetEncoding:
		v = rec.Encoding
	case TargetCharset:
		v = rec.Charset
	}

	switch c.Op {
	case OpEq:
		return v == c.Literal
	case OpNe:
		return v != c.Literal
	case OpMatch:
		return c.Pattern.MatchString(v)
	case OpNotMatch:
		return !c.Pattern.MatchString(v)
	}
	return false
}
