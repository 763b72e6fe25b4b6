// Package ruleengine compiles and evaluates attachment matching rules.
//
// A rule definition is a whitespace-separated sequence of clauses, each
// comparing one attachment attribute against a literal or a pattern:
//
//	name =~ /\.s?html?$/i type != "text/html"
//	ext == exe
//	disposition == attachment encoding =~ m{base64}
//
// Attribute keys are name, ext, type, disposition, encoding and charset.
// Operators are == and != for exact string comparison and =~ and !~ for
// pattern search. Pattern values may be written /re/mods or with an m-prefixed
// custom delimiter (m{re}, m!re!, ...); literal values may be quoted or bare.
// Clauses are implicitly ANDed.
//
// Rules are compiled once, at configuration-load time; patterns are compiled
// into the rule and never recompiled per message. A compiled Rule is
// immutable and safe for concurrent use by any number of message scans.
//
// A rule matches a message when at least one of its attachment records
// satisfies every clause. Clauses are checked in declaration order and
// evaluation short-circuits on the first failing clause.
//
// Text between or after clauses that does not form a clause is ignored for
// compatibility with the lenient legacy rule parser; a warning is the
// caller's business, not a compile error.
package ruleengine
