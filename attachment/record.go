// Package attachment walks the MIME parts of a message and derives one
// canonical attribute record per attachment, together with per-message
// aggregates. Extraction is best-effort: a header that fails to parse leaves
// its fields empty and bumps the record's MIMEErrors counter instead of
// failing the message.
package attachment

import "strings"

// Record holds the canonical attributes of one qualifying MIME part. Absent
// values are empty strings, so rule matching always sees a concrete string.
type Record struct {
	// Name is the suggested filename, from the Content-Disposition filename
	// parameter with the Content-Type name parameter as fallback.
	Name string

	// Ext is the lower-cased suffix after the last '.' in Name.
	Ext string

	// Type is the declared "type/subtype" media type, lower-cased.
	Type string

	// EffectiveType equals Type, except it is forced to "text/html" when
	// Name carries an HTML-family suffix. Disguised HTML attachments keep
	// their declared Type but are treated as HTML for policy decisions.
	EffectiveType string

	// Charset is the charset parameter of Content-Type.
	Charset string

	// Disposition is the lower-cased disposition token ("attachment",
	// "inline", ...).
	Disposition string

	// Encoding is the Content-Transfer-Encoding value, case preserved.
	Encoding string

	// MIMEErrors counts header-parsing failures hit while building this
	// record: one each for an unparsable Content-Disposition, an unparsable
	// Content-Type, and an unrecognized Content-Transfer-Encoding.
	MIMEErrors int
}

// Aggregate holds the per-message derived tags. Distinct values keep
// insertion order, matching the part traversal order of the message.
type Aggregate struct {
	Count int
	Types []string
	Exts  []string
}

// TypesTag returns the distinct media types as a comma-joined list.
func (a *Aggregate) TypesTag() string {
	return strings.Join(a.Types, ",")
}

// ExtsTag returns the distinct extensions as a comma-joined list.
func (a *Aggregate) ExtsTag() string {
	return strings.Join(a.Exts, ",")
}

// CountInRange reports whether the number of extracted records falls within
// the inclusive [min, max] range.
func CountInRange(records []Record, min, max int) bool {
	return len(records) >= min && len(records) <= max
}

// HasMIMEErrors reports whether any record saw a header-parsing failure.
func HasMIMEErrors(records []Record) bool {
	for i := range records {
		if records[i].MIMEErrors > 0 {
			return true
		}
	}
	return false
}
