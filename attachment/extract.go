package attachment

import (
	"regexp"
	"strings"

	"github.com/mailva/attachsieve/mimeheader"
)

const dispositionAttachment = "attachment"

var (
	extRe = regexp.MustCompile(`\.(\w+)$`)

	// HTML-family suffixes that force EffectiveType to text/html, catching
	// HTML attachments disguised under another declared media type.
	htmlNameRe = regexp.MustCompile(`(?i)\.s?html?$`)
)

var knownEncodings = map[string]struct{}{
	"7bit":             {},
	"8bit":             {},
	"binary":           {},
	"quoted-printable": {},
	"base64":           {},
	"uuencode":         {},
}

// Result is the per-message extraction context: the ordered record sequence
// plus the aggregate tags. It is owned by the caller for the lifetime of one
// message and never mutated after Extract returns.
type Result struct {
	Records   []Record
	Aggregate Aggregate
}

// Extract builds the attachment records for one message from its MIME parts
// in document order. A part qualifies if it has a derived filename or an
// explicit attachment disposition; everything else is skipped entirely.
// Extraction never fails: broken headers degrade to empty fields plus an
// error count on the owning record.
func Extract(parts []Part) *Result {
	res := &Result{}
	seenTypes := make(map[string]struct{})
	seenExts := make(map[string]struct{})

	for _, p := range parts {
		rec, ok := extractPart(p)
		if !ok {
			continue
		}
		res.Records = append(res.Records, rec)
		res.Aggregate.Count++
		if rec.Type != "" {
			if _, dup := seenTypes[rec.Type]; !dup {
				seenTypes[rec.Type] = struct{}{}
				res.Aggregate.Types = append(res.Aggregate.Types, rec.Type)
			}
		}
		if rec.Ext != "" {
			if _, dup := seenExts[rec.Ext]; !dup {
				seenExts[rec.Ext] = struct{}{}
				res.Aggregate.Exts = append(res.Aggregate.Exts, rec.Ext)
			}
		}
	}
	return res
}

// extractPart derives the record for a single part. The Content-Disposition
// and Content-Type headers are parsed independently: one failing still lets
// the other contribute its fields.
func extractPart(p Part) (Record, bool) {
	var rec Record
	var ctName string

	if raw := p.Header("Content-Disposition"); raw != "" {
		disp, params, err := mimeheader.ParseContentDisposition(raw)
		if err != nil {
			rec.MIMEErrors++
		} else {
			rec.Disposition = disp
			rec.Name = params["filename"]
		}
	}

	if raw := p.Header("Content-Type"); raw != "" {
		typ, params, err := mimeheader.ParseContentType(raw)
		if err != nil {
			rec.MIMEErrors++
		} else {
			rec.Type = typ
			rec.Charset = params["charset"]
			ctName = params["name"]
		}
	}

	// Content-Disposition filename wins over the Content-Type name parameter.
	if rec.Name == "" {
		rec.Name = ctName
	}

	if rec.Name == "" && rec.Disposition != dispositionAttachment {
		return Record{}, false
	}

	if raw := p.Header("Content-Transfer-Encoding"); raw != "" {
		enc := strings.TrimRight(raw, "\r\n")
		rec.Encoding = enc
		if enc != "" && !recognizedEncoding(enc) {
			rec.MIMEErrors++
		}
	}

	if m := extRe.FindStringSubmatch(rec.Name); m != nil {
		rec.Ext = strings.ToLower(m[1])
	}

	rec.EffectiveType = rec.Type
	if htmlNameRe.MatchString(rec.Name) {
		rec.EffectiveType = "text/html"
	}
	return rec, true
}

func recognizedEncoding(enc string) bool {
	enc = strings.ToLower(enc)
	if strings.HasPrefix(enc, "x-") {
		return true
	}
	_, ok := knownEncodings[enc]
	return ok
}
