package mimeheader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContentType(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantType   string
		wantParams map[string]string
		wantErr    bool
	}{
		{
			name:       "plain media type",
			raw:        "text/plain",
			wantType:   "text/plain",
			wantParams: map[string]string{},
		},
		{
			name:       "media type is lower-cased",
			raw:        "Application/PDF; Name=\"report.pdf\"",
			wantType:   "application/pdf",
			wantParams: map[string]string{"name": "report.pdf"},
		},
		{
			name:       "charset parameter",
			raw:        "text/html; charset=utf-8",
			wantType:   "text/html",
			wantParams: map[string]string{"charset": "utf-8"},
		},
		{
			name:       "semicolon inside quoted value",
			raw:        `application/zip; name="a;b.zip"`,
			wantType:   "application/zip",
			wantParams: map[string]string{"name": "a;b.zip"},
		},
		{
			name:       "backslash escapes inside quoted value",
			raw:        `application/pdf; name="a \"b\".pdf"`,
			wantType:   "application/pdf",
			wantParams: map[string]string{"name": `a "b".pdf`},
		},
		{
			name:       "malformed parameter is skipped",
			raw:        "text/plain; garbage; charset=utf-8",
			wantType:   "text/plain",
			wantParams: map[string]string{"charset": "utf-8"},
		},
		{
			name:       "suffixed subtype",
			raw:        "application/vnd.ms-excel",
			wantType:   "application/vnd.ms-excel",
			wantParams: map[string]string{},
		},
		{
			name:    "missing subtype",
			raw:     "text",
			wantErr: true,
		},
		{
			name:    "space in media type",
			raw:     "text/ html; charset=utf-8",
			wantErr: true,
		},
		{
			name:    "empty value",
			raw:     "",
			wantErr: true,
		},
		{
			name:    "only parameters",
			raw:     "; charset=utf-8",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, params, err := ParseContentType(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				var perr *ParseError
				require.ErrorAs(t, err, &perr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, typ)
			for k, v := range tt.wantParams {
				assert.Equal(t, v, params[k], "parameter %q", k)
			}
		})
	}
}

func TestParseContentDisposition(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantDisp string
		wantFile string
		wantErr  bool
	}{
		{
			name:     "attachment with filename",
			raw:      `attachment; filename="invoice.pdf"`,
			wantDisp: "attachment",
			wantFile: "invoice.pdf",
		},
		{
			name:     "disposition token is lower-cased",
			raw:      "ATTACHMENT; FILENAME=readme.txt",
			wantDisp: "attachment",
			wantFile: "readme.txt",
		},
		{
			name:     "inline without filename",
			raw:      "inline",
			wantDisp: "inline",
		},
		{
			name:    "space in disposition token",
			raw:     "atta chment; filename=x",
			wantErr: true,
		},
		{
			name:    "empty primary token",
			raw:     "; filename=x",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			disp, params, err := ParseContentDisposition(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDisp, disp)
			assert.Equal(t, tt.wantFile, params["filename"])
		})
	}
}

func TestRFC2231Continuations(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantFile string
	}{
		{
			name:     "encoded continuation",
			raw:      "attachment; filename*0*=UTF-8''Pr%C3%A4se; filename*1*=ntation.pdf",
			wantFile: "Präsentation.pdf",
		},
		{
			name:     "mixed encoded and plain fragments",
			raw:      `attachment; filename*0*=utf-8''report%20; filename*1="2024.pdf"`,
			wantFile: "report 2024.pdf",
		},
		{
			name:     "fragments out of order",
			raw:      "attachment; filename*1*=ntation.pdf; filename*0*=UTF-8''Pr%C3%A4se",
			wantFile: "Präsentation.pdf",
		},
		{
			name:     "single extended value",
			raw:      "attachment; filename*=utf-8''foo%20bar.txt",
			wantFile: "foo bar.txt",
		},
		{
			name:     "latin-1 extended value",
			raw:      "attachment; filename*=iso-8859-1''f%E4cher.txt",
			wantFile: "fächer.txt",
		},
		{
			name:     "missing charset marker tolerated",
			raw:      "attachment; filename*0*=plain%20name; filename*1*=.txt",
			wantFile: "plain name.txt",
		},
		{
			name:     "invalid percent escape kept literal",
			raw:      "attachment; filename*=utf-8''100%25%2G.txt",
			wantFile: "100%%2G.txt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			disp, params, err := ParseContentDisposition(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, "attachment", disp)
			assert.Equal(t, tt.wantFile, params["filename"])
		})
	}
}

// A filename split across continuation parameters must decode to the same
// string as the equivalent single quoted parameter.
func TestRFC2231RoundTrip(t *testing.T) {
	_, continued, err := ParseContentDisposition(
		"attachment; filename*0*=UTF-8''Pr%C3%A4se; filename*1*=ntation.pdf")
	require.NoError(t, err)

	_, plain, err := ParseContentDisposition(`attachment; filename="Präsentation.pdf"`)
	require.NoError(t, err)

	assert.Equal(t, plain["filename"], continued["filename"])
}

func TestParseGeneric(t *testing.T) {
	token, params, err := Parse("Multipart/Mixed; boundary=xyz")
	require.NoError(t, err)
	// Parse keeps the token case; the typed wrappers canonicalize.
	assert.Equal(t, "Multipart/Mixed", token)
	assert.Equal(t, "xyz", params["boundary"])
}
