package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailva/attachsieve/engine"
)

const testAPIKey = "test-key"

func newTestServer(t *testing.T, options ServerOptions) *Server {
	t.Helper()

	eng := engine.New()
	require.NoError(t, eng.AddRule("EXE_NAME", `ext == "exe"`))
	require.NoError(t, eng.AddRule("HTML_DISGUISE", `ext =~ /^s?html?$/ type != "text/html"`))

	if options.APIKey == "" {
		options.APIKey = testAPIKey
	}
	srv, err := New(eng, options)
	require.NoError(t, err)
	return srv
}

func doRequest(srv *Server, method, path, apiKey, body string) *httptest.ResponseRecorder {
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	rec := httptest.NewRecorder()
	srv.setupRoutes().ServeHTTP(rec, req)
	return rec
}

func TestNewValidation(t *testing.T) {
	eng := engine.New()

	_, err := New(eng, ServerOptions{})
	require.Error(t, err, "API key is mandatory")

	_, err = New(eng, ServerOptions{APIKey: "k", TLS: true})
	require.Error(t, err, "TLS needs cert and key files")

	srv, err := New(eng, ServerOptions{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, int64(50<<20), srv.maxBodySize, "body limit defaults")
}

func TestHealthEndpointUnauthenticated(t *testing.T) {
	srv := newTestServer(t, ServerOptions{})

	rec := doRequest(srv, "GET", "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, float64(2), resp["rules"])
}

func TestMetricsEndpointUnauthenticated(t *testing.T) {
	srv := newTestServer(t, ServerOptions{})
	rec := doRequest(srv, "GET", "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "attachsieve_")
}

func TestAuth(t *testing.T) {
	srv := newTestServer(t, ServerOptions{})

	t.Run("missing header", func(t *testing.T) {
		rec := doRequest(srv, "GET", "/api/v1/rules", "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/rules", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		rec := httptest.NewRecorder()
		srv.setupRoutes().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong key", func(t *testing.T) {
		rec := doRequest(srv, "GET", "/api/v1/rules", "wrong", "")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("valid key", func(t *testing.T) {
		rec := doRequest(srv, "GET", "/api/v1/rules", testAPIKey, "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestAllowedHosts(t *testing.T) {
	srv := newTestServer(t, ServerOptions{
		AllowedHosts: []string{"10.1.2.3", "192.168.0.0/16"},
	})

	tests := []struct {
		ip   string
		want int
	}{
		{"10.1.2.3", http.StatusOK},
		{"192.168.44.7", http.StatusOK},
		{"203.0.113.9", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/healthz", nil)
			req.Header.Set("X-Forwarded-For", tt.ip)
			rec := httptest.NewRecorder()
			srv.setupRoutes().ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestHandleScan(t *testing.T) {
	srv := newTestServer(t, ServerOptions{})

	msg := strings.ReplaceAll(`From: a@example.com
Content-Type: multipart/mixed; boundary=b

--b
Content-Type: text/plain

hi
--b
Content-Type: application/octet-stream; name="page.html"
Content-Disposition: attachment; filename="page.html"

<html>
--b--
`, "\n", "\r\n")

	rec := doRequest(srv, "POST", "/api/v1/scan", testAPIKey, msg)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ScanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"HTML_DISGUISE"}, resp.Matches)
	require.Len(t, resp.Attachments, 1)
	assert.Equal(t, "page.html", resp.Attachments[0].Name)
	assert.Equal(t, "text/html", resp.Attachments[0].EffectiveType)
	assert.Equal(t, "1", resp.Tags["attachment_count"])
	assert.False(t, resp.MIMEError)
}

func TestHandleScanNoMatches(t *testing.T) {
	srv := newTestServer(t, ServerOptions{})

	msg := "From: a@example.com\r\nContent-Type: text/plain\r\n\r\nplain body\r\n"
	rec := doRequest(srv, "POST", "/api/v1/scan", testAPIKey, msg)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ScanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotNil(t, resp.Matches)
	assert.Empty(t, resp.Matches)
	assert.Empty(t, resp.Attachments)
}

func TestListAndGetRules(t *testing.T) {
	srv := newTestServer(t, ServerOptions{})

	rec := doRequest(srv, "GET", "/api/v1/rules", testAPIKey, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Rules []RuleInfo `json:"rules"`
		Count int        `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)
	require.Len(t, list.Rules, 2)
	assert.Equal(t, "EXE_NAME", list.Rules[0].Name)
	assert.Equal(t, []string{`ext == exe`}, list.Rules[0].Clauses)

	rec = doRequest(srv, "GET", "/api/v1/rules/HTML_DISGUISE", testAPIKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info RuleInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "HTML_DISGUISE", info.Name)
	assert.Len(t, info.Clauses, 2)

	rec = doRequest(srv, "GET", "/api/v1/rules/NOPE", testAPIKey, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScanMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, ServerOptions{})
	rec := doRequest(srv, "GET", "/api/v1/scan", testAPIKey, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
