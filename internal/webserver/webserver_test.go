package webserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/y0ug/contentscan/internal/contentscan"
	"github.com/y0ug/contentscan/internal/metrics"
	"github.com/y0ug/contentscan/internal/models"
)

const testSecret = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

type mockGenerator struct {
	verdict models.ScanVerdict
	err     error
	got     models.AttachmentDescriptor
}

func (m *mockGenerator) Generate(ctx context.Context, desc models.AttachmentDescriptor) (models.ScanVerdict, error) {
	m.got = desc
	return m.verdict, m.err
}

type mockRetriever struct {
	reports map[models.Fingerprint]models.Report
	err     error
}

func (m *mockRetriever) Retrieve(ctx context.Context, secret models.Fingerprint) (models.Report, error) {
	if m.err != nil {
		return models.Report{}, m.err
	}
	if report, ok := m.reports[secret]; ok {
		return report, nil
	}
	return models.Report{Info: "No scan report found for this secret"}, nil
}

func newTestServer(gen *mockGenerator, ret *mockRetriever) (*WebServer, *bytes.Buffer) {
	logs := &bytes.Buffer{}
	logger := logrus.New()
	logger.SetOutput(logs)
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(&logrus.JSONFormatter{})
	return NewWebServer(gen, ret, metrics.New(), &WebserverConfig{ListenTo: ":0"}, logger), logs
}

func doRequest(t *testing.T, ws *WebServer, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rr, req)
	return rr
}

func TestScanEncrypted(t *testing.T) {
	gen := &mockGenerator{verdict: models.ScanVerdict{Clean: true, Info: "File is clean", Fingerprint: testSecret}}
	ws, logs := newTestServer(gen, &mockRetriever{})

	body := `{"file":{"url":"mxc://example.org/abc","mimetype":"image/png","key":{"alg":"A256CTR","k":"x","key_ops":["decrypt"],"kty":"oct","ext":true},"iv":"aaa","hashes":{"sha256":"bbb"},"v":"v2"}}`
	rr := doRequest(t, ws, http.MethodPost, PathPrefix+"/scan_encrypted", body)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp models.ScanResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, models.ScanResponse{Clean: true, Info: "File is clean", Secret: testSecret}, resp)

	assert.Equal(t, "mxc://example.org/abc", gen.got.URL)
	require.NotNil(t, gen.got.Key)
	assert.Equal(t, "A256CTR", gen.got.Key.Alg)
	assert.NotEmpty(t, rr.Header().Get(requestIDHeader))
	assert.NotContains(t, logs.String(), testSecret)
}

func TestScanPlain(t *testing.T) {
	gen := &mockGenerator{verdict: models.ScanVerdict{Clean: false, Info: "infected", Fingerprint: testSecret}}
	ws, _ := newTestServer(gen, &mockRetriever{})

	rr := doRequest(t, ws, http.MethodGet, PathPrefix+"/scan/example.org:8448/AbC_d-e", "")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "mxc://example.org:8448/AbC_d-e", gen.got.URL)
	assert.Nil(t, gen.got.Key)

	var resp models.ScanResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.False(t, resp.Clean)
}

func TestScanEncryptedMalformedJSON(t *testing.T) {
	ws, _ := newTestServer(&mockGenerator{}, &mockRetriever{})

	rr := doRequest(t, ws, http.MethodPost, PathPrefix+"/scan_encrypted", `{"file":`)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, ReasonMalformedJSON, resp.Reason)
}

func TestScanErrorMapping(t *testing.T) {
	tests := []struct {
		kind         contentscan.Kind
		expectStatus int
		expectReason string
	}{
		{contentscan.KindInvalidDescriptor, http.StatusBadRequest, ReasonMalformedDescriptor},
		{contentscan.KindDecrypt, http.StatusBadRequest, ReasonFailedToDecrypt},
		{contentscan.KindUpstreamFetch, http.StatusBadGateway, ReasonRequestFailed},
		{contentscan.KindUpstreamTimeout, http.StatusGatewayTimeout, ReasonRequestTimeout},
		{contentscan.KindScanInvocation, http.StatusInternalServerError, ReasonScanFailed},
		{contentscan.KindConfiguration, http.StatusInternalServerError, ReasonBadConfiguration},
		{contentscan.KindCache, http.StatusInternalServerError, ReasonCacheFailed},
		{contentscan.KindUnknown, http.StatusInternalServerError, ReasonUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			gen := &mockGenerator{err: &contentscan.Error{Kind: tt.kind, Op: "test", Err: errors.New("boom")}}
			ws, _ := newTestServer(gen, &mockRetriever{})

			rr := doRequest(t, ws, http.MethodGet, PathPrefix+"/scan/example.org/abc", "")

			assert.Equal(t, tt.expectStatus, rr.Code)
			var resp models.ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.expectReason, resp.Reason)
			assert.NotEmpty(t, resp.Info)
		})
	}
}

func TestScanReport(t *testing.T) {
	ret := &mockRetriever{reports: map[models.Fingerprint]models.Report{
		testSecret: {Clean: true, Scanned: true, Info: "File is clean"},
	}}
	ws, logs := newTestServer(&mockGenerator{}, ret)

	rr := doRequest(t, ws, http.MethodPost, PathPrefix+"/scan_report", `{"secret":"`+testSecret+`"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var report models.Report
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.Equal(t, models.Report{Clean: true, Scanned: true, Info: "File is clean"}, report)

	rr = doRequest(t, ws, http.MethodPost, PathPrefix+"/scan_report", `{"secret":"unknown"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.False(t, report.Scanned)
	assert.False(t, report.Clean)

	rr = doRequest(t, ws, http.MethodPost, PathPrefix+"/scan_report", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	assert.NotContains(t, logs.String(), testSecret)
}

func TestScanReportCacheFailure(t *testing.T) {
	ret := &mockRetriever{err: &contentscan.Error{Kind: contentscan.KindCache, Op: "cache.get", Err: errors.New("redis down")}}
	ws, _ := newTestServer(&mockGenerator{}, ret)

	rr := doRequest(t, ws, http.MethodPost, PathPrefix+"/scan_report", `{"secret":"`+testSecret+`"}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	ws, _ := newTestServer(&mockGenerator{}, &mockRetriever{})

	rr := doRequest(t, ws, http.MethodGet, PathPrefix+"/scan_encrypted", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHealthzAndMetrics(t *testing.T) {
	ws, _ := newTestServer(&mockGenerator{}, &mockRetriever{})

	rr := doRequest(t, ws, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	ws.Metrics.Coalesced()
	rr = doRequest(t, ws, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "contentscan_coalesced_requests_total 1")
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", getClientIP(req))
}

func TestNewWebserverConfig(t *testing.T) {
	t.Setenv("LISTEN_ADDR", "")
	t.Setenv("PORT", "9000")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := NewWebserverConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenTo)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CorsAllowedOrigins)
}

func TestScanCallerContextErrors(t *testing.T) {
	tests := []struct {
		err          error
		expectStatus int
		expectReason string
	}{
		{context.Canceled, statusClientClosedRequest, ReasonRequestCancelled},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, ReasonRequestTimeout},
	}

	for _, tt := range tests {
		ws, _ := newTestServer(&mockGenerator{err: tt.err}, &mockRetriever{})

		rr := doRequest(t, ws, http.MethodGet, PathPrefix+"/scan/example.org/abc", "")

		assert.Equal(t, tt.expectStatus, rr.Code)
		var resp models.ErrorResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, tt.expectReason, resp.Reason)
	}
}

func TestNewWebserverConfigListenAddr(t *testing.T) {
	t.Setenv("LISTEN_ADDR", "127.0.0.1:9100")
	t.Setenv("PORT", "9000")
	t.Setenv("CORS_ALLOWED_ORIGINS", "*")

	cfg, err := NewWebserverConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9100", cfg.ListenTo)
	assert.Equal(t, []string{"*"}, cfg.CorsAllowedOrigins)
}

func TestNewWebserverConfigInvalid(t *testing.T) {
	tests := []struct {
		listenAddr string
		port       string
		origins    string
	}{
		{"localhost", "", ""},
		{"", "http", ""},
		{"", "70000", ""},
		{"", "", "example.org"},
		{"", "", "ftp://example.org"},
		{"", "", "https://example.org/app"},
	}

	for _, tt := range tests {
		t.Setenv("LISTEN_ADDR", tt.listenAddr)
		t.Setenv("PORT", tt.port)
		t.Setenv("CORS_ALLOWED_ORIGINS", tt.origins)

		_, err := NewWebserverConfig()
		assert.Error(t, err, "%+v", tt)
	}
}
