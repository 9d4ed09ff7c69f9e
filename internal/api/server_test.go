package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hearbird/hearbird/internal/analyzer"
	mw "github.com/hearbird/hearbird/internal/api/middleware"
	"github.com/hearbird/hearbird/internal/errors"
	"github.com/hearbird/hearbird/internal/logger"
	"github.com/hearbird/hearbird/internal/observability"
	"github.com/hearbird/hearbird/internal/pipeline"
	"github.com/hearbird/hearbird/internal/results"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// rate limiter buckets live in go-cache, whose janitor stops on finalization
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

const testKey = "test-key-123"

// received is what the fake analyzer saw for one request
type received struct {
	filename    string
	contentType string
	size        int64
	content     []byte
	location    *analyzer.Location
}

type fakeAnalyzer struct {
	mu       sync.Mutex
	requests []received
	result   *pipeline.Result
	err      error
	panicMsg string
}

func (f *fakeAnalyzer) Analyze(_ context.Context, req pipeline.Request) (*pipeline.Result, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	data, err := io.ReadAll(req.Upload.Content)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.requests = append(f.requests, received{
		filename:    req.Upload.Filename,
		contentType: req.Upload.ContentType,
		size:        req.Upload.Size,
		content:     data,
		location:    req.Location,
	})
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &pipeline.Result{}, nil
}

func (f *fakeAnalyzer) last(t *testing.T) received {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func newTestServer(t *testing.T, a Analyzer, mutate func(*Config), opts ...ServerOption) *Server {
	t.Helper()

	cfg := DefaultConfig()
	cfg.APIKeys = []string{testKey}
	if mutate != nil {
		mutate(cfg)
	}
	opts = append([]ServerOption{WithLogger(logger.NewDiscardLogger())}, opts...)
	s, err := New(cfg, a, opts...)
	require.NoError(t, err)
	return s
}

// multipartUpload builds an /analyze body with an explicit part content type
func multipartUpload(t *testing.T, filename, contentType string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, FormFile, filename))
		h.Set("Content-Type", contentType)
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &body, w.FormDataContentType()
}

func analyzeRequest(t *testing.T, apiKey string, fields map[string]string) *http.Request {
	t.Helper()

	body, contentType := multipartUpload(t, "clip.mp3", "audio/mpeg", []byte{0xFF, 0xFB, 0x90, 0x64}, fields)
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	if apiKey != "" {
		req.Header.Set(mw.HeaderAPIKey, apiKey)
	}
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	assert.Equal(t, rec.Code, resp.Code)
	assert.Equal(t, resp.Message, resp.Detail)
	assert.Len(t, resp.CorrelationID, 8)
	assert.Equal(t, resp.CorrelationID, rec.Header().Get(HeaderCorrelationID))
	return resp
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAnalyzer{}, nil)
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","version":"1.0.0"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestAnalyzeSuccess(t *testing.T) {
	t.Parallel()

	fake := &fakeAnalyzer{result: &pipeline.Result{
		Records: []results.Record{{
			{Key: "start", Value: "0.0"},
			{Key: "commonName", Value: "Eurasian Blackbird"},
			{Key: "confidence", Value: "0.8123"},
		}},
		AnalyzerDuration: 1500 * time.Millisecond,
		Duration:         1600 * time.Millisecond,
	}}
	s := newTestServer(t, fake, nil)

	rec := serve(s, analyzeRequest(t, testKey, map[string]string{"lat": "60.17", "lon": "24.94"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t,
		`{"msg":"success","results":[{"start":"0.0","commonName":"Eurasian Blackbird","confidence":"0.8123"}]}`,
		strings.TrimSpace(rec.Body.String()))
	assert.Equal(t, "analyzer;dur=1500, total;dur=1600", rec.Header().Get("Server-Timing"))

	got := fake.last(t)
	assert.Equal(t, "clip.mp3", got.filename)
	assert.Equal(t, "audio/mpeg", got.contentType)
	assert.Equal(t, int64(4), got.size)
	assert.Equal(t, []byte{0xFF, 0xFB, 0x90, 0x64}, got.content)
	require.NotNil(t, got.location)
	assert.InDelta(t, 60.17, got.location.Latitude, 1e-9)
	assert.InDelta(t, 24.94, got.location.Longitude, 1e-9)
}

func TestAnalyzeEmptyResultsIsArray(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAnalyzer{}, nil)
	rec := serve(s, analyzeRequest(t, testKey, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"msg":"success","results":[]}`, rec.Body.String())
}

func TestAnalyzeAPIKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		keys    []string
		header  string
		code    int
		message string
	}{
		{"missing header", []string{testKey}, "", http.StatusUnauthorized, mw.MsgAPIKeyRequired},
		{"unknown key", []string{testKey}, "wrong", http.StatusForbidden, mw.MsgAPIKeyInvalid},
		{"valid key", []string{"other", testKey}, testKey, http.StatusOK, ""},
		{"open mode still needs header", nil, "", http.StatusUnauthorized, mw.MsgAPIKeyRequired},
		{"open mode accepts any key", nil, "anything", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fake := &fakeAnalyzer{}
			s := newTestServer(t, fake, func(c *Config) { c.APIKeys = tt.keys })
			rec := serve(s, analyzeRequest(t, tt.header, nil))

			require.Equal(t, tt.code, rec.Code, rec.Body.String())
			if tt.message == "" {
				return
			}
			assert.Equal(t, tt.message, decodeError(t, rec).Message)
			assert.Empty(t, fake.requests, "analyzer must not run for rejected requests")
		})
	}
}

func TestAnalyzeRateLimit(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAnalyzer{}, func(c *Config) {
		c.RateLimit = mw.RateLimitConfig{Requests: 2, Window: time.Hour}
	})

	send := func(ip string) *httptest.ResponseRecorder {
		req := analyzeRequest(t, testKey, nil)
		req.Header.Set("X-Real-IP", ip)
		return serve(s, req)
	}

	assert.Equal(t, http.StatusOK, send("192.0.2.1").Code)
	assert.Equal(t, http.StatusOK, send("192.0.2.1").Code)

	rec := send("192.0.2.1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, mw.MsgRateLimited, decodeError(t, rec).Message)

	// other clients keep their own budget
	assert.Equal(t, http.StatusOK, send("192.0.2.2").Code)

	// health is never limited
	for range 5 {
		health := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
		health.Header.Set("X-Real-IP", "192.0.2.1")
		assert.Equal(t, http.StatusOK, serve(s, health).Code)
	}
}

func TestAnalyzeRateLimitDisabled(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAnalyzer{}, func(c *Config) {
		c.RateLimitEnabled = false
		c.RateLimit = mw.RateLimitConfig{Requests: 1, Window: time.Hour}
	})
	for range 3 {
		assert.Equal(t, http.StatusOK, serve(s, analyzeRequest(t, testKey, nil)).Code)
	}
}

func TestAnalyzeCoordinates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fields  map[string]string
		code    int
		wantLoc *analyzer.Location
	}{
		{"none", nil, http.StatusOK, nil},
		{"both", map[string]string{"lat": "-33.86", "lon": "151.21"}, http.StatusOK, &analyzer.Location{Latitude: -33.86, Longitude: 151.21}},
		{"bounds inclusive", map[string]string{"lat": "90", "lon": "-180"}, http.StatusOK, &analyzer.Location{Latitude: 90, Longitude: -180}},
		{"latitude only ignored", map[string]string{"lat": "51.5"}, http.StatusOK, nil},
		{"blank values ignored", map[string]string{"lat": " ", "lon": ""}, http.StatusOK, nil},
		{"unparsable latitude", map[string]string{"lat": "north", "lon": "1"}, http.StatusBadRequest, nil},
		{"unparsable lone longitude", map[string]string{"lon": "1,5"}, http.StatusBadRequest, nil},
		{"latitude out of range", map[string]string{"lat": "90.5", "lon": "0"}, http.StatusBadRequest, nil},
		{"longitude out of range", map[string]string{"lat": "0", "lon": "-180.01"}, http.StatusBadRequest, nil},
		{"nan", map[string]string{"lat": "NaN", "lon": "0"}, http.StatusBadRequest, nil},
		{"infinity", map[string]string{"lat": "0", "lon": "+Inf"}, http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fake := &fakeAnalyzer{}
			s := newTestServer(t, fake, nil)
			rec := serve(s, analyzeRequest(t, testKey, tt.fields))
			require.Equal(t, tt.code, rec.Code, rec.Body.String())

			if tt.code != http.StatusOK {
				assert.Contains(t, decodeError(t, rec).Message, "Invalid")
				assert.Empty(t, fake.requests)
				return
			}
			assert.Equal(t, tt.wantLoc, fake.last(t).location)
		})
	}
}

func TestAnalyzeMapsPipelineErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{
			name:    "validation",
			err:     errors.NewValidation("extension", "Unsupported file format: .txt"),
			code:    http.StatusBadRequest,
			message: "Unsupported file format: .txt",
		},
		{
			name:    "analysis timeout",
			err:     errors.NewAnalysis(errors.KindTimeout, "BirdNET analysis timed out", context.DeadlineExceeded),
			code:    http.StatusInternalServerError,
			message: "BirdNET analysis timed out",
		},
		{
			name:    "unexpected error is hidden",
			err:     fmt.Errorf("open /var/secret/path: permission denied"),
			code:    http.StatusInternalServerError,
			message: pipeline.MsgInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := newTestServer(t, &fakeAnalyzer{err: tt.err}, nil)
			rec := serve(s, analyzeRequest(t, testKey, nil))

			require.Equal(t, tt.code, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.message, resp.Message)
			assert.Equal(t, http.StatusText(tt.code), resp.Error)
			assert.NotContains(t, rec.Body.String(), "/var/secret")
		})
	}
}

func TestAnalyzeRequiresFilePart(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAnalyzer{}, nil)

	body, contentType := multipartUpload(t, "", "", nil, map[string]string{"lat": "1", "lon": "2"})
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	req.Header.Set(mw.HeaderAPIKey, testKey)
	rec := serve(s, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	decodeError(t, rec)

	// not multipart at all
	req = httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(`{"file":"x"}`))
	req.Header.Set(echo.HeaderContentType, "application/json")
	req.Header.Set(mw.HeaderAPIKey, testKey)
	assert.Equal(t, http.StatusBadRequest, serve(s, req).Code)
}

func TestBodyLimit(t *testing.T) {
	t.Parallel()

	fake := &fakeAnalyzer{}
	s := newTestServer(t, fake, func(c *Config) { c.BodyLimit = "1KB" })

	body, contentType := multipartUpload(t, "clip.mp3", "audio/mpeg", bytes.Repeat([]byte{0xFF}, 4096), nil)
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	req.Header.Set(mw.HeaderAPIKey, testKey)
	rec := serve(s, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.True(t, strings.HasPrefix(resp.Message, "File too large: "), resp.Message)
	assert.True(t, strings.HasSuffix(resp.Message, "Maximum size: 50.00MiB"), resp.Message)
	assert.Equal(t, resp.Message, resp.Detail)
	assert.Empty(t, fake.requests)
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAnalyzer{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/analyze", http.NoBody)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "X-API-Key")
	rec := serve(s, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), mw.HeaderAPIKey)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)

	req = httptest.NewRequest(http.MethodOptions, "/analyze", http.NoBody)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = serve(s, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownRouteUsesErrorShape(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAnalyzer{}, nil)
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/nope", http.NoBody))

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not Found", decodeError(t, rec).Message)
}

func TestPanicRecovered(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAnalyzer{panicMsg: "boom at /secret"}, nil)
	rec := serve(s, analyzeRequest(t, testKey, nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, pipeline.MsgInternal, decodeError(t, rec).Message)
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	m, err := observability.NewMetrics()
	require.NoError(t, err)
	s := newTestServer(t, &fakeAnalyzer{}, nil, WithMetrics(m))

	require.Equal(t, http.StatusOK, serve(s, analyzeRequest(t, testKey, nil)).Code)
	require.Equal(t, http.StatusUnauthorized, serve(s, analyzeRequest(t, "", nil)).Code)

	rec := serve(s, httptest.NewRequest(http.MethodGet, DefaultMetricsPath, http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `http_requests_total{method="POST",path="/analyze",status_code="200"} 1`)
	assert.Contains(t, body, `http_auth_errors_total{auth_type="api_key",error_type="missing_key"} 1`)
	assert.Contains(t, body, `http_request_errors_total{error_type="auth",method="POST",path="/analyze"} 1`)
}

func TestMetricsEndpointDisabled(t *testing.T) {
	t.Parallel()

	m, err := observability.NewMetrics()
	require.NoError(t, err)
	s := newTestServer(t, &fakeAnalyzer{}, func(c *Config) { c.MetricsEnabled = false }, WithMetrics(m))

	rec := serve(s, httptest.NewRequest(http.MethodGet, DefaultMetricsPath, http.NoBody))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartAndShutdown(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := newTestServer(t, &fakeAnalyzer{}, nil, WithListener(l))
	done := make(chan error, 1)
	go func() { done <- s.Start() }()

	client := &http.Client{Timeout: 5 * time.Second}
	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = client.Get("http://" + l.Addr().String() + "/health")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, resp.Body.Close())
	client.CloseIdleConnections()

	require.NoError(t, s.Shutdown(t.Context()))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := New(DefaultConfig(), nil)
	require.Error(t, err)

	cfg := DefaultConfig()
	cfg.Port = ""
	_, err = New(cfg, &fakeAnalyzer{})
	require.Error(t, err)
}

func TestParseCoordinateRejectsNonFinite(t *testing.T) {
	t.Parallel()

	for _, v := range []string{"NaN", "Inf", "-Inf", fmt.Sprint(math.MaxFloat64)} {
		_, _, err := parseCoordinate(FormLatitude, v, 90)
		assert.Error(t, err, v)
	}
}
