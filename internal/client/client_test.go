package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hearbird/hearbird/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const baseURL = "http://birds.test:8000"

func newMockClient(t *testing.T, apiKey string) (*Client, *httpmock.MockTransport) {
	t.Helper()

	mock := httpmock.NewMockTransport()
	c, err := New(baseURL+"/", apiKey, WithHTTPClient(&http.Client{Transport: mock}))
	require.NoError(t, err)
	return c, mock
}

func TestNewValidatesURL(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "localhost:8000", "ftp://host", "http://", "://bad"} {
		_, err := New(raw, "")
		assert.Error(t, err, raw)
	}

	c, err := New("https://birds.example/base/", "k")
	require.NoError(t, err)
	assert.Equal(t, "https://birds.example/base/analyze", c.baseURL.JoinPath("/analyze").String())
	c.Close()
}

func TestHealth(t *testing.T) {
	t.Parallel()

	c, mock := newMockClient(t, "")
	responder, err := httpmock.NewJsonResponder(http.StatusOK, map[string]string{"status": "healthy", "version": "1.0.0"})
	require.NoError(t, err)
	mock.RegisterResponder(http.MethodGet, baseURL+"/health", responder)

	health, err := c.Health(t.Context())
	require.NoError(t, err)
	assert.Equal(t, &Health{Status: "healthy", Version: "1.0.0"}, health)
	assert.Equal(t, 1, mock.GetTotalCallCount())
}

func TestAnalyzeSendsMultipartUpload(t *testing.T) {
	t.Parallel()

	c, mock := newMockClient(t, "secret")
	mock.RegisterResponder(http.MethodPost, baseURL+"/analyze", func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "secret", req.Header.Get("X-API-Key"))
		assert.Equal(t, defaultUserAgent, req.Header.Get("User-Agent"))
		assert.Positive(t, req.ContentLength)

		require.NoError(t, req.ParseMultipartForm(1<<20))
		assert.Equal(t, "51.5", req.FormValue("lat"))
		assert.Equal(t, "-0.12", req.FormValue("lon"))

		f, fh, err := req.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, `my "dawn" clip.mp3`, fh.Filename)
		assert.Equal(t, "audio/mpeg", fh.Header.Get("Content-Type"))
		data, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, "ID3 audio bytes", string(data))

		return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
			"msg": "success",
			"results": []map[string]string{
				{"commonName": "Common Blackbird", "confidence": "0.91"},
			},
		})
	})

	records, err := c.Analyze(t.Context(), `my "dawn" clip.mp3`, strings.NewReader("ID3 audio bytes"),
		&Location{Latitude: 51.5, Longitude: -0.12})
	require.NoError(t, err)
	assert.Equal(t, []map[string]string{{"commonName": "Common Blackbird", "confidence": "0.91"}}, records)
}

func TestAnalyzeWithoutLocationOrResults(t *testing.T) {
	t.Parallel()

	c, mock := newMockClient(t, "k")
	mock.RegisterResponder(http.MethodPost, baseURL+"/analyze", func(req *http.Request) (*http.Response, error) {
		require.NoError(t, req.ParseMultipartForm(1<<20))
		_, hasLat := req.MultipartForm.Value["lat"]
		assert.False(t, hasLat)
		return httpmock.NewStringResponse(http.StatusOK, `{"msg":"success","results":null}`), nil
	})

	records, err := c.Analyze(t.Context(), "a.wav", strings.NewReader("RIFF"), nil)
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestAnalyzeDecodesAPIErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		status        int
		body          string
		message       string
		correlationID string
	}{
		{
			name:          "hearbird error shape",
			status:        http.StatusForbidden,
			body:          `{"error":"Forbidden","message":"Invalid API key","code":403,"correlation_id":"abcd1234","detail":"Invalid API key"}`,
			message:       "Invalid API key",
			correlationID: "abcd1234",
		},
		{
			name:    "fastapi detail only",
			status:  http.StatusBadRequest,
			body:    `{"detail":"File is empty"}`,
			message: "File is empty",
		},
		{
			name:    "non json body",
			status:  http.StatusBadGateway,
			body:    "<html>bad gateway</html>",
			message: "Bad Gateway",
		},
		{
			name:    "validation list detail",
			status:  http.StatusUnprocessableEntity,
			body:    `{"detail":[{"loc":["body","file"],"msg":"field required"}]}`,
			message: "Unprocessable Entity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, mock := newMockClient(t, "k")
			mock.RegisterResponder(http.MethodPost, baseURL+"/analyze", httpmock.NewStringResponder(tt.status, tt.body))

			_, err := c.Analyze(t.Context(), "a.mp3", strings.NewReader("x"), nil)
			require.Error(t, err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.message, apiErr.Message)
			assert.Equal(t, tt.correlationID, apiErr.CorrelationID)
			assert.Contains(t, apiErr.Error(), tt.message)
		})
	}
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	t.Parallel()

	c, mock := newMockClient(t, "k")
	mock.RegisterResponder(http.MethodGet, baseURL+"/health", httpmock.ConnectionFailure)

	_, err := c.Health(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
}

func TestMalformedSuccessBody(t *testing.T) {
	t.Parallel()

	c, mock := newMockClient(t, "k")
	mock.RegisterResponder(http.MethodGet, baseURL+"/health", httpmock.NewStringResponder(http.StatusOK, "{"))

	_, err := c.Health(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileParsing))
}

func TestTimeoutAppliesWithoutDeadline(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, err := New(srv.URL, "k", WithTimeout(100*time.Millisecond))
	require.NoError(t, err)
	defer c.Close()

	start := time.Now()
	_, err = c.Health(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}
