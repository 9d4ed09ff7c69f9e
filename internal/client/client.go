// Package client is a Go client for the hearbird HTTP API.
//
// It is used by the analyze command's remote mode and is safe for concurrent
// use.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hearbird/hearbird/internal/errors"
	"github.com/hearbird/hearbird/internal/upload"
)

const (
	// DefaultTimeout covers a full analyzer run plus upload time. It applies
	// when the request context has no deadline.
	DefaultTimeout = 6 * time.Minute

	// maxErrorBody caps how much of an error response is read
	maxErrorBody = 1 << 20

	defaultUserAgent           = "hearbird-client"
	defaultMaxIdleConnsPerHost = 4
	defaultIdleConnTimeout     = 90 * time.Second
	defaultTLSHandshakeTimeout = 10 * time.Second
	defaultDialTimeout         = 30 * time.Second
)

// Location is an optional recording position sent with an upload
type Location struct {
	Latitude  float64
	Longitude float64
}

// Health is the /health response
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// APIError is a non-2xx response from the server
type APIError struct {
	StatusCode    int
	Message       string
	CorrelationID string
}

func (e *APIError) Error() string {
	if e.CorrelationID != "" {
		return fmt.Sprintf("hearbird API error %d: %s (correlation id %s)", e.StatusCode, e.Message, e.CorrelationID)
	}
	return fmt.Sprintf("hearbird API error %d: %s", e.StatusCode, e.Message)
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout applied when the context has no
// deadline. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// Client talks to one hearbird server
type Client struct {
	baseURL   *url.URL
	apiKey    string
	http      *http.Client
	timeout   time.Duration
	userAgent string
}

// New creates a client for the server at baseURL, e.g. "http://localhost:8000".
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", baseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https and host is required", baseURL)
	}

	c := &Client{
		baseURL:   u,
		apiKey:    apiKey,
		timeout:   DefaultTimeout,
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Transport: newTransport()}
	}
	return c, nil
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   defaultDialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		IdleConnTimeout:     defaultIdleConnTimeout,
		TLSHandshakeTimeout: defaultTLSHandshakeTimeout,
		// no ResponseHeaderTimeout: headers arrive only after the analysis
	}
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var health Health
	if err := c.do(ctx, http.MethodGet, "/health", http.NoBody, "", &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// Analyze uploads audio read from r as filename and returns the detection
// records. The part content type is derived from the filename extension.
func (c *Client) Analyze(ctx context.Context, filename string, r io.Reader, loc *Location) ([]map[string]string, error) {
	body, contentType, err := encodeUpload(filename, r, loc)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Msg     string              `json:"msg"`
		Results []map[string]string `json:"results"`
	}
	if err := c.do(ctx, http.MethodPost, "/analyze", body, contentType, &resp); err != nil {
		return nil, err
	}
	if resp.Results == nil {
		resp.Results = []map[string]string{}
	}
	return resp.Results, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeUpload builds the multipart body in memory so the request carries a
// Content-Length and oversized uploads are refused before transfer.
func encodeUpload(filename string, r io.Reader, loc *Location) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	if loc != nil {
		if err := w.WriteField("lat", strconv.FormatFloat(loc.Latitude, 'f', -1, 64)); err != nil {
			return nil, "", err
		}
		if err := w.WriteField("lon", strconv.FormatFloat(loc.Longitude, 'f', -1, 64)); err != nil {
			return nil, "", err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(filename)))
	h.Set("Content-Type", upload.ContentTypeFor(filename))
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, "", errors.New(fmt.Errorf("failed to read upload: %w", err)).
			Component("client").
			Category(errors.CategoryFileIO).
			Context("filename", filename).
			Build()
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &body, w.FormDataContentType(), nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(path).String(), body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.New(err).
			Component("client").
			Category(errors.CategoryNetwork).
			Context("method", method).
			Context("path", path).
			Timing("http_request", time.Since(start)).
			Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.New(fmt.Errorf("failed to decode %s response: %w", path, err)).
			Component("client").
			Category(errors.CategoryFileParsing).
			Context("status", resp.StatusCode).
			Build()
	}
	return nil
}

// decodeAPIError reads the server's error body. Both the hearbird shape and
// a bare FastAPI {"detail": ...} body are understood.
func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body struct {
		Message       string `json:"message"`
		Detail        any    `json:"detail"`
		CorrelationID string `json:"correlation_id"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		apiErr.CorrelationID = body.CorrelationID
		apiErr.Message = body.Message
		if apiErr.Message == "" {
			if detail, ok := body.Detail.(string); ok {
				apiErr.Message = detail
			}
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
