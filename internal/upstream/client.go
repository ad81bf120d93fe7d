package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/civic-reports/chat-gateway/pkg/logger"
	"github.com/civic-reports/chat-gateway/pkg/metrics"
	"github.com/civic-reports/chat-gateway/pkg/tracing"
)

// maxBodySize caps how much of a backend response is read.
const maxBodySize = 8 << 20

// ErrBodyTooLarge is returned for a response body over maxBodySize.
var ErrBodyTooLarge = errors.New("backend response too large")

// Config configures a backend client.
type Config struct {
	BaseURL string
	Timeout time.Duration

	// RPS and Burst bound outgoing requests. RPS <= 0 disables limiting.
	RPS   float64
	Burst int
}

// Client issues authenticated requests against the backend REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	tracer     trace.Tracer
	logger     *logger.Logger
}

// NewClient creates a backend client.
func NewClient(cfg Config, log *logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		tracer:     tracing.Tracer(),
		logger:     log,
	}
}

// BaseURL returns the API base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// FilePart is a file attached to a multipart request.
type FilePart struct {
	Field       string
	Filename    string
	ContentType string
	Data        []byte
}

// GetJSON issues a GET and returns the raw response body.
func (c *Client) GetJSON(ctx context.Context, sess *Session, path string, query url.Values) ([]byte, error) {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return c.do(ctx, sess, http.MethodGet, path, nil, "")
}

// PostJSON issues a POST with a JSON body and returns the raw response body.
func (c *Client) PostJSON(ctx context.Context, sess *Session, path string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, sess, http.MethodPost, path, data, "application/json")
}

// PostMultipart issues a POST with a multipart form body.
func (c *Client) PostMultipart(ctx context.Context, sess *Session, path string, fields map[string]string, file *FilePart) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %w", name, err)
		}
	}

	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, file.Field, file.Filename))
		contentType := file.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h.Set("Content-Type", contentType)

		part, err := w.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("failed to create file part: %w", err)
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, fmt.Errorf("failed to write file part: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	return c.do(ctx, sess, http.MethodPost, path, buf.Bytes(), w.FormDataContentType())
}

func (c *Client) do(ctx context.Context, sess *Session, method, path string, body []byte, contentType string) ([]byte, error) {
	if !sess.Valid() {
		return nil, ErrMissingToken
	}

	ctx, span := c.tracer.Start(ctx, "upstream "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.path", path),
		),
	)
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", sess.AuthorizationHeader())
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordUpstream(method, "error", time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	status := strconv.Itoa(resp.StatusCode)
	metrics.RecordUpstream(method, status, time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if err != nil {
		span.SetStatus(codes.Error, "read body failed")
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if len(data) > maxBodySize {
		span.SetStatus(codes.Error, "body too large")
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrBodyTooLarge)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := newAPIError(resp.StatusCode, data)
		span.SetStatus(codes.Error, apiErr.Detail)
		c.logger.Debug("backend request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("detail", apiErr.Detail),
		)
		return nil, apiErr
	}

	return data, nil
}
