// Package generation is the client for the media generation gateway. The
// gateway accepts a generation request, returns a long-running operation name
// and is polled until the operation is done.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"nonlinear-editor-backend/internal/models"
)

const (
	defaultTimeout   = 30 * time.Second
	maxDownloadBytes = 5 << 30
	maxErrorBody     = 4 << 10
)

type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	limiter     *rate.Limiter
	backoffs    []time.Duration
	maxDownload int64
}

var ErrResultTooLarge = errors.New("generation result too large")

// SubmitRequest is the body of a generation request.
type SubmitRequest struct {
	Kind            models.JobKind `json:"kind"`
	Prompt          string         `json:"prompt"`
	NegativePrompt  string         `json:"negative_prompt,omitempty"`
	Model           string         `json:"model,omitempty"`
	AspectRatio     string         `json:"aspect_ratio,omitempty"`
	DurationSeconds int            `json:"duration_seconds,omitempty"`
	Voice           string         `json:"voice,omitempty"`
	Seed            *int64         `json:"seed,omitempty"`
	ImageURL        string         `json:"image_url,omitempty"`
}

type OperationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type OperationResult struct {
	URI       string `json:"uri"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
}

// Operation is the gateway's view of a generation.
type Operation struct {
	Name     string           `json:"name"`
	Provider string           `json:"provider"`
	Done     bool             `json:"done"`
	Progress int              `json:"progress"`
	Error    *OperationError  `json:"error,omitempty"`
	Result   *OperationResult `json:"result,omitempty"`
}

// Failed reports whether the operation finished without a result.
func (o *Operation) Failed() bool {
	return o.Done && (o.Error != nil || o.Result == nil || o.Result.URI == "")
}

// FailureMessage describes why a finished operation has no result.
func (o *Operation) FailureMessage() string {
	if o.Error != nil && o.Error.Message != "" {
		return o.Error.Message
	}
	return "generation finished without a result"
}

// APIError is a non-2xx response from the gateway.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("failed to %s: status %d, body: %s", e.Op, e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if sent again.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func NewClient(baseURL, apiKey string, requestsPerSecond float64) *Client {
	limit := rate.Inf
	burst := 1
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
		burst = max(1, int(requestsPerSecond))
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		limiter:     rate.NewLimiter(limit, burst),
		backoffs:    []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
		maxDownload: maxDownloadBytes,
	}
}

// Submit starts a generation and returns its operation.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*Operation, error) {
	var op Operation
	if err := c.doJSON(ctx, "submit generation", http.MethodPost, "/operations", req, &op); err != nil {
		return nil, err
	}
	if op.Name == "" {
		return nil, fmt.Errorf("operation name is empty in submit response")
	}
	return &op, nil
}

func (c *Client) GetOperation(ctx context.Context, name string) (*Operation, error) {
	path, err := operationPath(name)
	if err != nil {
		return nil, err
	}
	var op Operation
	if err := c.doJSON(ctx, "get operation", http.MethodGet, path, nil, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

func (c *Client) Cancel(ctx context.Context, name string) error {
	path, err := operationPath(name)
	if err != nil {
		return err
	}
	return c.doJSON(ctx, "cancel operation", http.MethodPost, path+":cancel", nil, nil)
}

// Media is a streamed generation result. The caller closes Body. Size is -1
// when the gateway does not announce a length.
type Media struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// Download opens a finished result for streaming. Relative URIs resolve
// against the gateway and carry the API key; absolute ones are fetched as is.
// Reading past maxDownloadBytes fails.
func (c *Client) Download(ctx context.Context, uri string) (*Media, error) {
	target := uri
	authenticated := false
	if strings.HasPrefix(uri, "/") {
		target = c.baseURL + uri
		authenticated = true
	} else if u, err := url.Parse(uri); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid result uri %q", uri)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if authenticated {
		req.Header.Set("x-api-key", c.apiKey)
	}

	// Large videos outlive the default client timeout; ctx bounds the download.
	client := *c.httpClient
	client.Timeout = 0
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{Op: "download result", StatusCode: resp.StatusCode, Body: string(body)}
	}
	if resp.ContentLength > c.maxDownload {
		resp.Body.Close()
		return nil, fmt.Errorf("result of %d bytes exceeds %d bytes", resp.ContentLength, c.maxDownload)
	}
	return &Media{
		Body:        &cappedBody{body: resp.Body, remaining: c.maxDownload},
		ContentType: resp.Header.Get("Content-Type"),
		Size:        resp.ContentLength,
	}, nil
}

// cappedBody fails a read once more than remaining bytes have arrived.
type cappedBody struct {
	body      io.ReadCloser
	remaining int64
}

func (b *cappedBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	b.remaining -= int64(n)
	if b.remaining < 0 {
		return n, ErrResultTooLarge
	}
	return n, err
}

func (b *cappedBody) Close() error {
	return b.body.Close()
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		jsonData, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(respBody) > maxErrorBody {
			respBody = respBody[:maxErrorBody]
		}
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return nil
}

func operationPath(name string) (string, error) {
	name = strings.TrimPrefix(name, "/")
	if name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, "?#") {
		return "", fmt.Errorf("invalid operation name %q: %w", name, models.ErrInvalidInput)
	}
	if !strings.HasPrefix(name, "operations/") {
		name = "operations/" + name
	}
	return "/" + name, nil
}

// Retryable reports whether err is worth another attempt: throttling,
// gateway 5xx responses and network timeouts.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

// RetryWithBackoff calls fn up to maxAttempts times, sleeping 1s, 2s, 4s
// between attempts. Errors that Retryable rejects are returned immediately.
func (c *Client) RetryWithBackoff(ctx context.Context, fn func(ctx context.Context) error, maxAttempts int) error {
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !Retryable(err) {
			return err
		}
		if i == maxAttempts-1 {
			break
		}

		wait := c.backoffs[len(c.backoffs)-1]
		if i < len(c.backoffs) {
			wait = c.backoffs[i]
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		case <-t.C:
		}
	}

	return fmt.Errorf("failed after %d retries: %w", maxAttempts, lastErr)
}
