// Package inference talks to the external inference backend: single-shot
// image classification and system power control.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/bottle-monitor/internal/logger"
	"github.com/dj-oyu/bottle-monitor/internal/metrics"
	"github.com/dj-oyu/bottle-monitor/pkg/types"
)

const (
	// DefaultConfidence is reported when the backend omits both confidence and score.
	DefaultConfidence = 0.85
	// UnknownLabel is reported when the backend omits both label and prediction.
	UnknownLabel = "unknown"

	maxErrorBody = 4 << 10
)

// Model selects the classification endpoint.
type Model string

const (
	ModelLevel Model = "level"
	ModelTap   Model = "tap"
	// ModelNivell is the dashboard identifier of the level model.
	ModelNivell Model = "nivell"
)

// ParseModel accepts level, tap and the nivell alias, case-insensitively.
func ParseModel(s string) (Model, error) {
	switch m := Model(strings.ToLower(strings.TrimSpace(s))); m {
	case ModelLevel, ModelTap, ModelNivell:
		return m, nil
	}
	return "", fmt.Errorf("unknown model %q (want level, tap or nivell)", s)
}

// Endpoint returns the REST path serving m.
func (m Model) Endpoint() string {
	if m == ModelTap {
		return "/api/analyze/tap"
	}
	return "/api/analyze/level"
}

// Result is one completed single-shot classification.
type Result struct {
	ID           string    `json:"id"`
	Model        Model     `json:"model"`
	Label        string    `json:"label"`
	Confidence   float64   `json:"confidence"`
	Timestamp    time.Time `json:"timestamp"`
	ImageName    string    `json:"imageName"`
	ImagePreview string    `json:"imagePreview,omitempty"`
	ResponseTime int64     `json:"responseTime"` // milliseconds
}

// APIError is returned for non-2xx backend responses.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	metrics *metrics.Metrics
	log     logger.Module
}

// NewClient returns a client for the backend at baseURL. A nil m disables metrics.
func NewClient(baseURL string, timeout time.Duration, m *metrics.Metrics) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if m == nil {
		m = metrics.New()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		metrics: m,
		log:     logger.For("Inference"),
	}
}

// BaseURL returns the backend base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Classify uploads image as the multipart field "file" and interprets the
// backend answer. The returned Result has no preview; callers attach one.
func (c *Client) Classify(ctx context.Context, model Model, filename string, image io.Reader) (Result, error) {
	c.metrics.ClassifyRequests.Add(1)
	start := time.Now()

	result, err := c.classify(ctx, model, filename, image)
	elapsed := time.Since(start)
	c.metrics.UpdateClassifyLatency(elapsed)
	if err != nil {
		c.metrics.ClassifyErrors.Add(1)
		c.log.Warn("Classify %s (%s) failed: %v", filename, model, err)
		return Result{}, err
	}

	result.ResponseTime = elapsed.Milliseconds()
	c.log.Info("Classified %s with %s: %s (%.2f) in %dms", filename, model, result.Label, result.Confidence, result.ResponseTime)
	return result, nil
}

func (c *Client) classify(ctx context.Context, model Model, filename string, image io.Reader) (Result, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return Result{}, fmt.Errorf("build form: %w", err)
	}
	if _, err := io.Copy(part, image); err != nil {
		return Result{}, fmt.Errorf("read image: %w", err)
	}
	if err := form.Close(); err != nil {
		return Result{}, fmt.Errorf("build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+model.Endpoint(), &body)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("classify request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return Result{}, err
	}

	var payload types.ClassifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Result{}, fmt.Errorf("decode classify response: %w", err)
	}

	return Result{
		ID:         uuid.NewString(),
		Model:      model,
		Label:      pickLabel(payload),
		Confidence: pickConfidence(payload),
		Timestamp:  time.Now().UTC(),
		ImageName:  filename,
	}, nil
}

func pickLabel(p types.ClassifyResponse) string {
	for _, v := range []*string{p.Label, p.Prediction} {
		if v != nil && *v != "" {
			return *v
		}
	}
	return UnknownLabel
}

// pickConfidence takes the first field present. An explicit 0 is kept.
func pickConfidence(p types.ClassifyResponse) float64 {
	for _, v := range []*float64{p.Confidence, p.Score} {
		if v != nil {
			return *v
		}
	}
	return DefaultConfidence
}

// SetPower asks the backend to start or stop the inspection line.
func (c *Client) SetPower(ctx context.Context, on bool) error {
	c.metrics.PowerRequests.Add(1)

	path := "/system/off"
	if on {
		path = "/system/on"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		c.metrics.PowerErrors.Add(1)
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.PowerErrors.Add(1)
		return fmt.Errorf("power request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	if err := checkStatus(resp); err != nil {
		c.metrics.PowerErrors.Add(1)
		return err
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{Status: resp.StatusCode, Message: errorMessage(resp.StatusCode, data)}
}

// errorMessage extracts detail/error/message from a JSON error body.
func errorMessage(status int, body []byte) string {
	var parsed map[string]any
	if json.Unmarshal(body, &parsed) == nil {
		for _, key := range []string{"detail", "error", "message"} {
			if s, ok := parsed[key].(string); ok && s != "" {
				return s
			}
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && len(text) < 200 {
		return text
	}
	return http.StatusText(status)
}
