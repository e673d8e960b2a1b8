package contract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

const (
	defaultBackendURL     = "http://localhost:8000"
	defaultMonitorURL     = "http://localhost:8080"
	defaultRequestTimeout = 5 * time.Second
)

type liveClient struct {
	baseURL string
	client  *http.Client
}

func newLiveClient(t *testing.T, env, fallback, probe string) *liveClient {
	t.Helper()
	baseURL := strings.TrimRight(os.Getenv(env), "/")
	if baseURL == "" {
		baseURL = fallback
	}
	client := &http.Client{Timeout: defaultRequestTimeout}

	if !isReachable(client, baseURL+probe) {
		t.Skipf("server not reachable at %s (set %s to run)", baseURL, env)
	}

	return &liveClient{
		baseURL: baseURL,
		client:  client,
	}
}

func newBackendClient(t *testing.T) *liveClient {
	return newLiveClient(t, "BACKEND_BASE_URL", defaultBackendURL, "/")
}

func newMonitorClient(t *testing.T) *liveClient {
	return newLiveClient(t, "MONITOR_BASE_URL", defaultMonitorURL, "/health")
}

func isReachable(client *http.Client, url string) bool {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < 500
}

func (c *liveClient) do(t *testing.T, method, path string, body io.Reader, contentType string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, data
}

func (c *liveClient) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	return c.do(t, http.MethodGet, path, nil, "")
}

func (c *liveClient) post(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	return c.do(t, http.MethodPost, path, nil, "")
}

// sampleUpload builds a multipart body with a small PNG under the "file" field.
func sampleUpload(t *testing.T) (io.Reader, string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: 40, G: uint8(y * 3), B: 120, A: 255})
		}
	}
	var encoded bytes.Buffer
	if err := png.Encode(&encoded, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "contract.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write(encoded.Bytes())
	_ = mw.Close()
	return &body, mw.FormDataContentType()
}

func readSSEData(url string, timeout time.Duration) (string, http.Header, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 256)
	for {
		n, readErr := resp.Body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			for {
				idx := bytes.Index(buf, []byte("\n\n"))
				if idx < 0 {
					break
				}
				event := string(buf[:idx])
				buf = buf[idx+2:]
				if data, ok := strings.CutPrefix(event, "data: "); ok {
					return data, resp.Header, nil
				}
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return "", nil, fmt.Errorf("sse stream closed before event")
			}
			return "", nil, fmt.Errorf("read sse: %w", readErr)
		}
	}
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireBool(t *testing.T, value any, field string) bool {
	t.Helper()
	b, ok := value.(bool)
	if !ok {
		t.Fatalf("expected %s to be bool, got %T", field, value)
	}
	return b
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}

func assertMonitorStatus(t *testing.T, payload map[string]any, field string) {
	t.Helper()
	requireString(t, payload["state"], field+".state")
	requireString(t, payload["url"], field+".url")
	requireBool(t, payload["reconnect"], field+".reconnect")
	requireNumber(t, payload["total"], field+".total")
	requireNumber(t, payload["bottles_processed"], field+".bottles_processed")
	requireNumber(t, payload["offset"], field+".offset")
	requireNumber(t, payload["pass_count"], field+".pass_count")
	requireNumber(t, payload["fail_count"], field+".fail_count")
	requireNumber(t, payload["alert_count"], field+".alert_count")
	for i, raw := range requireSlice(t, payload["events"], field+".events") {
		assertEvent(t, requireMap(t, raw, fmt.Sprintf("%s.events[%d]", field, i)))
	}
}

func assertEvent(t *testing.T, ev map[string]any) {
	t.Helper()
	requireString(t, ev["id"], "event.id")
	requireString(t, ev["bottle_id"], "event.bottle_id")
	status := requireString(t, ev["status"], "event.status")
	if status != "PASS" && status != "FAIL" {
		t.Fatalf("event.status = %q", status)
	}
	requireNumber(t, ev["bottles_processed"], "event.bottles_processed")
	requireBool(t, ev["has_alert"], "event.has_alert")
	for _, name := range []string{"tap", "level"} {
		check := requireMap(t, ev[name], "event."+name)
		requireString(t, check["label"], "event."+name+".label")
		requireNumber(t, check["confidence"], "event."+name+".confidence")
	}
}
