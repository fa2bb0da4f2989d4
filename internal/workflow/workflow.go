// Package workflow submits files to a workflow-automation webhook and
// reduces whatever it answers to a single text payload.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xaenox/abap-agent/internal/metrics"
	"github.com/xaenox/abap-agent/internal/models"
	"github.com/xaenox/abap-agent/internal/normalize"
)

const healthTimeout = 10 * time.Second

var contentTypes = map[string]string{
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xls":  "application/vnd.ms-excel",
	".json": "application/json",
	".txt":  "text/plain",
}

// ContentType infers the MIME type of filename from its extension.
func ContentType(filename string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return ct
	}
	return "application/octet-stream"
}

type Client struct {
	webhookURL string
	timeout    time.Duration
	http       *http.Client
	logger     *zap.Logger
}

// NewClient builds a webhook client whose calls give up after timeout.
func NewClient(webhookURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		webhookURL: webhookURL,
		timeout:    timeout,
		http:       &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// HealthCheck probes the webhook with a HEAD request. Anything below 500
// counts as reachable.
func (c *Client) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.webhookURL, nil)
	if err != nil {
		return false
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("Workflow health probe failed", zap.Error(err))
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Submit posts file and fields as multipart form data. Backend failures are
// reported through the result, never as an error.
func (c *Client) Submit(ctx context.Context, file []byte, filename string, fields map[string]string) models.WorkflowResult {
	body, contentType, err := encodeForm(file, filename, fields)
	if err != nil {
		return c.failure("error", err.Error(), fmt.Sprintf("Failed to connect to workflow: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, body)
	if err != nil {
		return c.failure("error", err.Error(), fmt.Sprintf("Failed to connect to workflow: %v", err))
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportFailure(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.transportFailure(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("Workflow returned error status",
			zap.Int("status", resp.StatusCode),
			zap.String("filename", filename))
		return c.failure("http_error",
			fmt.Sprintf("HTTP %d: %s", resp.StatusCode, raw),
			fmt.Sprintf("Workflow returned error: %d", resp.StatusCode))
	}

	content, ok := normalize.Extract(raw)
	if !ok {
		c.logger.Debug("Workflow response is not JSON, using text", zap.Int("bytes", len(raw)))
		metrics.WorkflowCallsTotal.WithLabelValues("text").Inc()
		quoted, _ := json.Marshal(string(raw))
		return models.WorkflowResult{
			Success:     true,
			Content:     string(raw),
			RawResponse: quoted,
		}
	}

	c.logger.Debug("Workflow response normalized",
		zap.String("raw", preview(raw, 500)),
		zap.String("content", preview([]byte(content), 200)))
	metrics.WorkflowCallsTotal.WithLabelValues("success").Inc()
	return models.WorkflowResult{
		Success:     true,
		Content:     content,
		RawResponse: json.RawMessage(bytes.TrimSpace(raw)),
	}
}

func (c *Client) transportFailure(err error) models.WorkflowResult {
	if isTimeout(err) {
		c.logger.Warn("Workflow timed out", zap.Duration("timeout", c.timeout))
		return c.failure("timeout",
			"Workflow timed out",
			fmt.Sprintf("The workflow did not respond within %s seconds", strconv.FormatFloat(c.timeout.Seconds(), 'f', -1, 64)))
	}
	c.logger.Error("Workflow request failed", zap.Error(err))
	return c.failure("error", err.Error(), fmt.Sprintf("Failed to connect to workflow: %v", err))
}

func (c *Client) failure(outcome, detail, content string) models.WorkflowResult {
	metrics.WorkflowCallsTotal.WithLabelValues(outcome).Inc()
	return models.WorkflowResult{
		Success: false,
		Error:   detail,
		Content: content,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func encodeForm(file []byte, filename string, fields map[string]string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(filename)))
	h.Set("Content-Type", ContentType(filename))
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(file); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := w.WriteField(k, fields[k]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// preview cuts b to at most n bytes without splitting a rune.
func preview(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	for n > 0 && !utf8.RuneStart(b[n]) {
		n--
	}
	return string(b[:n])
}
