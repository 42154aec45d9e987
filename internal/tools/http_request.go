package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/stepwise/pkg/schema"
)

const httpRequestInputSchema = `{
  "type": "object",
  "properties": {
    "method": {"type": "string", "default": "GET"},
    "url": {"type": "string", "minLength": 1},
    "headers": {"type": "object", "additionalProperties": {"type": "string"}},
    "body": {},
    "timeout": {"type": "string"},
    "failOnErrorStatus": {"type": "boolean", "default": true}
  },
  "required": ["url"]
}`

const (
	defaultMaxResponseBody = 10 * 1024 * 1024
	defaultHTTPTimeout     = 30 * time.Second
)

// HTTPRequest performs an HTTP call and returns status, headers and the decoded body.
type HTTPRequest struct {
	client          *http.Client
	timeout         time.Duration
	maxResponseBody int64
}

// NewHTTPRequest creates the http_request tool.
func NewHTTPRequest(timeout time.Duration) *HTTPRequest {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTPRequest{
		client:          &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
		timeout:         timeout,
		maxResponseBody: defaultMaxResponseBody,
	}
}

func (t *HTTPRequest) Name() string { return "http_request" }

func (t *HTTPRequest) Schema() Schema {
	return Schema{
		Description: "Execute an HTTP request. JSON responses are decoded; array bodies report totalCount.",
		InputSchema: json.RawMessage(httpRequestInputSchema),
	}
}

func (t *HTTPRequest) Execute(ctx context.Context, params map[string]any) (any, error) {
	rawURL := stringParam(params, "url", "")
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid url %q", rawURL)
	}
	method := strings.ToUpper(stringParam(params, "method", http.MethodGet))

	timeout := t.timeout
	if ts := stringParam(params, "timeout", ""); ts != "" {
		if d, err := time.ParseDuration(ts); err == nil && d > 0 {
			timeout = d
		}
	}

	var body io.Reader
	contentType := ""
	if raw, ok := params["body"]; ok && raw != nil {
		if s, ok := raw.(string); ok {
			body = strings.NewReader(s)
			contentType = "text/plain"
		} else {
			b, err := json.Marshal(raw)
			if err != nil {
				return nil, schema.NewError(schema.ErrCodeValidation, "body is not JSON encodable").WithCause(err)
			}
			body = strings.NewReader(string(b))
			contentType = "application/json"
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, body)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "build request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range mapParam(params, "headers") {
		req.Header.Set(k, fmt.Sprint(v))
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	result := map[string]any{
		"status":  resp.StatusCode,
		"headers": headers,
		"body":    decodeBody(resp.Header.Get("Content-Type"), data),
	}
	if arr, ok := result["body"].([]any); ok {
		result["totalCount"] = len(arr)
	}

	failOnError := true
	if v, ok := params["failOnErrorStatus"].(bool); ok {
		failOnError = v
	}
	if failOnError && resp.StatusCode >= 400 {
		code := schema.ErrCodeProviderFailure
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			code = schema.ErrCodeValidation
		}
		return nil, schema.NewErrorf(code, "server returned %d", resp.StatusCode).WithDetails(result)
	}
	return result, nil
}

func decodeBody(contentType string, data []byte) any {
	if len(data) == 0 {
		return nil
	}
	if strings.Contains(contentType, "json") {
		var v any
		if err := json.Unmarshal(data, &v); err == nil {
			return v
		}
	}
	return string(data)
}
