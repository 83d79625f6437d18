package tools

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/weft-run/weft/pkg/schema"
)

// HTTPConfig configures the http.request tool.
type HTTPConfig struct {
	// DefaultTimeout applies when the input carries no "timeout" param.
	DefaultTimeout time.Duration
	// MaxResponseBody caps how many response bytes are read.
	MaxResponseBody int64
	// AllowedRequestHeaders, when non-empty, restricts which custom
	// headers callers may set. Empty means no restriction.
	AllowedRequestHeaders []string
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

const httpRequestInputSchema = `{
  "type": "object",
  "properties": {
    "method": {"type": "string", "default": "GET"},
    "url": {"type": "string"},
    "headers": {"type": "object", "additionalProperties": {"type": "string"}},
    "body": {},
    "body_encoding": {"type": "string", "enum": ["json","form","text","raw"], "default": "json"},
    "auth": {
      "type": "object",
      "properties": {
        "type": {"type": "string", "enum": ["bearer","basic","api_key"]},
        "token": {"type": "string"},
        "username": {"type": "string"},
        "password": {"type": "string"},
        "header_name": {"type": "string"},
        "header_value": {"type": "string"}
      }
    },
    "timeout": {"type": "string"},
    "follow_redirects": {"type": "boolean", "default": true},
    "max_redirects": {"type": "integer", "default": 10},
    "tls_skip_verify": {"type": "boolean", "default": false},
    "fail_on_error_status": {"type": "boolean", "default": false}
  },
  "required": ["url"]
}`

const httpRequestOutputSchema = `{
  "type": "object",
  "properties": {
    "status_code": {"type": "integer"},
    "status": {"type": "string"},
    "headers": {"type": "object", "additionalProperties": {"type": "string"}},
    "body": {},
    "content_type": {"type": "string"},
    "duration_ms": {"type": "integer"}
  }
}`

// HTTPTool implements the "http.request" builtin.
type HTTPTool struct {
	config  HTTPConfig
	allowed map[string]struct{}
}

// NewHTTPTool creates the http.request tool.
func NewHTTPTool(cfg HTTPConfig) *HTTPTool {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	var allowed map[string]struct{}
	if len(cfg.AllowedRequestHeaders) > 0 {
		allowed = make(map[string]struct{}, len(cfg.AllowedRequestHeaders))
		for _, h := range cfg.AllowedRequestHeaders {
			allowed[http.CanonicalHeaderKey(h)] = struct{}{}
		}
	}
	return &HTTPTool{config: cfg, allowed: allowed}
}

func (t *HTTPTool) Name() string { return "http.request" }

func (t *HTTPTool) Schema() ToolSchema {
	return ToolSchema{
		Description: "Execute an HTTP request with control over method, headers, body, auth, and redirects.",
		Input:       json.RawMessage(httpRequestInputSchema),
		Output:      json.RawMessage(httpRequestOutputSchema),
	}
}

func (t *HTTPTool) Execute(ctx context.Context, input any) (any, error) {
	params, err := objectInput("http.request", input)
	if err != nil {
		return nil, err
	}

	rawURL := stringParam(params, "url", "")
	if rawURL == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "http.request: missing required param 'url'")
	}
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "http.request: invalid url %q", rawURL)
	}

	method := strings.ToUpper(stringParam(params, "method", "GET"))
	bodyEncoding := stringParam(params, "body_encoding", "json")
	followRedirects := boolParam(params, "follow_redirects", true)
	maxRedirects := intParam(params, "max_redirects", 10)
	tlsSkipVerify := boolParam(params, "tls_skip_verify", false)
	failOnErrorStatus := boolParam(params, "fail_on_error_status", false)

	timeout := t.config.DefaultTimeout
	if ts := stringParam(params, "timeout", ""); ts != "" {
		if d, err := time.ParseDuration(ts); err == nil {
			timeout = d
		}
	}

	bodyReader, contentType, err := encodeBody(params, bodyEncoding)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, bodyReader)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "http.request: failed to create request").WithCause(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if err := t.setHeaders(req, params); err != nil {
		return nil, err
	}
	applyAuth(req, params)

	// Fresh client per request so redirect and TLS settings never leak
	// between invocations.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if tlsSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client := &http.Client{Transport: transport}

	if !followRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else if maxRedirects > 0 {
		limit := maxRedirects
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= limit {
				return fmt.Errorf("stopped after %d redirects", limit)
			}
			return nil
		}
	}

	start := time.Now()
	resp, err := client.Do(req)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "http.request: request failed: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, t.config.MaxResponseBody)
	bodyBytes, err := io.ReadAll(limited)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "http.request: failed to read response body").WithCause(err)
	}

	respContentType := resp.Header.Get("Content-Type")
	var parsedBody any
	switch {
	case len(bodyBytes) == 0:
		parsedBody = nil
	case strings.Contains(respContentType, "application/json"):
		var jsonBody any
		if err := json.Unmarshal(bodyBytes, &jsonBody); err == nil {
			parsedBody = jsonBody
		} else {
			parsedBody = string(bodyBytes)
		}
	default:
		parsedBody = string(bodyBytes)
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	result := map[string]any{
		"status_code":  resp.StatusCode,
		"status":       resp.Status,
		"headers":      respHeaders,
		"body":         parsedBody,
		"content_type": respContentType,
		"duration_ms":  durationMs,
	}

	if failOnErrorStatus && resp.StatusCode >= 400 {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "http.request: server returned %d", resp.StatusCode).
			WithDetails(result)
	}

	return result, nil
}

func (t *HTTPTool) setHeaders(req *http.Request, params map[string]any) error {
	hdrs, ok := params["headers"]
	if !ok {
		return nil
	}
	hm, ok := hdrs.(map[string]any)
	if !ok {
		return nil
	}
	for k, v := range hm {
		canonical := http.CanonicalHeaderKey(k)
		if t.allowed != nil {
			if _, ok := t.allowed[canonical]; !ok {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"http.request: header %q is not in the allowed set", k)
			}
		}
		req.Header.Set(canonical, fmt.Sprintf("%v", v))
	}
	return nil
}

func encodeBody(params map[string]any, encoding string) (io.Reader, string, error) {
	rawBody, ok := params["body"]
	if !ok || rawBody == nil {
		return nil, "", nil
	}
	switch encoding {
	case "form":
		formData, ok := rawBody.(map[string]any)
		if !ok {
			return nil, "", nil
		}
		vals := url.Values{}
		for k, v := range formData {
			vals.Set(k, fmt.Sprintf("%v", v))
		}
		return strings.NewReader(vals.Encode()), "application/x-www-form-urlencoded", nil
	case "text":
		return strings.NewReader(fmt.Sprintf("%v", rawBody)), "text/plain", nil
	case "raw":
		return strings.NewReader(fmt.Sprintf("%v", rawBody)), "", nil
	default: // json
		b, err := json.Marshal(rawBody)
		if err != nil {
			return nil, "", schema.NewError(schema.ErrCodeExecution, "http.request: failed to marshal body as JSON").WithCause(err)
		}
		return strings.NewReader(string(b)), "application/json", nil
	}
}

func applyAuth(req *http.Request, params map[string]any) {
	authRaw, ok := params["auth"]
	if !ok {
		return
	}
	auth, ok := authRaw.(map[string]any)
	if !ok {
		return
	}
	switch stringParam(auth, "type", "") {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+stringParam(auth, "token", ""))
	case "basic":
		req.SetBasicAuth(stringParam(auth, "username", ""), stringParam(auth, "password", ""))
	case "api_key":
		name := stringParam(auth, "header_name", "")
		if name != "" {
			req.Header.Set(name, stringParam(auth, "header_value", ""))
		}
	}
}

var _ Tool = (*HTTPTool)(nil)
