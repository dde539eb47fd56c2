package activity

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/lemline/lemline/cmd/runner/dsl"
	"github.com/lemline/lemline/cmd/runner/expr"
	"github.com/lemline/lemline/common/logger"
)

// httpCall is the decoded `with` block of a call: http task
type httpCall struct {
	Method         string         `json:"method"`
	Endpoint       string         `json:"endpoint"`
	Headers        map[string]any `json:"headers,omitempty"`
	Query          map[string]any `json:"query,omitempty"`
	Body           any            `json:"body,omitempty"`
	Output         string         `json:"output,omitempty"` // raw|content|response
	Authentication any            `json:"authentication,omitempty"`
}

// HTTPRunner executes call: http activities
type HTTPRunner struct {
	client *http.Client
	log    *logger.Logger
}

// NewHTTPRunner creates an HTTP runner with a sane default client
func NewHTTPRunner(log *logger.Logger) *HTTPRunner {
	return &HTTPRunner{
		client: &http.Client{Timeout: 60 * time.Second},
		log:    log,
	}
}

// Run performs the HTTP request described by the task
func (r *HTTPRunner) Run(ctx context.Context, req *Request) (any, *dsl.Error) {
	call, derr := decodeHTTPCall(req)
	if derr != nil {
		return nil, derr
	}

	switch call.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		return nil, dsl.NewConfigurationError(fmt.Sprintf("unsupported http method %q", call.Method))
	}

	endpoint, derr := resolveEndpoint(req, call.Endpoint)
	if derr != nil {
		return nil, derr
	}

	headers, derr := stringMap(req, call.Headers)
	if derr != nil {
		return nil, derr
	}
	query, derr := stringMap(req, call.Query)
	if derr != nil {
		return nil, derr
	}

	var body io.Reader
	if call.Body != nil {
		evaluated, derr := req.Eval.EvalValue(req.Input, expr.Normalize(call.Body), req.Scope, false)
		if derr != nil {
			return nil, derr
		}
		encoded, err := json.Marshal(evaluated)
		if err != nil {
			return nil, dsl.NewRuntimeError(fmt.Sprintf("encode request body: %v", err))
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, call.Method, endpoint, body)
	if err != nil {
		return nil, dsl.NewConfigurationError(fmt.Sprintf("invalid http request: %v", err))
	}

	if len(query) > 0 {
		values := url.Values{}
		for key, value := range query {
			values.Set(key, value)
		}
		if httpReq.URL.RawQuery != "" {
			httpReq.URL.RawQuery += "&" + values.Encode()
		} else {
			httpReq.URL.RawQuery = values.Encode()
		}
	}

	for key, value := range headers {
		httpReq.Header.Set(key, value)
	}
	if call.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if derr := r.applyAuthentication(req, httpReq, call.Authentication); derr != nil {
		return nil, derr
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, dsl.NewCommunicationError(0, fmt.Sprintf("http call cancelled: %v", ctx.Err()))
		}
		return nil, dsl.NewCommunicationError(0, fmt.Sprintf("http call failed: %v", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, dsl.NewCommunicationError(0, fmt.Sprintf("read response body: %v", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, dsl.NewCommunicationError(resp.StatusCode,
			fmt.Sprintf("%s %s returned status %d", call.Method, endpoint, resp.StatusCode))
	}

	return buildOutput(call.Output, resp, respBody), nil
}

func decodeHTTPCall(req *Request) (*httpCall, *dsl.Error) {
	raw, err := json.Marshal(req.Task.With)
	if err != nil {
		return nil, dsl.NewConfigurationError(fmt.Sprintf("invalid http call: %v", err))
	}
	call := &httpCall{}
	if err := json.Unmarshal(raw, call); err != nil {
		return nil, dsl.NewConfigurationError(fmt.Sprintf("invalid http call: %v", err))
	}
	if call.Method == "" {
		return nil, dsl.NewConfigurationError("http call requires a method")
	}
	if call.Endpoint == "" {
		return nil, dsl.NewConfigurationError("http call requires an endpoint")
	}
	return call, nil
}

func (r *HTTPRunner) applyAuthentication(req *Request, httpReq *http.Request, auth any) *dsl.Error {
	policy, derr := resolveAuthentication(req, auth)
	if derr != nil {
		return derr
	}
	if policy == nil {
		return nil
	}

	switch {
	case policy.Basic != nil:
		username, derr := resolveSecretValue(req, policy.Basic.Username)
		if derr != nil {
			return derr
		}
		password, derr := resolveSecretValue(req, policy.Basic.Password)
		if derr != nil {
			return derr
		}
		if username == "" || password == "" {
			return dsl.NewAuthenticationError("basic authentication requires username and password")
		}
		httpReq.SetBasicAuth(username, password)
	case policy.Bearer != nil:
		token, derr := resolveSecretValue(req, policy.Bearer.Token)
		if derr != nil {
			return derr
		}
		if token == "" {
			return dsl.NewAuthenticationError("bearer authentication requires a token")
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	default:
		return dsl.NewConfigurationError("authentication policy has no supported scheme")
	}

	return nil
}

// buildOutput shapes the response per the task's output mode
func buildOutput(mode string, resp *http.Response, body []byte) any {
	content := func() any {
		var decoded any
		if err := json.Unmarshal(body, &decoded); err != nil {
			return string(body)
		}
		return decoded
	}

	switch mode {
	case "raw":
		return base64.StdEncoding.EncodeToString(body)
	case "response":
		headers := make(map[string]any, len(resp.Header))
		for key := range resp.Header {
			headers[key] = resp.Header.Get(key)
		}
		return map[string]any{
			"status":  resp.StatusCode,
			"headers": headers,
			"content": content(),
		}
	default: // content
		return content()
	}
}
