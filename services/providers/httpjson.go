package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

const (
	// maxErrorBody caps how much of an error payload ends up in messages
	maxErrorBody = 512

	// maxResponseBody caps how much of any upstream payload is read
	maxResponseBody = 4 << 20
)

// JSONRequest describes one call to a provider's JSON API
type JSONRequest struct {
	Provider string
	Method   string
	URL      string
	Body     interface{}
	Headers  map[string]string
}

// DoJSON performs the request, checks the status and decodes the body into out.
// It returns the raw payload so adapters can keep it for diagnostics.
func DoJSON(ctx context.Context, client *http.Client, req JSONRequest, out interface{}) (json.RawMessage, error) {
	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, NewProviderError(req.Provider, CodeRequest, "Failed to marshal request", 0, false, err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, NewProviderError(req.Provider, CodeRequest, "Failed to create request", 0, false, err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, NewProviderError(req.Provider, CodeHTTP, "HTTP request failed", 0, true, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody+1))
	if err != nil {
		return nil, NewProviderError(req.Provider, CodeRead, "Failed to read response", httpResp.StatusCode, true, err)
	}
	if len(respBody) > maxResponseBody {
		return nil, NewProviderError(req.Provider, CodeRead,
			fmt.Sprintf("response exceeds %d bytes", maxResponseBody), httpResp.StatusCode, false, nil)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, handleErrorResponse(req.Provider, httpResp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return nil, NewProviderError(req.Provider, CodeUnmarshal, "Failed to unmarshal response", httpResp.StatusCode, false, err)
	}

	return json.RawMessage(respBody), nil
}

func handleErrorResponse(provider string, statusCode int, body []byte) error {
	snippet := string(body)
	if len(snippet) > maxErrorBody {
		snippet = snippet[:maxErrorBody]
	}

	retryable := statusCode >= 500 || statusCode == http.StatusTooManyRequests

	return NewProviderError(
		provider,
		CodeStatus,
		fmt.Sprintf("unexpected status %d: %s", statusCode, snippet),
		statusCode,
		retryable,
		nil,
	)
}

// FormatDegrees renders a coordinate component without trailing zeros
func FormatDegrees(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// RequestHeaders merges the configured extra headers with per-call ones.
// Per-call headers win.
func (c ProviderConfig) RequestHeaders(call map[string]string) map[string]string {
	headers := make(map[string]string, len(c.Headers)+len(call))
	for k, v := range c.Headers {
		headers[k] = v
	}
	for k, v := range call {
		headers[k] = v
	}
	return headers
}
