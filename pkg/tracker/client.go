package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrymomot/meter/pkg/entitlement"
	"github.com/dmitrymomot/meter/pkg/requestid"
)

// ErrTransport marks failures to reach the usage API.
var ErrTransport = errors.New("tracker: usage api unreachable")

// APIError is a non-2xx answer of the usage API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("tracker: usage api %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("tracker: usage api %d %s", e.Status, e.Code)
}

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed token.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// HTTPClient implements UsageAPI over the meter HTTP API.
type HTTPClient struct {
	base   string
	tokens TokenSource
	http   *http.Client
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient replaces the underlying http.Client. Its transport is wrapped
// to forward request ids.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(h *HTTPClient) {
		if c != nil {
			h.http = c
		}
	}
}

// NewHTTPClient creates a client for the API at baseURL.
func NewHTTPClient(baseURL string, tokens TokenSource, opts ...ClientOption) *HTTPClient {
	h := &HTTPClient{
		base:   strings.TrimRight(baseURL, "/"),
		tokens: tokens,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(h)
	}
	wrapped := *h.http
	wrapped.Transport = requestid.Transport{Base: h.http.Transport}
	h.http = &wrapped
	return h
}

// GetUsage fetches the server view of feature.
func (h *HTTPClient) GetUsage(ctx context.Context, feature entitlement.FeatureID) (UsageSnapshot, error) {
	var out UsageSnapshot
	err := h.do(ctx, http.MethodGet, "/v1/usage/"+url.PathEscape(string(feature)), &out)
	return out, err
}

// Increment consumes one unit of feature.
func (h *HTTPClient) Increment(ctx context.Context, feature entitlement.FeatureID) (IncrementResult, error) {
	var out IncrementResult
	err := h.do(ctx, http.MethodPost, "/v1/usage/"+url.PathEscape(string(feature))+"/increment", &out)
	return out, err
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (h *HTTPClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, h.base+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if h.tokens != nil {
		token, err := h.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("failed to obtain token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.http.Do(req)
	if err != nil {
		return errors.Join(ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Join(ErrTransport, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}
