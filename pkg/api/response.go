package api

import (
	"encoding/json"
	"net/http"
)

// Response renders itself to an http.ResponseWriter.
type Response interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// Envelope is the body of every JSON response.
type Envelope struct {
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type jsonResponse struct {
	status int
	body   Envelope
}

func (j jsonResponse) Render(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(j.status)
	return json.NewEncoder(w).Encode(j.body)
}

// JSONOption configures a JSON response.
type JSONOption func(*jsonResponse)

// WithStatus overrides the status code.
func WithStatus(status int) JSONOption {
	return func(r *jsonResponse) { r.status = status }
}

// WithMeta attaches metadata.
func WithMeta(meta map[string]any) JSONOption {
	return func(r *jsonResponse) { r.body.Meta = meta }
}

// JSON wraps v as the data of a 200 response.
func JSON(v any, opts ...JSONOption) Response {
	r := &jsonResponse{status: http.StatusOK, body: Envelope{Data: v}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Error renders err as an error envelope with the mapped status.
func Error(err error, opts ...JSONOption) Response {
	he := toHTTPError(err)
	r := &jsonResponse{
		status: he.Code,
		body: Envelope{Error: &ErrorDetail{
			Code:    he.Key,
			Message: http.StatusText(he.Code),
		}},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type emptyResponse struct {
	status int
}

func (e emptyResponse) Render(w http.ResponseWriter, _ *http.Request) error {
	w.WriteHeader(e.status)
	return nil
}

// Empty writes status without a body.
func Empty(status int) Response {
	return emptyResponse{status: status}
}
