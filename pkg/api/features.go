package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dmitrymomot/meter/pkg/logger"
	"github.com/dmitrymomot/meter/pkg/search"
	"github.com/dmitrymomot/meter/pkg/summarize"
)

// SearchRequest is the body of POST /v1/features/search.
type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

func (r SearchRequest) validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return search.ErrEmptyQuery
	}
	return nil
}

// AnalysisRequest is the body of POST /v1/features/analysis.
type AnalysisRequest struct {
	Text string `json:"text"`
}

func (r AnalysisRequest) validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return summarize.ErrEmptyText
	}
	return nil
}

type bodyKey struct{}

// decodeBody decodes and validates the request body before the rest of the
// chain runs, so malformed requests are rejected without spending quota.
func decodeBody[T any](log *slog.Logger, validate func(T) error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req T
			err := decodeJSON(r, &req)
			if err == nil {
				err = validate(req)
			}
			if err != nil {
				if rerr := fail(r, log, err).Render(w, r); rerr != nil {
					log.ErrorContext(r.Context(), "failed to render response", logger.Error(rerr))
				}
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), bodyKey{}, req)))
		})
	}
}

func bodyFromContext[T any](ctx context.Context) (T, bool) {
	v, ok := ctx.Value(bodyKey{}).(T)
	return v, ok
}

// UsageMeta is the quota state after a feature call.
type UsageMeta struct {
	Count int64 `json:"count"`
	Limit int64 `json:"limit"`
}

type searchResult struct {
	Hits  []search.Hit `json:"hits"`
	Usage UsageMeta    `json:"usage"`
}

type analysisResult struct {
	Summary string    `json:"summary"`
	Usage   UsageMeta `json:"usage"`
}

func usageMeta(r *http.Request) UsageMeta {
	d, _ := DecisionFromContext(r.Context())
	return UsageMeta{Count: d.Count, Limit: d.Limit}
}

func (rt *router) runSearch(r *http.Request) Response {
	req, ok := bodyFromContext[SearchRequest](r.Context())
	if !ok {
		return fail(r, rt.log, ErrBadRequest)
	}

	hits, err := rt.searcher.Search(r.Context(), req.Query, req.Limit)
	if err != nil {
		return fail(r, rt.log, err)
	}
	return JSON(searchResult{Hits: hits, Usage: usageMeta(r)})
}

func (rt *router) runAnalysis(r *http.Request) Response {
	req, ok := bodyFromContext[AnalysisRequest](r.Context())
	if !ok {
		return fail(r, rt.log, ErrBadRequest)
	}

	summary, err := rt.summarizer.Summarize(r.Context(), req.Text)
	if err != nil {
		return fail(r, rt.log, err)
	}
	return JSON(analysisResult{Summary: summary, Usage: usageMeta(r)})
}
