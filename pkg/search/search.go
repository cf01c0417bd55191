// Package search runs full-text queries against an OpenSearch index. It backs
// the metered search feature.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/opensearch-project/opensearch-go/v2"
)

// Hit is one matching document.
type Hit struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
}

// Searcher finds documents matching a query.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Hit, error)
}

// OpenSearch implements Searcher over one index.
type OpenSearch struct {
	client     *opensearch.Client
	index      string
	maxResults int
}

// NewOpenSearch returns a Searcher querying cfg.Index.
func NewOpenSearch(client *opensearch.Client, cfg Config) *OpenSearch {
	return &OpenSearch{
		client:     client,
		index:      cfg.Index,
		maxResults: max(cfg.MaxResults, 1),
	}
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string  `json:"_id"`
			Score  float64 `json:"_score"`
			Source struct {
				Title string `json:"title"`
				Body  string `json:"body"`
			} `json:"_source"`
			Highlight map[string][]string `json:"highlight"`
		} `json:"hits"`
	} `json:"hits"`
}

func (s *OpenSearch) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 || limit > s.maxResults {
		limit = s.maxResults
	}

	body, err := json.Marshal(map[string]any{
		"size": limit,
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":  query,
				"fields": []string{"title^2", "body"},
			},
		},
		"highlight": map[string]any{
			"fields": map[string]any{"body": map[string]any{}},
		},
	})
	if err != nil {
		return nil, err
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, errors.Join(ErrSearchFailed, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("%w: %s", ErrSearchFailed, res.Status())
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, errors.Join(ErrInvalidResponse, err)
	}

	hits := make([]Hit, 0, len(sr.Hits.Hits))
	for _, h := range sr.Hits.Hits {
		snippet := h.Source.Body
		if hl := h.Highlight["body"]; len(hl) > 0 {
			snippet = hl[0]
		}
		hits = append(hits, Hit{ID: h.ID, Score: h.Score, Title: h.Source.Title, Snippet: snippet})
	}
	return hits, nil
}
