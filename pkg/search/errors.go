package search

import "errors"

var (
	ErrConnectionFailed  = errors.New("opensearch connection failed")
	ErrHealthcheckFailed = errors.New("opensearch healthcheck failed")
	ErrEmptyQuery        = errors.New("search query cannot be empty")
	ErrSearchFailed      = errors.New("search request failed")
	ErrInvalidResponse   = errors.New("invalid search response")
)
