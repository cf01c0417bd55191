package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/dmitrymomot/meter/pkg/logger"
)

// maxJSONBody bounds request bodies.
const maxJSONBody = 1 << 20

// HandlerFunc handles a request and returns what to render.
type HandlerFunc func(r *http.Request) Response

// wrap adapts h to http.Handler and logs failed responses.
func wrap(log *slog.Logger, h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := h(r)
		if resp == nil {
			resp = Empty(http.StatusNoContent)
		}
		if err := resp.Render(w, r); err != nil {
			log.ErrorContext(r.Context(), "failed to render response", logger.Error(err))
		}
	}
}

// fail logs err by severity and returns the error envelope.
func fail(r *http.Request, log *slog.Logger, err error) Response {
	he := toHTTPError(err)
	if he.Code >= http.StatusInternalServerError {
		log.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path), slog.Int("status", he.Code), logger.Error(err))
	} else {
		log.DebugContext(r.Context(), "request rejected",
			slog.String("path", r.URL.Path), slog.Int("status", he.Code), logger.Error(err))
	}
	return Error(err)
}

// decodeJSON strictly decodes a single JSON object from the request body.
func decodeJSON(r *http.Request, v any) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return ErrUnsupportedMedia
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(ErrBadRequest, fmt.Errorf("decode body: %w", err))
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.Join(ErrBadRequest, errors.New("unexpected data after JSON object"))
	}
	return nil
}
