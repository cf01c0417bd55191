// Package api is the HTTP surface of the metering service.
//
// All /v1 routes require a bearer token. Responses use one JSON envelope:
//
//	{"data": {...}}                                   on success
//	{"error": {"code": "usage_limit_reached", ...}}    on failure
//
// Feature endpoints consume quota through RequireQuota before the paid
// operation runs; a denied or failed quota check aborts the request.
package api
