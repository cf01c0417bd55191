package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/meter/pkg/entitlement"
	"github.com/dmitrymomot/meter/pkg/identity"
)

// UsageResponse is the body of GET /v1/usage/{feature}.
type UsageResponse struct {
	Count          int64 `json:"count"`
	Limit          int64 `json:"limit"`
	Remaining      int64 `json:"remaining"`
	IsLimitReached bool  `json:"isLimitReached"`
	IsPremium      bool  `json:"isPremium"`
}

// IncrementResponse is the body of POST /v1/usage/{feature}/increment.
// A denied increment is a successful request with Success=false.
type IncrementResponse struct {
	Success      bool  `json:"success"`
	Count        int64 `json:"count"`
	Limit        int64 `json:"limit"`
	LimitReached bool  `json:"limitReached"`
	IsPremium    bool  `json:"isPremium"`
}

func featureParam(r *http.Request) entitlement.FeatureID {
	return entitlement.FeatureID(chi.URLParam(r, "feature"))
}

func (rt *router) getUsage(r *http.Request) Response {
	userID, err := identity.UserID(r.Context())
	if err != nil {
		return fail(r, rt.log, err)
	}

	u, err := rt.usage.GetUsage(r.Context(), userID, featureParam(r))
	if err != nil {
		return fail(r, rt.log, err)
	}

	return JSON(UsageResponse{
		Count:          u.Count,
		Limit:          u.Limit,
		Remaining:      u.Remaining,
		IsLimitReached: u.IsLimitReached,
		IsPremium:      u.IsPremium,
	})
}

func (rt *router) incrementUsage(r *http.Request) Response {
	userID, err := identity.UserID(r.Context())
	if err != nil {
		return fail(r, rt.log, err)
	}

	d, err := rt.usage.CheckAndIncrement(r.Context(), userID, featureParam(r))
	if err != nil {
		return fail(r, rt.log, err)
	}

	return JSON(IncrementResponse{
		Success:      d.Allowed,
		Count:        d.Count,
		Limit:        d.Limit,
		LimitReached: d.Count >= d.Limit,
		IsPremium:    d.IsPremium,
	})
}
