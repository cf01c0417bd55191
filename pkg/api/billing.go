package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/meter/pkg/entitlement"
	"github.com/dmitrymomot/meter/pkg/identity"
	"github.com/dmitrymomot/meter/pkg/logger"
)

// maxWebhookBody bounds provider webhook payloads.
const maxWebhookBody = 1 << 20

// CheckoutRequest is the body of POST /v1/billing/checkout.
type CheckoutRequest struct {
	PriceID    string `json:"priceId"`
	SuccessURL string `json:"successUrl"`
}

// ProfileResponse is a profile with its effective entitlement at request time.
type ProfileResponse struct {
	*entitlement.UserProfile
	EffectiveTier entitlement.Tier `json:"effectiveTier"`
	IsPremium     bool             `json:"isPremium"`
}

func (rt *router) profileResponse(p *entitlement.UserProfile) ProfileResponse {
	now := rt.now()
	return ProfileResponse{
		UserProfile:   p,
		EffectiveTier: entitlement.EffectiveTier(p, now),
		IsPremium:     entitlement.IsPremium(p, now),
	}
}

func (rt *router) getProfile(r *http.Request) Response {
	userID, err := identity.UserID(r.Context())
	if err != nil {
		return fail(r, rt.log, err)
	}

	p, err := rt.profiles.EnsureProfile(r.Context(), userID)
	if err != nil {
		return fail(r, rt.log, err)
	}
	return JSON(rt.profileResponse(p))
}

func (rt *router) startCheckout(r *http.Request) Response {
	userID, err := identity.UserID(r.Context())
	if err != nil {
		return fail(r, rt.log, err)
	}

	var req CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		return fail(r, rt.log, err)
	}

	link, err := rt.billing.StartCheckout(r.Context(), userID,
		strings.TrimSpace(req.PriceID), strings.TrimSpace(req.SuccessURL))
	if err != nil {
		return fail(r, rt.log, err)
	}
	return JSON(link, WithStatus(http.StatusCreated))
}

func (rt *router) confirmCheckout(r *http.Request) Response {
	userID, err := identity.UserID(r.Context())
	if err != nil {
		return fail(r, rt.log, err)
	}

	p, err := rt.billing.OnPaymentConfirmed(r.Context(), userID, chi.URLParam(r, "ref"))
	if err != nil {
		return fail(r, rt.log, err)
	}
	return JSON(rt.profileResponse(p))
}

func (rt *router) handleWebhook(r *http.Request) Response {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		return fail(r, rt.log, ErrBadRequest)
	}

	if err := rt.billing.HandleWebhook(r.Context(), payload, r.Header.Get("Paddle-Signature")); err != nil {
		rt.log.WarnContext(r.Context(), "webhook rejected", logger.Error(err))
		return fail(r, rt.log, err)
	}
	return Empty(http.StatusOK)
}
