package tracker

import (
	"context"
	"time"

	"github.com/dmitrymomot/meter/pkg/entitlement"
)

// FeatureConfig is the client-side default for a feature before the first
// server response.
type FeatureConfig struct {
	Limit            int64
	WarningThreshold float64
}

// Mirror is the client's best-effort copy of a daily counter.
type Mirror struct {
	Feature     entitlement.FeatureID `json:"feature"`
	Count       int64                 `json:"count"`
	Limit       int64                 `json:"limit"`
	IsPremium   bool                  `json:"isPremium"`
	IsNearLimit bool                  `json:"isNearLimit"`
	State       State                 `json:"state"`
	SyncedAt    time.Time             `json:"syncedAt,omitzero"`
}

// Remaining is the displayed headroom.
func (m Mirror) Remaining() int64 {
	return max(m.Limit-m.Count, 0)
}

// Outcome is the result of a user action.
type Outcome string

const (
	// OutcomePerformed means the server accepted the action.
	OutcomePerformed Outcome = "performed"
	// OutcomeLimitPrompt means the action was refused and the upgrade prompt is due.
	OutcomeLimitPrompt Outcome = "limit_prompt"
	// OutcomeUnconfirmed means the server could not be reached; the local
	// increment is kept until the next successful sync.
	OutcomeUnconfirmed Outcome = "unconfirmed"
)

// UsageSnapshot is the server view returned by GET usage.
type UsageSnapshot struct {
	Count          int64 `json:"count"`
	Limit          int64 `json:"limit"`
	Remaining      int64 `json:"remaining"`
	IsLimitReached bool  `json:"isLimitReached"`
	IsPremium      bool  `json:"isPremium"`
}

// IncrementResult is the server answer to POST increment.
type IncrementResult struct {
	Success      bool  `json:"success"`
	Count        int64 `json:"count"`
	Limit        int64 `json:"limit"`
	LimitReached bool  `json:"limitReached"`
	IsPremium    bool  `json:"isPremium"`
}

// UsageAPI is the server the tracker reconciles with.
type UsageAPI interface {
	GetUsage(ctx context.Context, feature entitlement.FeatureID) (UsageSnapshot, error)
	Increment(ctx context.Context, feature entitlement.FeatureID) (IncrementResult, error)
}

// Notifier receives UI prompts. Calls happen outside the tracker lock.
type Notifier interface {
	LimitReached(m Mirror)
	NearLimit(m Mirror)
	SyncFailed(feature entitlement.FeatureID, err error)
}

type nopNotifier struct{}

func (nopNotifier) LimitReached(Mirror)                     {}
func (nopNotifier) NearLimit(Mirror)                        {}
func (nopNotifier) SyncFailed(entitlement.FeatureID, error) {}
