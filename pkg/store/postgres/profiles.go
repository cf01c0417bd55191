package postgres

import (
	"context"
	"time"

	"github.com/dmitrymomot/meter/pkg/entitlement"
)

// ProfileStore implements entitlement.ProfileStore.
type ProfileStore struct {
	db DB
}

// NewProfileStore creates a ProfileStore.
func NewProfileStore(db DB) *ProfileStore {
	return &ProfileStore{db: db}
}

const profileColumns = `user_id, tier, subscription_status, current_period_end,
	COALESCE(payment_customer_ref, ''), COALESCE(payment_subscription_ref, ''),
	created_at, updated_at`

func scanProfile(row interface{ Scan(dest ...any) error }) (*entitlement.UserProfile, error) {
	var (
		p      entitlement.UserProfile
		tier   string
		status string
	)
	if err := row.Scan(&p.UserID, &tier, &status, &p.CurrentPeriodEnd,
		&p.PaymentCustomerRef, &p.PaymentSubscriptionRef, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if IsNotFoundError(err) {
			return nil, entitlement.ErrProfileNotFound
		}
		return nil, err
	}
	p.Tier = entitlement.Tier(tier)
	p.SubscriptionStatus = entitlement.SubscriptionStatus(status)
	return &p, nil
}

func (s *ProfileStore) GetProfile(ctx context.Context, userID string) (*entitlement.UserProfile, error) {
	return scanProfile(s.db.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM user_profiles WHERE user_id = $1`, userID))
}

func (s *ProfileStore) EnsureProfile(ctx context.Context, userID string) (*entitlement.UserProfile, error) {
	if userID == "" {
		return nil, entitlement.ErrUnauthenticated
	}
	if _, err := s.db.Exec(ctx,
		`INSERT INTO user_profiles (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return nil, err
	}
	return s.GetProfile(ctx, userID)
}

func (s *ProfileStore) SaveProfile(ctx context.Context, p *entitlement.UserProfile) error {
	if p == nil || p.UserID == "" {
		return entitlement.ErrUnauthenticated
	}
	var createdAt *time.Time
	if !p.CreatedAt.IsZero() {
		createdAt = &p.CreatedAt
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO user_profiles (user_id, tier, subscription_status, current_period_end,
			payment_customer_ref, payment_subscription_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), COALESCE($7::timestamptz, now()), now())
		ON CONFLICT (user_id) DO UPDATE SET
			tier = EXCLUDED.tier,
			subscription_status = EXCLUDED.subscription_status,
			current_period_end = EXCLUDED.current_period_end,
			payment_customer_ref = EXCLUDED.payment_customer_ref,
			payment_subscription_ref = EXCLUDED.payment_subscription_ref,
			updated_at = now()`,
		p.UserID, string(p.Tier), string(p.SubscriptionStatus), p.CurrentPeriodEnd,
		p.PaymentCustomerRef, p.PaymentSubscriptionRef, createdAt)
	return err
}

func (s *ProfileStore) FindBySubscriptionRef(ctx context.Context, ref string) (*entitlement.UserProfile, error) {
	if ref == "" {
		return nil, entitlement.ErrProfileNotFound
	}
	return scanProfile(s.db.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM user_profiles WHERE payment_subscription_ref = $1`, ref))
}
