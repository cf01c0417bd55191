package postgres

import (
	"context"
	"time"

	"github.com/dmitrymomot/meter/pkg/billing"
)

// CheckoutStore implements billing.CheckoutStore.
type CheckoutStore struct {
	db DB
}

// NewCheckoutStore creates a CheckoutStore.
func NewCheckoutStore(db DB) *CheckoutStore {
	return &CheckoutStore{db: db}
}

func (s *CheckoutStore) SaveCheckout(ctx context.Context, cs billing.CheckoutSession) error {
	createdAt := cs.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO checkout_sessions (ref, user_id, price_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ref) DO NOTHING`,
		cs.Ref, cs.UserID, cs.PriceID, createdAt)
	return err
}

func (s *CheckoutStore) GetCheckout(ctx context.Context, ref string) (*billing.CheckoutSession, error) {
	var cs billing.CheckoutSession
	err := s.db.QueryRow(ctx,
		`SELECT ref, user_id, price_id, created_at, confirmed_at FROM checkout_sessions WHERE ref = $1`, ref).
		Scan(&cs.Ref, &cs.UserID, &cs.PriceID, &cs.CreatedAt, &cs.ConfirmedAt)
	if err != nil {
		if IsNotFoundError(err) {
			return nil, billing.ErrCheckoutNotFound
		}
		return nil, err
	}
	return &cs, nil
}

func (s *CheckoutStore) MarkCheckoutConfirmed(ctx context.Context, ref string, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE checkout_sessions SET confirmed_at = COALESCE(confirmed_at, $2) WHERE ref = $1`, ref, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrCheckoutNotFound
	}
	return nil
}
