package billing

import (
	"context"
	"sync"
	"time"
)

// Provider is the payment processor.
type Provider interface {
	// CreateCheckout creates a hosted checkout embedding req.UserID.
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error)
	// GetCheckout fetches the provider's record of the checkout ref.
	GetCheckout(ctx context.Context, ref string) (*Checkout, error)
	// ParseWebhook verifies signature and decodes payload.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error)
}

// CheckoutStore persists checkout sessions.
type CheckoutStore interface {
	// SaveCheckout records a session. The first record of a ref wins.
	SaveCheckout(ctx context.Context, s CheckoutSession) error
	GetCheckout(ctx context.Context, ref string) (*CheckoutSession, error)
	MarkCheckoutConfirmed(ctx context.Context, ref string, at time.Time) error
}

// MemoryCheckoutStore is an in-process CheckoutStore.
type MemoryCheckoutStore struct {
	mu       sync.RWMutex
	sessions map[string]CheckoutSession
}

// NewMemoryCheckoutStore returns an empty store.
func NewMemoryCheckoutStore() *MemoryCheckoutStore {
	return &MemoryCheckoutStore{sessions: make(map[string]CheckoutSession)}
}

func (s *MemoryCheckoutStore) SaveCheckout(_ context.Context, cs CheckoutSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[cs.Ref]; !exists {
		s.sessions[cs.Ref] = cs
	}
	return nil
}

func (s *MemoryCheckoutStore) GetCheckout(_ context.Context, ref string) (*CheckoutSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.sessions[ref]
	if !ok {
		return nil, ErrCheckoutNotFound
	}
	return &cs, nil
}

func (s *MemoryCheckoutStore) MarkCheckoutConfirmed(_ context.Context, ref string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.sessions[ref]
	if !ok {
		return ErrCheckoutNotFound
	}
	if cs.ConfirmedAt == nil {
		cs.ConfirmedAt = &at
		s.sessions[ref] = cs
	}
	return nil
}
