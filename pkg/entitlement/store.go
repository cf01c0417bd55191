package entitlement

import (
	"context"
	"sync"
	"time"
)

// ProfileReader loads stored profiles.
// GetProfile returns ErrProfileNotFound for unknown users.
type ProfileReader interface {
	GetProfile(ctx context.Context, userID string) (*UserProfile, error)
}

// ProfileStore is the read/write view of profile persistence used by the
// lifecycle sync and by first-access provisioning.
type ProfileStore interface {
	ProfileReader
	// EnsureProfile returns the stored profile, creating a free one if absent.
	EnsureProfile(ctx context.Context, userID string) (*UserProfile, error)
	// SaveProfile upserts the profile.
	SaveProfile(ctx context.Context, p *UserProfile) error
	// FindBySubscriptionRef returns the profile bound to a payment subscription.
	FindBySubscriptionRef(ctx context.Context, ref string) (*UserProfile, error)
}

// MemoryProfileStore is a ProfileStore backed by a map.
type MemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*UserProfile
	now      func() time.Time
}

// NewMemoryProfileStore returns an empty in-memory ProfileStore.
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{
		profiles: make(map[string]*UserProfile),
		now:      time.Now,
	}
}

func (s *MemoryProfileStore) GetProfile(_ context.Context, userID string) (*UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryProfileStore) EnsureProfile(_ context.Context, userID string) (*UserProfile, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		p = NewProfile(userID, s.now().UTC())
		s.profiles[userID] = p
	}
	return p.Clone(), nil
}

func (s *MemoryProfileStore) SaveProfile(_ context.Context, p *UserProfile) error {
	if p == nil || p.UserID == "" {
		return ErrUnauthenticated
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := p.Clone()
	if existing, ok := s.profiles[p.UserID]; ok && c.CreatedAt.IsZero() {
		c.CreatedAt = existing.CreatedAt
	}
	c.UpdatedAt = s.now().UTC()
	s.profiles[p.UserID] = c
	return nil
}

func (s *MemoryProfileStore) FindBySubscriptionRef(_ context.Context, ref string) (*UserProfile, error) {
	if ref == "" {
		return nil, ErrProfileNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.profiles {
		if p.PaymentSubscriptionRef == ref {
			return p.Clone(), nil
		}
	}
	return nil, ErrProfileNotFound
}
