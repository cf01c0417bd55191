package usage

import (
	"fmt"
	"time"

	"github.com/dmitrymomot/meter/pkg/entitlement"
)

// DateLayout is the textual form of a counter day.
const DateLayout = "2006-01-02"

// Key addresses one daily counter.
type Key struct {
	UserID  string
	Feature entitlement.FeatureID
	Day     time.Time
}

// Day truncates t to the start of its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NewKey builds the key of the counter that covers at.
func NewKey(userID string, feature entitlement.FeatureID, at time.Time) Key {
	return Key{UserID: userID, Feature: feature, Day: Day(at)}
}

// Date returns the day in DateLayout.
func (k Key) Date() string {
	return k.Day.Format(DateLayout)
}

// String renders the key as "user:feature:date".
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", k.UserID, k.Feature, k.Date())
}

// Validate reports ErrInvalidKey when the user or feature is empty.
func (k Key) Validate() error {
	if k.UserID == "" || k.Feature == "" || k.Day.IsZero() {
		return ErrInvalidKey
	}
	return nil
}
