// Package postgres persists profiles, daily usage counters and checkout
// sessions in PostgreSQL through pgx.
//
// CounterStore enforces the usage ceiling in a single conditional upsert, so
// concurrent requests for the last unit of quota are serialised by the row
// lock rather than by application code. Migrate applies the embedded goose
// migrations.
package postgres

import (
	"github.com/dmitrymomot/meter/pkg/billing"
	"github.com/dmitrymomot/meter/pkg/entitlement"
	"github.com/dmitrymomot/meter/pkg/usage"
)

var (
	_ entitlement.ProfileStore = (*ProfileStore)(nil)
	_ usage.Store              = (*CounterStore)(nil)
	_ billing.CheckoutStore    = (*CheckoutStore)(nil)
)
